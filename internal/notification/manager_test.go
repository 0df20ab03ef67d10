package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/config"
)

func TestStaticRoster(t *testing.T) {
	roster := StaticRoster{
		"responder-1": {ID: "responder-1", Name: "On-call", Email: "oncall@example.org", Phone: "+15550100"},
	}
	ctx := context.Background()

	contact, err := roster.Contact(ctx, "responder-1")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "oncall@example.org", contact.Email)

	contact, err = roster.Contact(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, contact)
}

func TestRenderTemplates(t *testing.T) {
	m, err := NewManager(config.NotificationsConfig{}, zap.NewNop(), nil)
	require.NoError(t, err)

	payload := map[string]interface{}{
		"severity":    "critical",
		"alert_id":    "alert-42",
		"detected_at": time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("Crisis Alert", func(t *testing.T) {
		msg, err := m.render("crisis.responder_notification", payload)
		require.NoError(t, err)
		assert.Equal(t, "Crisis alert: immediate response needed", msg.Subject)
		assert.Contains(t, msg.Body, "critical")
		assert.Contains(t, msg.Body, "alert-42")
		assert.Contains(t, msg.SMS, "alert-42")
	})

	t.Run("Connect Request Shares Crisis Template", func(t *testing.T) {
		msg, err := m.render("crisis.connect_request", payload)
		require.NoError(t, err)
		assert.Equal(t, "Crisis alert: connection requested", msg.Subject)
		assert.Contains(t, msg.Body, "alert-42")
	})

	t.Run("Generic Fallback", func(t *testing.T) {
		msg, err := m.render("session.sweep_report", map[string]interface{}{"terminated": 3})
		require.NoError(t, err)
		assert.Equal(t, "Platform notification", msg.Subject)
		assert.Contains(t, msg.Body, "session.sweep_report")
		assert.Contains(t, msg.Body, "terminated: 3")
	})
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received []WebhookEvent
		headers  []http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var event WebhookEvent
		require.NoError(t, json.Unmarshal(body, &event))
		mu.Lock()
		received = append(received, event)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := config.NotificationsConfig{
		Webhook: config.WebhookConfig{
			Enabled: true,
			URL:     server.URL,
			Headers: map[string]string{"X-Api-Key": "secret"},
			Timeout: 5 * time.Second,
		},
	}
	m, err := NewManager(cfg, zap.NewNop(), StaticRoster{})
	require.NoError(t, err)

	err = m.Notify(context.Background(), []string{"responder-1"}, "crisis.responder_notification", map[string]interface{}{
		"severity": "critical",
		"alert_id": "alert-42",
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1, "webhook fires once per event, not per target")
	assert.Equal(t, "crisis.responder_notification", received[0].EventType)
	assert.Equal(t, []string{"responder-1"}, received[0].Targets)
	assert.Equal(t, "alert-42", received[0].Payload["alert_id"])
	assert.False(t, received[0].SentAt.IsZero())
	assert.Equal(t, "secret", headers[0].Get("X-Api-Key"))
	assert.Equal(t, "application/json", headers[0].Get("Content-Type"))
}

func TestWebhookFailureReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := config.NotificationsConfig{
		Webhook: config.WebhookConfig{Enabled: true, URL: server.URL, Timeout: 5 * time.Second},
	}
	m, err := NewManager(cfg, zap.NewNop(), StaticRoster{})
	require.NoError(t, err)

	err = m.Notify(context.Background(), nil, "crisis.responder_notification", map[string]interface{}{})
	require.Error(t, err, "the only delivery attempt failed")
}

func TestNotifyWithNoEnabledChannels(t *testing.T) {
	m, err := NewManager(config.NotificationsConfig{}, zap.NewNop(), StaticRoster{
		"responder-1": {ID: "responder-1", Email: "oncall@example.org"},
	})
	require.NoError(t, err)

	// Nothing attempted means nothing failed.
	err = m.Notify(context.Background(), []string{"responder-1", "unknown"}, "crisis.responder_notification", map[string]interface{}{})
	require.NoError(t, err)
}

func TestWebhookRateLimit(t *testing.T) {
	var count int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		count++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.NotificationsConfig{
		Webhook: config.WebhookConfig{
			Enabled:         true,
			URL:             server.URL,
			Timeout:         5 * time.Second,
			RateLimitPerMin: 1,
		},
	}
	m, err := NewManager(cfg, zap.NewNop(), StaticRoster{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Notify(ctx, nil, "crisis.responder_notification", map[string]interface{}{}))

	// Burst of one: the second immediate delivery is limited and, being the
	// only attempt, surfaces as an error.
	err = m.Notify(ctx, nil, "crisis.responder_notification", map[string]interface{}{})
	require.Error(t, err)
	assert.EqualValues(t, 1, count)
}
