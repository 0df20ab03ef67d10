package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/audit"
	"github.com/Damatnic/CoreV6-sub001/internal/config"
	"github.com/Damatnic/CoreV6-sub001/internal/memory"
)

func newRecorder(t *testing.T, cfg config.AuditConfig) (*audit.Recorder, *memory.EventStore) {
	t.Helper()
	store := memory.NewEventStore()
	recorder := audit.NewRecorder(cfg, zap.NewNop(), store, nil)
	return recorder, store
}

func listAll(t *testing.T, store *memory.EventStore, userID string) []*audit.Event {
	t.Helper()
	events, err := store.ListByUser(context.Background(), userID,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	return events
}

func TestRecorderBatchesEvents(t *testing.T) {
	recorder, store := newRecorder(t, config.AuditConfig{
		BufferSize:    100,
		BatchSize:     50,
		FlushInterval: time.Hour, // flush only on drain
	})

	ctx := context.Background()
	require.NoError(t, recorder.Start(ctx))

	for i := 0; i < 3; i++ {
		require.NoError(t, recorder.LogEvent(ctx, &audit.Event{
			EventType: "crisis_detected",
			Category:  audit.CategoryCrisis,
			Action:    "detect",
			UserID:    "user-1",
		}))
	}

	// Stop drains the queue into a final batch.
	recorder.Stop()

	events := listAll(t, store, "user-1")
	assert.Len(t, events, 3)
}

func TestRecorderFillsDefaults(t *testing.T) {
	recorder, store := newRecorder(t, config.AuditConfig{
		BufferSize:    10,
		BatchSize:     10,
		FlushInterval: time.Hour,
	})

	event := &audit.Event{
		EventType: "session_created",
		Category:  audit.CategorySession,
		Action:    "create",
		UserID:    "user-1",
	}
	require.NoError(t, recorder.LogSecurityEvent(context.Background(), event))

	stored := listAll(t, store, "user-1")
	require.Len(t, stored, 1)
	assert.NotEmpty(t, stored[0].ID)
	assert.False(t, stored[0].Timestamp.IsZero())
	assert.Equal(t, "success", stored[0].Result)
	assert.Equal(t, audit.SeverityInfo, stored[0].Severity)
}

func TestSecurityEventPersistsWithoutStart(t *testing.T) {
	// LogSecurityEvent is synchronous and must not depend on the flush loop.
	recorder, store := newRecorder(t, config.AuditConfig{
		BufferSize:    10,
		BatchSize:     10,
		FlushInterval: time.Hour,
	})

	require.NoError(t, recorder.LogSecurityEvent(context.Background(), &audit.Event{
		EventType: "session_security_violation",
		Category:  audit.CategorySession,
		Action:    "ip_binding_violation",
		UserID:    "user-1",
		Severity:  audit.SeverityHigh,
		Result:    "terminated",
	}))

	events := listAll(t, store, "user-1")
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityHigh, events[0].Severity)
	assert.Equal(t, "terminated", events[0].Result, "explicit result not overwritten")
}

func TestRecorderRejectsWhenSaturated(t *testing.T) {
	recorder, _ := newRecorder(t, config.AuditConfig{
		BufferSize:    1,
		BatchSize:     10,
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	// Not started: nothing drains the channel.
	require.NoError(t, recorder.LogEvent(ctx, &audit.Event{EventType: "a", Category: audit.CategoryCrisis, Action: "x"}))
	err := recorder.LogEvent(ctx, &audit.Event{EventType: "b", Category: audit.CategoryCrisis, Action: "x"})
	require.Error(t, err)
}

func TestRecorderDoubleStart(t *testing.T) {
	recorder, _ := newRecorder(t, config.AuditConfig{
		BufferSize:    10,
		BatchSize:     10,
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	require.NoError(t, recorder.Start(ctx))
	require.Error(t, recorder.Start(ctx))

	recorder.Stop()
	recorder.Stop() // second stop is a no-op
}

func TestCaptureLogger(t *testing.T) {
	capture := audit.NewCapture()
	ctx := context.Background()

	require.NoError(t, capture.LogEvent(ctx, &audit.Event{EventType: "a"}))
	require.NoError(t, capture.LogSecurityEvent(ctx, &audit.Event{EventType: "b"}))
	require.NoError(t, capture.LogEvent(ctx, &audit.Event{EventType: "a"}))

	assert.Len(t, capture.Events(), 3)
	assert.Len(t, capture.ByType("a"), 2)
	assert.Len(t, capture.ByType("missing"), 0)
}
