package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/config"
)

// WebhookEvent is the JSON body posted to the configured webhook endpoint.
type WebhookEvent struct {
	EventType string                 `json:"event_type"`
	Targets   []string               `json:"targets"`
	Payload   map[string]interface{} `json:"payload"`
	SentAt    time.Time              `json:"sent_at"`
}

// WebhookClient posts crisis events to an external HTTP endpoint.
type WebhookClient struct {
	cfg    config.WebhookConfig
	logger *zap.Logger
	client *http.Client
}

func NewWebhookClient(cfg config.WebhookConfig, logger *zap.Logger) *WebhookClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookClient) Send(ctx context.Context, event *WebhookEvent) error {
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	w.logger.Debug("webhook delivered",
		zap.String("event_type", event.EventType),
		zap.Int("status", resp.StatusCode))
	return nil
}
