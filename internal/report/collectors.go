package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/splitpage/splitpage/internal/store"
	"go.uber.org/zap"
)

// LogCollector writes events to the structured log. Useful as the always-on
// local collector during development.
type LogCollector struct {
	log *zap.Logger
}

func NewLogCollector(log *zap.Logger) *LogCollector {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogCollector{log: log}
}

func (c *LogCollector) Name() string { return "log" }

func (c *LogCollector) Track(_ context.Context, event string, props map[string]string) error {
	fields := make([]zap.Field, 0, len(props)+1)
	fields = append(fields, zap.String("event", event))
	for k, v := range props {
		fields = append(fields, zap.String(k, v))
	}
	c.log.Info("analytics event", fields...)
	return nil
}

// WebhookCollector forwards each event as a JSON POST to an external
// analytics endpoint.
type WebhookCollector struct {
	url    string
	client *http.Client
}

func NewWebhookCollector(url string) *WebhookCollector {
	return &WebhookCollector{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *WebhookCollector) Name() string { return "webhook" }

type webhookPayload struct {
	Event      string            `json:"event"`
	Properties map[string]string `json:"properties"`
	SentAt     int64             `json:"sent_at"`
}

func (c *WebhookCollector) Track(ctx context.Context, event string, props map[string]string) error {
	body, err := json.Marshal(webhookPayload{
		Event:      event,
		Properties: props,
		SentAt:     time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// StoreCollector persists impressions and conversions as view/convert
// events, feeding the stats and dashboard surfaces. Other event names are
// ignored.
type StoreCollector struct {
	store store.Store
}

func NewStoreCollector(s store.Store) *StoreCollector {
	return &StoreCollector{store: s}
}

func (c *StoreCollector) Name() string { return "store" }

func (c *StoreCollector) Track(ctx context.Context, event string, props map[string]string) error {
	var eventType string
	switch event {
	case EventImpression:
		eventType = "view"
	case EventConversion:
		eventType = "convert"
	default:
		return nil
	}

	test := props["test"]
	variant := props["variant"]
	visitor := props["visitor_id"]
	if test == "" || variant == "" || visitor == "" {
		return fmt.Errorf("event %s missing test/variant/visitor_id", event)
	}

	return c.store.RecordEvent(ctx, test, variant, eventType, visitor)
}
