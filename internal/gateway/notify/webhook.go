package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/giftwell/gift-automation/internal/config"
	"github.com/giftwell/gift-automation/internal/pkg/httpretry"
)

// Webhook posts notification events to the product backend, which owns the
// actual templates and channel choice (email, push, SMS).
type Webhook struct {
	url        string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

// NewWebhook creates a webhook dispatcher from config.
func NewWebhook(cfg config.NotifyConfig) *Webhook {
	return &Webhook{
		url:    cfg.WebhookURL,
		apiKey: cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}, 2),
	}
}

type webhookEvent struct {
	Kind    Kind           `json:"kind"`
	Contact string         `json:"contact"`
	Data    map[string]any `json:"data"`
	SentAt  time.Time      `json:"sent_at"`
}

// Send implements Dispatcher.
func (w *Webhook) Send(ctx context.Context, kind Kind, contact string, data map[string]any) error {
	payload, err := json.Marshal(webhookEvent{
		Kind: kind, Contact: contact, Data: data, SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
