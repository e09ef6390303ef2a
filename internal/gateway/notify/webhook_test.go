package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/giftwell/gift-automation/internal/config"
)

func TestWebhookSend(t *testing.T) {
	var got webhookEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewWebhook(config.NotifyConfig{
		WebhookURL: srv.URL, APIKey: "k", TimeoutSeconds: 5,
	})
	err := d.Send(context.Background(), KindLowBalance, "user@example.com", map[string]any{
		"gift_id": "gift-1", "required_cents": 4000,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Kind != KindLowBalance || got.Contact != "user@example.com" {
		t.Fatalf("event = %+v", got)
	}
}

func TestWebhookSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewWebhook(config.NotifyConfig{WebhookURL: srv.URL, TimeoutSeconds: 5})
	if err := d.Send(context.Background(), KindGiftShipped, "user@example.com", nil); err == nil {
		t.Fatal("expected error on 403")
	}
}
