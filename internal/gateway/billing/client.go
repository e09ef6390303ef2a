// Package billing charges stored payment instruments through the payments
// provider. The engine uses it for exactly one thing: funding an auto-reload
// when a reservation comes up short.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/giftwell/gift-automation/internal/config"
	"github.com/giftwell/gift-automation/internal/pkg/httpretry"
)

// ErrChargeDeclined means the provider refused the charge (dead card,
// limits, fraud hold). The caller should stop retrying and tell the user.
var ErrChargeDeclined = errors.New("payment instrument charge declined")

// Client talks to the payments provider's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a billing client.
func NewClient(cfg config.BillingConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}, 2),
	}
}

type chargeRequest struct {
	UserID        string `json:"user_id"`
	AmountCents   int64  `json:"amount_cents"`
	InstrumentRef string `json:"instrument_ref"`
}

type chargeResponse struct {
	Success   bool   `json:"success"`
	ChargeRef string `json:"charge_ref"`
	Error     string `json:"error"`
}

// Charge bills the user's stored payment instrument. On success it returns
// the provider's charge reference; the wallet deposit that follows is the
// caller's responsibility.
func (c *Client) Charge(ctx context.Context, userID string, amountCents int64, instrumentRef string) (string, error) {
	payload, err := json.Marshal(chargeRequest{
		UserID: userID, AmountCents: amountCents, InstrumentRef: instrumentRef,
	})
	if err != nil {
		return "", fmt.Errorf("encoding charge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing charge: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: status %d: %s", ErrChargeDeclined, resp.StatusCode, string(body))
	}

	var cr chargeResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("decoding charge response: %w", err)
	}
	if !cr.Success {
		return "", fmt.Errorf("%w: %s", ErrChargeDeclined, cr.Error)
	}
	return cr.ChargeRef, nil
}
