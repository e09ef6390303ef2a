// Package fulfillment is the client for the order-placement provider. The
// engine hands it a gift id and a destination address; everything about
// picking and purchasing the actual item lives on the provider's side.
package fulfillment

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
	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/pkg/httpretry"
)

// Sentinel errors classifying gateway failures for the engine's audit log.
var (
	ErrGatewayTimeout  = errors.New("fulfillment gateway timed out")
	ErrGatewayRejected = errors.New("fulfillment gateway rejected order")
)

// Order is the provider's view of a placed order.
type Order struct {
	GiftID         string `json:"gift_id"`
	OrderReference string `json:"order_reference"`
	State          string `json:"state"`
}

// Client talks to the fulfillment provider's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a fulfillment gateway client.
func NewClient(cfg config.FulfillmentConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		}, cfg.MaxRetries),
	}
}

// PlaceOrder places a purchase order for a gift and returns the provider's
// order reference. The provider does not guarantee idempotency per gift id,
// so the client checks existing order state first: retrying a gift that
// already has an order returns the existing reference instead of placing a
// second order.
func (c *Client) PlaceOrder(ctx context.Context, giftID string, dest domain.Address) (string, error) {
	if existing, err := c.GetOrder(ctx, giftID); err == nil && existing != nil {
		return existing.OrderReference, nil
	}

	payload, err := json.Marshal(map[string]any{
		"gift_id":     giftID,
		"destination": dest,
	})
	if err != nil {
		return "", fmt.Errorf("encoding order: %w", err)
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", payload)
	if err != nil {
		return "", err
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return "", fmt.Errorf("decoding order response: %w", err)
	}
	if order.OrderReference == "" {
		return "", fmt.Errorf("%w: response missing order reference", ErrGatewayRejected)
	}
	return order.OrderReference, nil
}

// GetOrder returns the existing order for a gift, or (nil, nil) when the
// provider has none.
func (c *Client) GetOrder(ctx context.Context, giftID string) (*Order, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v1/orders/by-gift/"+giftID, nil)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decoding order response: %w", err)
	}
	return &order, nil
}

var errNotFound = errors.New("not found")

func (c *Client) doRequest(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: status 504", ErrGatewayTimeout)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d: %s", ErrGatewayRejected, resp.StatusCode, string(body))
	}
	return body, nil
}
