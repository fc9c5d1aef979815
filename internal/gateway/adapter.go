package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"scholarship-ledger/internal/config"
)

// Payment states as the rest of the system sees them.
const (
	StatePaid    = "paid"
	StatePending = "pending"
	StateFailed  = "failed"
)

// CheckoutSession is the provider-side object for one payment attempt.
type CheckoutSession struct {
	ID              string
	URL             string
	ReferenceNumber string
}

// PaymentStatus is the normalized result of a verification call.
type PaymentStatus struct {
	State             string
	Amount            int64
	ProviderPaymentID string
	ReferenceNumber   string
}

// BillingInfo identifies the payee on the checkout session.
type BillingInfo struct {
	Name  string
	Email string
}

// Client talks to the external payment provider. It is the only place
// that sees the provider's JSON; everything past this boundary works
// with the normalized types above and int64 minor units.
type Client struct {
	baseURL    string
	secretKey  string
	successURL string
	cancelURL  string
	maxRetries int
	httpClient *http.Client
}

func NewClient(cfg config.GatewayConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		secretKey:  cfg.SecretKey,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		maxRetries: retries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateCheckout opens a checkout session for one application amount.
// Never call this while holding a ledger lock: it may block for the full
// HTTP timeout.
func (c *Client) CreateCheckout(ctx context.Context, amount int64, referenceNumber, description string, billing BillingInfo) (*CheckoutSession, error) {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"attributes": map[string]interface{}{
				"line_items": []map[string]interface{}{{
					"name":     description,
					"amount":   amount, // minor units
					"currency": "PHP",
					"quantity": 1,
				}},
				"payment_method_types": []string{"gcash", "card", "paymaya"},
				"reference_number":     referenceNumber,
				"success_url":          c.successURL,
				"cancel_url":           c.cancelURL,
				"billing": map[string]interface{}{
					"name":  billing.Name,
					"email": billing.Email,
				},
			},
		},
	}

	raw, err := c.do(ctx, http.MethodPost, "/checkout_sessions", body)
	if err != nil {
		return nil, err
	}

	root, err := decodeObject(raw)
	if err != nil {
		return nil, &UnparsablePayloadError{Reason: "checkout response is not a JSON object"}
	}
	data, ok := asObject(root["data"])
	if !ok {
		return nil, &UnparsablePayloadError{Reason: "checkout response has no data"}
	}
	id, ok := asString(data["id"])
	if !ok {
		return nil, &UnparsablePayloadError{Reason: "checkout response has no session id"}
	}
	attrs, _ := asObject(data["attributes"])
	url, _ := asString(attrs["checkout_url"])
	ref, _ := asString(attrs["reference_number"])
	if ref == "" {
		ref = referenceNumber
	}

	return &CheckoutSession{ID: id, URL: url, ReferenceNumber: ref}, nil
}

// VerifyCheckout fetches the current state of a checkout session.
func (c *Client) VerifyCheckout(ctx context.Context, sessionID string) (*PaymentStatus, error) {
	raw, err := c.do(ctx, http.MethodGet, "/checkout_sessions/"+sessionID, nil)
	if err != nil {
		return nil, err
	}

	root, err := decodeObject(raw)
	if err != nil {
		return nil, &UnparsablePayloadError{Reason: "verify response is not a JSON object"}
	}
	data, ok := asObject(root["data"])
	if !ok {
		return nil, &UnparsablePayloadError{Reason: "verify response has no data"}
	}
	attrs, ok := asObject(data["attributes"])
	if !ok {
		return nil, &UnparsablePayloadError{Reason: "verify response has no attributes"}
	}

	status := &PaymentStatus{State: StatePending}
	if ref, ok := asString(attrs["reference_number"]); ok {
		status.ReferenceNumber = ref
	}

	// Paid sessions carry their payment under payments[0]; some response
	// shapes put it under payment_intent instead.
	if payments, ok := asArray(attrs["payments"]); ok && len(payments) > 0 {
		if p, ok := asObject(payments[0]); ok {
			fillFromPayment(status, p)
		}
	} else if intent, ok := asObject(attrs["payment_intent"]); ok {
		fillFromPayment(status, intent)
	}

	return status, nil
}

func fillFromPayment(status *PaymentStatus, payment map[string]json.RawMessage) {
	if id, ok := asString(payment["id"]); ok {
		status.ProviderPaymentID = id
	}
	attrs, ok := asObject(payment["attributes"])
	if !ok {
		return
	}
	if amount, ok := asInt64(attrs["amount"]); ok {
		status.Amount = amount
	}
	if s, ok := asString(attrs["status"]); ok {
		switch s {
		case "paid", "succeeded":
			status.State = StatePaid
		case "failed", "cancelled":
			status.State = StateFailed
		default:
			status.State = StatePending
		}
	}
}

func asArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	if raw == nil {
		return nil, false
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, false
	}
	return arr, true
}

// do performs one provider call with basic-auth and bounded retries.
// Timeouts and 5xx responses are retried with backoff; 4xx responses are
// surfaced immediately.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &GatewayUnavailableError{Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.SetBasicAuth(c.secretKey, "")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return data, nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("provider returned %d", resp.StatusCode)
			continue
		default:
			return nil, fmt.Errorf("provider rejected request: %d %s", resp.StatusCode, string(data))
		}
	}

	return nil, &GatewayUnavailableError{Err: lastErr}
}
