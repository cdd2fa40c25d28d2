// PayPal webhook verification and normalization.
//
// Production deployments verify deliveries against PayPal's
// verify-webhook-signature API (via plutov/paypal); the call is bounded by a
// timeout and fails closed. A configuration flag may disable remote
// verification for local dry-runs only.
//
// The order/session/SKU reference travels in resource.custom_id as a JSON
// object. PayPal truncates custom_id to a fixed length, so decoding tolerates
// a payload cut off mid-string.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/plutov/paypal/v4"

	"github.com/driftwell/go-track-backend/internal/domain"
)

// PayPalVerifier checks the authenticity of a PayPal webhook delivery.
// Implementations must fail closed: any error means "not verified".
type PayPalVerifier interface {
	VerifyWebhook(ctx context.Context, req *http.Request) (bool, error)
}

// PayPalClient verifies deliveries against PayPal's REST API.
type PayPalClient struct {
	client    *paypal.Client
	webhookID string
	timeout   time.Duration
}

// NewPayPalClient builds a verifier for the configured webhook subscription.
// apiBase is paypal.APIBaseSandBox or paypal.APIBaseLive.
func NewPayPalClient(clientID, secret, apiBase, webhookID string, timeout time.Duration) (*PayPalClient, error) {
	c, err := paypal.NewClient(clientID, secret, apiBase)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PayPalClient{client: c, webhookID: webhookID, timeout: timeout}, nil
}

// VerifyWebhook calls PayPal's verification endpoint with a bounded context.
// Timeouts and transport errors are returned as errors, which callers treat
// as verification failure.
func (c *PayPalClient) VerifyWebhook(ctx context.Context, req *http.Request) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.VerifyWebhookSignature(ctx, req, c.webhookID)
	if err != nil {
		return false, err
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

// paypalEvent is the subset of the webhook envelope this service reads.
type paypalEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		CustomID string `json:"custom_id"`
		Amount   struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
	} `json:"resource"`
}

// customRef is the JSON object checkout writes into custom_id.
type customRef struct {
	OrderID    string `json:"order_id"`
	SessionID  string `json:"session_id"`
	ProductSKU string `json:"product_sku"`
}

// NormalizePayPal maps a verified PayPal event onto a Completion.
//
// Only PAYMENT.CAPTURE.COMPLETED fulfills; other event types return ok=false
// and are acknowledged without side effects.
func NormalizePayPal(body []byte) (Completion, bool, error) {
	var ev paypalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Completion{}, false, err
	}
	if ev.EventType != "PAYMENT.CAPTURE.COMPLETED" {
		return Completion{}, false, nil
	}
	if ev.ID == "" {
		return Completion{}, false, errors.New("paypal event has no id")
	}

	ref, err := decodeCustomRef(ev.Resource.CustomID)
	if err != nil {
		return Completion{}, false, err
	}
	if ref.OrderID == "" {
		return Completion{}, false, ErrMissingOrderRef
	}

	cents, err := majorUnitsToCents(ev.Resource.Amount.Value)
	if err != nil {
		return Completion{}, false, err
	}
	return Completion{
		Provider:        domain.ProviderPayPal,
		ProviderEventID: ev.ID,
		OrderID:         ref.OrderID,
		SessionID:       ref.SessionID,
		ProductSKU:      ref.ProductSKU,
		AmountCents:     cents,
		Currency:        normalizeCurrency(ev.Resource.Amount.CurrencyCode),
	}, true, nil
}

// decodeCustomRef parses custom_id, repairing the common truncation shapes:
// a payload cut off inside the final string value or right before the
// closing brace.
func decodeCustomRef(s string) (customRef, error) {
	if s == "" {
		return customRef{}, ErrMissingOrderRef
	}
	var ref customRef
	var lastErr error
	for _, candidate := range []string{s, s + `"}`, s + `}`} {
		if err := json.Unmarshal([]byte(candidate), &ref); err == nil {
			return ref, nil
		} else {
			lastErr = err
		}
	}
	return customRef{}, lastErr
}

// majorUnitsToCents converts PayPal's decimal string amounts ("25.00") to
// minor units.
func majorUnitsToCents(value string) (int64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 100)), nil
}
