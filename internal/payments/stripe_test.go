package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/driftwell/go-track-backend/internal/domain"
)

const testStripeSecret = "whsec_test_secret"

// signStripePayload builds a valid Stripe-Signature header for payload,
// the same scheme the dry-run harness uses.
func signStripePayload(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%x", at.Unix(), sig)
}

func stripeSucceededPayload(t *testing.T, orderID, sessionID string) []byte {
	t.Helper()
	body := map[string]any{
		"id":   "evt_test_1",
		"type": "payment_intent.succeeded",
		"data": map[string]any{
			"object": map[string]any{
				"id":              "pi_test_1",
				"amount_received": 2500,
				"currency":        "usd",
				"metadata": map[string]string{
					"order_id":    orderID,
					"session_id":  sessionID,
					"product_sku": "xmas_light",
				},
			},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestVerifyStripeEvent_ValidSignature(t *testing.T) {
	payload := stripeSucceededPayload(t, "order-1", "sess-1")
	header := signStripePayload(t, payload, testStripeSecret, time.Now())

	event, err := VerifyStripeEvent(payload, header, testStripeSecret)
	if err != nil {
		t.Fatalf("VerifyStripeEvent: %v", err)
	}
	if event.ID != "evt_test_1" {
		t.Fatalf("unexpected event id: %s", event.ID)
	}
}

func TestVerifyStripeEvent_WrongSecret(t *testing.T) {
	payload := stripeSucceededPayload(t, "order-1", "sess-1")
	header := signStripePayload(t, payload, "whsec_other", time.Now())

	if _, err := VerifyStripeEvent(payload, header, testStripeSecret); err == nil {
		t.Fatalf("expected verification failure for wrong secret")
	}
}

func TestVerifyStripeEvent_StaleTimestamp(t *testing.T) {
	payload := stripeSucceededPayload(t, "order-1", "sess-1")
	header := signStripePayload(t, payload, testStripeSecret, time.Now().Add(-time.Hour))

	if _, err := VerifyStripeEvent(payload, header, testStripeSecret); err == nil {
		t.Fatalf("expected verification failure outside tolerance window")
	}
}

func TestNormalizeStripe_Succeeded(t *testing.T) {
	payload := stripeSucceededPayload(t, "order-1", "sess-1")
	header := signStripePayload(t, payload, testStripeSecret, time.Now())
	event, err := VerifyStripeEvent(payload, header, testStripeSecret)
	if err != nil {
		t.Fatalf("VerifyStripeEvent: %v", err)
	}

	c, ok, err := NormalizeStripe(event)
	if err != nil || !ok {
		t.Fatalf("NormalizeStripe = ok=%v err=%v", ok, err)
	}
	if c.Provider != domain.ProviderStripe || c.ProviderEventID != "evt_test_1" {
		t.Fatalf("unexpected completion: %+v", c)
	}
	if c.OrderID != "order-1" || c.SessionID != "sess-1" || c.ProductSKU != "xmas_light" {
		t.Fatalf("metadata not extracted: %+v", c)
	}
	if c.AmountCents != 2500 || c.Currency != "USD" {
		t.Fatalf("amount/currency mismatch: %+v", c)
	}
}

func TestNormalizeStripe_IgnoresOtherEventTypes(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"id":   "evt_other",
		"type": "charge.refunded",
		"data": map[string]any{"object": map[string]any{}},
	})
	header := signStripePayload(t, raw, testStripeSecret, time.Now())
	event, err := VerifyStripeEvent(raw, header, testStripeSecret)
	if err != nil {
		t.Fatalf("VerifyStripeEvent: %v", err)
	}
	if _, ok, err := NormalizeStripe(event); ok || err != nil {
		t.Fatalf("expected ignored event, got ok=%v err=%v", ok, err)
	}
}

func TestNormalizeStripe_MissingOrderRef(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"id":   "evt_noref",
		"type": "payment_intent.succeeded",
		"data": map[string]any{"object": map[string]any{
			"id": "pi_x", "amount_received": 100, "currency": "usd",
			"metadata": map[string]string{},
		}},
	})
	header := signStripePayload(t, raw, testStripeSecret, time.Now())
	event, err := VerifyStripeEvent(raw, header, testStripeSecret)
	if err != nil {
		t.Fatalf("VerifyStripeEvent: %v", err)
	}
	if _, _, err := NormalizeStripe(event); !errors.Is(err, ErrMissingOrderRef) {
		t.Fatalf("expected ErrMissingOrderRef, got %v", err)
	}
}
