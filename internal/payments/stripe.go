// Package payments implements provider-specific webhook verification and
// normalization. Each provider file funnels its payload shape into the same
// Completion value, so the webhook handlers stay transport-thin and the
// fulfillment routine never sees provider differences.
//
// Verification always happens before normalization; nothing in this package
// performs side effects.
package payments

import (
	"encoding/json"
	"errors"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/driftwell/go-track-backend/internal/domain"
)

// Completion is the provider-agnostic "payment completed" signal produced by
// a verified and accepted webhook payload.
type Completion struct {
	Provider        string
	ProviderEventID string
	OrderID         string
	SessionID       string
	ProductSKU      string
	AmountCents     int64
	Currency        string
}

// ErrMissingOrderRef is returned when an accepted payload carries no order
// reference; without it the completion cannot be tied to the ledger.
var ErrMissingOrderRef = errors.New("payload carries no order reference")

// VerifyStripeEvent checks the Stripe-Signature header (HMAC-SHA256 over
// "timestamp.payload", default 5-minute tolerance) and parses the event.
// Any mismatch or expired timestamp is an error; callers must reject with
// 400 and perform no side effects.
func VerifyStripeEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// NormalizeStripe maps a verified Stripe event onto a Completion.
//
// Only payment_intent.succeeded events are accepted; anything else returns
// ok=false and should be acknowledged with no side effect. The order,
// session, and SKU references travel in the payment intent's metadata,
// written there at checkout time.
func NormalizeStripe(event stripe.Event) (Completion, bool, error) {
	if event.Type != "payment_intent.succeeded" {
		return Completion{}, false, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return Completion{}, false, err
	}
	orderID := pi.Metadata["order_id"]
	if orderID == "" {
		return Completion{}, false, ErrMissingOrderRef
	}

	return Completion{
		Provider:        domain.ProviderStripe,
		ProviderEventID: event.ID,
		OrderID:         orderID,
		SessionID:       pi.Metadata["session_id"],
		ProductSKU:      pi.Metadata["product_sku"],
		AmountCents:     pi.AmountReceived,
		Currency:        normalizeCurrency(string(pi.Currency)),
	}, true, nil
}
