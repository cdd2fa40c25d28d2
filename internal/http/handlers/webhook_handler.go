// Payment webhook handlers.
//
// Each provider gets its own endpoint under /api/webhooks/. All three follow
// the same three stages: verify the delivery is authentic, normalize the
// provider payload into a common completion record, then hand it to the
// fulfillment service. Verification failures return 400 without side effects;
// a provider whose verification material is missing answers 503 rather than
// verifying against an empty secret.
// Redeliveries are acknowledged with 200; the fulfillment service's dedup
// table makes them no-ops.
package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftwell/go-track-backend/internal/http/middleware"
	"github.com/driftwell/go-track-backend/internal/payments"
	"github.com/driftwell/go-track-backend/internal/services"
)

// WebhookConfig carries the per-provider verification material the webhook
// handlers need. Secrets stay here rather than on the fulfillment service so
// transport authentication never leaks into business logic.
type WebhookConfig struct {
	// StripeSecret is the endpoint signing secret (whsec_...).
	StripeSecret string
	// PayPal verifies deliveries against PayPal's verification API. May be
	// nil when PayPal is not configured.
	PayPal payments.PayPalVerifier
	// PayPalAllowUnverified skips PayPal verification. Test/dev only.
	PayPalAllowUnverified bool
	// BTCSecret is the shared HMAC secret for the bitcoin processor.
	BTCSecret string
}

// WebhookAck is the body returned for every accepted webhook delivery,
// including ignored event types and redeliveries.
type WebhookAck struct {
	Received bool `json:"received"`
}

// StripeWebhook godoc
// @ID          stripeWebhook
// @Summary     Stripe payment webhook
// @Description Verifies the Stripe-Signature header, then fulfills the order referenced by payment_intent.succeeded events.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse "Invalid signature or malformed payload"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Failure     503  {object}  handlers.ErrorResponse "Signing secret not configured"
// @Router      /api/webhooks/stripe [post]
func (h *Handlers) StripeWebhook(c *gin.Context) {
	// An empty secret would make HMAC verification vacuous, so refuse to
	// verify at all until the deployment is configured. Stripe retries on 5xx.
	if h.webhooks.StripeSecret == "" {
		middleware.CountWebhook("stripe", "verify_unavailable")
		fail(c, http.StatusServiceUnavailable, ErrCodeVerifyUnavailable, "stripe verification not configured")
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	event, err := payments.VerifyStripeEvent(body, c.GetHeader("Stripe-Signature"), h.webhooks.StripeSecret)
	if err != nil {
		middleware.CountWebhook("stripe", "invalid_signature")
		fail(c, http.StatusBadRequest, ErrCodeInvalidSignature, "signature verification failed")
		return
	}

	comp, handled, err := payments.NormalizeStripe(event)
	h.processCompletion(c, "stripe", comp, handled, err)
}

// PayPalWebhook godoc
// @ID          paypalWebhook
// @Summary     PayPal payment webhook
// @Description Verifies the delivery against PayPal's verification API, then fulfills the order referenced by PAYMENT.CAPTURE.COMPLETED events.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse "Invalid signature or malformed payload"
// @Failure     503  {object}  handlers.ErrorResponse "Verification API unavailable"
// @Router      /api/webhooks/paypal [post]
func (h *Handlers) PayPalWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	// The verifier re-reads the request body, so restore it.
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	if !h.webhooks.PayPalAllowUnverified {
		if h.webhooks.PayPal == nil {
			middleware.CountWebhook("paypal", "verify_unavailable")
			fail(c, http.StatusServiceUnavailable, ErrCodeVerifyUnavailable, "paypal verification not configured")
			return
		}
		verified, err := h.webhooks.PayPal.VerifyWebhook(c.Request.Context(), c.Request)
		if err != nil {
			// Fail closed but retryable: PayPal redelivers on 5xx.
			middleware.CountWebhook("paypal", "verify_unavailable")
			fail(c, http.StatusServiceUnavailable, ErrCodeVerifyUnavailable, "verification API unreachable")
			return
		}
		if !verified {
			middleware.CountWebhook("paypal", "invalid_signature")
			fail(c, http.StatusBadRequest, ErrCodeInvalidSignature, "signature verification failed")
			return
		}
	}

	comp, handled, err := payments.NormalizePayPal(body)
	h.processCompletion(c, "paypal", comp, handled, err)
}

// BitcoinWebhook godoc
// @ID          bitcoinWebhook
// @Summary     Bitcoin processor webhook
// @Description Verifies the X-DW-Signature HMAC over the raw body, then fulfills the order referenced by settled invoices.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse "Invalid signature or malformed payload"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Failure     503  {object}  handlers.ErrorResponse "Shared secret not configured"
// @Router      /api/webhooks/bitcoin [post]
func (h *Handlers) BitcoinWebhook(c *gin.Context) {
	// Same posture as the other providers: no secret means no verification,
	// and unverified deliveries never fulfill.
	if h.webhooks.BTCSecret == "" {
		middleware.CountWebhook("btc", "verify_unavailable")
		fail(c, http.StatusServiceUnavailable, ErrCodeVerifyUnavailable, "bitcoin verification not configured")
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	if err := payments.VerifyBitcoinBody(h.webhooks.BTCSecret, body, c.GetHeader(payments.SignatureHeader)); err != nil {
		middleware.CountWebhook("btc", "invalid_signature")
		fail(c, http.StatusBadRequest, ErrCodeInvalidSignature, "signature verification failed")
		return
	}

	comp, handled, err := payments.NormalizeBitcoin(body)
	h.processCompletion(c, "btc", comp, handled, err)
}

// processCompletion runs the shared post-verification stage: translate the
// normalization outcome, invoke fulfillment, and pick a response status the
// provider's retry logic interprets correctly.
//
// Response contract:
//   - 400: the payload could not be parsed at all. A retry would not help,
//     but the broken delivery should surface in the provider's dashboard.
//   - 200: everything else the store could handle, including ignored event
//     types, payloads with no order reference, and references to orders this
//     system never issued. All are logged; 200 stops pointless redelivery.
//   - 500: the store failed. The provider retries, and the dedup table makes
//     the retry safe.
func (h *Handlers) processCompletion(c *gin.Context, provider string, comp payments.Completion, handled bool, err error) {
	lg := middleware.LoggerFrom(c)

	if err != nil {
		if errors.Is(err, payments.ErrMissingOrderRef) {
			lg.Warn().Str("provider", provider).Msg("webhook carries no order reference, acknowledged without fulfillment")
			middleware.CountWebhook(provider, "missing_order_ref")
			ok(c, http.StatusOK, WebhookAck{Received: true})
			return
		}
		middleware.CountWebhook(provider, "malformed")
		fail(c, http.StatusBadRequest, ErrCodeWebhookUnprocessed, "malformed payload")
		return
	}
	if !handled {
		middleware.CountWebhook(provider, "ignored")
		ok(c, http.StatusOK, WebhookAck{Received: true})
		return
	}

	_, err = h.fulfillSvc.Fulfill(c.Request.Context(), services.FulfillInput{
		Provider:        comp.Provider,
		ProviderEventID: comp.ProviderEventID,
		OrderID:         comp.OrderID,
		SessionID:       comp.SessionID,
		ProductSKU:      comp.ProductSKU,
		AmountCents:     comp.AmountCents,
		Currency:        comp.Currency,
	})
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			lg.Warn().
				Str("provider", provider).
				Str("order_id", comp.OrderID).
				Msg("webhook references unknown order, acknowledged without fulfillment")
			middleware.CountWebhook(provider, "unknown_order")
			ok(c, http.StatusOK, WebhookAck{Received: true})
			return
		}
		middleware.CountWebhook(provider, "error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	middleware.CountWebhook(provider, "fulfilled")
	ok(c, http.StatusOK, WebhookAck{Received: true})
}
