// Bitcoin/Lightning invoice webhook verification and normalization.
//
// The invoice processor signs the raw JSON body with HMAC-SHA256 under a
// shared secret and sends the digest as "X-DW-Signature: sha256=<hex>".
// Verification is a constant-time compare of that digest; there is no
// timestamp scheme, replay protection comes from the dedup table.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/driftwell/go-track-backend/internal/domain"
)

// SignatureHeader is the header the invoice processor transmits its HMAC in.
const SignatureHeader = "X-DW-Signature"

const signaturePrefix = "sha256="

// ErrBadSignature is returned for a missing, malformed, or mismatched
// signature header.
var ErrBadSignature = errors.New("invalid webhook signature")

// btcInvoice is the invoice processor's webhook payload.
type btcInvoice struct {
	InvoiceID  string `json:"invoice_id"`
	Status     string `json:"status"`
	OrderID    string `json:"order_id"`
	SessionID  string `json:"session_id"`
	ProductSKU string `json:"product_sku"`
	AmountSats int64  `json:"amount_sats"`
	FiatCents  int64  `json:"fiat_cents"`
	FiatCode   string `json:"fiat_currency"`
}

// SignBody computes the signature header value for body under secret.
// Exported for tests and for the dry-run harness.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyBitcoinBody checks header against the HMAC of the raw body.
func VerifyBitcoinBody(secret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrBadSignature
	}
	want := SignBody(secret, body)
	if !hmac.Equal([]byte(header), []byte(want)) {
		return ErrBadSignature
	}
	return nil
}

// NormalizeBitcoin maps a verified invoice payload onto a Completion.
//
// Only status "settled" fulfills; any other status (pending, expired,
// underpaid) returns ok=false and is acknowledged without side effects.
func NormalizeBitcoin(body []byte) (Completion, bool, error) {
	var inv btcInvoice
	if err := json.Unmarshal(body, &inv); err != nil {
		return Completion{}, false, err
	}
	if !strings.EqualFold(inv.Status, "settled") {
		return Completion{}, false, nil
	}
	if inv.OrderID == "" {
		return Completion{}, false, ErrMissingOrderRef
	}
	if inv.InvoiceID == "" {
		return Completion{}, false, errors.New("invoice payload has no invoice_id")
	}
	return Completion{
		Provider:        domain.ProviderBTC,
		ProviderEventID: inv.InvoiceID,
		OrderID:         inv.OrderID,
		SessionID:       inv.SessionID,
		ProductSKU:      inv.ProductSKU,
		AmountCents:     inv.FiatCents,
		Currency:        normalizeCurrency(inv.FiatCode),
	}, true, nil
}

// normalizeCurrency uppercases provider currency codes ("usd" vs "USD").
func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
