// Package services – FulfillmentService
//
// This file implements the shared fulfillment routine all three webhook
// handlers converge on. It enforces the central invariant: at most one
// fulfillment, and therefore one unlock token, per order, no matter how many
// times or through which provider a completion signal arrives.
//
// Idempotency is two-level and constraint-driven:
//  1. the webhook dedup table claims (provider, provider_event_id) with a
//     unique-index insert, so a redelivered event takes a read-only path;
//  2. the fulfillments table is unique on order_id, so even a *different*
//     provider event reporting an already-fulfilled order reuses the
//     existing token.
//
// Unique-violation on either insert is expected control flow (re-read the
// winning row), never a failure.
package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/driftwell/go-track-backend/internal/domain"
	"github.com/driftwell/go-track-backend/internal/repo"
)

// FulfillInput is the normalized completion signal produced by a verified
// provider webhook. Provider is the canonical name (stripe, paypal, btc) and
// ProviderEventID the provider's delivery id used for deduplication.
type FulfillInput struct {
	Provider        string
	ProviderEventID string
	OrderID         string
	SessionID       string
	ProductSKU      string
	AmountCents     int64
	Currency        string
}

// FulfillmentService implements the verified-payment fulfillment routine.
type FulfillmentService struct {
	// DB is the database handle used for all fulfillment operations.
	DB *gorm.DB
}

// Fulfill processes one verified completion signal and returns the order's
// unlock token.
//
// Algorithm:
//  1. If (provider, provider_event_id) is already recorded, the delivery is
//     a duplicate: return the existing fulfillment's token without writing
//     any events.
//  2. Otherwise resolve the order; a missing order is ErrOrderNotFound (a
//     data-integrity alarm, surfaced to the handler which logs and acks).
//  3. Claim the dedup record. Losing the claim race means a concurrent
//     duplicate got there first; fall back to the step-1 read path.
//  4. Append payment_completed for the session.
//  5. Reuse an existing fulfillment's token if one exists for the order;
//     otherwise mint a token and insert the fulfillment row (again falling
//     back to a re-read when a concurrent insert wins).
//  6. Append content_unlock and return the token.
//
// Events are written against the order's session id; a session reference in
// the payload that disagrees with the ledger is logged and ignored.
func (s *FulfillmentService) Fulfill(ctx context.Context, in FulfillInput) (string, error) {
	db := s.DB.WithContext(ctx)

	// 1) Fast path for redeliveries.
	if _, err := repo.GetWebhookEvent(ctx, db, in.Provider, in.ProviderEventID); err == nil {
		return s.existingToken(ctx, db, in.OrderID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}

	// 2) Referential check before any side effect.
	order, err := repo.GetOrder(ctx, db, in.OrderID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}
	if in.SessionID != "" && in.SessionID != order.SessionID {
		log.Warn().
			Str("provider", in.Provider).
			Str("order_id", order.ID).
			Str("payload_session_id", in.SessionID).
			Str("order_session_id", order.SessionID).
			Msg("webhook session reference disagrees with order ledger")
	}

	// 3) Atomic claim on the delivery.
	if _, err := repo.ClaimWebhookEvent(ctx, db, in.Provider, in.ProviderEventID, order.ID); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return s.existingToken(ctx, db, order.ID)
		}
		return "", err
	}

	// 4) Payment record for the funnel.
	if _, err := repo.AppendEvent(ctx, db, order.SessionID, domain.EventPaymentCompleted, map[string]any{
		"order_id":     order.ID,
		"provider":     in.Provider,
		"amount_cents": in.AmountCents,
		"currency":     in.Currency,
		"product_sku":  in.ProductSKU,
	}); err != nil {
		return "", err
	}

	// 5) At most one token per order.
	f, err := repo.GetFulfillmentByOrder(ctx, db, order.ID)
	switch {
	case err == nil:
		return f.UnlockToken, nil
	case !errors.Is(err, repo.ErrNotFound):
		return "", err
	}

	token, err := newUnlockToken()
	if err != nil {
		return "", err
	}
	f, err = repo.CreateFulfillment(ctx, db, order.ID, in.Provider, token)
	if errors.Is(err, repo.ErrDuplicate) {
		return s.existingToken(ctx, db, order.ID)
	}
	if err != nil {
		return "", err
	}

	// 6) Unlock record completes the funnel.
	if _, err := repo.AppendEvent(ctx, db, order.SessionID, domain.EventContentUnlock, map[string]any{
		"order_id":    order.ID,
		"provider":    in.Provider,
		"product_sku": in.ProductSKU,
	}); err != nil {
		return "", err
	}
	return f.UnlockToken, nil
}

// existingToken is the duplicate-delivery return path: read the fulfillment
// minted by the first delivery. A recorded delivery with no fulfillment row
// means the original processing was interrupted after the claim; in that
// case the retry heals the order by minting the fulfillment now, backfilling
// payment_completed if the interruption happened before it was written.
func (s *FulfillmentService) existingToken(ctx context.Context, db *gorm.DB, orderID string) (string, error) {
	f, err := repo.GetFulfillmentByOrder(ctx, db, orderID)
	if err == nil {
		return f.UnlockToken, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}

	log.Warn().Str("order_id", orderID).Msg("recorded webhook delivery had no fulfillment row; healing")
	order, err := repo.GetOrder(ctx, db, orderID)
	if err != nil {
		return "", err
	}

	has, err := repo.HasOrderEvent(ctx, db, order.SessionID, domain.EventPaymentCompleted, order.ID)
	if err != nil {
		return "", err
	}
	if !has {
		if _, err := repo.AppendEvent(ctx, db, order.SessionID, domain.EventPaymentCompleted, map[string]any{
			"order_id":     order.ID,
			"provider":     order.Provider,
			"amount_cents": order.AmountCents,
			"currency":     order.Currency,
			"product_sku":  order.ProductSKU,
		}); err != nil {
			return "", err
		}
	}

	token, err := newUnlockToken()
	if err != nil {
		return "", err
	}
	f, err = repo.CreateFulfillment(ctx, db, order.ID, order.Provider, token)
	if errors.Is(err, repo.ErrDuplicate) {
		f, err = repo.GetFulfillmentByOrder(ctx, db, order.ID)
	}
	if err != nil {
		return "", err
	}
	if _, err := repo.AppendEvent(ctx, db, order.SessionID, domain.EventContentUnlock, map[string]any{
		"order_id":    order.ID,
		"provider":    order.Provider,
		"product_sku": order.ProductSKU,
	}); err != nil {
		return "", err
	}
	return f.UnlockToken, nil
}

// newUnlockToken mints an opaque, URL-safe unlock credential.
func newUnlockToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
