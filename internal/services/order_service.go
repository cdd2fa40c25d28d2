// Package services – OrderService
//
// This file implements the OrderService behind POST /api/orders. It validates
// the purchase intent (provider, amount, currency, session reference),
// normalizes the amount to minor units, snapshots the session's attribution,
// and records a checkout_start event alongside the order row in one
// transaction.
package services

import (
	"context"
	"errors"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"gorm.io/gorm"

	"github.com/driftwell/go-track-backend/internal/domain"
	"github.com/driftwell/go-track-backend/internal/repo"
)

// OrderInput carries the fields of a purchase intent.
type OrderInput struct {
	Provider   string
	Amount     float64 // major units, e.g. 25 for 25.00 USD
	Currency   string
	ProductSKU string
	SessionID  string
	Attrib     map[string]any // optional client-side attribution snapshot
}

// OrderService implements order-ledger use-cases.
type OrderService struct {
	// DB is the database handle used for all order operations.
	DB *gorm.DB
}

// Create validates and inserts an order for in.SessionID.
//
// Semantics and validation:
//   - in.Provider must be stripe, paypal, btc, or the alias bitcoin
//     (normalized to btc); otherwise ErrInvalidProvider.
//   - in.Amount must be positive; otherwise ErrInvalidAmount.
//   - in.Currency must parse as ISO 4217; otherwise ErrInvalidCurrency.
//     The stored code is uppercased.
//   - in.SessionID must reference an existing session; otherwise
//     ErrSessionNotFound. Orders are never silently orphaned.
//
// When the client sends no attribution snapshot, the session's first-touch
// attribution is snapshotted instead, so the ledger stays joinable even if
// the sessions table is later pruned. A checkout_start event is appended in
// the same transaction.
func (s *OrderService) Create(ctx context.Context, in OrderInput) (*domain.Order, error) {
	provider, err := NormalizeProvider(in.Provider)
	if err != nil {
		return nil, err
	}
	if in.Amount <= 0 || math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) {
		return nil, ErrInvalidAmount
	}
	unit, err := currency.ParseISO(strings.TrimSpace(in.Currency))
	if err != nil {
		return nil, ErrInvalidCurrency
	}
	code := unit.String()
	amountCents := int64(math.Round(in.Amount * 100))

	var order *domain.Order
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess, err := repo.GetSession(ctx, tx, strings.TrimSpace(in.SessionID))
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		attrib := in.Attrib
		if len(attrib) == 0 {
			attrib = map[string]any{
				"utm_source":   sess.UTMSource,
				"utm_medium":   sess.UTMMedium,
				"utm_campaign": sess.UTMCampaign,
				"utm_content":  sess.UTMContent,
				"landing_path": sess.LandingPath,
				"referrer":     sess.Referrer,
			}
		}

		order, err = repo.CreateOrder(ctx, tx, provider, amountCents, code, strings.TrimSpace(in.ProductSKU), sess.ID, attrib)
		if err != nil {
			return err
		}

		_, err = repo.AppendEvent(ctx, tx, sess.ID, domain.EventCheckoutStart, map[string]any{
			"order_id":     order.ID,
			"provider":     provider,
			"amount_cents": amountCents,
			"currency":     code,
			"product_sku":  order.ProductSKU,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Status reports an order together with its fulfillment state. The token is
// empty while the order is pending.
func (s *OrderService) Status(ctx context.Context, orderID string) (*domain.Order, *domain.Fulfillment, error) {
	order, err := repo.GetOrder(ctx, s.DB, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	f, err := repo.GetFulfillmentByOrder(ctx, s.DB, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return order, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return order, f, nil
}

// NormalizeProvider maps user-facing provider names onto the canonical set
// used by the ledger and the dedup table. "bitcoin" is accepted as an alias
// for btc.
func NormalizeProvider(p string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case domain.ProviderStripe:
		return domain.ProviderStripe, nil
	case domain.ProviderPayPal:
		return domain.ProviderPayPal, nil
	case domain.ProviderBTC, "bitcoin":
		return domain.ProviderBTC, nil
	default:
		return "", ErrInvalidProvider
	}
}
