// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Fulfillment
// model.
//
// The unique order_id index is the second idempotency guard: even if two
// distinct provider events report completion of the same order, only one
// fulfillment row can ever exist. On ErrDuplicate the caller re-reads the
// existing row and returns its token.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/driftwell/go-track-backend/internal/domain"
)

// CreateFulfillment inserts the fulfillment row for orderID with the given
// unlock token. Returns ErrDuplicate when the order is already fulfilled.
func CreateFulfillment(ctx context.Context, db *gorm.DB, orderID, provider, unlockToken string) (*domain.Fulfillment, error) {
	f := &domain.Fulfillment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Provider:    provider,
		UnlockToken: unlockToken,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return f, nil
}

// GetFulfillmentByOrder fetches the fulfillment row for orderID, or
// ErrNotFound when the order is still pending.
func GetFulfillmentByOrder(ctx context.Context, db *gorm.DB, orderID string) (*domain.Fulfillment, error) {
	var f domain.Fulfillment
	err := db.WithContext(ctx).Where("order_id = ?", orderID).First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}
