// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Order
// ledger.
//
// An order has no status column. Callers derive state from the presence of a
// fulfillment row: none means pending, one means complete.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/driftwell/go-track-backend/internal/domain"
)

// CreateOrder inserts a purchase intent for sessionID. The order ID is a
// randomly generated UUID; attrib is an optional attribution snapshot stored
// as JSON. On failure, it returns a DB error.
func CreateOrder(ctx context.Context, db *gorm.DB, provider string, amountCents int64, currency, productSKU, sessionID string, attrib any) (*domain.Order, error) {
	o := &domain.Order{
		ID:          uuid.NewString(),
		Provider:    provider,
		AmountCents: amountCents,
		Currency:    currency,
		ProductSKU:  productSKU,
		SessionID:   sessionID,
		CreatedAt:   time.Now().UTC(),
	}
	if attrib != nil {
		raw, err := json.Marshal(attrib)
		if err != nil {
			return nil, err
		}
		o.Attrib = datatypes.JSON(raw)
	}
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder fetches an order by its primary key, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).Where("id = ?", id).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}
