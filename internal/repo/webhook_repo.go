// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the webhook
// dedup table.
//
// ClaimWebhookEvent is the atomic claim at the heart of idempotent webhook
// handling: the unique (provider, provider_event_id) index guarantees that,
// of two racing deliveries of the same provider event, exactly one insert
// commits. The loser sees ErrDuplicate and must take the read-only path.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/driftwell/go-track-backend/internal/domain"
)

// ClaimWebhookEvent inserts a dedup record for (provider, providerEventID)
// and returns ErrDuplicate if the pair was already claimed. orderID is stored
// for auditability only; the claim is keyed purely on the pair.
func ClaimWebhookEvent(ctx context.Context, db *gorm.DB, provider, providerEventID, orderID string) (*domain.WebhookEvent, error) {
	rec := &domain.WebhookEvent{
		ID:              uuid.NewString(),
		Provider:        provider,
		ProviderEventID: providerEventID,
		OrderID:         orderID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetWebhookEvent returns the dedup record for (provider, providerEventID),
// or ErrNotFound.
func GetWebhookEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.WebhookEvent, error) {
	var rec domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
