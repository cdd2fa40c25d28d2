// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the append-only
// Event log.
//
// Events are insert-only: there are no update or delete helpers here on
// purpose. Reporting reads go through ListEventsPage / CountEvents.
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

// AppendEvent inserts one event for sessionID with the given name and props.
// Props may be nil; any marshalable value is stored as JSON. CreatedAt is set
// to UTC.
func AppendEvent(ctx context.Context, db *gorm.DB, sessionID, name string, props any) (*domain.Event, error) {
	e := &domain.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if props != nil {
		raw, err := json.Marshal(props)
		if err != nil {
			return nil, err
		}
		e.Props = datatypes.JSON(raw)
	}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// ListEventsPage returns a page of events for sessionID in insertion order
// (oldest first). Use CountEvents for pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListEventsPage(ctx context.Context, db *gorm.DB, sessionID string, offset, limit int) ([]domain.Event, error) {
	var out []domain.Event
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountEvents returns the total number of events recorded for sessionID.
func CountEvents(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error
	return total, err
}

// HasOrderEvent reports whether sessionID already has an event with the given
// name whose props reference orderID. Fulfillment uses it to decide whether a
// retried delivery still owes the session a funnel event.
func HasOrderEvent(ctx context.Context, db *gorm.DB, sessionID, name, orderID string) (bool, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("session_id = ? AND name = ?", sessionID, name).
		Where(datatypes.JSONQuery("props").Equals(orderID, "order_id")).
		Count(&total).Error
	return total > 0, err
}
