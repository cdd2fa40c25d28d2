// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Session
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// First-touch semantics live in the unique index on visitor_key: the first
// insert for a visitor wins and carries the attribution; every later attempt
// to insert for the same visitor returns ErrDuplicate, and the caller falls
// back to GetSessionByVisitorKey.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/driftwell/go-track-backend/internal/domain"
)

// Attribution is the first-touch marketing context captured when a session is
// created.
type Attribution struct {
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	LandingPath string `json:"landing_path,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
}

// CreateSession inserts a new Session for visitorKey carrying the given
// first-touch attribution. The session ID is a randomly generated UUID and
// CreatedAt is set to UTC.
//
// Returns ErrDuplicate when a session already exists for visitorKey.
func CreateSession(ctx context.Context, db *gorm.DB, visitorKey string, at Attribution) (*domain.Session, error) {
	s := &domain.Session{
		ID:          uuid.NewString(),
		VisitorKey:  visitorKey,
		UTMSource:   at.UTMSource,
		UTMMedium:   at.UTMMedium,
		UTMCampaign: at.UTMCampaign,
		UTMContent:  at.UTMContent,
		LandingPath: at.LandingPath,
		Referrer:    at.Referrer,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s, nil
}

// GetSession fetches a session by its primary key, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSessionByVisitorKey fetches the session owned by visitorKey, or
// ErrNotFound. At most one can exist (unique index).
func GetSessionByVisitorKey(ctx context.Context, db *gorm.DB, visitorKey string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).Where("visitor_key = ?", visitorKey).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SessionExists reports whether a session row exists for id.
func SessionExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Count(&n).Error
	return n > 0, err
}
