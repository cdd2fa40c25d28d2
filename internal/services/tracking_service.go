// Package services – TrackingService
//
// This file implements the TrackingService, the write path behind
// POST /api/track. It resolves the calling visitor to a session (creating one
// with first-touch attribution on first contact) and appends the tracked
// event to the append-only event log. Session creation and the event insert
// run in one transaction so a store failure never leaves a partial write.
package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/driftwell/go-track-backend/internal/domain"
	"github.com/driftwell/go-track-backend/internal/repo"
)

// TrackInput carries one tracked event from the ingestion API.
//
// VisitorID is the client's own stable identifier when it supplies one
// (e.g. a localStorage id passed in props). When absent, the service derives
// a privacy-preserving fingerprint from ClientIP and UserAgent; raw IPs are
// never persisted.
type TrackInput struct {
	Name      string
	Path      string
	Props     map[string]any
	VisitorID string
	ClientIP  string
	UserAgent string
}

// TrackingService implements the use-cases around visitor sessions and the
// event log. It is context-aware and safe for concurrent use; coordination
// happens entirely through database constraints, so multiple instances
// behind a load balancer behave correctly.
type TrackingService struct {
	// DB is the database handle used for all tracking operations.
	DB *gorm.DB

	// IPHashSalt is mixed into the visitor fingerprint so stored keys
	// cannot be reversed into IP addresses by rainbow tables.
	IPHashSalt string
}

// Track resolves the visitor to a session and appends the event.
//
// Semantics:
//   - in.Name must be non-empty; otherwise ErrEmptyEventName.
//   - The first call for a visitor creates the session and captures
//     first-touch attribution from in.Props and in.Path. Later calls reuse
//     the session; their attribution values are ignored (first touch wins).
//   - Two concurrent first calls for the same visitor cannot create two
//     sessions: the unique visitor_key index lets one insert win, the loser
//     re-reads the winner's row.
//
// The returned session carries the stable session id handed back to clients.
func (s *TrackingService) Track(ctx context.Context, in TrackInput) (*domain.Session, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrEmptyEventName
	}

	key := s.visitorKey(in)

	var sess *domain.Session
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sess, err = repo.GetSessionByVisitorKey(ctx, tx, key)
		if errors.Is(err, repo.ErrNotFound) {
			sess, err = repo.CreateSession(ctx, tx, key, attributionFrom(in))
			if errors.Is(err, repo.ErrDuplicate) {
				// Lost the race to a concurrent first touch.
				sess, err = repo.GetSessionByVisitorKey(ctx, tx, key)
			}
		}
		if err != nil {
			return err
		}

		_, err = repo.AppendEvent(ctx, tx, sess.ID, name, eventProps(in))
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// ListEvents returns one page of a session's event log (oldest first) and the
// total event count. Returns ErrSessionNotFound for unknown sessions so the
// API can distinguish "no events yet" from "no such session".
func (s *TrackingService) ListEvents(ctx context.Context, sessionID string, page, pageSize int) ([]domain.Event, int64, error) {
	db := s.DB.WithContext(ctx)

	exists, err := repo.SessionExists(ctx, db, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, ErrSessionNotFound
	}

	total, err := repo.CountEvents(ctx, db, sessionID)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListEventsPage(ctx, db, sessionID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// visitorKey picks the identity the session is keyed on. Client-supplied ids
// and derived fingerprints live in separate namespaces so they cannot
// collide.
func (s *TrackingService) visitorKey(in TrackInput) string {
	if vid := strings.TrimSpace(in.VisitorID); vid != "" {
		return "vid:" + vid
	}
	mac := hmac.New(sha256.New, []byte(s.IPHashSalt))
	mac.Write([]byte(in.ClientIP))
	mac.Write([]byte{0})
	mac.Write([]byte(in.UserAgent))
	return "fp:" + hex.EncodeToString(mac.Sum(nil)[:16])
}

// attributionFrom extracts first-touch attribution from the tracked event.
func attributionFrom(in TrackInput) repo.Attribution {
	return repo.Attribution{
		UTMSource:   propString(in.Props, "utm_source"),
		UTMMedium:   propString(in.Props, "utm_medium"),
		UTMCampaign: propString(in.Props, "utm_campaign"),
		UTMContent:  propString(in.Props, "utm_content"),
		Referrer:    propString(in.Props, "referrer"),
		LandingPath: in.Path,
	}
}

// eventProps builds the stored props payload: the client props plus the path
// the event was tracked on.
func eventProps(in TrackInput) map[string]any {
	props := make(map[string]any, len(in.Props)+1)
	for k, v := range in.Props {
		props[k] = v
	}
	if in.Path != "" {
		props["path"] = in.Path
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

func propString(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	if v, ok := props[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
