package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/driftwell/go-track-backend/internal/domain"
	"github.com/driftwell/go-track-backend/internal/repo"
)

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTrack_EmptyName(t *testing.T) {
	svc := &TrackingService{DB: newSvcDB(t), IPHashSalt: "salt"}
	if _, err := svc.Track(context.Background(), TrackInput{Name: "  "}); !errors.Is(err, ErrEmptyEventName) {
		t.Fatalf("expected ErrEmptyEventName, got %v", err)
	}
}

func TestTrack_CreatesSessionWithFirstTouchAttribution(t *testing.T) {
	db := newSvcDB(t)
	svc := &TrackingService{DB: db, IPHashSalt: "salt"}
	ctx := context.Background()

	sess, err := svc.Track(ctx, TrackInput{
		Name: domain.EventPageView,
		Path: "/xmas/light",
		Props: map[string]any{
			"utm_source":   "dryrun",
			"utm_medium":   "cli",
			"utm_campaign": "dw_dryrun",
			"referrer":     "https://example.org/",
		},
		VisitorID: "visitor-abc",
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if sess.ID == "" || sess.UTMSource != "dryrun" || sess.LandingPath != "/xmas/light" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	// The event must be appended with the path folded into props.
	events, err := repo.ListEventsPage(ctx, db, sess.ID, 0, 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected 1 event, got %d (%v)", len(events), err)
	}
	if events[0].Name != domain.EventPageView {
		t.Fatalf("unexpected event name: %s", events[0].Name)
	}
}

func TestTrack_SessionIdempotence(t *testing.T) {
	db := newSvcDB(t)
	svc := &TrackingService{DB: db, IPHashSalt: "salt"}
	ctx := context.Background()

	first, err := svc.Track(ctx, TrackInput{
		Name:      domain.EventPageView,
		Path:      "/a",
		Props:     map[string]any{"utm_source": "first"},
		VisitorID: "stable-visitor",
	})
	if err != nil {
		t.Fatalf("first Track: %v", err)
	}

	// Same visitor, later event with different attribution: same session id,
	// first-touch attribution untouched.
	second, err := svc.Track(ctx, TrackInput{
		Name:      domain.EventCheckoutStart,
		Path:      "/b",
		Props:     map[string]any{"utm_source": "second"},
		VisitorID: "stable-visitor",
	})
	if err != nil {
		t.Fatalf("second Track: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("session id changed for same visitor: %s vs %s", first.ID, second.ID)
	}
	if second.UTMSource != "first" || second.LandingPath != "/a" {
		t.Fatalf("first-touch attribution overwritten: %+v", second)
	}

	n, err := repo.CountEvents(ctx, db, first.ID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 events on session, got %d (%v)", n, err)
	}
}

func TestTrack_FingerprintFallback(t *testing.T) {
	db := newSvcDB(t)
	svc := &TrackingService{DB: db, IPHashSalt: "salt"}
	ctx := context.Background()

	a, err := svc.Track(ctx, TrackInput{Name: domain.EventPageView, ClientIP: "203.0.113.7", UserAgent: "ua-1"})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	b, err := svc.Track(ctx, TrackInput{Name: domain.EventPageView, ClientIP: "203.0.113.7", UserAgent: "ua-1"})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("same IP+UA must map to one session: %s vs %s", a.ID, b.ID)
	}

	c, err := svc.Track(ctx, TrackInput{Name: domain.EventPageView, ClientIP: "203.0.113.8", UserAgent: "ua-1"})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if c.ID == a.ID {
		t.Fatalf("different IP must map to a different session")
	}

	// Raw IPs never reach the store.
	var sessions []domain.Session
	if err := db.Find(&sessions).Error; err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	for _, s := range sessions {
		if s.VisitorKey == "203.0.113.7" || s.VisitorKey == "203.0.113.8" {
			t.Fatalf("raw IP stored as visitor key: %q", s.VisitorKey)
		}
	}
}

func TestTrack_DifferentSaltsDifferentFingerprints(t *testing.T) {
	a := &TrackingService{DB: newSvcDB(t), IPHashSalt: "salt-a"}
	b := &TrackingService{DB: newSvcDB(t), IPHashSalt: "salt-b"}
	in := TrackInput{ClientIP: "198.51.100.1", UserAgent: "ua"}
	if a.visitorKey(in) == b.visitorKey(in) {
		t.Fatalf("fingerprint must depend on the salt")
	}
}
