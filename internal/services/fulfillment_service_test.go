package services

import (
	"context"
	"errors"
	"testing"

	"github.com/driftwell/go-track-backend/internal/domain"
	"github.com/driftwell/go-track-backend/internal/repo"
	"gorm.io/gorm"
)

func seedOrderForFulfill(t *testing.T, db *gorm.DB) (*domain.Session, *domain.Order) {
	t.Helper()
	ctx := context.Background()
	tracking := &TrackingService{DB: db, IPHashSalt: "s"}
	sess, err := tracking.Track(ctx, TrackInput{
		Name:      domain.EventPageView,
		Path:      "/xmas/light",
		Props:     map[string]any{"utm_source": "dryrun"},
		VisitorID: "fulfill-visitor",
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	o, err := (&OrderService{DB: db}).Create(ctx, OrderInput{
		Provider: "stripe", Amount: 25, Currency: "USD", ProductSKU: "xmas_light", SessionID: sess.ID,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return sess, o
}

func countEventsNamed(t *testing.T, db *gorm.DB, sessionID, name string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Event{}).Where("session_id = ? AND name = ?", sessionID, name).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func TestFulfill_HappyPath(t *testing.T) {
	db := newSvcDB(t)
	svc := &FulfillmentService{DB: db}
	sess, order := seedOrderForFulfill(t, db)
	ctx := context.Background()

	token, err := svc.Fulfill(ctx, FulfillInput{
		Provider:        domain.ProviderStripe,
		ProviderEventID: "evt_1",
		OrderID:         order.ID,
		SessionID:       sess.ID,
		ProductSKU:      "xmas_light",
		AmountCents:     2500,
		Currency:        "USD",
	})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty unlock token")
	}

	f, err := repo.GetFulfillmentByOrder(ctx, db, order.ID)
	if err != nil || f.UnlockToken != token {
		t.Fatalf("fulfillment row mismatch: %+v, %v", f, err)
	}

	// Full funnel for the session.
	for _, name := range []string{domain.EventPageView, domain.EventCheckoutStart, domain.EventPaymentCompleted, domain.EventContentUnlock} {
		if n := countEventsNamed(t, db, sess.ID, name); n != 1 {
			t.Fatalf("expected exactly 1 %s event, got %d", name, n)
		}
	}
}

func TestFulfill_RedeliveryIsNoOp(t *testing.T) {
	db := newSvcDB(t)
	svc := &FulfillmentService{DB: db}
	sess, order := seedOrderForFulfill(t, db)
	ctx := context.Background()

	in := FulfillInput{
		Provider:        domain.ProviderStripe,
		ProviderEventID: "evt_dup",
		OrderID:         order.ID,
		SessionID:       sess.ID,
		AmountCents:     2500,
		Currency:        "USD",
	}
	first, err := svc.Fulfill(ctx, in)
	if err != nil {
		t.Fatalf("first Fulfill: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := svc.Fulfill(ctx, in)
		if err != nil {
			t.Fatalf("redelivery %d: %v", i, err)
		}
		if again != first {
			t.Fatalf("redelivery %d changed the token: %q vs %q", i, again, first)
		}
	}

	// No duplicated side effects.
	if n := countEventsNamed(t, db, sess.ID, domain.EventPaymentCompleted); n != 1 {
		t.Fatalf("payment_completed duplicated: %d", n)
	}
	if n := countEventsNamed(t, db, sess.ID, domain.EventContentUnlock); n != 1 {
		t.Fatalf("content_unlock duplicated: %d", n)
	}
	var rows int64
	if err := db.Model(&domain.Fulfillment{}).Where("order_id = ?", order.ID).Count(&rows).Error; err != nil || rows != 1 {
		t.Fatalf("expected 1 fulfillment row, got %d (%v)", rows, err)
	}
}

func TestFulfill_DistinctEventSameOrder_ReusesToken(t *testing.T) {
	db := newSvcDB(t)
	svc := &FulfillmentService{DB: db}
	sess, order := seedOrderForFulfill(t, db)
	ctx := context.Background()

	first, err := svc.Fulfill(ctx, FulfillInput{
		Provider: domain.ProviderStripe, ProviderEventID: "evt_a",
		OrderID: order.ID, SessionID: sess.ID, AmountCents: 2500, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("first Fulfill: %v", err)
	}

	// A different provider event (even a different provider) reporting the
	// same order must reuse the token, not mint a second one.
	second, err := svc.Fulfill(ctx, FulfillInput{
		Provider: domain.ProviderPayPal, ProviderEventID: "evt_b",
		OrderID: order.ID, SessionID: sess.ID, AmountCents: 2500, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("second Fulfill: %v", err)
	}
	if second != first {
		t.Fatalf("token changed across providers: %q vs %q", first, second)
	}

	var rows int64
	if err := db.Model(&domain.Fulfillment{}).Where("order_id = ?", order.ID).Count(&rows).Error; err != nil || rows != 1 {
		t.Fatalf("expected 1 fulfillment row, got %d (%v)", rows, err)
	}
	// The second signal records payment_completed but cannot unlock twice.
	if n := countEventsNamed(t, db, sess.ID, domain.EventContentUnlock); n != 1 {
		t.Fatalf("content_unlock duplicated: %d", n)
	}
}

func TestFulfill_UnknownOrder(t *testing.T) {
	db := newSvcDB(t)
	svc := &FulfillmentService{DB: db}
	ctx := context.Background()

	_, err := svc.Fulfill(ctx, FulfillInput{
		Provider: domain.ProviderBTC, ProviderEventID: "inv_x", OrderID: "no-such-order",
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	// No claim recorded for a payload that failed the referential check, so
	// a corrected redelivery can still fulfill later.
	if _, err := repo.GetWebhookEvent(ctx, db, domain.ProviderBTC, "inv_x"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unexpected dedup record for rejected payload: %v", err)
	}
}

func TestFulfill_LostClaimRace_FallsBackToRead(t *testing.T) {
	db := newSvcDB(t)
	svc := &FulfillmentService{DB: db}
	sess, order := seedOrderForFulfill(t, db)
	ctx := context.Background()

	// Simulate a concurrent delivery that claimed the event and fulfilled
	// between our dedup read and our claim: the claim will hit ErrDuplicate
	// and must fall back to returning the existing token.
	if _, err := repo.ClaimWebhookEvent(ctx, db, domain.ProviderStripe, "evt_race", order.ID); err != nil {
		t.Fatalf("seed claim: %v", err)
	}
	if _, err := repo.CreateFulfillment(ctx, db, order.ID, domain.ProviderStripe, "tok-race"); err != nil {
		t.Fatalf("seed fulfillment: %v", err)
	}

	token, err := svc.Fulfill(ctx, FulfillInput{
		Provider: domain.ProviderStripe, ProviderEventID: "evt_race",
		OrderID: order.ID, SessionID: sess.ID,
	})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if token != "tok-race" {
		t.Fatalf("expected existing token, got %q", token)
	}
}

func TestFulfill_HealsInterruptedDelivery(t *testing.T) {
	db := newSvcDB(t)
	svc := &FulfillmentService{DB: db}
	sess, order := seedOrderForFulfill(t, db)
	ctx := context.Background()

	// A crash after the claim but before the fulfillment insert leaves a
	// dedup record with no fulfillment. The provider's retry must mint the
	// token instead of returning nothing forever.
	if _, err := repo.ClaimWebhookEvent(ctx, db, domain.ProviderStripe, "evt_crash", order.ID); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	token, err := svc.Fulfill(ctx, FulfillInput{
		Provider: domain.ProviderStripe, ProviderEventID: "evt_crash",
		OrderID: order.ID, SessionID: sess.ID,
	})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if token == "" {
		t.Fatalf("expected healed token")
	}
	f, err := repo.GetFulfillmentByOrder(ctx, db, order.ID)
	if err != nil || f.UnlockToken != token {
		t.Fatalf("healed fulfillment mismatch: %+v, %v", f, err)
	}

	// The crash predated payment_completed too; healing must backfill it so
	// the session's funnel ends up complete, once each.
	for _, name := range []string{domain.EventPaymentCompleted, domain.EventContentUnlock} {
		if n := countEventsNamed(t, db, sess.ID, name); n != 1 {
			t.Fatalf("expected exactly 1 %s after healing, got %d", name, n)
		}
	}
}

func TestFulfill_HealingDoesNotDuplicatePaymentEvent(t *testing.T) {
	db := newSvcDB(t)
	svc := &FulfillmentService{DB: db}
	sess, order := seedOrderForFulfill(t, db)
	ctx := context.Background()

	// Crash window between the payment_completed append and the fulfillment
	// insert: the event exists, the row does not.
	if _, err := repo.ClaimWebhookEvent(ctx, db, domain.ProviderStripe, "evt_crash2", order.ID); err != nil {
		t.Fatalf("seed claim: %v", err)
	}
	if _, err := repo.AppendEvent(ctx, db, sess.ID, domain.EventPaymentCompleted, map[string]any{
		"order_id": order.ID, "provider": domain.ProviderStripe,
	}); err != nil {
		t.Fatalf("seed payment event: %v", err)
	}

	token, err := svc.Fulfill(ctx, FulfillInput{
		Provider: domain.ProviderStripe, ProviderEventID: "evt_crash2",
		OrderID: order.ID, SessionID: sess.ID,
	})
	if err != nil || token == "" {
		t.Fatalf("Fulfill: %q, %v", token, err)
	}

	if n := countEventsNamed(t, db, sess.ID, domain.EventPaymentCompleted); n != 1 {
		t.Fatalf("payment_completed duplicated by healing: %d", n)
	}
	if n := countEventsNamed(t, db, sess.ID, domain.EventContentUnlock); n != 1 {
		t.Fatalf("expected exactly 1 content_unlock, got %d", n)
	}
}
