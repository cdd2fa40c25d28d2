// Package domain defines the persistence models for sessions, events, orders,
// webhook deliveries, and fulfillments. These types are mapped with GORM and
// form the core data layer of the attribution/fulfillment backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Payment providers supported by the order ledger and webhook handlers.
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
	ProviderBTC    = "btc"
)

// Canonical event names written by the ingestion API and the fulfillment
// routine. The events table accepts arbitrary names; these are the ones the
// funnel reports rely on.
const (
	EventPageView         = "page_view"
	EventCheckoutStart    = "checkout_start"
	EventPaymentCompleted = "payment_completed"
	EventContentUnlock    = "content_unlock"
)

// Session represents a single visitor with first-touch marketing attribution.
// Attribution fields are captured once, when the session is created, and are
// immutable thereafter: a later /api/track call for the same visitor reuses
// the existing row.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - VisitorKey: opaque identity of the underlying visitor (client-supplied
//     id, or a salted hash of IP + User-Agent). Unique, so concurrent first
//     hits cannot mint two sessions for one visitor.
//   - UTMSource/UTMMedium/UTMCampaign/UTMContent: first-touch UTM parameters.
//   - LandingPath: path of the first tracked page view.
//   - Referrer: document referrer at first touch.
type Session struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	VisitorKey  string    `json:"-"            gorm:"type:varchar(128);not null;uniqueIndex:ux_sessions_visitor"`
	UTMSource   string    `json:"utm_source"   gorm:"type:varchar(255)"`
	UTMMedium   string    `json:"utm_medium"   gorm:"type:varchar(255)"`
	UTMCampaign string    `json:"utm_campaign" gorm:"type:varchar(255)"`
	UTMContent  string    `json:"utm_content"  gorm:"type:varchar(255)"`
	LandingPath string    `json:"landing_path" gorm:"type:varchar(2048)"`
	Referrer    string    `json:"referrer"     gorm:"type:varchar(2048)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Event is one row of the append-only event log. Events are never updated or
// deleted in normal operation; analytics and the fulfillment correctness
// checks both read from this table.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - SessionID: the session this event belongs to (indexed; a session has
//     many events).
//   - Name: event name such as "page_view" or "content_unlock".
//   - Props: free-form JSON context payload (attribution, path, amounts).
//   - CreatedAt: event timestamp.
type Event struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	SessionID string         `json:"session_id" gorm:"type:char(36);not null;index:idx_session_events,priority:1"`
	Name      string         `json:"name"       gorm:"type:varchar(64);not null;index"`
	Props     datatypes.JSON `json:"props,omitempty"`
	CreatedAt time.Time      `json:"ts"         gorm:"index:idx_session_events,priority:2"`

	// Session is the owning visitor session. Events reference it for
	// reporting joins; they are not cascade-managed resources.
	Session Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Event.
func (Event) TableName() string { return "events" }

// Order is a purchase intent created before any payment happens. There is no
// status column: an order with no fulfillment row is pending, an order with
// one is complete.
//
// Fields:
//   - ID: UUID primary key (char(36)), handed to the payment provider as
//     metadata so webhooks can find their way back.
//   - Provider: "stripe", "paypal", or "btc".
//   - AmountCents: amount in the currency's minor unit.
//   - Currency: uppercase ISO 4217 code.
//   - ProductSKU: the content item being purchased.
//   - SessionID: originating session (must exist at creation time).
//   - Attrib: snapshot of the session attribution at order creation.
type Order struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	Provider    string         `json:"provider"     gorm:"type:varchar(16);not null;check:provider IN ('stripe','paypal','btc')"`
	AmountCents int64          `json:"amount_cents" gorm:"not null;check:amount_cents > 0"`
	Currency    string         `json:"currency"     gorm:"type:char(3);not null"`
	ProductSKU  string         `json:"product_sku"  gorm:"type:varchar(128);not null"`
	SessionID   string         `json:"session_id"   gorm:"type:char(36);not null;index"`
	Attrib      datatypes.JSON `json:"attrib,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Session Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// WebhookEvent records a provider delivery that has already been processed.
// The unique (provider, provider_event_id) index is the atomic claim that
// makes webhook handling idempotent: the first insert wins, every redelivery
// hits the constraint and takes the read-only path.
type WebhookEvent struct {
	ID              string    `json:"id"                gorm:"type:char(36);primaryKey"`
	Provider        string    `json:"provider"          gorm:"type:varchar(16);not null;uniqueIndex:ux_webhook_provider_event,priority:1"`
	ProviderEventID string    `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_webhook_provider_event,priority:2"`
	OrderID         string    `json:"order_id"          gorm:"type:char(36);index"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName returns the database table name for WebhookEvent.
func (WebhookEvent) TableName() string { return "webhook_events" }

// Fulfillment grants access to purchased content. The unique order_id index
// enforces the central invariant: at most one fulfillment, and therefore one
// unlock token, per order, no matter how many completion signals arrive or
// through which provider.
type Fulfillment struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	OrderID     string    `json:"order_id"     gorm:"type:char(36);not null;uniqueIndex:ux_fulfillments_order"`
	Provider    string    `json:"provider"     gorm:"type:varchar(16);not null"`
	UnlockToken string    `json:"unlock_token" gorm:"type:varchar(128);not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Order Order `json:"-" gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Fulfillment.
func (Fulfillment) TableName() string { return "fulfillments" }
