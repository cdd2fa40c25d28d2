package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/driftwell/go-track-backend/internal/payments"
	"github.com/driftwell/go-track-backend/internal/repo"
	"github.com/driftwell/go-track-backend/internal/services"
)

const (
	testStripeSecret = "whsec_handler_test"
	testBTCSecret    = "btc_handler_test"
)

// rig is a minimal HTTP stack around real services and an in-memory store.
// Middleware beyond gin itself is deliberately left out; router behavior has
// its own tests.
type rig struct {
	r  *gin.Engine
	db *gorm.DB
	h  *Handlers
}

// setPayPal swaps the PayPal verification config, letting tests exercise the
// strict verification path against the default unverified rig.
func (rg *rig) setPayPal(v payments.PayPalVerifier, allowUnverified bool) {
	rg.h.webhooks.PayPal = v
	rg.h.webhooks.PayPalAllowUnverified = allowUnverified
}

func newRig(t *testing.T) *rig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:hdl_%s?mode=memory&cache=shared", uuid.NewString())
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

	h := New(
		&services.TrackingService{DB: db, IPHashSalt: "test-salt"},
		&services.OrderService{DB: db},
		&services.FulfillmentService{DB: db},
		WebhookConfig{
			StripeSecret:          testStripeSecret,
			PayPalAllowUnverified: true,
			BTCSecret:             testBTCSecret,
		},
	)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/track", h.Track)
	api.GET("/sessions/:id/events", h.ListSessionEvents)
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders/:id", h.OrderStatus)
	api.POST("/webhooks/stripe", h.StripeWebhook)
	api.POST("/webhooks/paypal", h.PayPalWebhook)
	api.POST("/webhooks/bitcoin", h.BitcoinWebhook)

	return &rig{r: r, db: db, h: h}
}

// postJSON performs a JSON POST and decodes the response body into out (when
// out is non-nil).
func (rg *rig) postJSON(t *testing.T, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rg.r.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
		}
	}
	return w
}

// postRaw performs a POST with a raw body and arbitrary headers.
func (rg *rig) postRaw(t *testing.T, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rg.r.ServeHTTP(w, req)
	return w
}

// jsonBody decodes a recorded response body.
func jsonBody(w *httptest.ResponseRecorder, out any) error {
	return json.Unmarshal(w.Body.Bytes(), out)
}

func (rg *rig) get(t *testing.T, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rg.r.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
		}
	}
	return w
}

// trackSession records a page_view for a fresh visitor and returns the
// session id.
func (rg *rig) trackSession(t *testing.T, visitorID string) string {
	t.Helper()
	var resp TrackResponse
	w := rg.postJSON(t, "/api/track", gin.H{
		"name": "page_view",
		"path": "/xmas/light",
		"props": gin.H{
			"visitor_id": visitorID,
			"utm_source": "dryrun",
		},
	}, &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("track: status %d body %s", w.Code, w.Body.String())
	}
	if resp.SessionID == "" {
		t.Fatalf("track: empty session_id")
	}
	return resp.SessionID
}

// createOrder records a 25 USD xmas_light order for sessionID.
func (rg *rig) createOrder(t *testing.T, provider, sessionID string) string {
	t.Helper()
	var resp OrderResponse
	w := rg.postJSON(t, "/api/orders", gin.H{
		"provider":    provider,
		"amount":      25,
		"currency":    "USD",
		"product_sku": "xmas_light",
		"session_id":  sessionID,
	}, &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("create order: status %d body %s", w.Code, w.Body.String())
	}
	return resp.OrderID
}
