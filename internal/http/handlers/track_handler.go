// Tracking HTTP handlers.
//
// This file exposes the ingestion endpoints for visitor analytics:
//   - POST /api/track                  (open/reuse a session, append an event)
//   - GET  /api/sessions/{id}/events   (paginated event read-back)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driftwell/go-track-backend/internal/domain"
	"github.com/driftwell/go-track-backend/internal/services"
	"github.com/driftwell/go-track-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// TrackingService defines session/event ingestion operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type TrackingService interface {
	// Track resolves the visitor to a session (creating it on first touch)
	// and appends the named event.
	Track(ctx context.Context, in services.TrackInput) (*domain.Session, error)
	// ListEvents returns a page of a session's event log and the total count.
	ListEvents(ctx context.Context, sessionID string, page, pageSize int) ([]domain.Event, int64, error)
}

// OrderService defines order-ledger operations consumed by HTTP handlers.
type OrderService interface {
	// Create validates and records a purchase intent.
	Create(ctx context.Context, in services.OrderInput) (*domain.Order, error)
	// Status returns an order and its fulfillment, if any.
	Status(ctx context.Context, orderID string) (*domain.Order, *domain.Fulfillment, error)
}

// FulfillmentService processes verified payment completions.
type FulfillmentService interface {
	// Fulfill returns the order's unlock token, minting it exactly once.
	Fulfill(ctx context.Context, in services.FulfillInput) (string, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for tracking, orders, and webhooks.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	trackSvc   TrackingService
	orderSvc   OrderService
	fulfillSvc FulfillmentService
	webhooks   WebhookConfig
}

// New constructs a Handlers instance bound to the given services.
func New(trackSvc TrackingService, orderSvc OrderService, fulfillSvc FulfillmentService, webhooks WebhookConfig) *Handlers {
	return &Handlers{trackSvc: trackSvc, orderSvc: orderSvc, fulfillSvc: fulfillSvc, webhooks: webhooks}
}

//
// DTOs
//

// TrackRequest is the JSON payload for POST /api/track.
type TrackRequest struct {
	// Name is the event to record, e.g. "page_view" or "checkout_start".
	Name string `json:"name" binding:"required" example:"page_view"`
	// Path is the page path the event happened on.
	Path string `json:"path" example:"/xmas/light"`
	// Props carries attribution/context fields (utm_*, referrer, visitor_id).
	Props map[string]any `json:"props"`
}

// TrackResponse returns the stable session identifier for the visitor.
type TrackResponse struct {
	SessionID string `json:"session_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListEventsResponse wraps a page of a session's events.
type ListEventsResponse struct {
	Events     []domain.Event `json:"events"`
	Pagination Pagination     `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// Track godoc
// @ID          track
// @Summary     Record a visitor event
// @Description Opens (or reuses) the caller's session, capturing first-touch attribution, and appends the event.
// @Tags        Tracking
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.TrackRequest  true  "Event payload"
//
// @Success     200  {object}  handlers.TrackResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/track [post]
func (h *Handlers) Track(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	sess, err := h.trackSvc.Track(c.Request.Context(), services.TrackInput{
		Name:      req.Name,
		Path:      req.Path,
		Props:     req.Props,
		VisitorID: visitorID(c, req.Props),
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, services.ErrEmptyEventName) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "event name required")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeTrackFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, TrackResponse{SessionID: sess.ID})
}

// ListSessionEvents godoc
// @ID          listSessionEvents
// @Summary     List a session's events (paginated)
// @Description Returns the append-only event log for a session, oldest first.
// @Tags        Tracking
// @Produce     json
//
// @Param       id         path   string  true  "Session ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"        minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"     minimum(1) maximum(200) default(50)
//
// @Success     200  {object}  handlers.ListEventsResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /api/sessions/{id}/events [get]
func (h *Handlers) ListSessionEvents(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.trackSvc.ListEvents(c.Request.Context(), sessionID, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListEventsResponse{
		Events: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// visitorID extracts the client's own visitor identifier, preferring the
// X-Visitor-ID header over a visitor_id prop. Empty means "fingerprint me".
func visitorID(c *gin.Context, props map[string]any) string {
	if h := strings.TrimSpace(c.GetHeader("X-Visitor-ID")); h != "" {
		return h
	}
	if props != nil {
		if v, ok := props["visitor_id"].(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
