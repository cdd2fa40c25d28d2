// Order HTTP handlers.
//
// Exposes the order ledger:
//   - POST /api/orders       (record a purchase intent before redirect to pay)
//   - GET  /api/orders/{id}  (order status: pending or fulfilled)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftwell/go-track-backend/internal/services"
)

// OrderRequest is the JSON payload for POST /api/orders.
type OrderRequest struct {
	// Provider is the payment rail: stripe, paypal, btc (alias: bitcoin).
	Provider string `json:"provider" binding:"required" example:"stripe"`
	// Amount is the price in major currency units, e.g. 25 for $25.00.
	Amount float64 `json:"amount" binding:"required" example:"25"`
	// Currency is an ISO 4217 code, case-insensitive.
	Currency string `json:"currency" binding:"required" example:"USD"`
	// ProductSKU identifies what is being bought.
	ProductSKU string `json:"product_sku" binding:"required" example:"xmas_light"`
	// SessionID ties the order to the visitor's tracked session.
	SessionID string `json:"session_id" binding:"required" format:"uuid"`
	// Attrib optionally overrides the attribution snapshot; when absent the
	// session's first-touch attribution is copied onto the order.
	Attrib map[string]any `json:"attrib"`
}

// OrderResponse returns the identifier the payment provider must echo back.
type OrderResponse struct {
	OrderID string `json:"order_id" example:"0d53596a-7c40-4cfb-94e6-5ad7e0f8a1c2"`
}

// OrderStatusResponse describes an order's lifecycle state.
type OrderStatusResponse struct {
	OrderID     string `json:"order_id"`
	Provider    string `json:"provider"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	ProductSKU  string `json:"product_sku"`
	SessionID   string `json:"session_id"`
	// Status is "pending" until a verified payment fulfills the order.
	Status string `json:"status" enums:"pending,fulfilled"`
	// UnlockToken is present only once the order is fulfilled.
	UnlockToken string `json:"unlock_token,omitempty"`
}

// CreateOrder godoc
// @ID          createOrder
// @Summary     Record a purchase intent
// @Description Validates the order, snapshots attribution from the session, and appends a checkout_start event.
// @Tags        Orders
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.OrderRequest  true  "Order payload"
//
// @Success     200  {object}  handlers.OrderResponse
// @Failure     400  {object}  handlers.ErrorResponse "Validation failure"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /api/orders [post]
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	order, err := h.orderSvc.Create(c.Request.Context(), services.OrderInput{
		Provider:   req.Provider,
		Amount:     req.Amount,
		Currency:   req.Currency,
		ProductSKU: req.ProductSKU,
		SessionID:  req.SessionID,
		Attrib:     req.Attrib,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidProvider):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown payment provider")
		case errors.Is(err, services.ErrInvalidAmount):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount must be a positive number")
		case errors.Is(err, services.ErrInvalidCurrency):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "currency must be a valid ISO 4217 code")
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusBadRequest, ErrCodeUnknownSession, "session_id does not reference a known session")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeOrderCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, OrderResponse{OrderID: order.ID})
}

// OrderStatus godoc
// @ID          orderStatus
// @Summary     Get order status
// @Description Returns the order plus its unlock token once a verified payment has fulfilled it.
// @Tags        Orders
// @Produce     json
//
// @Param       id  path  string  true  "Order ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.OrderStatusResponse
// @Failure     404  {object}  handlers.ErrorResponse "Order not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /api/orders/{id} [get]
func (h *Handlers) OrderStatus(c *gin.Context) {
	order, ful, err := h.orderSvc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resp := OrderStatusResponse{
		OrderID:     order.ID,
		Provider:    order.Provider,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
		ProductSKU:  order.ProductSKU,
		SessionID:   order.SessionID,
		Status:      "pending",
	}
	if ful != nil {
		resp.Status = "fulfilled"
		resp.UnlockToken = ful.UnlockToken
	}
	ok(c, http.StatusOK, resp)
}
