// Package services defines the business logic for session tracking, order
// creation, and payment fulfillment. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrEmptyEventName is returned when a track call carries no event name.
	ErrEmptyEventName = errors.New("event name is empty")

	// ErrSessionNotFound indicates that the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrOrderNotFound indicates that the referenced order does not exist.
	// For webhooks this is a data-integrity alarm: a provider reported
	// completion of an order this service never created.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidProvider is returned when a provider name is not one of
	// stripe, paypal, or btc.
	ErrInvalidProvider = errors.New("unknown payment provider")

	// ErrInvalidAmount is returned when an order amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidCurrency is returned when a currency code is not a valid
	// ISO 4217 code.
	ErrInvalidCurrency = errors.New("invalid currency code")
)
