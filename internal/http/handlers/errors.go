// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package). These codes give
// clients a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, not_found) mirror common HTTP status
//     semantics to aid interoperability.
//   - Domain-specific codes (e.g., invalid_signature, track_failed) are
//     reserved for business logic errors that cannot be conveyed by status
//     alone.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeTrackFailed        = "track_failed"
	ErrCodeOrderCreateFailed  = "order_create_failed"
	ErrCodeUnknownSession     = "unknown_session"
	ErrCodeInvalidSignature   = "invalid_signature"
	ErrCodeVerifyUnavailable  = "verification_unavailable"
	ErrCodeWebhookUnprocessed = "webhook_unprocessed"
)
