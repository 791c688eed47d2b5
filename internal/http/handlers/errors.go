// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case. Generic codes mirror HTTP status
// semantics; domain codes are reserved for failures the status alone
// cannot convey. Clients are expected to branch on these values.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeAccountBlocked     = "account_blocked"
	ErrCodeNoRecipients       = "no_recipients"
	ErrCodeInvalidCSV         = "invalid_csv"
	ErrCodeCouponInvalid      = "coupon_invalid"
	ErrCodeSendFailed         = "send_failed"
	ErrCodeUpstream           = "upstream_failed"
	ErrCodeBadSignature       = "bad_signature"
	ErrCodeVerifyFailed       = "verify_failed"
)
