// Package services defines the business logic of the messaging backend.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Auth errors.
var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountBlocked is returned when a blocked account tries to log in or
	// authenticate.
	ErrAccountBlocked = errors.New("account is blocked")

	// ErrUnauthenticated covers missing, expired, revoked, or forged credentials.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrForbidden is returned when the caller lacks a role or permission.
	ErrForbidden = errors.New("forbidden")

	// ErrEmailTaken is returned when the email or phone already belongs to
	// another account.
	ErrEmailTaken = errors.New("email or phone already registered")

	// ErrSessionNotFound indicates an unknown or already revoked session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAPIKeyNotFound indicates an unknown or already revoked API key.
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// Resource errors.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAgentNotFound        = errors.New("agent not found")
	ErrDeviceNotFound       = errors.New("device not found")
	ErrDeviceExists         = errors.New("phone number already registered")
	ErrContactNotFound      = errors.New("contact not found")
	ErrContactExists        = errors.New("contact with this phone already exists")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrTemplateExists       = errors.New("template already exists")
	ErrBroadcastNotFound    = errors.New("broadcast not found")
	ErrChatbotNotFound      = errors.New("chatbot not found")
	ErrQuickReplyNotFound   = errors.New("quick reply not found")
	ErrShortcutTaken        = errors.New("shortcut already in use")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrCouponExists         = errors.New("coupon code already exists")
)

// State errors.
var (
	// ErrBroadcastNotCancellable is returned when cancelling a broadcast that
	// already started sending or finished.
	ErrBroadcastNotCancellable = errors.New("broadcast can no longer be cancelled")

	// ErrNoRecipients is returned when a broadcast resolves to zero numbers.
	ErrNoRecipients = errors.New("broadcast has no valid recipients")

	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrCannotBlockSelf prevents admins from locking themselves out.
	ErrCannotBlockSelf = errors.New("cannot change your own status")

	// ErrCouponInactive, ErrCouponExpired and ErrCouponExhausted reject
	// coupon validation and redemption.
	ErrCouponInactive  = errors.New("coupon is inactive")
	ErrCouponExpired   = errors.New("coupon has expired")
	ErrCouponExhausted = errors.New("coupon has no redemptions left")
	// ErrCouponRedeemed rejects a second redemption by the same account.
	ErrCouponRedeemed = errors.New("coupon already redeemed by this account")

	// ErrInvalidCSV is returned when an import file cannot be parsed or lacks
	// the required header.
	ErrInvalidCSV = errors.New("invalid csv file")

	// ErrSendFailed wraps WhatsApp delivery failures surfaced to callers.
	ErrSendFailed = errors.New("message could not be sent")

	// ErrUpstream wraps Cloud API failures of read-through calls such as a
	// template sync.
	ErrUpstream = errors.New("whatsapp cloud api unavailable")
)
