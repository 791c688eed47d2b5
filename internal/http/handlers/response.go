// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response utilities shared by every endpoint: the
// error envelope, the mapping from service errors to it, and pagination
// and ETag helpers.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "status": 404,
//	  "title": "Not Found",
//	  "code": "not_found",
//	  "message": "contact not found"
//	}
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/services"
	"github.com/tbourn/go-wa-backend/internal/utils"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
// Status, Title and Message form the CustomError shape the dashboards
// display; Code is the stable value clients branch on.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// HTTP status code, repeated for clients that only see the body
	Status int `json:"status" example:"404"`
	// Short HTTP status text
	Title string `json:"title" example:"Not Found"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
	// Per-field validation failures
	Fields []validate.FieldError `json:"fields,omitempty"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	abort(c, ErrorResponse{Status: status, Code: code, Message: msg})
}

func abort(c *gin.Context, resp ErrorResponse) {
	resp.RequestID = middleware.RequestIDFrom(c)
	resp.Title = http.StatusText(resp.Status)

	if resp.Status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", resp.Status).
			Str("code", resp.Code).
			Str("message", resp.Message).
			Msg("api error")
	}

	c.AbortWithStatusJSON(resp.Status, resp)
}

// Fail is the exported variant of fail(), used by the router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// errorMapping pairs a sentinel with the response it produces. Order
// matters only where one error wraps another.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeInvalidCredentials},
	{services.ErrUnauthenticated, http.StatusUnauthorized, ErrCodeUnauthorized},
	{services.ErrAccountBlocked, http.StatusForbidden, ErrCodeAccountBlocked},
	{services.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
	{services.ErrCannotBlockSelf, http.StatusBadRequest, ErrCodeBadRequest},

	{services.ErrEmailTaken, http.StatusConflict, ErrCodeConflict},
	{services.ErrDeviceExists, http.StatusConflict, ErrCodeConflict},
	{services.ErrContactExists, http.StatusConflict, ErrCodeConflict},
	{services.ErrTemplateExists, http.StatusConflict, ErrCodeConflict},
	{services.ErrShortcutTaken, http.StatusConflict, ErrCodeConflict},
	{services.ErrCouponExists, http.StatusConflict, ErrCodeConflict},
	{services.ErrBroadcastNotCancellable, http.StatusConflict, ErrCodeConflict},

	{services.ErrNoRecipients, http.StatusUnprocessableEntity, ErrCodeNoRecipients},
	{services.ErrInvalidStatus, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidCSV, http.StatusBadRequest, ErrCodeInvalidCSV},
	{services.ErrCouponInactive, http.StatusUnprocessableEntity, ErrCodeCouponInvalid},
	{services.ErrCouponExpired, http.StatusUnprocessableEntity, ErrCodeCouponInvalid},
	{services.ErrCouponExhausted, http.StatusUnprocessableEntity, ErrCodeCouponInvalid},
	{services.ErrCouponRedeemed, http.StatusConflict, ErrCodeConflict},
	{services.ErrSendFailed, http.StatusBadGateway, ErrCodeSendFailed},
	{services.ErrUpstream, http.StatusBadGateway, ErrCodeUpstream},

	{services.ErrSessionNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrAPIKeyNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrAccountNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrAgentNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrContactNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrTemplateNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrBroadcastNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrChatbotNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrQuickReplyNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrConversationNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrMessageNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrCouponNotFound, http.StatusNotFound, ErrCodeNotFound},
	{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
}

// failErr translates a service error into the envelope. Unknown errors
// become a 500 whose message does not leak internals.
func failErr(c *gin.Context, err error) {
	var verr *validate.Error
	if errors.As(err, &verr) {
		abort(c, ErrorResponse{
			Status:  http.StatusBadRequest,
			Code:    ErrCodeValidation,
			Message: verr.Error(),
			Fields:  verr.Fields,
		})
		return
	}
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			fail(c, m.status, m.code, m.err.Error())
			return
		}
	}
	middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// Page is the envelope of every paginated listing.
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

func newPage[T any](items []T, total int64, page, pageSize int) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := utils.TotalPages(total, pageSize)
	return Page[T]{
		Items: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}

// notModified sets a weak ETag derived from (kind, scope, count, newest
// change) and reports whether the client's copy is current, in which case
// a 304 has been written.
func notModified(c *gin.Context, kind, scope string, count int64, last *time.Time) bool {
	var ts int64
	if last != nil {
		ts = last.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, scope, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
