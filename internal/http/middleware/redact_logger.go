// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger. Bodies are never
// logged. Emails, phone numbers and UUIDs are scrubbed from the query string
// and header values; credential headers and the WebSocket ?token= parameter
// are masked outright.
//
//	r := gin.New()
//	r.Use(middleware.RequestID())
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const masked = "[REDACTED]"

// Credential headers that are always masked.
var defaultMasked = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	"X-API-Key",
	"X-Hub-Signature-256",
}

// RedactOptions configures RedactingLogger.
//
// MaskHeaders lists extra header names (case-insensitive) whose values are
// replaced wholesale.
type RedactOptions struct {
	MaskHeaders []string
}

// scrubber replaces a pattern with a fixed marker. Order matters: UUIDs go
// before phones so digit groups inside an ID are not read as a number.
type scrubber struct {
	re   *regexp.Regexp
	with string
}

var scrubbers = []scrubber{
	{regexp.MustCompile(`(?i)(^|&)(token|hub\.verify_token)=[^&]*`), "${1}${2}=" + masked},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

func redact(s string) string {
	for _, sc := range scrubbers {
		if s == "" {
			break
		}
		s = sc.re.ReplaceAllString(s, sc.with)
	}
	return s
}

// headerFields copies h with masked names blanked and the rest scrubbed.
func headerFields(h http.Header, mask map[string]bool) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if mask[http.CanonicalHeaderKey(name)] {
			out[name] = masked
			continue
		}
		out[name] = redact(strings.Join(values, ", "))
	}
	return out
}

// RedactingLogger attaches the request-scoped logger (request_id, method,
// route) and writes one "http_request" line per request: info for 2xx/3xx,
// warn for 4xx, error for 5xx or when handlers recorded gin errors. The
// line is written through LoggerFrom, so it carries the caller identity once
// authentication has run.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	mask := make(map[string]bool, len(defaultMasked)+len(opts.MaskHeaders))
	for _, h := range append(defaultMasked, opts.MaskHeaders...) {
		if h = strings.TrimSpace(h); h != "" {
			mask[http.CanonicalHeaderKey(h)] = true
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		rid := c.Writer.Header().Get(requestIDHeader)
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}
		query := redact(truncate(c.Request.URL.RawQuery, maxQueryLogLength))
		headers := headerFields(c.Request.Header, mask)

		scoped := log.With().
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", route).
			Logger()
		c.Set(loggerKey, &scoped)

		c.Next()

		status := c.Writer.Status()
		lg := LoggerFrom(c)
		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			ev = lg.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= http.StatusBadRequest:
			ev = lg.Warn()
		default:
			ev = lg.Info()
		}
		ev.Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("remote_ip", c.ClientIP()).
			Str("query", query).
			Interface("headers", headers).
			Msg("http_request")
	}
}
