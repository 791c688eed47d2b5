// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders: baseline hardening headers, HSTS,
// and the cache policy of API responses. Listings carry weak ETags, so
// they are sent as "private, no-cache" (the browser revalidates with
// If-None-Match). Responses that carry credentials, such as login tokens
// and freshly minted API keys, are never stored.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	cacheRevalidate = "private, no-cache"
	cacheNoStore    = "no-store"
	defaultHSTS     = 180 * 24 * time.Hour
)

// SecurityOptions configures SecurityHeaders.
//
// EnableHSTS emits Strict-Transport-Security on HTTPS requests only
// (directly or behind a proxy that sets X-Forwarded-Proto). HSTSMaxAge
// defaults to 180 days.
//
// APIPrefix scopes the cache policy; Swagger and /metrics fall outside it
// and keep whatever their handlers set. Paths under one of NoStore get
// "no-store" instead of "private, no-cache".
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	EnablePolicy bool // Permissions-Policy and X-Permitted-Cross-Domain-Policies

	APIPrefix string
	NoStore   []string

	// ExposeHeaders are listed in Access-Control-Expose-Headers so the
	// dashboards can read them (ETag, Idempotency-Replayed, ...).
	ExposeHeaders []string
}

// SecurityHeaders returns the hardening middleware.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTS
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		if policy := cachePolicy(c.Request.URL.Path, opt); policy != "" {
			h.Set("Cache-Control", policy)
			if policy == cacheNoStore {
				h.Set("Pragma", "no-cache")
			}
		}

		if h.Get(requestIDHeader) != "" {
			expose(h, requestIDHeader)
		}
		for _, name := range opt.ExposeHeaders {
			expose(h, name)
		}
		c.Next()
	}
}

func cachePolicy(path string, opt SecurityOptions) string {
	for _, p := range opt.NoStore {
		if underPrefix(path, p) {
			return cacheNoStore
		}
	}
	if opt.APIPrefix != "" && underPrefix(path, opt.APIPrefix) {
		return cacheRevalidate
	}
	return ""
}

// underPrefix matches whole path segments: /api/v1 covers /api/v1/x but
// not /api/v10.
func underPrefix(path, prefix string) bool {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// expose appends name to Access-Control-Expose-Headers unless listed.
func expose(h http.Header, name string) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	switch {
	case cur == "":
		h.Set(hdr, name)
	case !strings.Contains(strings.ToLower(cur), strings.ToLower(name)):
		h.Set(hdr, cur+", "+name)
	}
}
