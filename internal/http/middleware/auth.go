// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file authenticates requests and enforces roles and permissions.
// Credentials are read, in order, from:
//   - X-API-Key
//   - Authorization: Bearer <token>
//   - the session cookie
//   - the "token" query parameter (WebSocket upgrades only, browsers cannot
//     set headers on them)
//
// The resolved domain.Principal is stored in the Gin context; handlers read
// it with PrincipalFrom.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

const (
	// HeaderAPIKey carries a tenant API key.
	HeaderAPIKey = "X-API-Key"

	ctxKeyPrincipal = "auth.principal"
)

// ErrBlocked is returned by an Authenticator for blocked accounts; it maps
// to 403 instead of 401.
var ErrBlocked = errors.New("account is blocked")

// Authenticator resolves credentials into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Principal, error)
	AuthenticateAPIKey(ctx context.Context, key string) (domain.Principal, error)
}

// AuthOptions configures RequireAuth.
type AuthOptions struct {
	CookieName string
	// AllowQueryToken accepts ?token= for WebSocket upgrades.
	AllowQueryToken bool
	// IsBlocked reports whether err means the account is blocked.
	IsBlocked func(error) bool
}

// PrincipalFrom returns the authenticated caller. ok is false on
// unauthenticated routes.
func PrincipalFrom(c *gin.Context) (domain.Principal, bool) {
	v, ok := c.Get(ctxKeyPrincipal)
	if !ok {
		return domain.Principal{}, false
	}
	p, ok := v.(domain.Principal)
	return p, ok
}

// SetPrincipal stores p in the context; used by RequireAuth and tests.
func SetPrincipal(c *gin.Context, p domain.Principal) {
	c.Set(ctxKeyPrincipal, p)
	scopeLogger(c, p)
}

// RequireAuth rejects requests without valid credentials.
func RequireAuth(auth Authenticator, opts AuthOptions) gin.HandlerFunc {
	blocked := opts.IsBlocked
	if blocked == nil {
		blocked = func(err error) bool { return errors.Is(err, ErrBlocked) }
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var (
			p   domain.Principal
			err error
		)
		switch key, token := c.GetHeader(HeaderAPIKey), credential(c, opts); {
		case key != "":
			p, err = auth.AuthenticateAPIKey(ctx, key)
		case token != "":
			p, err = auth.Authenticate(ctx, token)
		default:
			deny(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if err != nil {
			if blocked(err) {
				deny(c, http.StatusForbidden, "account_blocked", "account is blocked")
				return
			}
			LoggerFrom(c).Debug().Err(err).Msg("authentication failed")
			deny(c, http.StatusUnauthorized, "unauthorized", "invalid or expired credentials")
			return
		}
		SetPrincipal(c, p)
		c.Next()
	}
}

func credential(c *gin.Context, opts AuthOptions) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if opts.CookieName != "" {
		if v, err := c.Cookie(opts.CookieName); err == nil && v != "" {
			return v
		}
	}
	if opts.AllowQueryToken {
		return c.Query("token")
	}
	return ""
}

// RequirePermission admits owners, admins and agents holding perm.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			deny(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if !p.Can(perm) {
			deny(c, http.StatusForbidden, "forbidden", "missing permission: "+perm)
			return
		}
		c.Next()
	}
}

// RequireAdmin admits platform administrators only.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			deny(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if !p.IsAdmin() {
			deny(c, http.StatusForbidden, "forbidden", "admin only")
			return
		}
		c.Next()
	}
}

// deny writes the standard error envelope. Middleware cannot import the
// handlers package, so the shape is repeated here.
func deny(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"status":     status,
		"title":      http.StatusText(status),
		"code":       code,
		"message":    msg,
	})
}
