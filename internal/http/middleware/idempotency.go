// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header of unsafe requests and
// marks requests that would replay a stored result so the rate limiter lets
// them through. The replay itself is served by the message service, which
// owns the stored records.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderIdempotencyKey carries the client's idempotency key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotencyReplayed is "true" on responses served from a stored result.
	HeaderIdempotencyReplayed = "Idempotency-Replayed"
)

const (
	ctxKeyIdempotency = "idempotency"
	ctxKeyRateBypass  = "rate.bypass"

	defaultIdemMaxLen = 200
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyScope identifies one stored result: the same key sent by a
// different actor, or against a different conversation, is a new request.
type IdempotencyScope struct {
	ActorID string
	ScopeID string
	Key     string
	At      time.Time
}

// ReplayLookup reports whether an unexpired result exists for s.
type ReplayLookup func(ctx context.Context, s IdempotencyScope) (bool, error)

// IdempotencyOptions configures IdempotencyValidator.
//
// MaxLen defaults to 200 and Pattern to RFC 7230 token characters plus ':'
// and '~'. ScopeParam names the route parameter keys are scoped to ("id").
type IdempotencyOptions struct {
	MaxLen     int
	Pattern    *regexp.Regexp
	ScopeParam string
	Lookup     ReplayLookup
}

type idempotencyState struct {
	key    string
	replay bool
}

func idemState(c *gin.Context) idempotencyState {
	v, _ := c.Get(ctxKeyIdempotency)
	st, _ := v.(idempotencyState)
	return st
}

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	k := idemState(c).key
	return k, k != ""
}

// IsReplay reports whether a stored result exists for the request's scope.
func IsReplay(c *gin.Context) bool { return idemState(c).replay }

// IdempotencyValidator checks the Idempotency-Key header on POST, PUT and
// PATCH. A missing header passes through; a malformed one is rejected with
// 400 bad_idempotency_key. When a principal is present and Lookup finds a
// stored result, the request is flagged as a replay and exempted from rate
// limiting. Lookup failures are logged and treated as a miss. Install it
// after RequireAuth.
func IdempotencyValidator(opts IdempotencyOptions) gin.HandlerFunc {
	if opts.MaxLen <= 0 {
		opts.MaxLen = defaultIdemMaxLen
	}
	if opts.Pattern == nil {
		opts.Pattern = defaultIdemPattern
	}
	if opts.ScopeParam == "" {
		opts.ScopeParam = "id"
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > opts.MaxLen || !opts.Pattern.MatchString(key) {
			deny(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}

		st := idempotencyState{key: key}
		if p, ok := PrincipalFrom(c); ok && opts.Lookup != nil {
			scope := IdempotencyScope{ActorID: p.ActorID, ScopeID: c.Param(opts.ScopeParam), Key: key, At: time.Now().UTC()}
			hit, err := opts.Lookup(c.Request.Context(), scope)
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Str("scope_id", scope.ScopeID).Msg("idempotency lookup failed")
			}
			st.replay = err == nil && hit
		}
		c.Set(ctxKeyIdempotency, st)
		if st.replay {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}
