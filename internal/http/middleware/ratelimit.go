// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket rate limiter with one bucket
// per caller. API keys, sessions and anonymous IPs get separate namespaces so
// a noisy integration cannot starve the dashboard of the same tenant.
//
// The limiter is process-local. Idempotent replays flagged by
// IdempotencyValidator skip it.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultIdleTTL = 10 * time.Minute
	sweepEvery     = 5000
	maxRetryAfter  = time.Hour
)

// KeyFunc selects the bucket a request draws from.
type KeyFunc func(*gin.Context) string

// KeyByPrincipalOrIP keys authenticated callers by API key or actor and
// falls back to the client IP. Install it after RequireAuth.
func KeyByPrincipalOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if p, ok := PrincipalFrom(c); ok {
			switch {
			case p.APIKeyID != "":
				return "key:" + p.APIKeyID
			case p.ActorID != "":
				return "actor:" + p.ActorID
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// KeyByIP keys every caller by client IP; used on public routes such as
// register, login and coupon validation.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

// RateLimitOptions configures a RateLimiter.
//
// RPS is the refill rate; Burst (coerced to >= 1) the bucket size. Buckets
// untouched for IdleTTL (default 10m) are dropped during periodic sweeps.
type RateLimitOptions struct {
	RPS     float64
	Burst   int
	Key     KeyFunc
	IdleTTL time.Duration
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a per-key token bucket. It is safe for concurrent use.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	key     KeyFunc
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	lookups int
}

// NewRateLimiter builds a limiter; install it with Handler.
func NewRateLimiter(opt RateLimitOptions) *RateLimiter {
	if opt.Burst <= 0 {
		opt.Burst = 1
	}
	if opt.IdleTTL <= 0 {
		opt.IdleTTL = defaultIdleTTL
	}
	if opt.Key == nil {
		opt.Key = KeyByIP()
	}
	return &RateLimiter{
		limit:   rate.Limit(opt.RPS),
		burst:   opt.Burst,
		key:     opt.Key,
		idleTTL: opt.IdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// limiter returns key's bucket, creating it on first use. Every sweepEvery
// lookups idle buckets are evicted first, so a stale bucket is replaced
// rather than refreshed.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.lookups++; rl.lookups >= sweepEvery {
		rl.lookups = 0
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator marked this request as
// a replay that must not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Denied requests get 429, a Retry-After
// derived from the bucket's refill time, and the standard error envelope.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		lim := rl.limiter(rl.key(c))
		now := rl.now()
		res := lim.ReserveN(now, 1)
		if res.OK() && res.DelayFrom(now) == 0 {
			c.Next()
			return
		}
		wait := time.Second
		if res.OK() {
			wait = res.DelayFrom(now)
			res.CancelAt(now)
		}
		if rl.limit <= 0 {
			// The bucket never refills.
			wait = maxRetryAfter
		}

		rateLimited.WithLabelValues(c.FullPath()).Inc()
		c.Header("Retry-After", retryAfter(wait))
		deny(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	}
}

// retryAfter rounds d up to whole seconds, clamped to [1, maxRetryAfter].
func retryAfter(d time.Duration) string {
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}
