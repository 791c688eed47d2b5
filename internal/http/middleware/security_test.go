package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securedRouter(opt SecurityOptions, pre ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(pre...)
	r.Use(SecurityHeaders(opt))
	r.NoRoute(func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := securedRouter(SecurityOptions{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/phonebook", nil))

	h := w.Header()
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if h.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, h.Get(k), v)
		}
	}
	for _, k := range []string{"Permissions-Policy", "Strict-Transport-Security", "Cache-Control", "Access-Control-Expose-Headers"} {
		if h.Get(k) != "" {
			t.Errorf("unexpected %s: %q", k, h.Get(k))
		}
	}
}

func TestSecurityHeaders_CachePolicy(t *testing.T) {
	r := securedRouter(SecurityOptions{
		APIPrefix: "/api/v1",
		NoStore:   []string{"/api/v1/auth", "/api/v1/api-keys/"},
	})

	cases := []struct {
		path, cache, pragma string
	}{
		{"/api/v1/conversations", "private, no-cache", ""},
		{"/api/v1/conversations/c1/messages", "private, no-cache", ""},
		{"/api/v1/auth/login", "no-store", "no-cache"},
		{"/api/v1/api-keys", "no-store", "no-cache"},
		{"/api/v1/authors", "private, no-cache", ""},
		{"/api/v10/phonebook", "", ""},
		{"/metrics", "", ""},
		{"/swagger/index.html", "", ""},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if got := w.Header().Get("Cache-Control"); got != tc.cache {
			t.Errorf("%s: Cache-Control = %q, want %q", tc.path, got, tc.cache)
		}
		if got := w.Header().Get("Pragma"); got != tc.pragma {
			t.Errorf("%s: Pragma = %q, want %q", tc.path, got, tc.pragma)
		}
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	cases := []struct {
		name   string
		opt    SecurityOptions
		tls    bool
		proto  string
		expect string
	}{
		{"disabled", SecurityOptions{}, true, "", ""},
		{"plain http", SecurityOptions{EnableHSTS: true}, false, "", ""},
		{"direct tls default age", SecurityOptions{EnableHSTS: true}, true, "", "max-age=15552000; includeSubDomains; preload"},
		{"proxy https custom age", SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}, false, "HTTPS", "max-age=3600; includeSubDomains; preload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := securedRouter(tc.opt)
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.tls {
				req.TLS = &tls.ConnectionState{}
			}
			if tc.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tc.proto)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if got := w.Header().Get("Strict-Transport-Security"); got != tc.expect {
				t.Fatalf("HSTS = %q, want %q", got, tc.expect)
			}
		})
	}
}

func TestSecurityHeaders_PolicyAndExpose(t *testing.T) {
	setRID := func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-1")
		c.Header("Access-Control-Expose-Headers", "etag")
		c.Next()
	}
	r := securedRouter(SecurityOptions{
		EnablePolicy:  true,
		ExposeHeaders: []string{"ETag", HeaderIdempotencyReplayed},
	}, setRID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	h := w.Header()
	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("policy headers missing: %#v", h)
	}
	// Already-listed names are matched case-insensitively.
	if got, want := h.Get("Access-Control-Expose-Headers"), "etag, X-Request-ID, Idempotency-Replayed"; got != want {
		t.Fatalf("expose = %q, want %q", got, want)
	}
}
