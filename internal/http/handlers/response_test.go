package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-wa-backend/internal/services"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// serveOnce runs h behind a stub request-ID/logger middleware and returns
// the recorder and whatever was logged.
func serveOnce(t *testing.T, method string, h gin.HandlerFunc) (*httptest.ResponseRecorder, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var logs bytes.Buffer
	lg := zerolog.New(&logs)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-1")
		c.Set("logger", &lg)
		c.Next()
	})
	r.Handle(method, "/x", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, "/x", nil))
	return w, logs.String()
}

func TestErrorEnvelope(t *testing.T) {
	cases := []struct {
		name    string
		h       gin.HandlerFunc
		want    ErrorResponse
		wantLog bool
	}{
		{
			name:    "server error is logged",
			h:       func(c *gin.Context) { fail(c, http.StatusInternalServerError, ErrCodeInternal, "kaboom") },
			want:    ErrorResponse{RequestID: "rid-1", Status: 500, Title: "Internal Server Error", Code: ErrCodeInternal, Message: "kaboom"},
			wantLog: true,
		},
		{
			name: "client error is not",
			h:    func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrCodeNotFound, "nope") },
			want: ErrorResponse{RequestID: "rid-1", Status: 404, Title: "Not Found", Code: ErrCodeNotFound, Message: "nope"},
		},
		{
			name:    "gateway",
			h:       func(c *gin.Context) { failErr(c, fmt.Errorf("send: %w", services.ErrSendFailed)) },
			want:    ErrorResponse{RequestID: "rid-1", Status: 502, Title: "Bad Gateway", Code: ErrCodeSendFailed, Message: services.ErrSendFailed.Error()},
			wantLog: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, logs := serveOnce(t, http.MethodGet, tc.h)
			if w.Code != tc.want.Status {
				t.Fatalf("status = %d", w.Code)
			}
			var got ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("json: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("envelope (-want +got):\n%s", diff)
			}
			if logged := strings.Contains(logs, `"level":"error"`); logged != tc.wantLog {
				t.Fatalf("logged=%v, want %v: %s", logged, tc.wantLog, logs)
			}
		})
	}
}

func TestSuccessHelpers(t *testing.T) {
	w, _ := serveOnce(t, http.MethodPost, func(c *gin.Context) { ok(c, http.StatusCreated, gin.H{"id": "c1"}) })
	if w.Code != http.StatusCreated || strings.TrimSpace(w.Body.String()) != `{"id":"c1"}` {
		t.Fatalf("created: %d %s", w.Code, w.Body.String())
	}
	w, _ = serveOnce(t, http.MethodDelete, noContent)
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("204 expected with empty body, got %d %q", w.Code, w.Body.String())
	}
}

func Test_failErr_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"validation", validate.Fail("phone", "must be a valid phone number"), 400, ErrCodeValidation, "phone: must be a valid phone number"},
		{"wrapped not found", fmt.Errorf("load: %w", services.ErrContactNotFound), 404, ErrCodeNotFound, "contact not found"},
		{"conflict", services.ErrShortcutTaken, 409, ErrCodeConflict, "shortcut already in use"},
		{"forbidden", services.ErrForbidden, 403, ErrCodeForbidden, "forbidden"},
		{"blocked", services.ErrAccountBlocked, 403, ErrCodeAccountBlocked, "account is blocked"},
		{"coupon", services.ErrCouponExpired, 422, ErrCodeCouponInvalid, "coupon has expired"},
		{"unknown", errors.New("pq: connection reset"), 500, ErrCodeInternal, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/x", func(c *gin.Context) { failErr(c, tc.err) })
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			var er ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
				t.Fatalf("json: %v", err)
			}
			if w.Code != tc.status || er.Status != tc.status || er.Code != tc.code || er.Message != tc.message {
				t.Fatalf("got %d %+v", w.Code, er)
			}
		})
	}

	t.Run("validation fields", func(t *testing.T) {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) { failErr(c, validate.Fail("email", "must be a valid email")) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		var er ErrorResponse
		_ = json.Unmarshal(w.Body.Bytes(), &er)
		if len(er.Fields) != 1 || er.Fields[0].Field != "email" {
			t.Fatalf("fields = %+v", er.Fields)
		}
	})
}

func Test_newPage_and_clampPagination(t *testing.T) {
	pg := newPage[string](nil, 45, 2, 20)
	if pg.Items == nil || len(pg.Items) != 0 {
		t.Fatalf("nil items must encode as []")
	}
	if pg.Pagination.TotalPages != 3 || !pg.Pagination.HasNext {
		t.Fatalf("pagination = %+v", pg.Pagination)
	}
	if last := newPage([]string{"a"}, 45, 3, 20); last.Pagination.HasNext {
		t.Fatalf("last page must not have next")
	}

	cases := []struct {
		query    string
		page, ps int
	}{
		{"page=-3&page_size=9999", 1, 100},
		{"page=&page_size=x", 1, 20},
		{"page=4&page_size=5", 4, 5},
		{"", 1, 20},
	}
	for _, tc := range cases {
		// gin caches parsed query values per context, so each case needs its own.
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		if p, ps := clampPagination(c); p != tc.page || ps != tc.ps {
			t.Fatalf("clamp(%q): got %d,%d; want %d,%d", tc.query, p, ps, tc.page, tc.ps)
		}
	}
}

func Test_notModified(t *testing.T) {
	gin.SetMode(gin.TestMode)
	last := time.Unix(1700000000, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if notModified(c, "messages", "c1", 3, &last) {
		t.Fatalf("no If-None-Match must not short-circuit")
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"messages:c1:3:`) {
		t.Fatalf("etag = %q", etag)
	}

	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	c2.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c2.Request.Header.Set("If-None-Match", etag)
	if !notModified(c2, "messages", "c1", 3, &last) {
		t.Fatalf("matching ETag must report not modified")
	}

	w3 := httptest.NewRecorder()
	c3, _ := gin.CreateTestContext(w3)
	c3.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c3.Request.Header.Set("If-None-Match", etag)
	if notModified(c3, "messages", "c1", 4, &last) {
		t.Fatalf("new message must change the ETag")
	}
}
