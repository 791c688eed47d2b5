package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

// ---------- test plumbing ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, a *domain.Account) domain.Principal {
	t.Helper()
	if a.PasswordHash == "" {
		a.PasswordHash = "x"
	}
	if a.Permissions == nil {
		a.Permissions = []string{}
	}
	if err := repo.CreateAccount(context.Background(), db, a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a.Principal()
}

// asCaller installs p the way RequireAuth would.
func asCaller(p domain.Principal) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetPrincipal(c, p)
		c.Next()
	}
}

// do sends a request with an optional JSON body and returns the recorder.
func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			rd = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}

// textSender answers every send with a fresh wamid, or err when set.
type textSender struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (s *textSender) next(body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, body)
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("wamid.h%d", len(s.texts)), nil
}

func (s *textSender) SendText(_ context.Context, _, _, body string) (string, error) {
	return s.next(body)
}

func (s *textSender) SendTemplate(_ context.Context, _, _, name, _ string) (string, error) {
	return s.next(name)
}

func (s *textSender) SendButtons(_ context.Context, _, _, body string, _ []whatsapp.Button) (string, error) {
	return s.next(body)
}

func (s *textSender) SendList(_ context.Context, _, _, body, _ string, _ []whatsapp.Row) (string, error) {
	return s.next(body)
}

func (s *textSender) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}
