package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/services"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

// templateSource serves a fixed template list, or err when set.
type templateSource struct {
	list []whatsapp.Template
	err  error
}

func (s *templateSource) ListTemplates(context.Context) ([]whatsapp.Template, error) {
	return s.list, s.err
}

func newCampaignRouter(t *testing.T, db *gorm.DB, p domain.Principal, src whatsapp.TemplateSource) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tpl := &services.TemplateService{DB: db}
	if src != nil {
		tpl.Source = src
	}
	h := New(Deps{Templates: tpl, Chatbots: &services.ChatbotService{DB: db}}, Options{})
	r := gin.New()
	r.Use(asCaller(p))
	r.GET("/templates", h.ListTemplates)
	r.POST("/templates", h.CreateTemplate)
	r.POST("/templates/sync", h.SyncTemplates)
	r.DELETE("/templates/:id", h.DeleteTemplate)
	r.GET("/chatbot/flows", h.ListChatbots)
	r.POST("/chatbot/flows", h.CreateChatbot)
	r.GET("/chatbot/flows/:id", h.GetChatbot)
	r.PUT("/chatbot/flows/:id", h.UpdateChatbot)
	r.PATCH("/chatbot/flows/:id/toggle", h.ToggleChatbot)
	r.DELETE("/chatbot/flows/:id", h.DeleteChatbot)
	return r
}

func TestTemplates_CreateDeleteAndSync(t *testing.T) {
	db := newTestDB(t)
	p := seedAccount(t, db, &domain.Account{Name: "Owner", Email: "tpl@example.com"})
	src := &templateSource{list: []whatsapp.Template{
		{ID: "9", Name: "order_update", Language: "en_US", Status: "APPROVED", Category: "UTILITY"},
	}}
	r := newCampaignRouter(t, db, p, src)

	if w := do(t, r, http.MethodGet, "/templates", nil); w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Fatalf("empty list -> %d %s", w.Code, w.Body.String())
	}

	cases := []struct {
		name string
		body map[string]any
		want int
		code string
	}{
		{"missing language", map[string]any{"name": "order_update"}, http.StatusBadRequest, ErrCodeValidation},
		{"bad category", map[string]any{"name": "x", "language": "en_US", "category": "SPAM"}, http.StatusBadRequest, ErrCodeValidation},
		{"created", map[string]any{"name": "order_update", "language": "en_US", "category": "UTILITY"}, http.StatusCreated, ""},
		{"duplicate", map[string]any{"name": "order_update", "language": "en_US"}, http.StatusConflict, ErrCodeConflict},
	}
	var created domain.Template
	for _, tc := range cases {
		w := do(t, r, http.MethodPost, "/templates", tc.body)
		if w.Code != tc.want {
			t.Fatalf("%s -> %d, want %d (%s)", tc.name, w.Code, tc.want, w.Body.String())
		}
		if tc.code != "" {
			if er := decode[ErrorResponse](t, w); er.Code != tc.code {
				t.Fatalf("%s code = %q, want %q", tc.name, er.Code, tc.code)
			}
		} else {
			created = decode[domain.Template](t, w)
		}
	}
	if created.ID == "" || created.Status != "LOCAL" {
		t.Fatalf("created = %+v", created)
	}

	w := do(t, r, http.MethodPost, "/templates/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync -> %d %s", w.Code, w.Body.String())
	}
	if got := decode[SyncTemplatesResponse](t, w); got.Synced != 1 {
		t.Fatalf("synced = %d", got.Synced)
	}
	list := decode[[]domain.Template](t, do(t, r, http.MethodGet, "/templates", nil))
	if len(list) != 1 || list[0].Status != "APPROVED" || list[0].ExternalID != "9" {
		t.Fatalf("after sync = %+v", list)
	}

	src.err = &whatsapp.APIError{Status: 500, Message: "boom"}
	w = do(t, r, http.MethodPost, "/templates/sync", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("failing sync -> %d, want 502", w.Code)
	}
	if er := decode[ErrorResponse](t, w); er.Code != ErrCodeUpstream {
		t.Fatalf("failing sync code = %q", er.Code)
	}

	if w := do(t, r, http.MethodDelete, "/templates/"+created.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete -> %d", w.Code)
	}
	if w := do(t, r, http.MethodDelete, "/templates/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete -> %d", w.Code)
	}
}

func TestSyncTemplates_UnconfiguredIsBadGateway(t *testing.T) {
	db := newTestDB(t)
	p := seedAccount(t, db, &domain.Account{Name: "Owner", Email: "nosrc@example.com"})
	r := newCampaignRouter(t, db, p, nil)

	w := do(t, r, http.MethodPost, "/templates/sync", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("sync -> %d, want 502 (%s)", w.Code, w.Body.String())
	}
}

const flowGraph = `{
  "nodes": [
    {"id": "start", "data": {"label": "Start", "isStart": true, "steps": [
      {"type": "Text", "content": "Hello!"}
    ]}}
  ],
  "edges": []
}`

func TestChatbots_ValidationCRUDAndTenancy(t *testing.T) {
	db := newTestDB(t)
	owner := seedAccount(t, db, &domain.Account{Name: "Owner", Email: "bots@example.com"})
	other := seedAccount(t, db, &domain.Account{Name: "Other", Email: "other-bots@example.com"})
	r := newCampaignRouter(t, db, owner, nil)
	ro := newCampaignRouter(t, db, other, nil)

	var graph any
	if err := json.Unmarshal([]byte(flowGraph), &graph); err != nil {
		t.Fatalf("graph: %v", err)
	}

	invalid := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"no triggers", map[string]any{"name": "Bot", "graph": graph}, "triggers"},
		{"bad match mode", map[string]any{"name": "Bot", "triggers": []string{"hi"}, "match_mode": "regex", "graph": graph}, "match_mode"},
		{"empty graph", map[string]any{"name": "Bot", "triggers": []string{"hi"}, "graph": map[string]any{"nodes": []any{}}}, "graph"},
	}
	for _, tc := range invalid {
		w := do(t, r, http.MethodPost, "/chatbot/flows", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s -> %d, want 400", tc.name, w.Code)
		}
		er := decode[ErrorResponse](t, w)
		if er.Code != ErrCodeValidation || len(er.Fields) == 0 || er.Fields[0].Field != tc.field {
			t.Fatalf("%s -> %+v", tc.name, er)
		}
	}

	w := do(t, r, http.MethodPost, "/chatbot/flows", map[string]any{
		"name": "Welcome", "triggers": []string{" hi ", "hello"}, "match_mode": "contains", "graph": graph,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create -> %d %s", w.Code, w.Body.String())
	}
	bot := decode[domain.Chatbot](t, w)
	if diff := cmp.Diff([]string{"hi", "hello"}, bot.Triggers); diff != "" {
		t.Fatalf("triggers (-want +got):\n%s", diff)
	}
	if bot.Enabled || bot.MatchMode != domain.MatchContains {
		t.Fatalf("created = %+v", bot)
	}

	if got := decode[domain.Chatbot](t, do(t, r, http.MethodGet, "/chatbot/flows/"+bot.ID, nil)); got.Name != "Welcome" {
		t.Fatalf("get = %+v", got)
	}
	if w := do(t, ro, http.MethodGet, "/chatbot/flows/"+bot.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("other tenant get -> %d", w.Code)
	}
	if pg := decode[Page[domain.Chatbot]](t, do(t, ro, http.MethodGet, "/chatbot/flows", nil)); pg.Pagination.Total != 0 {
		t.Fatalf("other tenant list = %d", pg.Pagination.Total)
	}

	w = do(t, r, http.MethodPut, "/chatbot/flows/"+bot.ID, map[string]any{
		"name": "Renamed", "triggers": []string{"start"}, "graph": graph,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put -> %d %s", w.Code, w.Body.String())
	}
	if got := decode[domain.Chatbot](t, w); got.Name != "Renamed" || got.MatchMode != domain.MatchExact {
		t.Fatalf("updated = %+v", got)
	}
	if w := do(t, ro, http.MethodPut, "/chatbot/flows/"+bot.ID, map[string]any{
		"name": "Stolen", "triggers": []string{"x"}, "graph": graph,
	}); w.Code != http.StatusNotFound {
		t.Fatalf("other tenant put -> %d", w.Code)
	}

	if w := do(t, r, http.MethodPatch, "/chatbot/flows/"+bot.ID+"/toggle", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("toggle without enabled -> %d", w.Code)
	}
	w = do(t, r, http.MethodPatch, "/chatbot/flows/"+bot.ID+"/toggle", map[string]any{"enabled": true})
	if got := decode[domain.Chatbot](t, w); w.Code != http.StatusOK || !got.Enabled {
		t.Fatalf("toggle -> %d %+v", w.Code, got)
	}

	pg := decode[Page[domain.Chatbot]](t, do(t, r, http.MethodGet, "/chatbot/flows?page_size=5", nil))
	if pg.Pagination.Total != 1 || len(pg.Items) != 1 || pg.Items[0].ID != bot.ID {
		t.Fatalf("list = %+v", pg)
	}

	if w := do(t, ro, http.MethodDelete, "/chatbot/flows/"+bot.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("other tenant delete -> %d", w.Code)
	}
	if w := do(t, r, http.MethodDelete, "/chatbot/flows/"+bot.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete -> %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/chatbot/flows/"+bot.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete -> %d", w.Code)
	}
}
