package handlers

import (
	"bytes"
	"encoding/csv"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/services"
)

func newPhonebookRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	p := seedAccount(t, db, &domain.Account{Name: "Owner", Email: "pb@example.com"})

	h := New(Deps{Contacts: &services.ContactService{DB: db}}, Options{})
	r := gin.New()
	r.Use(asCaller(p))
	r.GET("/phonebook", h.ListContacts)
	r.POST("/phonebook", h.CreateContact)
	r.GET("/phonebook/labels", h.ListLabels)
	r.POST("/phonebook/import", h.ImportContacts)
	r.GET("/phonebook/export", h.ExportContacts)
	r.GET("/phonebook/:id", h.GetContact)
	r.PATCH("/phonebook/:id", h.UpdateContact)
	r.DELETE("/phonebook/:id", h.DeleteContact)
	return r
}

func TestCreateContact_ValidationDuplicateAndCRUD(t *testing.T) {
	r := newPhonebookRouter(t)

	w := do(t, r, http.MethodPost, "/phonebook", map[string]any{"phone": "12"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid -> %d", w.Code)
	}
	er := decode[ErrorResponse](t, w)
	if er.Code != ErrCodeValidation {
		t.Fatalf("code = %q", er.Code)
	}
	fields := map[string]bool{}
	for _, f := range er.Fields {
		fields[f.Field] = true
	}
	if !fields["formatted_name"] || !fields["phone"] {
		t.Fatalf("fields = %+v", er.Fields)
	}

	body := map[string]any{
		"formatted_name": "ANA SOUZA",
		"phone":          "+55 (11) 91234-5678",
		"labels":         []string{" VIP ", "lead", "vip"},
	}
	w = do(t, r, http.MethodPost, "/phonebook", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create -> %d %s", w.Code, w.Body.String())
	}
	c := decode[domain.Contact](t, w)
	if c.FormattedName != "Ana Souza" || c.Phone != "5511912345678" {
		t.Fatalf("not normalized: %+v", c)
	}
	if diff := cmp.Diff([]string{"lead", "vip"}, c.Labels); diff != "" {
		t.Fatalf("labels (-want +got):\n%s", diff)
	}

	w = do(t, r, http.MethodPost, "/phonebook", body)
	if w.Code != http.StatusConflict || decode[ErrorResponse](t, w).Code != ErrCodeConflict {
		t.Fatalf("duplicate -> %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/phonebook?label=VIP", nil)
	if pg := decode[Page[domain.Contact]](t, w); pg.Pagination.Total != 1 {
		t.Fatalf("label filter total = %d", pg.Pagination.Total)
	}
	w = do(t, r, http.MethodGet, "/phonebook/labels", nil)
	if diff := cmp.Diff([]string{"lead", "vip"}, decode[[]string](t, w)); diff != "" {
		t.Fatalf("labels (-want +got):\n%s", diff)
	}

	w = do(t, r, http.MethodPatch, "/phonebook/"+c.ID, map[string]any{
		"formatted_name": "Ana S.", "phone": "5511912345678", "labels": []string{},
	})
	if w.Code != http.StatusOK || decode[domain.Contact](t, w).FormattedName != "Ana S." {
		t.Fatalf("update -> %d %s", w.Code, w.Body.String())
	}

	if w := do(t, r, http.MethodDelete, "/phonebook/"+c.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete -> %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/phonebook/"+c.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete -> %d", w.Code)
	}
}

func upload(t *testing.T, r http.Handler, path, field, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, "contacts.csv")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write([]byte(content))
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestImportExportContacts(t *testing.T) {
	r := newPhonebookRouter(t)

	in := strings.Join([]string{
		"phone,formatted_name,labels",
		"5511900000001,Bruno,vip|lead",
		"not-a-phone,Broken,",
		"5511900000002,carla,",
	}, "\n")
	w := upload(t, r, "/phonebook/import", "file", in)
	if w.Code != http.StatusOK {
		t.Fatalf("import -> %d %s", w.Code, w.Body.String())
	}
	res := decode[services.ImportResult](t, w)
	if res.Imported != 2 || res.Skipped != 1 || len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "line 3:") {
		t.Fatalf("import result = %+v", res)
	}

	if w := upload(t, r, "/phonebook/import", "file", "name,mobile\nx,y\n"); w.Code != http.StatusBadRequest ||
		decode[ErrorResponse](t, w).Code != ErrCodeInvalidCSV {
		t.Fatalf("bad header -> %d %s", w.Code, w.Body.String())
	}
	if w := upload(t, r, "/phonebook/import", "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing file -> %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/phonebook/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export -> %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content-type = %q", ct)
	}
	rows, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %v", rows)
	}
	if diff := cmp.Diff([]string{"formatted_name", "phone", "email", "labels"}, rows[0]); diff != "" {
		t.Fatalf("header (-want +got):\n%s", diff)
	}
	got := map[string][]string{}
	for _, row := range rows[1:] {
		got[row[1]] = row
	}
	if row := got["5511900000001"]; row == nil || row[0] != "Bruno" || row[3] != "lead|vip" {
		t.Fatalf("bruno row = %v", row)
	}
	if row := got["5511900000002"]; row == nil || row[0] != "Carla" {
		t.Fatalf("carla row = %v", row)
	}
}
