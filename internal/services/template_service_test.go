package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tbourn/go-wa-backend/internal/validate"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

type fakeTemplates struct {
	list []whatsapp.Template
	err  error
}

func (f *fakeTemplates) ListTemplates(context.Context) ([]whatsapp.Template, error) {
	return f.list, f.err
}

func TestTemplates_CreateAndSync(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	owner := seedOwner(t, db, "tpl@example.com")
	src := &fakeTemplates{list: []whatsapp.Template{
		{ID: "1", Name: "order_update", Language: "en_US", Status: "APPROVED", Category: "UTILITY", Components: json.RawMessage(`[{"type":"BODY","text":"Hi"}]`)},
		{ID: "2", Name: "promo", Language: "pt_BR", Status: "PENDING", Category: "MARKETING"},
	}}
	svc := &TemplateService{DB: db, Source: src}

	local, err := svc.Create(ctx, owner, validate.TemplateInput{Name: "order_update", Language: "en_US", Components: []any{}})
	if err != nil || local.Status != "LOCAL" {
		t.Fatalf("Create = %+v, %v", local, err)
	}
	if _, err := svc.Create(ctx, owner, validate.TemplateInput{Name: "order_update", Language: "en_US"}); !errors.Is(err, ErrTemplateExists) {
		t.Fatalf("duplicate err = %v", err)
	}

	n, err := svc.Sync(ctx, owner)
	if err != nil || n != 2 {
		t.Fatalf("Sync = %d, %v", n, err)
	}
	list, _ := svc.List(ctx, owner)
	if len(list) != 2 {
		t.Fatalf("templates = %d, want 2", len(list))
	}
	if list[0].Name != "order_update" || list[0].Status != "APPROVED" || list[0].ExternalID != "1" {
		t.Fatalf("synced = %+v", list[0])
	}
	if string(list[1].Components) != "[]" {
		t.Fatalf("empty components = %s", list[1].Components)
	}

	src.err = &whatsapp.APIError{Status: 500, Message: "boom"}
	if _, err := svc.Sync(ctx, owner); !errors.Is(err, ErrUpstream) {
		t.Fatalf("failing source err = %v", err)
	}
	if _, err := (&TemplateService{DB: db}).Sync(ctx, owner); !errors.Is(err, whatsapp.ErrNotConfigured) || !errors.Is(err, ErrUpstream) {
		t.Fatalf("unconfigured err = %v", err)
	}

	if err := svc.Delete(ctx, owner, local.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, owner, local.ID); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("second Delete err = %v", err)
	}
}

func TestDevices_OwnerOnlyAndUnique(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	owner := seedOwner(t, db, "dev@example.com")
	agent := seedAgent(t, db, owner, "agent@example.com", "conversations")
	svc := &DeviceService{DB: db}

	if _, err := svc.Create(ctx, agent, validate.DeviceInput{Name: "Main", PhoneNumberID: "pn-1"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("agent Create err = %v", err)
	}
	d, err := svc.Create(ctx, owner, validate.DeviceInput{Name: "Main", PhoneNumberID: "pn-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	other := seedOwner(t, db, "other@example.com")
	if _, err := svc.Create(ctx, other, validate.DeviceInput{Name: "Theirs", PhoneNumberID: "pn-1"}); !errors.Is(err, ErrDeviceExists) {
		t.Fatalf("duplicate phone number id err = %v", err)
	}
	if _, err := svc.Get(ctx, other, d.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("cross-tenant Get err = %v", err)
	}
	list, _ := svc.List(ctx, agent)
	if len(list) != 1 {
		t.Fatalf("agent List = %d", len(list))
	}
	if err := svc.Delete(ctx, agent, d.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("agent Delete err = %v", err)
	}
	if err := svc.Delete(ctx, owner, d.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
