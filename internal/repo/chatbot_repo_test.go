package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/datatypes"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

func TestChatbots_CRUDAndEnabled(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedAccount(t, db, "cb@example.com")

	on := &domain.Chatbot{AccountID: a.ID, Name: "Welcome", Triggers: []string{"hi"}, MatchMode: domain.MatchExact, Enabled: true, Graph: datatypes.JSON(`{"nodes":[],"edges":[]}`)}
	off := &domain.Chatbot{AccountID: a.ID, Name: "Off", Triggers: []string{"menu"}, MatchMode: domain.MatchContains}
	for _, c := range []*domain.Chatbot{on, off} {
		if err := CreateChatbot(ctx, db, c); err != nil {
			t.Fatalf("CreateChatbot: %v", err)
		}
	}

	enabled, err := EnabledChatbots(ctx, db, a.ID)
	if err != nil || len(enabled) != 1 || enabled[0].ID != on.ID {
		t.Fatalf("EnabledChatbots = %+v, %v", enabled, err)
	}

	if err := UpdateChatbot(ctx, db, a.ID, off.ID, map[string]any{"enabled": true}); err != nil {
		t.Fatalf("UpdateChatbot: %v", err)
	}
	enabled, _ = EnabledChatbots(ctx, db, a.ID)
	if len(enabled) != 2 {
		t.Fatalf("enabled after toggle = %d, want 2", len(enabled))
	}

	off.Triggers = []string{"menu", "start"}
	off.Enabled = false
	if err := SaveChatbot(ctx, db, off); err != nil {
		t.Fatalf("SaveChatbot: %v", err)
	}
	got, err := GetChatbot(ctx, db, a.ID, off.ID)
	if err != nil || len(got.Triggers) != 2 || got.Enabled {
		t.Fatalf("after SaveChatbot = %+v, %v", got, err)
	}
	if err := UpdateChatbot(ctx, db, a.ID, off.ID, map[string]any{"enabled": true}); err != nil {
		t.Fatalf("UpdateChatbot: %v", err)
	}

	items, total, err := ListChatbotsPage(ctx, db, a.ID, 0, 10)
	if err != nil || total != 2 || items[0].Name != "Off" {
		t.Fatalf("ListChatbotsPage = %+v total=%d err=%v", items, total, err)
	}

	if err := DeleteChatbot(ctx, db, a.ID, on.ID); err != nil {
		t.Fatalf("DeleteChatbot: %v", err)
	}
	if _, err := GetChatbot(ctx, db, a.ID, on.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted chatbot visible: %v", err)
	}
}

func TestFlowSessions_SingleActivePerConversation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedAccount(t, db, "fs@example.com")
	d := seedDevice(t, db, a.ID, "pn-fs")
	conv := seedConversation(t, db, a.ID, d.ID, "15550009")

	first := &domain.FlowSession{AccountID: a.ID, ChatbotID: "bot-1", ConversationID: conv.ID, ContactPhone: conv.ContactPhone, CurrentNode: "n1"}
	if err := CreateFlowSession(ctx, db, first); err != nil {
		t.Fatalf("CreateFlowSession: %v", err)
	}
	second := &domain.FlowSession{AccountID: a.ID, ChatbotID: "bot-2", ConversationID: conv.ID, ContactPhone: conv.ContactPhone, CurrentNode: "n1"}
	if err := CreateFlowSession(ctx, db, second); err != nil {
		t.Fatalf("CreateFlowSession 2: %v", err)
	}

	active, err := ActiveFlowSession(ctx, db, conv.ID)
	if err != nil || active.ID != second.ID {
		t.Fatalf("ActiveFlowSession = %+v, %v", active, err)
	}

	active.CurrentNode = "n2"
	active.Vars = datatypes.JSONMap{"name": "Ana"}
	active.Retries = 1
	if err := SaveFlowSession(ctx, db, active); err != nil {
		t.Fatalf("SaveFlowSession: %v", err)
	}
	again, _ := ActiveFlowSession(ctx, db, conv.ID)
	if again.CurrentNode != "n2" || again.Vars["name"] != "Ana" || again.Retries != 1 {
		t.Fatalf("after save: %+v", again)
	}

	n, err := AbortFlowSessions(ctx, db, conv.ID)
	if err != nil || n != 1 {
		t.Fatalf("AbortFlowSessions = %d, %v", n, err)
	}
	if _, err := ActiveFlowSession(ctx, db, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want no active session, got %v", err)
	}
}
