package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

func TestBroadcasts_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedAccount(t, db, "b@example.com")
	d := seedDevice(t, db, a.ID, "pn-1")

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	due := &domain.Broadcast{AccountID: a.ID, DeviceID: d.ID, Name: "due", Body: "hi", CustomText: "15550001", Status: domain.BroadcastScheduled, ScheduledAt: &past}
	later := &domain.Broadcast{AccountID: a.ID, DeviceID: d.ID, Name: "later", Body: "hi", CustomText: "15550001", Status: domain.BroadcastScheduled, ScheduledAt: &future}
	for _, b := range []*domain.Broadcast{due, later} {
		if err := CreateBroadcast(ctx, db, b); err != nil {
			t.Fatalf("CreateBroadcast: %v", err)
		}
	}

	list, err := DueBroadcasts(ctx, db, time.Now(), 10)
	if err != nil || len(list) != 1 || list[0].ID != due.ID {
		t.Fatalf("DueBroadcasts = %+v, %v", list, err)
	}

	ok, err := ClaimBroadcast(ctx, db, due.ID, time.Now())
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	ok, err = ClaimBroadcast(ctx, db, due.ID, time.Now())
	if err != nil || ok {
		t.Fatalf("second claim = %v, %v; want false", ok, err)
	}
	got, _ := GetBroadcast(ctx, db, a.ID, due.ID)
	if got.Status != domain.BroadcastSending || got.StartedAt == nil {
		t.Fatalf("claimed broadcast: %+v", got)
	}
}

func TestBroadcasts_TransitionAndList(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedAccount(t, db, "t@example.com")
	d := seedDevice(t, db, a.ID, "pn-2")

	b := &domain.Broadcast{AccountID: a.ID, DeviceID: d.ID, Name: "x", Body: "hi", PhonebookData: []string{"vip"}, Status: domain.BroadcastDraft}
	if err := CreateBroadcast(ctx, db, b); err != nil {
		t.Fatalf("CreateBroadcast: %v", err)
	}

	cancellable := []string{domain.BroadcastDraft, domain.BroadcastScheduled}
	if err := TransitionBroadcast(ctx, db, a.ID, b.ID, cancellable, domain.BroadcastCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := TransitionBroadcast(ctx, db, a.ID, b.ID, cancellable, domain.BroadcastCancelled); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second cancel: want ErrNotFound, got %v", err)
	}

	items, total, err := ListBroadcastsPage(ctx, db, a.ID, domain.BroadcastCancelled, 0, 10)
	if err != nil || total != 1 || len(items) != 1 || items[0].PhonebookData[0] != "vip" {
		t.Fatalf("ListBroadcastsPage = %+v total=%d err=%v", items, total, err)
	}
	_, total, _ = ListBroadcastsPage(ctx, db, a.ID, domain.BroadcastDraft, 0, 10)
	if total != 0 {
		t.Fatalf("draft count = %d, want 0", total)
	}
}

func TestRecipients_DedupAndCounts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedAccount(t, db, "r@example.com")
	d := seedDevice(t, db, a.ID, "pn-3")
	b := &domain.Broadcast{AccountID: a.ID, DeviceID: d.ID, Name: "r", Body: "hi", CustomText: "x", Status: domain.BroadcastSending}
	if err := CreateBroadcast(ctx, db, b); err != nil {
		t.Fatalf("CreateBroadcast: %v", err)
	}

	n, err := InsertRecipients(ctx, db, []domain.BroadcastRecipient{
		{BroadcastID: b.ID, Phone: "15550001"},
		{BroadcastID: b.ID, Phone: "15550002"},
	})
	if err != nil || n != 2 {
		t.Fatalf("InsertRecipients = %d, %v", n, err)
	}
	if _, err := InsertRecipients(ctx, db, []domain.BroadcastRecipient{
		{BroadcastID: b.ID, Phone: "15550002"},
		{BroadcastID: b.ID, Phone: "15550003"},
	}); err != nil {
		t.Fatalf("InsertRecipients (overlap): %v", err)
	}

	pending, err := PendingRecipients(ctx, db, b.ID)
	if err != nil || len(pending) != 3 {
		t.Fatalf("PendingRecipients = %d, %v", len(pending), err)
	}

	now := time.Now().UTC()
	if err := UpdateRecipient(ctx, db, pending[0].ID, map[string]any{"status": domain.RecipientSent, "sent_at": now, "external_id": "wamid.1"}); err != nil {
		t.Fatalf("UpdateRecipient: %v", err)
	}
	if err := UpdateRecipient(ctx, db, pending[1].ID, map[string]any{"status": domain.RecipientFailed, "last_error": "boom", "retry_count": 2}); err != nil {
		t.Fatalf("UpdateRecipient: %v", err)
	}

	counts, err := RecipientCounts(ctx, db, b.ID)
	if err != nil {
		t.Fatalf("RecipientCounts: %v", err)
	}
	if counts[domain.RecipientSent] != 1 || counts[domain.RecipientFailed] != 1 || counts[domain.RecipientPending] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	page, total, err := ListRecipientsPage(ctx, db, b.ID, 0, 2)
	if err != nil || total != 3 || len(page) != 2 {
		t.Fatalf("ListRecipientsPage = %d total=%d err=%v", len(page), total, err)
	}

	if err := FinishBroadcast(ctx, db, b.ID, domain.BroadcastCompleted, 3, 1, 1, now); err != nil {
		t.Fatalf("FinishBroadcast: %v", err)
	}
	got, _ := GetBroadcast(ctx, db, a.ID, b.ID)
	if got.Status != domain.BroadcastCompleted || got.Total != 3 || got.Sent != 1 || got.Failed != 1 || got.CompletedAt == nil {
		t.Fatalf("finished broadcast: %+v", got)
	}
}
