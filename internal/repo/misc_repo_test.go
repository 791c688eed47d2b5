package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

func TestDevices_UniquePhoneNumberID(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedAccount(t, db, "dev@example.com")
	d := seedDevice(t, db, a.ID, "pn-dev")

	err := CreateDevice(ctx, db, &domain.Device{AccountID: a.ID, Name: "Dup", PhoneNumberID: "pn-dev"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	got, err := GetDeviceByPhoneNumberID(ctx, db, "pn-dev")
	if err != nil || got.ID != d.ID {
		t.Fatalf("GetDeviceByPhoneNumberID = %+v, %v", got, err)
	}
	list, _ := ListDevices(ctx, db, a.ID)
	if len(list) != 1 {
		t.Fatalf("ListDevices = %d", len(list))
	}
	if err := DeleteDevice(ctx, db, "other", d.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete: %v", err)
	}
	if err := DeleteDevice(ctx, db, a.ID, d.ID); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
}

func TestTemplates_UpsertByNameLanguage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedAccount(t, db, "tpl@example.com")

	if err := UpsertTemplate(ctx, db, &domain.Template{AccountID: a.ID, Name: "welcome", Language: "en_US", Status: "PENDING", Components: datatypes.JSON(`[]`)}); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}
	if err := UpsertTemplate(ctx, db, &domain.Template{AccountID: a.ID, Name: "welcome", Language: "en_US", Status: "APPROVED", ExternalID: "123", Components: datatypes.JSON(`[{"type":"BODY"}]`)}); err != nil {
		t.Fatalf("UpsertTemplate again: %v", err)
	}
	list, err := ListTemplates(ctx, db, a.ID)
	if err != nil || len(list) != 1 || list[0].Status != "APPROVED" || list[0].ExternalID != "123" {
		t.Fatalf("ListTemplates = %+v, %v", list, err)
	}
	if err := CreateTemplate(ctx, db, &domain.Template{AccountID: a.ID, Name: "welcome", Language: "en_US"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("CreateTemplate duplicate: %v", err)
	}
	if _, err := GetTemplateByName(ctx, db, a.ID, "welcome", "en_US"); err != nil {
		t.Fatalf("GetTemplateByName: %v", err)
	}
	if err := DeleteTemplate(ctx, db, a.ID, list[0].ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
}

func TestQuickReplies_ShortcutUnique(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedAccount(t, db, "qr@example.com")

	q := &domain.QuickReply{AccountID: a.ID, Shortcut: "/hours", Title: "Hours", Message: "9 to 5"}
	if err := CreateQuickReply(ctx, db, q); err != nil {
		t.Fatalf("CreateQuickReply: %v", err)
	}
	other := &domain.QuickReply{AccountID: a.ID, Shortcut: "/price", Title: "Price", Message: "$10"}
	if err := CreateQuickReply(ctx, db, other); err != nil {
		t.Fatalf("CreateQuickReply 2: %v", err)
	}
	if err := UpdateQuickReply(ctx, db, a.ID, other.ID, map[string]any{"shortcut": "/hours"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("rename onto taken shortcut: %v", err)
	}
	got, err := GetQuickReplyByShortcut(ctx, db, a.ID, "/hours")
	if err != nil || got.ID != q.ID {
		t.Fatalf("GetQuickReplyByShortcut = %+v, %v", got, err)
	}
	if err := DeleteQuickReply(ctx, db, a.ID, q.ID); err != nil {
		t.Fatalf("DeleteQuickReply: %v", err)
	}
	all, _ := ListQuickReplies(ctx, db, a.ID)
	if len(all) != 1 {
		t.Fatalf("ListQuickReplies = %d", len(all))
	}
}

func TestCoupons_RedeemOncePerAccount(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	c := &domain.Coupon{Code: "ONCE", AmountOff: 500, Active: true}
	if err := CreateCoupon(ctx, db, c); err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}
	now := time.Now()
	for i, want := range []error{nil, ErrDuplicate, ErrDuplicate} {
		err := RedeemCoupon(ctx, db, &domain.CouponRedemption{CouponID: c.ID, AccountID: "acct-1"}, now)
		if !errors.Is(err, want) {
			t.Fatalf("redeem #%d: err = %v, want %v", i+1, err, want)
		}
	}
	if err := RedeemCoupon(ctx, db, &domain.CouponRedemption{CouponID: c.ID, AccountID: "acct-2"}, now); err != nil {
		t.Fatalf("other account: %v", err)
	}
	got, _ := GetCouponByCode(ctx, db, "once")
	if got.Redemptions != 2 {
		t.Fatalf("counter = %d, want 2", got.Redemptions)
	}
	if err := DeleteCoupon(ctx, db, c.ID); err != nil {
		t.Fatalf("delete redeemed coupon: %v", err)
	}
}

func TestCoupons_RedeemRespectsCap(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	c := &domain.Coupon{Code: " save10 ", PercentOff: 10, MaxRedemptions: 1, Active: true}
	if err := CreateCoupon(ctx, db, c); err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}
	if err := CreateCoupon(ctx, db, &domain.Coupon{Code: "SAVE10", Active: true}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate code: %v", err)
	}
	got, err := GetCouponByCode(ctx, db, "Save10")
	if err != nil || got.ID != c.ID {
		t.Fatalf("GetCouponByCode = %+v, %v", got, err)
	}

	now := time.Now()
	if err := RedeemCoupon(ctx, db, &domain.CouponRedemption{CouponID: c.ID, AccountID: "acct-1"}, now); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if err := RedeemCoupon(ctx, db, &domain.CouponRedemption{CouponID: c.ID, AccountID: "acct-2"}, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("redeem past cap: want ErrNotFound, got %v", err)
	}
	// the rejected redemption rolled back
	if n, _ := CountRedemptions(ctx, db, c.ID); n != 1 {
		t.Fatalf("redemptions stored = %d, want 1", n)
	}

	past := now.Add(-time.Hour)
	expired := &domain.Coupon{Code: "OLD", AmountOff: 100, Active: true, ExpiresAt: &past}
	if err := CreateCoupon(ctx, db, expired); err != nil {
		t.Fatalf("CreateCoupon expired: %v", err)
	}
	if err := RedeemCoupon(ctx, db, &domain.CouponRedemption{CouponID: expired.ID, AccountID: "acct-1"}, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("redeem expired: want ErrNotFound, got %v", err)
	}
	list, _ := ListCoupons(ctx, db)
	if len(list) != 2 {
		t.Fatalf("ListCoupons = %d", len(list))
	}
	if err := DeleteCoupon(ctx, db, expired.ID); err != nil {
		t.Fatalf("DeleteCoupon: %v", err)
	}
}

func TestIdempotency_RecordFindExpire(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.Idempotency{})
	k := IdemKey{ActorID: "agent-1", ScopeID: "conv-1", Key: "k1"}

	if _, err := FindIdempotency(ctx, db, IdemKey{ActorID: "agent-1", Key: "k"}, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank scope: want ErrNotFound, got %v", err)
	}
	if _, err := RecordIdempotency(ctx, db, IdemKey{ActorID: "agent-1", ScopeID: "conv-1"}, "msg-0", 201, time.Hour); !errors.Is(err, ErrBlankIdemKey) {
		t.Fatalf("blank key: want ErrBlankIdemKey, got %v", err)
	}

	rec, err := RecordIdempotency(ctx, db, k, "msg-1", 201, time.Hour)
	if err != nil {
		t.Fatalf("RecordIdempotency: %v", err)
	}
	got, err := FindIdempotency(ctx, db, k, time.Now())
	if err != nil || got.ResourceID != "msg-1" || got.ID != rec.ID {
		t.Fatalf("FindIdempotency = %+v, %v", got, err)
	}

	// Same key from another agent or against another conversation is unrelated.
	for _, other := range []IdemKey{
		{ActorID: "agent-2", ScopeID: "conv-1", Key: "k1"},
		{ActorID: "agent-1", ScopeID: "conv-2", Key: "k1"},
	} {
		if _, err := FindIdempotency(ctx, db, other, time.Now()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%+v: want ErrNotFound, got %v", other, err)
		}
	}

	if _, err := RecordIdempotency(ctx, db, k, "msg-2", 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate: want ErrDuplicate, got %v", err)
	}
	later := time.Now().Add(2 * time.Hour)
	if _, err := FindIdempotency(ctx, db, k, later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired: want ErrNotFound, got %v", err)
	}
	n, err := PurgeIdempotency(ctx, db, later)
	if err != nil || n != 1 {
		t.Fatalf("PurgeIdempotency = %d, %v", n, err)
	}

	// An expired record no longer holds its key even before a purge.
	stale := IdemKey{ActorID: "agent-1", ScopeID: "conv-1", Key: "k2"}
	if _, err := RecordIdempotency(ctx, db, stale, "msg-3", 201, -time.Minute); err != nil {
		t.Fatalf("record stale: %v", err)
	}
	if _, err := RecordIdempotency(ctx, db, stale, "msg-4", 201, time.Hour); err != nil {
		t.Fatalf("record over expired key: %v", err)
	}
	if got, err := FindIdempotency(ctx, db, stale, time.Now()); err != nil || got.ResourceID != "msg-4" {
		t.Fatalf("FindIdempotency = %+v, %v", got, err)
	}
}

func TestEarlyStatuses_StashTakePurge(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.EarlyStatus{})
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, st := range []string{domain.MessageDelivered, domain.MessageRead} {
		if err := StashEarlyStatus(ctx, db, &domain.EarlyStatus{ExternalID: "wamid.A", Status: st, ReceivedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("stash %s: %v", st, err)
		}
	}
	if err := StashEarlyStatus(ctx, db, &domain.EarlyStatus{ExternalID: "wamid.B", Status: domain.MessageDelivered, ReceivedAt: base.Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("stash B: %v", err)
	}

	got, err := TakeEarlyStatuses(ctx, db, "wamid.A")
	if err != nil || len(got) != 2 || got[0].Status != domain.MessageDelivered || got[1].Status != domain.MessageRead {
		t.Fatalf("TakeEarlyStatuses = %+v, %v", got, err)
	}
	if again, err := TakeEarlyStatuses(ctx, db, "wamid.A"); err != nil || len(again) != 0 {
		t.Fatalf("second take = %+v, %v", again, err)
	}

	n, err := PurgeEarlyStatuses(ctx, db, base.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeEarlyStatuses = %d, %v", n, err)
	}
}

func TestStats_EmptyAndPopulated(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	a := seedAccount(t, db, "stats@example.com")
	d := seedDevice(t, db, a.ID, "pn-stats")

	n, latest, err := ConversationsStats(ctx, db, a.ID, ConversationFilter{})
	if err != nil || n != 0 || latest != nil {
		t.Fatalf("empty ConversationsStats = %d %v %v", n, latest, err)
	}
	c := seedConversation(t, db, a.ID, d.ID, "15550001")
	n, latest, err = ConversationsStats(ctx, db, a.ID, ConversationFilter{})
	if err != nil || n != 1 || latest == nil {
		t.Fatalf("ConversationsStats = %d %v %v", n, latest, err)
	}

	n, latest, err = MessagesStats(ctx, db, c.ID)
	if err != nil || n != 0 || latest != nil {
		t.Fatalf("empty MessagesStats = %d %v %v", n, latest, err)
	}
	m := &domain.Message{ConversationID: c.ID, Direction: domain.DirectionInbound, Body: "hi", Status: domain.MessageReceived}
	if err := CreateMessage(ctx, db, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	n, latest, err = MessagesStats(ctx, db, c.ID)
	if err != nil || n != 1 || latest == nil || latest.IsZero() {
		t.Fatalf("MessagesStats = %d %v %v", n, latest, err)
	}
}

func TestIsDuplicate(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":      {nil, false},
		"sentinel": {ErrDuplicate, true},
		"sqlite":   {errors.New("constraint failed: UNIQUE constraint failed: contacts.phone (2067)"), true},
		"postgres": {errors.New(`ERROR: duplicate key value violates unique constraint "x"`), true},
		"other":    {errors.New("disk I/O error"), false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := IsDuplicate(tc.err); got != tc.want {
				t.Fatalf("IsDuplicate(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
