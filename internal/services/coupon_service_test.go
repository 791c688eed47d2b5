package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

func TestCoupons_AdminOnlyAndQuote(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := seedOwner(t, db, "buyer@example.com")
	admin := domain.Principal{AccountID: "admin", ActorID: "admin", Role: domain.RoleAdmin}
	svc := &CouponService{DB: db, Now: clock}

	if _, err := svc.Create(ctx, user, validate.CouponInput{Code: "SPRING10", PercentOff: 10}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("user Create err = %v", err)
	}
	c, err := svc.Create(ctx, admin, validate.CouponInput{Code: "spring10", PercentOff: 10, MaxRedemptions: 1})
	if err != nil || c.Code != "SPRING10" || !c.Active {
		t.Fatalf("Create = %+v, %v", c, err)
	}
	if _, err := svc.Create(ctx, admin, validate.CouponInput{Code: "SPRING10", AmountOff: 500}); !errors.Is(err, ErrCouponExists) {
		t.Fatalf("duplicate err = %v", err)
	}

	q, err := svc.Validate(ctx, "Spring10", 2995)
	if err != nil || q.Discount != 300 || q.Final != 2695 {
		t.Fatalf("Validate = %+v, %v", q, err)
	}
	if _, err := svc.Redeem(ctx, user, "spring10", 2995); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	other := seedOwner(t, db, "other@example.com")
	if _, err := svc.Redeem(ctx, other, "spring10", 2995); !errors.Is(err, ErrCouponExhausted) {
		t.Fatalf("Redeem past cap err = %v", err)
	}
	if _, err := svc.Validate(ctx, "NOPE", 100); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("unknown code err = %v", err)
	}

	expired := fixedNow.Add(-time.Hour)
	if _, err := svc.Create(ctx, admin, validate.CouponInput{Code: "OLD", AmountOff: 100, ExpiresAt: &expired}); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if _, err := svc.Validate(ctx, "old", 1000); !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("expired err = %v", err)
	}

	list, err := svc.List(ctx, admin)
	if err != nil || len(list) != 2 {
		t.Fatalf("List = %d, %v", len(list), err)
	}
	if err := svc.Delete(ctx, admin, c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, admin, c.ID); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("second Delete err = %v", err)
	}
}

func TestCoupons_RedeemOncePerAccount(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	buyer := seedOwner(t, db, "once@example.com")
	admin := domain.Principal{AccountID: "admin", ActorID: "admin", Role: domain.RoleAdmin}
	svc := &CouponService{DB: db, Now: clock}
	if _, err := svc.Create(ctx, admin, validate.CouponInput{Code: "ONCE", AmountOff: 500}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	q, err := svc.Redeem(ctx, buyer, "once", 2000)
	if err != nil || q.Discount != 500 || q.Final != 1500 {
		t.Fatalf("first Redeem = %+v, %v", q, err)
	}
	for i := 0; i < 2; i++ {
		if q, err := svc.Redeem(ctx, buyer, "ONCE", 2000); !errors.Is(err, ErrCouponRedeemed) || q != nil {
			t.Fatalf("repeat Redeem = %+v, %v", q, err)
		}
	}
	// an agent of the same account shares the account's redemption
	agent := seedAgent(t, db, buyer, "once-agent@example.com")
	if _, err := svc.Redeem(ctx, agent, "once", 2000); !errors.Is(err, ErrCouponRedeemed) {
		t.Fatalf("agent Redeem err = %v", err)
	}
	if _, err := svc.Redeem(ctx, seedOwner(t, db, "second@example.com"), "once", 2000); err != nil {
		t.Fatalf("other account Redeem: %v", err)
	}
}

func TestCouponDiscount(t *testing.T) {
	cases := []struct {
		name   string
		c      domain.Coupon
		amount int64
		want   int64
	}{
		{"percent rounds", domain.Coupon{PercentOff: 15}, 999, 150},
		{"fixed", domain.Coupon{AmountOff: 500}, 2000, 500},
		{"fixed capped at amount", domain.Coupon{AmountOff: 500}, 300, 300},
		{"zero amount", domain.Coupon{PercentOff: 50}, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.Discount(tc.amount); got != tc.want {
				t.Fatalf("Discount(%d) = %d, want %d", tc.amount, got, tc.want)
			}
		})
	}
}
