package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// Quote is the price after applying a coupon.
type Quote struct {
	Code     string `json:"code"`
	Amount   int64  `json:"amount"`
	Discount int64  `json:"discount"`
	Final    int64  `json:"final"`
}

// CouponService manages discount codes. Management is admin-only;
// validation is public and redemption needs an authenticated account.
type CouponService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (s *CouponService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// List returns every coupon.
func (s *CouponService) List(ctx context.Context, p domain.Principal) ([]domain.Coupon, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	return repo.ListCoupons(ctx, s.DB)
}

// Create adds a coupon.
func (s *CouponService) Create(ctx context.Context, p domain.Principal, in validate.CouponInput) (*domain.Coupon, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	c := &domain.Coupon{
		Code:           in.Code,
		PercentOff:     in.PercentOff,
		AmountOff:      in.AmountOff,
		MaxRedemptions: in.MaxRedemptions,
		ExpiresAt:      in.ExpiresAt,
		Active:         true,
	}
	if err := repo.CreateCoupon(ctx, s.DB, c); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrCouponExists
		}
		return nil, err
	}
	return c, nil
}

// Delete removes a coupon.
func (s *CouponService) Delete(ctx context.Context, p domain.Principal, id string) error {
	if !p.IsAdmin() {
		return ErrForbidden
	}
	err := repo.DeleteCoupon(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrCouponNotFound
	}
	return err
}

// Validate prices amount with code without redeeming it.
func (s *CouponService) Validate(ctx context.Context, code string, amount int64) (*Quote, error) {
	c, err := s.usable(ctx, code)
	if err != nil {
		return nil, err
	}
	d := c.Discount(amount)
	return &Quote{Code: c.Code, Amount: amount, Discount: d, Final: amount - d}, nil
}

// Redeem prices amount and records one redemption for p's account. The
// record and the counter are written together, so concurrent redemptions
// never exceed the cap and an account cannot redeem the same coupon twice.
func (s *CouponService) Redeem(ctx context.Context, p domain.Principal, code string, amount int64) (*Quote, error) {
	c, err := s.usable(ctx, code)
	if err != nil {
		return nil, err
	}
	d := c.Discount(amount)
	r := &domain.CouponRedemption{CouponID: c.ID, AccountID: p.AccountID, Amount: amount, Discount: d}
	switch err := repo.RedeemCoupon(ctx, s.DB, r, s.now()); {
	case errors.Is(err, repo.ErrDuplicate):
		return nil, ErrCouponRedeemed
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrCouponExhausted
	case err != nil:
		return nil, err
	}
	return &Quote{Code: c.Code, Amount: amount, Discount: d, Final: amount - d}, nil
}

func (s *CouponService) usable(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := repo.GetCouponByCode(ctx, s.DB, code)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	switch {
	case !c.Active:
		return nil, ErrCouponInactive
	case c.Expired(s.now()):
		return nil, ErrCouponExpired
	case c.Exhausted():
		return nil, ErrCouponExhausted
	}
	return c, nil
}
