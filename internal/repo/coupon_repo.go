// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for billing coupons.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// CreateCoupon inserts c with an upper-cased code; duplicates yield ErrDuplicate.
func CreateCoupon(ctx context.Context, db *gorm.DB, c *domain.Coupon) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	return dupOr(db.WithContext(ctx).Create(c).Error)
}

// ListCoupons returns every coupon, newest first.
func ListCoupons(ctx context.Context, db *gorm.DB) ([]domain.Coupon, error) {
	var out []domain.Coupon
	err := db.WithContext(ctx).Order("created_at desc, id asc").Find(&out).Error
	return out, err
}

// GetCouponByCode looks a coupon up case-insensitively.
func GetCouponByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	err := db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCoupon removes coupon id.
func DeleteCoupon(ctx context.Context, db *gorm.DB, id string) error {
	return affected(db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Coupon{}))
}

// RedeemCoupon stores r and bumps the coupon's counter in one transaction.
// The counter only moves while the coupon is active, unexpired and below
// its cap; otherwise nothing is written and ErrNotFound is returned. A
// second redemption by the same account yields ErrDuplicate.
func RedeemCoupon(ctx context.Context, db *gorm.DB, r *domain.CouponRedemption, now time.Time) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return dupOr(err)
		}
		return affected(tx.
			Model(&domain.Coupon{}).
			Where("id = ? AND active = ?", r.CouponID, true).
			Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
			Where("max_redemptions = 0 OR redemptions < max_redemptions").
			Update("redemptions", gorm.Expr("redemptions + 1")))
	})
}

// CountRedemptions returns how many accounts redeemed coupon id.
func CountRedemptions(ctx context.Context, db *gorm.DB, couponID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.CouponRedemption{}).Where("coupon_id = ?", couponID).Count(&n).Error
	return n, err
}
