package domain

import (
	"math"
	"time"
)

// Coupon is a discount code applied at checkout. Exactly one of PercentOff
// and AmountOff is expected to be set; amounts are in minor currency units.
type Coupon struct {
	ID             string     `json:"id"              gorm:"type:char(36);primaryKey"`
	Code           string     `json:"code"            gorm:"type:varchar(64);not null;uniqueIndex"`
	PercentOff     float64    `json:"percent_off"     gorm:"not null;default:0"`
	AmountOff      int64      `json:"amount_off"      gorm:"not null;default:0"`
	MaxRedemptions int        `json:"max_redemptions" gorm:"not null;default:0"`
	Redemptions    int        `json:"redemptions"     gorm:"not null;default:0"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Active         bool       `json:"active"          gorm:"not null;default:true"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Coupon.
func (Coupon) TableName() string { return "coupons" }

// CouponRedemption records that an account used a coupon. An account may
// redeem a given coupon once.
type CouponRedemption struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	CouponID  string    `json:"coupon_id"  gorm:"type:char(36);not null;uniqueIndex:ux_coupon_account,priority:1"`
	AccountID string    `json:"account_id" gorm:"type:char(36);not null;uniqueIndex:ux_coupon_account,priority:2"`
	Amount    int64     `json:"amount"`
	Discount  int64     `json:"discount"`
	CreatedAt time.Time `json:"created_at"`

	Coupon Coupon `json:"-" gorm:"foreignKey:CouponID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CouponRedemption.
func (CouponRedemption) TableName() string { return "coupon_redemptions" }

// Expired reports whether the coupon is past its expiry at now.
func (c Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Exhausted reports whether every allowed redemption was used.
// MaxRedemptions == 0 means unlimited.
func (c Coupon) Exhausted() bool {
	return c.MaxRedemptions > 0 && c.Redemptions >= c.MaxRedemptions
}

// Discount returns the amount taken off amount, never exceeding it.
func (c Coupon) Discount(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	var d int64
	if c.PercentOff > 0 {
		d = int64(math.Round(float64(amount) * c.PercentOff / 100))
	} else {
		d = c.AmountOff
	}
	if d > amount {
		d = amount
	}
	if d < 0 {
		d = 0
	}
	return d
}
