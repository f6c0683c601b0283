package domain

import "time"

// CouponType selects how a coupon discount is computed.
type CouponType string

const (
	CouponTypePercentage CouponType = "percentage"
	CouponTypeFixed      CouponType = "fixed"
)

// Coupon is a discount code with usage accounting. Value is whole percent for
// percentage coupons and minor units for fixed coupons.
type Coupon struct {
	Code                 string
	Type                 CouponType
	Value                int64
	MinPurchase          int64
	MaxDiscount          int64
	UsageLimit           int64
	UsedCount            int64
	ExpiresAt            time.Time
	ApplicableProducts   []string
	ApplicableCategories []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Exhausted reports whether every allowed use has been consumed.
func (c Coupon) Exhausted() bool {
	return c.UsedCount >= c.UsageLimit
}

// Expired reports whether now is past the expiry. A zero expiry never expires.
func (c Coupon) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Restricted reports whether the coupon only applies to specific products or categories.
func (c Coupon) Restricted() bool {
	return len(c.ApplicableProducts) > 0 || len(c.ApplicableCategories) > 0
}

// PriceLine is one priced input to the calculator.
type PriceLine struct {
	ProductID string
	Category  string
	UnitPrice int64
	Quantity  int64
}

// TaxPolicy is the tax portion of a settings snapshot.
type TaxPolicy struct {
	Enabled bool
	RateBps int64
}

// Quote is the output of the pricing calculator.
type Quote struct {
	Subtotal  int64
	Discount  int64
	TaxAmount int64
	Total     int64
}
