package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/repositories/memory"
)

func newCouponFixture(t *testing.T) (CouponService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons: store.Coupons(),
		Clock:   func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	return svc, store
}

func TestCouponDiscount(t *testing.T) {
	tests := []struct {
		name     string
		coupon   Coupon
		subtotal int64
		want     int64
	}{
		{name: "fixed below subtotal", coupon: Coupon{Type: domain.CouponTypeFixed, Value: 2000}, subtotal: 10000, want: 2000},
		{name: "fixed above subtotal", coupon: Coupon{Type: domain.CouponTypeFixed, Value: 20000}, subtotal: 10000, want: 10000},
		{name: "percentage capped", coupon: Coupon{Type: domain.CouponTypePercentage, Value: 50, MaxDiscount: 1000}, subtotal: 10000, want: 1000},
		{name: "percentage under cap", coupon: Coupon{Type: domain.CouponTypePercentage, Value: 10, MaxDiscount: 5000}, subtotal: 10000, want: 1000},
		{name: "percentage rounds half up", coupon: Coupon{Type: domain.CouponTypePercentage, Value: 15, MaxDiscount: 5000}, subtotal: 1010, want: 152},
		{name: "empty cart", coupon: Coupon{Type: domain.CouponTypeFixed, Value: 500}, subtotal: 0, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CouponDiscount(tc.coupon, tc.subtotal); got != tc.want {
				t.Fatalf("CouponDiscount = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCouponValidateRuleOrder(t *testing.T) {
	svc, store := newCouponFixture(t)
	ctx := context.Background()
	seed := func(c Coupon) {
		t.Helper()
		if _, err := store.Coupons().Upsert(ctx, c); err != nil {
			t.Fatalf("seed coupon: %v", err)
		}
	}
	seed(Coupon{Code: "OLD", Type: domain.CouponTypeFixed, Value: 100, UsageLimit: 0, ExpiresAt: testNow.Add(-time.Minute)})
	seed(Coupon{Code: "USED", Type: domain.CouponTypeFixed, Value: 100, UsageLimit: 2, UsedCount: 2, MinPurchase: 999999})
	seed(Coupon{Code: "BIG", Type: domain.CouponTypeFixed, Value: 100, UsageLimit: 2, MinPurchase: 5000})
	seed(Coupon{Code: "BOOKS", Type: domain.CouponTypeFixed, Value: 100, UsageLimit: 2, ApplicableCategories: []string{"books"}})
	seed(Coupon{Code: "LAMP", Type: domain.CouponTypeFixed, Value: 100, UsageLimit: 2, ApplicableProducts: []string{"p1"}})

	lines := []PriceLine{{ProductID: "p1", Category: "home", UnitPrice: 4000, Quantity: 1}}
	tests := []struct {
		code string
		want CouponRejectReason
	}{
		{code: "missing", want: CouponRejectNotFound},
		{code: "old", want: CouponRejectExpired},
		{code: "used", want: CouponRejectExhausted},
		{code: "big", want: CouponRejectMinPurchase},
		{code: "books", want: CouponRejectNotApplicable},
		{code: "", want: CouponRejectNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			_, err := svc.Validate(ctx, tc.code, 4000, lines)
			var rejection *CouponRejection
			if !errors.As(err, &rejection) {
				t.Fatalf("expected rejection, got %v", err)
			}
			if rejection.Reason != tc.want {
				t.Fatalf("reason = %s, want %s", rejection.Reason, tc.want)
			}
			if !errors.Is(err, ErrCouponRejected) {
				t.Fatalf("expected rejection to match ErrCouponRejected")
			}
		})
	}

	decision, err := svc.Validate(ctx, " lamp ", 4000, lines)
	if err != nil {
		t.Fatalf("Validate lamp: %v", err)
	}
	if decision.Discount != 100 || decision.Coupon.Code != "LAMP" {
		t.Fatalf("unexpected decision %+v", decision)
	}
	stored, err := store.Coupons().FindByCode(ctx, "LAMP")
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if stored.UsedCount != 0 {
		t.Fatalf("validation must not consume a use, got %d", stored.UsedCount)
	}
}

func TestCouponUpsertValidation(t *testing.T) {
	svc, store := newCouponFixture(t)
	ctx := context.Background()

	invalid := []UpsertCouponCommand{
		{Type: domain.CouponTypeFixed, Value: 100, UsageLimit: 1},
		{Code: "X", Type: "bogo", Value: 100, UsageLimit: 1},
		{Code: "X", Type: domain.CouponTypeFixed, Value: 0, UsageLimit: 1},
		{Code: "X", Type: domain.CouponTypePercentage, Value: 101, MaxDiscount: 100, UsageLimit: 1},
		{Code: "X", Type: domain.CouponTypePercentage, Value: 10, UsageLimit: 1},
		{Code: "X", Type: domain.CouponTypeFixed, Value: 100, MinPurchase: -1, UsageLimit: 1},
		{Code: "X", Type: domain.CouponTypeFixed, Value: 100},
	}
	for i, cmd := range invalid {
		if _, err := svc.Upsert(ctx, cmd); !errors.Is(err, ErrCouponInvalidInput) {
			t.Fatalf("case %d: expected ErrCouponInvalidInput, got %v", i, err)
		}
	}

	if _, err := store.Coupons().Upsert(ctx, Coupon{Code: "LIVE", Type: domain.CouponTypeFixed, Value: 100, UsageLimit: 5, UsedCount: 3}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Upsert(ctx, UpsertCouponCommand{Code: "live", Type: domain.CouponTypeFixed, Value: 100, UsageLimit: 2}); !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("expected usage limit below used count to be refused, got %v", err)
	}
	updated, err := svc.Upsert(ctx, UpsertCouponCommand{Code: "live", Type: domain.CouponTypeFixed, Value: 250, UsageLimit: 10})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if updated.Code != "LIVE" || updated.Value != 250 || updated.UsedCount != 3 {
		t.Fatalf("expected usage count preserved across edits, got %+v", updated)
	}
}
