package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/repositories"
)

// NormaliseCouponCode trims and upper-cases a coupon code so lookups are case-insensitive.
func NormaliseCouponCode(code string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCouponService wires a CouponService backed by the coupon repository.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		coupons: deps.Coupons,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Validate checks the coupon against the cart. Rules run in order and the first failure wins:
// existence, expiry, usage limit, minimum purchase, product/category eligibility.
// It never consumes a use; redemption happens atomically with order insertion.
func (s *couponService) Validate(ctx context.Context, code string, subtotal int64, lines []PriceLine) (CouponDecision, error) {
	normalised := NormaliseCouponCode(code)
	if normalised == "" {
		return CouponDecision{}, &CouponRejection{Code: code, Reason: CouponRejectNotFound}
	}

	coupon, err := s.coupons.FindByCode(ctx, normalised)
	if err != nil {
		if isRepoNotFound(err) {
			return CouponDecision{}, &CouponRejection{Code: normalised, Reason: CouponRejectNotFound}
		}
		return CouponDecision{}, fmt.Errorf("coupon service: load coupon: %w", err)
	}

	reject := func(reason CouponRejectReason) (CouponDecision, error) {
		s.logger(ctx, "coupon.rejected", map[string]any{
			"code":     normalised,
			"reason":   string(reason),
			"subtotal": subtotal,
		})
		return CouponDecision{}, &CouponRejection{Code: normalised, Reason: reason}
	}

	switch {
	case coupon.Expired(s.clock()):
		return reject(CouponRejectExpired)
	case coupon.Exhausted():
		return reject(CouponRejectExhausted)
	case subtotal < coupon.MinPurchase:
		return reject(CouponRejectMinPurchase)
	case coupon.Restricted() && !couponMatchesCart(coupon, lines):
		return reject(CouponRejectNotApplicable)
	}

	return CouponDecision{Coupon: coupon, Discount: CouponDiscount(coupon, subtotal)}, nil
}

// CouponDiscount computes the discount a valid coupon grants on subtotal.
// Fixed coupons give min(value, subtotal); percentage coupons give min(subtotal*value/100, maxDiscount).
func CouponDiscount(coupon Coupon, subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	switch coupon.Type {
	case domain.CouponTypeFixed:
		return min(coupon.Value, subtotal)
	case domain.CouponTypePercentage:
		discount := domain.MulDivHalfUp(subtotal, coupon.Value, 100)
		if coupon.MaxDiscount > 0 {
			discount = min(discount, coupon.MaxDiscount)
		}
		return min(discount, subtotal)
	}
	return 0
}

func couponMatchesCart(coupon Coupon, lines []PriceLine) bool {
	for _, line := range lines {
		if slices.Contains(coupon.ApplicableProducts, line.ProductID) {
			return true
		}
		if line.Category != "" && slices.Contains(coupon.ApplicableCategories, line.Category) {
			return true
		}
	}
	return false
}

func (s *couponService) Upsert(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	code := NormaliseCouponCode(cmd.Code)
	switch {
	case code == "":
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	case cmd.Type != domain.CouponTypeFixed && cmd.Type != domain.CouponTypePercentage:
		return Coupon{}, fmt.Errorf("%w: unsupported type %q", ErrCouponInvalidInput, cmd.Type)
	case cmd.Value <= 0:
		return Coupon{}, fmt.Errorf("%w: value must be positive", ErrCouponInvalidInput)
	case cmd.Type == domain.CouponTypePercentage && cmd.Value > 100:
		return Coupon{}, fmt.Errorf("%w: percentage must not exceed 100", ErrCouponInvalidInput)
	case cmd.Type == domain.CouponTypePercentage && cmd.MaxDiscount <= 0:
		return Coupon{}, fmt.Errorf("%w: maxDiscount is required for percentage coupons", ErrCouponInvalidInput)
	case cmd.MinPurchase < 0 || cmd.MaxDiscount < 0:
		return Coupon{}, fmt.Errorf("%w: amounts must not be negative", ErrCouponInvalidInput)
	case cmd.UsageLimit <= 0:
		return Coupon{}, fmt.Errorf("%w: usageLimit must be positive", ErrCouponInvalidInput)
	}

	existing, err := s.coupons.FindByCode(ctx, code)
	switch {
	case err == nil:
		if cmd.UsageLimit < existing.UsedCount {
			return Coupon{}, fmt.Errorf("%w: usageLimit %d is below %d recorded uses", ErrCouponInvalidInput, cmd.UsageLimit, existing.UsedCount)
		}
	case !isRepoNotFound(err):
		return Coupon{}, fmt.Errorf("coupon service: load coupon: %w", err)
	}

	now := s.clock()
	stored, err := s.coupons.Upsert(ctx, Coupon{
		Code:                 code,
		Type:                 cmd.Type,
		Value:                cmd.Value,
		MinPurchase:          cmd.MinPurchase,
		MaxDiscount:          cmd.MaxDiscount,
		UsageLimit:           cmd.UsageLimit,
		ExpiresAt:            cmd.ExpiresAt.UTC(),
		ApplicableProducts:   slices.Clone(cmd.ApplicableProducts),
		ApplicableCategories: slices.Clone(cmd.ApplicableCategories),
		CreatedAt:            now,
		UpdatedAt:            now,
	})
	if err != nil {
		if isRepoConflict(err) {
			return Coupon{}, fmt.Errorf("%w: %v", ErrCouponInvalidInput, err)
		}
		return Coupon{}, fmt.Errorf("coupon service: upsert: %w", err)
	}
	s.logger(ctx, "coupon.upserted", map[string]any{
		"code":       code,
		"type":       string(cmd.Type),
		"usageLimit": cmd.UsageLimit,
		"actorId":    cmd.ActorID,
	})
	return stored, nil
}
