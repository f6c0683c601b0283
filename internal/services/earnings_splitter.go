package services

import (
	"fmt"
	"time"

	domain "github.com/bazaarly/api/internal/domain"
)

const earningIDPrefix = "ern_"

// SplitEarnings divides a settled order into one vendor earning per line item.
//
// The order discount is allocated across lines in proportion to their subtotal, so gross
// earnings sum to subtotal - discount. Tax is collected by the platform and never reaches
// vendors. Commission uses the rate of the settings snapshot current at settlement time.
func SplitEarnings(order Order, settings PlatformSettings, now time.Time, newID func() string) ([]VendorEarning, error) {
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order %s has no items", ErrLedgerInvariant, order.ID)
	}
	rate := settings.CommissionRateBps
	if rate < 0 || rate > basisPointsDenominator {
		return nil, fmt.Errorf("%w: commission rate %d bps out of range", ErrLedgerInvariant, rate)
	}

	weights := make([]int64, len(order.Items))
	var subtotal int64
	for i, item := range order.Items {
		weights[i] = item.LineTotal()
		subtotal += weights[i]
	}
	if order.Discount > subtotal+order.TaxAmount {
		return nil, fmt.Errorf("%w: order %s discount exceeds its value", ErrLedgerInvariant, order.ID)
	}
	// A discount that ate into the tax leaves the vendors with nothing.
	discount := min(order.Discount, subtotal)
	allocated := allocateByWeight(discount, weights)

	earnings := make([]VendorEarning, 0, len(order.Items))
	for i, item := range order.Items {
		gross := weights[i] - allocated[i]
		commission := domain.MulDivHalfUp(gross, rate, basisPointsDenominator)
		earnings = append(earnings, VendorEarning{
			ID:                earningIDPrefix + newID(),
			VendorID:          item.VendorID,
			OrderID:           order.ID,
			ProductID:         item.ProductID,
			GrossAmount:       gross,
			CommissionRateBps: rate,
			CommissionAmount:  commission,
			NetEarning:        gross - commission,
			PayoutStatus:      domain.PayoutStatusUnpaid,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return earnings, nil
}
