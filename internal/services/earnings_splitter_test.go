package services

import (
	"fmt"
	"testing"
	"time"

	domain "github.com/bazaarly/api/internal/domain"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%03d", n)
	}
}

func TestSplitEarningsAllocatesDiscountAndCommission(t *testing.T) {
	order := Order{
		ID: "ord_1",
		Items: []OrderItem{
			{ProductID: "p1", VendorID: "v1", UnitPriceAtPurchase: 6000, Quantity: 1},
			{ProductID: "p2", VendorID: "v2", UnitPriceAtPurchase: 2000, Quantity: 2},
		},
		Subtotal: 10000,
		Discount: 2000,
		Total:    8000,
	}
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	earnings, err := SplitEarnings(order, PlatformSettings{CommissionRateBps: 1000}, now, sequentialIDs())
	if err != nil {
		t.Fatalf("SplitEarnings: %v", err)
	}
	if len(earnings) != 2 {
		t.Fatalf("expected 2 earnings, got %d", len(earnings))
	}
	if earnings[0].GrossAmount != 4800 || earnings[1].GrossAmount != 3200 {
		t.Fatalf("unexpected gross split %d/%d", earnings[0].GrossAmount, earnings[1].GrossAmount)
	}
	var gross, net, commission int64
	for _, e := range earnings {
		if e.NetEarning != e.GrossAmount-e.CommissionAmount {
			t.Fatalf("earning does not reconcile: %+v", e)
		}
		if e.CommissionAmount != domain.MulDivHalfUp(e.GrossAmount, 1000, 10000) {
			t.Fatalf("unexpected commission %+v", e)
		}
		if e.PayoutStatus != domain.PayoutStatusUnpaid || e.CommissionRateBps != 1000 || !e.CreatedAt.Equal(now) {
			t.Fatalf("unexpected earning metadata %+v", e)
		}
		gross += e.GrossAmount
		net += e.NetEarning
		commission += e.CommissionAmount
	}
	if gross != 8000 || net != 7200 || commission != 800 {
		t.Fatalf("unexpected totals gross=%d net=%d commission=%d", gross, net, commission)
	}
	if earnings[0].ID != "ern_001" || earnings[1].VendorID != "v2" {
		t.Fatalf("unexpected ids/vendors %+v", earnings)
	}
}

func TestSplitEarningsExcludesTax(t *testing.T) {
	order := Order{
		ID:        "ord_tax",
		Items:     []OrderItem{{ProductID: "p1", VendorID: "v1", UnitPriceAtPurchase: 1000, Quantity: 1}},
		Subtotal:  1000,
		TaxAmount: 100,
		Total:     1100,
	}
	earnings, err := SplitEarnings(order, PlatformSettings{CommissionRateBps: 0}, time.Now(), sequentialIDs())
	if err != nil {
		t.Fatalf("SplitEarnings: %v", err)
	}
	if earnings[0].GrossAmount != 1000 || earnings[0].NetEarning != 1000 {
		t.Fatalf("expected tax to stay with the platform, got %+v", earnings[0])
	}
}

func TestSplitEarningsRejectsInvalidRate(t *testing.T) {
	order := Order{ID: "ord", Items: []OrderItem{{UnitPriceAtPurchase: 100, Quantity: 1}}, Subtotal: 100, Total: 100}
	if _, err := SplitEarnings(order, PlatformSettings{CommissionRateBps: 20000}, time.Now(), sequentialIDs()); err == nil {
		t.Fatalf("expected out of range rate to fail")
	}
}
