package services

import (
	"fmt"
	"math"
	"sort"

	domain "github.com/bazaarly/api/internal/domain"
)

const basisPointsDenominator = 10000

// maxQuoteAmount bounds a cart subtotal so that subtotal plus tax at any rate up to 100%
// cannot overflow.
const maxQuoteAmount = math.MaxInt64 / 2

// CalculateQuote prices a cart. It is pure and deterministic: subtotal is the sum of
// unit price times quantity, tax is charged on the subtotal when enabled, and the discount
// is capped at subtotal plus tax so that total == subtotal + tax - discount >= 0 always holds.
func CalculateQuote(lines []PriceLine, discount int64, tax TaxPolicy) (Quote, error) {
	var subtotal int64
	for i, line := range lines {
		if line.Quantity <= 0 {
			return Quote{}, fmt.Errorf("%w: line %d quantity must be positive", ErrOrderInvalidInput, i)
		}
		if line.UnitPrice < 0 {
			return Quote{}, fmt.Errorf("%w: line %d unit price must not be negative", ErrOrderInvalidInput, i)
		}
		lineTotal, ok := domain.CheckedMul(line.UnitPrice, line.Quantity)
		if !ok || lineTotal > maxQuoteAmount-subtotal {
			return Quote{}, fmt.Errorf("%w: cart total exceeds %d", ErrOrderInvalidInput, int64(maxQuoteAmount))
		}
		subtotal += lineTotal
	}
	if discount < 0 {
		return Quote{}, fmt.Errorf("%w: discount must not be negative", ErrOrderInvalidInput)
	}

	if tax.RateBps < 0 || tax.RateBps > basisPointsDenominator {
		return Quote{}, fmt.Errorf("%w: tax rate %d bps out of range", ErrOrderInvalidInput, tax.RateBps)
	}

	var taxAmount int64
	if tax.Enabled && tax.RateBps > 0 {
		taxAmount = domain.MulDivHalfUp(subtotal, tax.RateBps, basisPointsDenominator)
	}
	if ceiling := subtotal + taxAmount; discount > ceiling {
		discount = ceiling
	}
	return Quote{
		Subtotal:  subtotal,
		Discount:  discount,
		TaxAmount: taxAmount,
		Total:     subtotal + taxAmount - discount,
	}, nil
}

// allocateByWeight splits a non-negative amount across weights proportionally using largest
// remainders. The allocations always sum to amount.
func allocateByWeight(amount int64, weights []int64) []int64 {
	if len(weights) == 0 {
		return nil
	}
	allocations := make([]int64, len(weights))
	if amount == 0 {
		return allocations
	}
	var totalWeight uint64
	for _, w := range weights {
		if w > 0 {
			totalWeight += uint64(w)
		}
	}
	if totalWeight == 0 {
		base := amount / int64(len(weights))
		remainder := amount % int64(len(weights))
		for i := range weights {
			allocations[i] = base
			if remainder > 0 {
				allocations[i]++
				remainder--
			}
		}
		return allocations
	}

	type share struct {
		idx       int
		remainder uint64
	}
	shares := make([]share, len(weights))
	var distributed int64
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		q, r, _ := domain.MulDiv(uint64(amount), uint64(w), totalWeight)
		allocations[i] = int64(q)
		distributed += allocations[i]
		shares[i] = share{idx: i, remainder: r}
	}

	remainder := amount - distributed
	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].remainder == shares[j].remainder {
			return shares[i].idx < shares[j].idx
		}
		return shares[i].remainder > shares[j].remainder
	})
	for _, entry := range shares {
		if remainder == 0 {
			break
		}
		allocations[entry.idx]++
		remainder--
	}
	return allocations
}
