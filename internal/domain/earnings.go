package domain

import (
	"errors"
	"math"
	"math/bits"
	"time"
)

// PayoutStatus tracks a vendor earning through the payout workflow.
type PayoutStatus string

const (
	PayoutStatusUnpaid    PayoutStatus = "unpaid"
	PayoutStatusRequested PayoutStatus = "requested"
	PayoutStatusPaid      PayoutStatus = "paid"
	// PayoutStatusReversed is terminal: the order was refunded before the earning was paid out.
	PayoutStatusReversed PayoutStatus = "reversed"
)

// VendorEarning is the vendor's share of one settled order line.
type VendorEarning struct {
	ID                string
	VendorID          string
	OrderID           string
	ProductID         string
	GrossAmount       int64
	CommissionRateBps int64
	CommissionAmount  int64
	NetEarning        int64
	PayoutStatus      PayoutStatus
	PayoutRequestID   string
	SplitFromID       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PayoutMethod is the channel used to remit a payout.
type PayoutMethod string

const (
	PayoutMethodBank PayoutMethod = "bank"
	PayoutMethodUPI  PayoutMethod = "upi"
)

// Valid reports whether the payout method is supported.
func (m PayoutMethod) Valid() bool {
	return m == PayoutMethodBank || m == PayoutMethodUPI
}

// PayoutRequestStatus is the lifecycle state of a payout request.
type PayoutRequestStatus string

const (
	PayoutRequestPending   PayoutRequestStatus = "pending"
	PayoutRequestCompleted PayoutRequestStatus = "completed"
	PayoutRequestRejected  PayoutRequestStatus = "rejected"
)

// PayoutRequest is a vendor withdrawal against reserved earnings.
type PayoutRequest struct {
	ID                     string
	VendorID               string
	Amount                 int64
	Method                 PayoutMethod
	AccountDetailsSnapshot map[string]string
	Status                 PayoutRequestStatus
	EarningIDs             []string
	RequestedAt            time.Time
	ProcessedAt            *time.Time
	ProcessedBy            string
	Note                   string
}

// PayoutAccount is the vendor's saved remittance destination.
type PayoutAccount struct {
	VendorID  string
	Method    PayoutMethod
	Details   map[string]string
	UpdatedAt time.Time
}

// PayoutDecision is the admin verdict on a pending payout request.
type PayoutDecision string

const (
	PayoutDecisionApprove PayoutDecision = "approve"
	PayoutDecisionReject  PayoutDecision = "reject"
)

// ErrInsufficientEarnings is returned when unpaid earnings cannot cover a payout amount.
var ErrInsufficientEarnings = errors.New("domain: insufficient unpaid earnings")

// ReservationPlan describes the earning mutations needed to reserve a payout amount.
type ReservationPlan struct {
	// Reserved rows, already flipped to requested and tagged with the payout request id.
	Reserved []VendorEarning
	// Remainder is the unpaid slice split off the boundary earning, if any.
	Remainder *VendorEarning
	// UnpaidTotal is the sum of unpaid net earnings observed when planning.
	UnpaidTotal int64
}

// EarningIDs lists the reserved earning ids.
func (p ReservationPlan) EarningIDs() []string {
	ids := make([]string, 0, len(p.Reserved))
	for _, earning := range p.Reserved {
		ids = append(ids, earning.ID)
	}
	return ids
}

// PlanReservation picks unpaid earnings oldest-first until amount is covered.
// unpaid must already be ordered oldest-first. When the last chosen earning exceeds
// what is still needed it is partitioned so that the reserved net equals amount exactly.
func PlanReservation(unpaid []VendorEarning, amount int64, requestID string, now time.Time, newID func() string) (ReservationPlan, error) {
	plan := ReservationPlan{}
	for _, earning := range unpaid {
		if earning.PayoutStatus == PayoutStatusUnpaid {
			plan.UnpaidTotal += earning.NetEarning
		}
	}
	if amount <= 0 || amount > plan.UnpaidTotal {
		return ReservationPlan{UnpaidTotal: plan.UnpaidTotal}, ErrInsufficientEarnings
	}

	remaining := amount
	for _, earning := range unpaid {
		if remaining == 0 {
			break
		}
		if earning.PayoutStatus != PayoutStatusUnpaid || earning.NetEarning <= 0 {
			continue
		}
		if earning.NetEarning > remaining {
			reserved, rest := PartitionEarning(earning, remaining, newID())
			rest.UpdatedAt = now
			plan.Remainder = &rest
			earning = reserved
		}
		earning.PayoutStatus = PayoutStatusRequested
		earning.PayoutRequestID = requestID
		earning.UpdatedAt = now
		remaining -= earning.NetEarning
		plan.Reserved = append(plan.Reserved, earning)
	}
	return plan, nil
}

// PartitionEarning splits an earning into a slice carrying exactly net and a remainder row.
// Gross, commission, and net are conserved across the two rows.
func PartitionEarning(earning VendorEarning, net int64, remainderID string) (VendorEarning, VendorEarning) {
	head := earning
	head.NetEarning = net
	head.GrossAmount = MulDivHalfUp(earning.GrossAmount, net, earning.NetEarning)
	head.CommissionAmount = head.GrossAmount - net

	tail := earning
	tail.ID = remainderID
	tail.SplitFromID = earning.ID
	tail.NetEarning = earning.NetEarning - net
	tail.GrossAmount = earning.GrossAmount - head.GrossAmount
	tail.CommissionAmount = earning.CommissionAmount - head.CommissionAmount
	tail.PayoutStatus = PayoutStatusUnpaid
	tail.PayoutRequestID = ""
	return head, tail
}

// EarningsSummary aggregates vendor earnings by payout status.
type EarningsSummary struct {
	VendorID         string
	Unpaid           int64
	Requested        int64
	Paid             int64
	Reversed         int64
	CompletedPayouts int64
	Commission       int64
}

// Outstanding is paid earnings not yet matched by completed payouts. It is zero when the ledger is consistent.
func (s EarningsSummary) Outstanding() int64 {
	return s.Paid - s.CompletedPayouts
}

// SummariseEarnings totals earnings and completed payouts for one vendor.
func SummariseEarnings(vendorID string, earnings []VendorEarning, payouts []PayoutRequest) EarningsSummary {
	summary := EarningsSummary{VendorID: vendorID}
	for _, earning := range earnings {
		if earning.PayoutStatus == PayoutStatusReversed {
			summary.Reversed += earning.NetEarning
			continue
		}
		summary.Commission += earning.CommissionAmount
		switch earning.PayoutStatus {
		case PayoutStatusUnpaid:
			summary.Unpaid += earning.NetEarning
		case PayoutStatusRequested:
			summary.Requested += earning.NetEarning
		case PayoutStatusPaid:
			summary.Paid += earning.NetEarning
		}
	}
	for _, payout := range payouts {
		if payout.Status == PayoutRequestCompleted {
			summary.CompletedPayouts += payout.Amount
		}
	}
	return summary
}

// MulDivHalfUp computes a*b/c rounding half away from zero. c must be positive and the
// rounded quotient must fit in an int64; the product itself may not.
func MulDivHalfUp(a, b, c int64) int64 {
	negative := (a < 0) != (b < 0)
	q, r, ok := MulDiv(absUint(a), absUint(b), uint64(c))
	if !ok {
		q = math.MaxInt64
	} else if r >= uint64(c)-r && q < math.MaxInt64 {
		q++
	}
	if negative {
		return -int64(q)
	}
	return int64(q)
}

// MulDiv returns a*b/c and its remainder using a 128-bit intermediate product. ok is false
// when c is zero or the quotient does not fit in an int64.
func MulDiv(a, b, c uint64) (quotient, remainder uint64, ok bool) {
	if c == 0 {
		return 0, 0, false
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, 0, false
	}
	quotient, remainder = bits.Div64(hi, lo, c)
	if quotient > math.MaxInt64 {
		return 0, 0, false
	}
	return quotient, remainder, true
}

// CheckedMul multiplies two non-negative amounts, reporting false on overflow.
func CheckedMul(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

func absUint(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}
