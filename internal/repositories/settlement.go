package repositories

import (
	"errors"
	"fmt"
	"sort"
	"time"

	domain "github.com/bazaarly/api/internal/domain"
)

// The helpers below hold the state-transition rules shared by every backend. Backends load
// the current rows inside their transaction, call the helper, and persist what it returns.

// RedeemCoupon consumes one use of the coupon, refusing when the usage limit is reached.
func RedeemCoupon(coupon domain.Coupon, at time.Time) (domain.Coupon, error) {
	if coupon.Exhausted() {
		return coupon, NewLedgerError("coupon.redeem", LedgerErrorCouponExhausted,
			fmt.Sprintf("coupon %s has no remaining uses", coupon.Code), nil)
	}
	coupon.UsedCount++
	coupon.UpdatedAt = at
	return coupon, nil
}

// ApplySettlement computes the settled order, wallet debit, and earnings for cmd.
// ledger is the buyer's full wallet history and is only consulted for wallet debits.
// When the order is already settled the result has AlreadySettled set and nothing must be written.
func ApplySettlement(order domain.Order, ledger []domain.WalletTransaction, cmd SettleCommand) (SettleResult, error) {
	const op = "order.settle"

	if order.Settled() {
		return SettleResult{Order: order, AlreadySettled: true}, nil
	}
	if order.OrderStatus == domain.OrderStatusCancelled {
		return SettleResult{}, NewLedgerError(op, LedgerErrorInvalidState,
			fmt.Sprintf("order %s is cancelled", order.ID), nil)
	}
	if !domain.CanTransitionPayment(order.PaymentStatus, domain.PaymentStatusCompleted) {
		return SettleResult{}, NewLedgerError(op, LedgerErrorInvalidState,
			fmt.Sprintf("order %s cannot settle from payment status %s", order.ID, order.PaymentStatus), nil)
	}
	if !order.TotalsConsistent() {
		return SettleResult{}, NewLedgerError(op, LedgerErrorInvariant,
			fmt.Sprintf("order %s totals do not reconcile", order.ID), nil)
	}

	result := SettleResult{}
	if cmd.WalletDebitID != "" {
		balance := domain.DeriveBalance(ledger)
		if balance < 0 {
			return SettleResult{}, NewLedgerError(op, LedgerErrorInvariant,
				fmt.Sprintf("wallet %s has negative derived balance %d", order.BuyerID, balance), nil)
		}
		if balance < order.Total {
			return SettleResult{}, NewLedgerError(op, LedgerErrorInsufficientFunds,
				fmt.Sprintf("wallet balance %d does not cover order total %d", balance, order.Total), nil)
		}
		if order.Total > 0 {
			result.Debit = &domain.WalletTransaction{
				ID:             cmd.WalletDebitID,
				UserID:         order.BuyerID,
				Type:           domain.WalletDebit,
				Amount:         order.Total,
				Description:    fmt.Sprintf("Payment for order %s", order.ID),
				RelatedOrderID: order.ID,
				CreatedAt:      cmd.SettledAt,
			}
		}
	}

	if cmd.Earnings != nil {
		earnings, err := cmd.Earnings(order)
		if err != nil {
			return SettleResult{}, err
		}
		for _, earning := range earnings {
			if earning.NetEarning != earning.GrossAmount-earning.CommissionAmount || earning.NetEarning < 0 {
				return SettleResult{}, NewLedgerError(op, LedgerErrorInvariant,
					fmt.Sprintf("earning %s does not reconcile", earning.ID), nil)
			}
		}
		result.Earnings = earnings
	}

	settledAt := cmd.SettledAt
	order.PaymentStatus = domain.PaymentStatusCompleted
	order.OrderStatus = domain.OrderStatusProcessing
	if cmd.Provider != "" {
		order.Payment.Provider = cmd.Provider
	}
	if cmd.ProviderRef != "" {
		order.Payment.ProviderRef = cmd.ProviderRef
	}
	order.Payment.FailureReason = ""
	order.Payment.SettledAt = &settledAt
	order.UpdatedAt = settledAt
	result.Order = order
	return result, nil
}

// ApplyRefund returns a settled order's total to the buyer's wallet and reverses the vendor
// earnings it produced. earnings must be every earning row recorded for the order. The refund
// is refused once any of those earnings has been reserved by or paid through a payout.
func ApplyRefund(order domain.Order, earnings []domain.VendorEarning, cmd RefundCommand) (RefundResult, error) {
	const op = "order.refund"

	if cmd.BuyerID != "" && order.BuyerID != cmd.BuyerID {
		return RefundResult{}, NewLedgerError(op, LedgerErrorOrderNotFound,
			fmt.Sprintf("order %s not found", order.ID), nil)
	}
	if order.Refunded() {
		return RefundResult{}, NewLedgerError(op, LedgerErrorAlreadyRefunded,
			fmt.Sprintf("order %s is already refunded", order.ID), nil)
	}
	if !order.Settled() {
		return RefundResult{}, NewLedgerError(op, LedgerErrorInvalidState,
			fmt.Sprintf("order %s has payment status %s", order.ID, order.PaymentStatus), nil)
	}
	if order.Total <= 0 {
		return RefundResult{}, NewLedgerError(op, LedgerErrorInvalidState,
			fmt.Sprintf("order %s has nothing to refund", order.ID), nil)
	}

	reversed := make([]domain.VendorEarning, 0, len(earnings))
	for _, earning := range earnings {
		if earning.OrderID != order.ID {
			return RefundResult{}, NewLedgerError(op, LedgerErrorInvariant,
				fmt.Sprintf("earning %s belongs to order %s", earning.ID, earning.OrderID), nil)
		}
		switch earning.PayoutStatus {
		case domain.PayoutStatusUnpaid:
		case domain.PayoutStatusReversed:
			continue
		default:
			return RefundResult{}, NewLedgerError(op, LedgerErrorEarningsCommitted,
				fmt.Sprintf("earning %s is already %s", earning.ID, earning.PayoutStatus), nil)
		}
		earning.PayoutStatus = domain.PayoutStatusReversed
		earning.UpdatedAt = cmd.RefundedAt
		reversed = append(reversed, earning)
	}

	refundedAt := cmd.RefundedAt
	order.OrderStatus = domain.OrderStatusRefunded
	order.Payment.RefundedAt = &refundedAt
	order.Payment.RefundReason = cmd.Reason
	order.UpdatedAt = refundedAt

	description := cmd.Description
	if description == "" {
		description = fmt.Sprintf("Refund for order %s", order.ID)
	}
	return RefundResult{
		Order: order,
		Credit: domain.WalletTransaction{
			ID:             cmd.CreditID,
			UserID:         order.BuyerID,
			Type:           domain.WalletCredit,
			Amount:         order.Total,
			Description:    description,
			RelatedOrderID: order.ID,
			CreatedAt:      refundedAt,
		},
		Reversed: reversed,
	}, nil
}

// SortEarningsOldestFirst orders earnings by creation time, then id.
func SortEarningsOldestFirst(earnings []domain.VendorEarning) {
	sort.SliceStable(earnings, func(i, j int) bool {
		if earnings[i].CreatedAt.Equal(earnings[j].CreatedAt) {
			return earnings[i].ID < earnings[j].ID
		}
		return earnings[i].CreatedAt.Before(earnings[j].CreatedAt)
	})
}

// PlanPayout reserves unpaid earnings for request. unpaid may be in any order.
func PlanPayout(request domain.PayoutRequest, unpaid []domain.VendorEarning, newID func() string) (domain.PayoutRequest, domain.ReservationPlan, error) {
	candidates := make([]domain.VendorEarning, len(unpaid))
	copy(candidates, unpaid)
	SortEarningsOldestFirst(candidates)

	plan, err := domain.PlanReservation(candidates, request.Amount, request.ID, request.RequestedAt, newID)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientEarnings) {
			return domain.PayoutRequest{}, plan, NewLedgerError("payout.reserve", LedgerErrorInsufficientEarnings,
				fmt.Sprintf("unpaid earnings %d do not cover %d", plan.UnpaidTotal, request.Amount), err)
		}
		return domain.PayoutRequest{}, plan, err
	}
	request.Status = domain.PayoutRequestPending
	request.EarningIDs = plan.EarningIDs()
	return request, plan, nil
}

// ApplyPayoutDecision transitions a pending request and the earnings it reserved.
func ApplyPayoutDecision(request domain.PayoutRequest, earnings []domain.VendorEarning, cmd ProcessPayoutCommand) (domain.PayoutRequest, []domain.VendorEarning, error) {
	const op = "payout.process"

	if request.Status != domain.PayoutRequestPending {
		return domain.PayoutRequest{}, nil, NewLedgerError(op, LedgerErrorInvalidState,
			fmt.Sprintf("payout %s is already %s", request.ID, request.Status), nil)
	}

	var next domain.PayoutStatus
	switch cmd.Decision {
	case domain.PayoutDecisionApprove:
		next = domain.PayoutStatusPaid
		request.Status = domain.PayoutRequestCompleted
	case domain.PayoutDecisionReject:
		next = domain.PayoutStatusUnpaid
		request.Status = domain.PayoutRequestRejected
	default:
		return domain.PayoutRequest{}, nil, NewLedgerError(op, LedgerErrorInvalidState,
			fmt.Sprintf("unknown payout decision %q", cmd.Decision), nil)
	}

	var reserved int64
	updated := make([]domain.VendorEarning, 0, len(earnings))
	for _, earning := range earnings {
		if earning.PayoutStatus != domain.PayoutStatusRequested || earning.PayoutRequestID != request.ID {
			return domain.PayoutRequest{}, nil, NewLedgerError(op, LedgerErrorInvariant,
				fmt.Sprintf("earning %s is not reserved by payout %s", earning.ID, request.ID), nil)
		}
		reserved += earning.NetEarning
		earning.PayoutStatus = next
		if next == domain.PayoutStatusUnpaid {
			earning.PayoutRequestID = ""
		}
		earning.UpdatedAt = cmd.ProcessedAt
		updated = append(updated, earning)
	}
	if reserved != request.Amount {
		return domain.PayoutRequest{}, nil, NewLedgerError(op, LedgerErrorInvariant,
			fmt.Sprintf("payout %s reserves %d but requests %d", request.ID, reserved, request.Amount), nil)
	}

	processedAt := cmd.ProcessedAt
	request.ProcessedAt = &processedAt
	request.ProcessedBy = cmd.ProcessedBy
	request.Note = cmd.Note
	return request, updated, nil
}

// NextSettingsVersion stamps settings as the version following current.
func NextSettingsVersion(current *domain.PlatformSettings, next domain.PlatformSettings) domain.PlatformSettings {
	next.Version = 1
	if current != nil {
		next.Version = current.Version + 1
	}
	return next
}
