package repositories

import (
	"errors"
	"fmt"
)

// LedgerErrorCode enumerates why a money-moving transaction was refused.
type LedgerErrorCode string

const (
	// LedgerErrorCouponNotFound indicates the coupon to redeem does not exist.
	LedgerErrorCouponNotFound LedgerErrorCode = "coupon_not_found"
	// LedgerErrorCouponExhausted indicates the conditional usage increment lost the race.
	LedgerErrorCouponExhausted LedgerErrorCode = "coupon_exhausted"
	// LedgerErrorOrderNotFound indicates the order does not exist.
	LedgerErrorOrderNotFound LedgerErrorCode = "order_not_found"
	// LedgerErrorInvalidState indicates the current status forbids the transition.
	LedgerErrorInvalidState LedgerErrorCode = "invalid_state"
	// LedgerErrorInsufficientFunds indicates the derived wallet balance cannot cover a debit.
	LedgerErrorInsufficientFunds LedgerErrorCode = "insufficient_funds"
	// LedgerErrorInsufficientEarnings indicates unpaid earnings cannot cover a payout.
	LedgerErrorInsufficientEarnings LedgerErrorCode = "insufficient_earnings"
	// LedgerErrorPayoutNotFound indicates the payout request does not exist.
	LedgerErrorPayoutNotFound LedgerErrorCode = "payout_not_found"
	// LedgerErrorAlreadyRefunded indicates the order was refunded before.
	LedgerErrorAlreadyRefunded LedgerErrorCode = "already_refunded"
	// LedgerErrorEarningsCommitted indicates order earnings are already reserved or paid out.
	LedgerErrorEarningsCommitted LedgerErrorCode = "earnings_committed"
	// LedgerErrorInvariant indicates persisted data violates a ledger invariant. It is never retryable.
	LedgerErrorInvariant LedgerErrorCode = "ledger_invariant"
)

// LedgerError wraps ledger failures with machine readable codes.
type LedgerError struct {
	Op      string
	Code    LedgerErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the referenced entity is missing.
func (e *LedgerError) IsNotFound() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case LedgerErrorCouponNotFound, LedgerErrorOrderNotFound, LedgerErrorPayoutNotFound:
		return true
	}
	return false
}

// IsConflict reports whether the world changed underneath the request.
func (e *LedgerError) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case LedgerErrorCouponExhausted, LedgerErrorInvalidState, LedgerErrorInsufficientFunds, LedgerErrorInsufficientEarnings,
		LedgerErrorAlreadyRefunded, LedgerErrorEarningsCommitted:
		return true
	}
	return false
}

// IsUnavailable is always false; ledger errors are decisions, not outages.
func (e *LedgerError) IsUnavailable() bool {
	return false
}

// NewLedgerError constructs a typed ledger error.
func NewLedgerError(op string, code LedgerErrorCode, message string, err error) *LedgerError {
	if message == "" {
		message = string(code)
	}
	return &LedgerError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// LedgerErrorCodeOf extracts the ledger code from err, if any.
func LedgerErrorCodeOf(err error) (LedgerErrorCode, bool) {
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) && ledgerErr != nil {
		return ledgerErr.Code, true
	}
	return "", false
}
