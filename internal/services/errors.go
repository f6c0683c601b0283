package services

import (
	"errors"
	"fmt"

	"github.com/bazaarly/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrEmptyCart rejects checkouts without any line items.
	ErrEmptyCart = errors.New("order: cart is empty")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the order changed underneath the request.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrItemUnavailable is matched by *ItemUnavailableError.
	ErrItemUnavailable = errors.New("order: item unavailable")

	// ErrCouponRejected is matched by *CouponRejection.
	ErrCouponRejected = errors.New("coupon: rejected")
	// ErrCouponInvalidInput signals malformed coupon definitions.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")

	// ErrPaymentInvalidInput signals malformed confirmation requests.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentMethodDisabled indicates the platform does not accept the method.
	ErrPaymentMethodDisabled = errors.New("payment: method disabled")
	// ErrPaymentProviderUnavailable indicates the PSP could not be reached or is not configured.
	ErrPaymentProviderUnavailable = errors.New("payment: provider unavailable")
	// ErrPaymentSignatureMismatch indicates a callback failed cryptographic verification.
	ErrPaymentSignatureMismatch = errors.New("payment: signature mismatch")

	// ErrInsufficientFunds indicates the derived wallet balance cannot cover the debit.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	// ErrWalletInvalidInput signals invalid wallet commands.
	ErrWalletInvalidInput = errors.New("wallet: invalid input")
	// ErrWalletConflict indicates a duplicate ledger entry.
	ErrWalletConflict = errors.New("wallet: conflict")

	// ErrPayoutInvalidInput signals invalid payout commands.
	ErrPayoutInvalidInput = errors.New("payout: invalid input")
	// ErrPayoutBelowMinimum indicates the amount is under the platform minimum payout.
	ErrPayoutBelowMinimum = errors.New("payout: amount below minimum")
	// ErrPayoutAccountMissing indicates the vendor has no saved payout account.
	ErrPayoutAccountMissing = errors.New("payout: payout account missing")
	// ErrInsufficientEarnings indicates unpaid earnings cannot cover the requested amount.
	ErrInsufficientEarnings = errors.New("payout: insufficient unpaid earnings")
	// ErrPayoutNotFound indicates the payout request does not exist.
	ErrPayoutNotFound = errors.New("payout: not found")
	// ErrPayoutConflict indicates the request was already processed.
	ErrPayoutConflict = errors.New("payout: conflict")

	// ErrSettingsInvalidInput signals invalid platform settings.
	ErrSettingsInvalidInput = errors.New("settings: invalid input")
	// ErrSettingsUnavailable indicates no settings snapshot has been published.
	ErrSettingsUnavailable = errors.New("settings: unavailable")

	// ErrLedgerInvariant marks persisted state that violates a money invariant. Never retried.
	ErrLedgerInvariant = errors.New("ledger: invariant violated")
)

// ItemUnavailableError reports a cart product that can no longer be purchased.
type ItemUnavailableError struct {
	ProductID string
	Reason    string
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("order: item %s unavailable: %s", e.ProductID, e.Reason)
}

func (e *ItemUnavailableError) Is(target error) bool {
	return target == ErrItemUnavailable
}

// CouponRejectReason enumerates why a coupon was not applied.
type CouponRejectReason string

const (
	CouponRejectNotFound      CouponRejectReason = "not_found"
	CouponRejectExpired       CouponRejectReason = "expired"
	CouponRejectExhausted     CouponRejectReason = "exhausted"
	CouponRejectMinPurchase   CouponRejectReason = "min_purchase_not_met"
	CouponRejectNotApplicable CouponRejectReason = "not_applicable"
)

// CouponRejection reports why a coupon cannot be applied.
type CouponRejection struct {
	Code   string
	Reason CouponRejectReason
}

func (e *CouponRejection) Error() string {
	return fmt.Sprintf("coupon: %s rejected: %s", e.Code, e.Reason)
}

func (e *CouponRejection) Is(target error) bool {
	return target == ErrCouponRejected
}

// Conflict reports whether the rejection was caused by a concurrent redemption.
func (e *CouponRejection) Conflict() bool {
	return e.Reason == CouponRejectExhausted
}

// translateLedgerError maps repository ledger codes onto service sentinels.
func translateLedgerError(err error) error {
	code, ok := repositories.LedgerErrorCodeOf(err)
	if !ok {
		return err
	}
	switch code {
	case repositories.LedgerErrorOrderNotFound:
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case repositories.LedgerErrorInvalidState:
		return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
	case repositories.LedgerErrorInsufficientFunds:
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case repositories.LedgerErrorInsufficientEarnings:
		return fmt.Errorf("%w: %v", ErrInsufficientEarnings, err)
	case repositories.LedgerErrorPayoutNotFound:
		return fmt.Errorf("%w: %v", ErrPayoutNotFound, err)
	case repositories.LedgerErrorInvariant:
		return fmt.Errorf("%w: %v", ErrLedgerInvariant, err)
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
