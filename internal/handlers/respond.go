package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bazaarly/api/internal/platform/auth"
	"github.com/bazaarly/api/internal/platform/httpx"
	"github.com/bazaarly/api/internal/platform/observability"
	"github.com/bazaarly/api/internal/services"
)

const defaultMaxBodySize = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and unmarshals the body into dst, writing the error response itself.
// optional bodies accept an empty payload and leave dst untouched.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, optional bool, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func guarded(r chi.Router, authn *auth.Authenticator, roles []string, after []func(http.Handler) http.Handler) chi.Router {
	group := r
	if authn != nil {
		group = group.With(authn.RequireFirebaseAuth(roles...))
	}
	for _, mw := range after {
		if mw != nil {
			group = group.With(mw)
		}
	}
	return group
}

// writeServiceError maps service sentinels onto the JSON error envelope. Conflicts caused by
// concurrent state changes use requote_required so clients refresh before retrying.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		unavailable *services.ItemUnavailableError
		rejection   *services.CouponRejection
	)
	switch {
	case errors.As(err, &unavailable):
		httpx.WriteError(ctx, w, httpx.NewError("item_unavailable", "an item in the cart can no longer be purchased", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"productId": unavailable.ProductID, "reason": unavailable.Reason}))
	case errors.As(err, &rejection):
		details := map[string]any{"couponCode": rejection.Code, "reason": string(rejection.Reason)}
		if rejection.Conflict() {
			httpx.WriteError(ctx, w, httpx.NewError("requote_required", "coupon was used up while the order was being placed", http.StatusConflict).WithDetails(details))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", "coupon cannot be applied", http.StatusUnprocessableEntity).WithDetails(details))
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no items", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCouponInvalidInput),
		errors.Is(err, services.ErrPaymentInvalidInput),
		errors.Is(err, services.ErrWalletInvalidInput),
		errors.Is(err, services.ErrPayoutInvalidInput),
		errors.Is(err, services.ErrSettingsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPayoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payout_not_found", "payout request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict),
		errors.Is(err, services.ErrInsufficientFunds):
		httpx.WriteError(ctx, w, httpx.NewError("requote_required", "the order changed while the request was processed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrInsufficientEarnings):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_earnings", "unpaid earnings do not cover the requested amount", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", "order is not in a state that allows this action", http.StatusConflict))
	case errors.Is(err, services.ErrPayoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payout_conflict", "payout request was already processed", http.StatusConflict))
	case errors.Is(err, services.ErrWalletConflict):
		httpx.WriteError(ctx, w, httpx.NewError("wallet_conflict", "wallet entry already recorded", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentMethodDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_disabled", "payment method is not accepted", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPayoutBelowMinimum):
		httpx.WriteError(ctx, w, httpx.NewError("payout_below_minimum", "amount is below the minimum payout", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPayoutAccountMissing):
		httpx.WriteError(ctx, w, httpx.NewError("payout_account_missing", "save a payout account before requesting a payout", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentSignatureMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("signature_mismatch", "payment signature could not be verified", http.StatusUnauthorized))
	case errors.Is(err, services.ErrPaymentProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", "payment provider unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrSettingsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("settings_unavailable", "platform settings have not been published", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrLedgerInvariant):
		observability.FromContext(ctx).Error("ledger_violation", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("ledger_violation", "ledger invariant violated", http.StatusInternalServerError))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		observability.FromContext(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}
