package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/auth"
	"github.com/bazaarly/api/internal/platform/httpx"
	"github.com/bazaarly/api/internal/services"
)

const maxAdminRequestBody = 16 * 1024

// AdminServices groups the services reachable from the admin console.
type AdminServices struct {
	Orders   services.OrderService
	Payments services.PaymentService
	Payouts  services.PayoutService
	Settings services.SettingsService
	Coupons  services.CouponService
	Wallets  services.WalletService
}

// AdminHandlers exposes platform operations to administrators.
type AdminHandlers struct {
	authn *auth.Authenticator
	svc   AdminServices
	after []func(http.Handler) http.Handler
}

func NewAdminHandlers(authn *auth.Authenticator, svc AdminServices, after ...func(http.Handler) http.Handler) *AdminHandlers {
	return &AdminHandlers{authn: authn, svc: svc, after: after}
}

// Routes registers the /admin endpoints behind the admin role.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := guarded(r, h.authn, []string{auth.RoleAdmin}, h.after)
	group.Get("/orders/{orderID}", h.getOrder)
	group.Post("/orders/{orderID}/cash-collected", h.markCashCollected)
	group.Get("/payouts", h.listPayouts)
	group.Post("/payouts/{payoutID}/decision", h.decidePayout)
	group.Get("/settings", h.getSettings)
	group.Put("/settings", h.updateSettings)
	group.Put("/coupons/{code}", h.upsertCoupon)
	group.Post("/wallets/{userID}/credits", h.creditWallet)
}

type payoutDecisionRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

type updateSettingsRequest struct {
	Currency              string   `json:"currency"`
	CommissionRateBps     int64    `json:"commissionRateBps"`
	TaxEnabled            bool     `json:"taxEnabled"`
	TaxRateBps            int64    `json:"taxRateBps"`
	MinimumPayout         int64    `json:"minimumPayout"`
	EnabledPaymentMethods []string `json:"enabledPaymentMethods"`
}

type upsertCouponRequest struct {
	Type                 string   `json:"type"`
	Value                int64    `json:"value"`
	MinPurchase          int64    `json:"minPurchase"`
	MaxDiscount          int64    `json:"maxDiscount"`
	UsageLimit           int64    `json:"usageLimit"`
	ExpiresAt            string   `json:"expiresAt"`
	ApplicableProducts   []string `json:"applicableProducts"`
	ApplicableCategories []string `json:"applicableCategories"`
}

// walletCreditRequest tops up a wallet, or refunds a settled order when orderId is set.
type walletCreditRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	OrderID     string `json:"orderId"`
	Reason      string `json:"reason"`
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.svc.Orders.GetOrder(ctx, orderID, services.OrderAccess{ActorID: identity.UID, Admin: true})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) markCashCollected(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	outcome, err := h.svc.Payments.MarkCashCollected(ctx, services.CashCollectedCommand{OrderID: orderID, AdminID: identity.UID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOutcomeResponse(outcome))
}

func (h *AdminHandlers) listPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Payouts == nil {
		writeUnavailable(ctx, w, "payout")
		return
	}
	filter, ok := payoutFilterFromRequest(w, r)
	if !ok {
		return
	}
	filter.VendorID = strings.TrimSpace(r.URL.Query().Get("vendorId"))

	page, err := h.svc.Payouts.ListPayouts(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPayoutList(page, true))
}

func (h *AdminHandlers) decidePayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Payouts == nil {
		writeUnavailable(ctx, w, "payout")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	payoutID := strings.TrimSpace(chi.URLParam(r, "payoutID"))
	var req payoutDecisionRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, false, &req) {
		return
	}

	request, err := h.svc.Payouts.ProcessPayout(ctx, services.ProcessPayoutCommand{
		RequestID: payoutID,
		Decision:  domain.PayoutDecision(strings.ToLower(strings.TrimSpace(req.Decision))),
		AdminID:   identity.UID,
		Note:      strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPayoutPayload(request, true))
}

func (h *AdminHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Settings == nil {
		writeUnavailable(ctx, w, "settings")
		return
	}
	settings, err := h.svc.Settings.Current(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSettingsPayload(settings))
}

func (h *AdminHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Settings == nil {
		writeUnavailable(ctx, w, "settings")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req updateSettingsRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, false, &req) {
		return
	}

	methods := make([]services.PaymentMethod, 0, len(req.EnabledPaymentMethods))
	for _, method := range req.EnabledPaymentMethods {
		methods = append(methods, domain.PaymentMethod(strings.ToLower(strings.TrimSpace(method))))
	}
	settings, err := h.svc.Settings.Update(ctx, services.UpdateSettingsCommand{
		Currency:              req.Currency,
		CommissionRateBps:     req.CommissionRateBps,
		TaxEnabled:            req.TaxEnabled,
		TaxRateBps:            req.TaxRateBps,
		MinimumPayout:         req.MinimumPayout,
		EnabledPaymentMethods: methods,
		ActorID:               identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSettingsPayload(settings))
}

func (h *AdminHandlers) upsertCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req upsertCouponRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, false, &req) {
		return
	}

	var expiresAt time.Time
	if raw := strings.TrimSpace(req.ExpiresAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expiresAt must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		expiresAt = parsed.UTC()
	}
	coupon, err := h.svc.Coupons.Upsert(ctx, services.UpsertCouponCommand{
		Code:                 chi.URLParam(r, "code"),
		Type:                 domain.CouponType(strings.ToLower(strings.TrimSpace(req.Type))),
		Value:                req.Value,
		MinPurchase:          req.MinPurchase,
		MaxDiscount:          req.MaxDiscount,
		UsageLimit:           req.UsageLimit,
		ExpiresAt:            expiresAt,
		ApplicableProducts:   req.ApplicableProducts,
		ApplicableCategories: req.ApplicableCategories,
		ActorID:              identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCouponPayload(coupon))
}

func (h *AdminHandlers) creditWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc.Wallets == nil {
		writeUnavailable(ctx, w, "wallet")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	var req walletCreditRequest
	if !decodeJSONBody(w, r, maxAdminRequestBody, false, &req) {
		return
	}

	var (
		txn services.WalletTransaction
		err error
	)
	if orderID := strings.TrimSpace(req.OrderID); orderID != "" {
		txn, err = h.svc.Wallets.Refund(ctx, services.WalletRefundCommand{
			UserID:  userID,
			OrderID: orderID,
			Reason:  strings.TrimSpace(req.Reason),
			ActorID: identity.UID,
		})
	} else {
		txn, err = h.svc.Wallets.TopUp(ctx, services.WalletTopUpCommand{
			UserID:      userID,
			Amount:      req.Amount,
			Description: strings.TrimSpace(req.Description),
			ActorID:     identity.UID,
		})
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildWalletTransactionPayload(txn))
}
