package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/auth"
	"github.com/bazaarly/api/internal/platform/httpx"
	"github.com/bazaarly/api/internal/platform/pagination"
	"github.com/bazaarly/api/internal/platform/storage"
	"github.com/bazaarly/api/internal/services"
)

const maxPayoutRequestBody = 8 * 1024

// ReceiptLinker issues signed download links for archived payout receipts.
type ReceiptLinker interface {
	ReceiptDownloadURL(ctx context.Context, identity *auth.Identity, vendorID, payoutID string) (storage.SignedURLResult, error)
}

// VendorHandlers exposes earnings and payout endpoints to sellers.
type VendorHandlers struct {
	authn    *auth.Authenticator
	payouts  services.PayoutService
	receipts ReceiptLinker
	after    []func(http.Handler) http.Handler
}

// NewVendorHandlers constructs vendor handlers. receipts may be nil when no bucket is configured.
func NewVendorHandlers(authn *auth.Authenticator, payouts services.PayoutService, receipts ReceiptLinker, after ...func(http.Handler) http.Handler) *VendorHandlers {
	return &VendorHandlers{
		authn:    authn,
		payouts:  payouts,
		receipts: receipts,
		after:    after,
	}
}

// Routes registers the /vendor endpoints. Every route requires the vendor role.
func (h *VendorHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := guarded(r, h.authn, []string{auth.RoleVendor}, h.after)
	group.Get("/earnings", h.getEarnings)
	group.Get("/payouts", h.listPayouts)
	group.Post("/payouts", h.requestPayout)
	group.Get("/payouts/{payoutID}/receipt", h.receiptLink)
	group.Put("/payout-account", h.savePayoutAccount)
}

type requestPayoutRequest struct {
	Amount         int64             `json:"amount"`
	Method         string            `json:"method"`
	AccountDetails map[string]string `json:"accountDetails"`
}

type payoutAccountRequest struct {
	Method  string            `json:"method"`
	Details map[string]string `json:"details"`
}

type payoutAccountResponse struct {
	VendorID  string            `json:"vendorId"`
	Method    string            `json:"method"`
	Details   map[string]string `json:"details"`
	UpdatedAt string            `json:"updatedAt"`
}

type receiptLinkResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *VendorHandlers) getEarnings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		writeUnavailable(ctx, w, "payout")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	view, err := h.payouts.GetVendorEarnings(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildVendorEarningsResponse(identity.UID, view))
}

func (h *VendorHandlers) listPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		writeUnavailable(ctx, w, "payout")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	filter, ok := payoutFilterFromRequest(w, r)
	if !ok {
		return
	}
	filter.VendorID = identity.UID

	page, err := h.payouts.ListPayouts(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPayoutList(page, false))
}

func (h *VendorHandlers) requestPayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		writeUnavailable(ctx, w, "payout")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req requestPayoutRequest
	if !decodeJSONBody(w, r, maxPayoutRequestBody, false, &req) {
		return
	}

	request, err := h.payouts.RequestPayout(ctx, services.RequestPayoutCommand{
		VendorID:       identity.UID,
		Amount:         req.Amount,
		Method:         domain.PayoutMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		AccountDetails: req.AccountDetails,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildPayoutPayload(request, false))
}

func (h *VendorHandlers) savePayoutAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		writeUnavailable(ctx, w, "payout")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req payoutAccountRequest
	if !decodeJSONBody(w, r, maxPayoutRequestBody, false, &req) {
		return
	}

	account, err := h.payouts.SavePayoutAccount(ctx, services.SavePayoutAccountCommand{
		VendorID: identity.UID,
		Method:   domain.PayoutMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		Details:  req.Details,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, payoutAccountResponse{
		VendorID:  account.VendorID,
		Method:    string(account.Method),
		Details:   account.Details,
		UpdatedAt: formatTime(account.UpdatedAt),
	})
}

func (h *VendorHandlers) receiptLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.receipts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("receipts_unavailable", "payout receipts are not configured", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	payoutID := strings.TrimSpace(chi.URLParam(r, "payoutID"))

	link, err := h.receipts.ReceiptDownloadURL(ctx, identity, identity.UID, payoutID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrPermissionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "receipt belongs to another vendor", http.StatusForbidden))
		return
	case errors.Is(err, storage.ErrDownloadsDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("receipts_unavailable", "payout receipts are not configured", http.StatusServiceUnavailable))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	writeJSONResponse(w, http.StatusOK, receiptLinkResponse{URL: link.URL, ExpiresAt: formatTime(link.ExpiresAt)})
}

func payoutFilterFromRequest(w http.ResponseWriter, r *http.Request) (services.PayoutListFilter, bool) {
	pager, err := pagination.FromRequest(r)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.PayoutListFilter{}, false
	}
	filter := services.PayoutListFilter{Pagination: pager}
	if raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))); raw != "" {
		status := domain.PayoutRequestStatus(raw)
		switch status {
		case domain.PayoutRequestPending, domain.PayoutRequestCompleted, domain.PayoutRequestRejected:
			filter.Status = &status
		default:
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "status must be pending, completed or rejected", http.StatusBadRequest))
			return services.PayoutListFilter{}, false
		}
	}
	return filter, true
}

func buildPayoutList(page domain.CursorPage[services.PayoutRequest], includeEarnings bool) payoutListResponse {
	items := make([]payoutPayload, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, buildPayoutPayload(request, includeEarnings))
	}
	return payoutListResponse{Items: items, NextPageToken: page.NextPageToken}
}
