package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bazaarly/api/internal/platform/httpx"
	"github.com/bazaarly/api/internal/services"
)

// InternalHandlers serves service-to-service maintenance endpoints. The router guards the group
// with OIDC verification.
type InternalHandlers struct {
	wallets services.WalletService
}

func NewInternalHandlers(wallets services.WalletService) *InternalHandlers {
	return &InternalHandlers{wallets: wallets}
}

func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/wallets/{userID}/reconcile", h.reconcileWallet)
}

func (h *InternalHandlers) reconcileWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wallets == nil {
		writeUnavailable(ctx, w, "wallet")
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}
	balance, err := h.wallets.Reconcile(ctx, userID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildWalletBalancePayload(balance))
}
