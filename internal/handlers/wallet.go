package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bazaarly/api/internal/platform/auth"
	"github.com/bazaarly/api/internal/services"
)

// WalletHandlers serves the caller's own wallet under /me.
type WalletHandlers struct {
	authn   *auth.Authenticator
	wallets services.WalletService
}

func NewWalletHandlers(authn *auth.Authenticator, wallets services.WalletService) *WalletHandlers {
	return &WalletHandlers{authn: authn, wallets: wallets}
}

// Routes registers GET /wallet.
func (h *WalletHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := guarded(r, h.authn, nil, nil)
	group.Get("/wallet", h.getWallet)
}

type walletResponse struct {
	walletBalancePayload
	Transactions []walletTransactionPayload `json:"transactions"`
}

func (h *WalletHandlers) getWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wallets == nil {
		writeUnavailable(ctx, w, "wallet")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	balance, err := h.wallets.GetBalance(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	txns, err := h.wallets.ListTransactions(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := walletResponse{
		walletBalancePayload: buildWalletBalancePayload(balance),
		Transactions:         make([]walletTransactionPayload, 0, len(txns)),
	}
	for _, txn := range txns {
		resp.Transactions = append(resp.Transactions, buildWalletTransactionPayload(txn))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
