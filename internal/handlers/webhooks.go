package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bazaarly/api/internal/platform/httpx"
	"github.com/bazaarly/api/internal/platform/observability"
	"github.com/bazaarly/api/internal/services"
)

const (
	maxWebhookBody         = 64 * 1024
	stripeSignatureHeader  = "Stripe-Signature"
	gatewaySignatureHeader = "X-Razorpay-Signature"
)

// WebhookHandlers receives payment provider callbacks. Authenticity comes from the provider
// signature, so the group carries no user authentication.
type WebhookHandlers struct {
	payments services.PaymentService
}

func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers POST /stripe and POST /gateway.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.receive("stripe", stripeSignatureHeader))
	r.Post("/gateway", h.receive("gateway", gatewaySignatureHeader))
}

type webhookResponse struct {
	Received       bool   `json:"received"`
	Outcome        string `json:"outcome"`
	OrderID        string `json:"orderId,omitempty"`
	AlreadySettled bool   `json:"alreadySettled,omitempty"`
}

func (h *WebhookHandlers) receive(provider, header string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.payments == nil {
			writeUnavailable(ctx, w, "payment")
			return
		}
		body, err := readLimitedBody(r, maxWebhookBody)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
			return
		}

		outcome, err := h.payments.HandleProviderEvent(ctx, services.ProviderEventCommand{
			Provider:  provider,
			Payload:   body,
			Signature: r.Header.Get(header),
		})
		if err != nil {
			if errors.Is(err, services.ErrPaymentSignatureMismatch) {
				observability.FromContext(ctx).Warn("webhook rejected", zap.String("provider", provider))
			}
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, webhookResponse{
			Received:       true,
			Outcome:        string(outcome.Kind),
			OrderID:        outcome.Order.ID,
			AlreadySettled: outcome.AlreadySettled,
		})
	}
}
