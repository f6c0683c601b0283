package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/auth"
	"github.com/bazaarly/api/internal/platform/httpx"
	"github.com/bazaarly/api/internal/platform/pagination"
	"github.com/bazaarly/api/internal/services"
)

const (
	maxOrderRequestBody   = 32 * 1024
	maxConfirmRequestBody = 4 * 1024
	confirmAttemptLimit   = 10
	confirmAttemptWindow  = time.Minute
)

// OrderHandlers exposes buyer checkout and payment confirmation endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
	after    []func(http.Handler) http.Handler
	attempts *attemptLimiter
}

// NewOrderHandlers constructs order handlers. after runs once the caller is authenticated.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, after ...func(http.Handler) http.Handler) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
		after:    after,
		attempts: newAttemptLimiter(confirmAttemptLimit, confirmAttemptWindow, nil),
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := guarded(r, h.authn, nil, h.after)
	group.Post("/", h.createOrder)
	group.Get("/", h.listOrders)
	group.Get("/{orderID}", h.getOrder)
	group.Post("/{orderID}/cancel", h.cancelOrder)
	group.Post("/{orderID}/payments/confirm", h.confirmPayment)
	group.Post("/{orderID}/payments/retry", h.retryPayment)
}

type cartLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

type addressRequest struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type personalDetailsRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

type createOrderRequest struct {
	Items                []cartLineRequest      `json:"items"`
	PaymentMethod        string                 `json:"paymentMethod"`
	CouponCode           string                 `json:"couponCode"`
	ProceedWithoutCoupon bool                   `json:"proceedWithoutCoupon"`
	ShippingAddress      addressRequest         `json:"shippingAddress"`
	PersonalDetails      personalDetailsRequest `json:"personalDetails"`
}

type couponRejectionPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type createOrderResponse struct {
	Order           orderPayload            `json:"order"`
	CouponRejection *couponRejectionPayload `json:"couponRejection,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type confirmPaymentRequest struct {
	Method          string `json:"method"`
	IntentID        string `json:"intentId"`
	ProviderOrderID string `json:"providerOrderId"`
	PaymentID       string `json:"paymentId"`
	Signature       string `json:"signature"`
}

type clientActionPayload struct {
	Provider        string `json:"provider"`
	ClientSecret    string `json:"clientSecret,omitempty"`
	ProviderOrderID string `json:"providerOrderId,omitempty"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type paymentOutcomeResponse struct {
	Outcome        string               `json:"outcome"`
	Order          orderPayload         `json:"order"`
	AlreadySettled bool                 `json:"alreadySettled,omitempty"`
	DeclineReason  string               `json:"declineReason,omitempty"`
	ClientAction   *clientActionPayload `json:"clientAction,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderRequestBody, false, &req) {
		return
	}

	lines := make([]services.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.CartLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	addr := req.ShippingAddress
	cmd := services.CreateOrderCommand{
		BuyerID:              identity.UID,
		Items:                lines,
		PaymentMethod:        domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		CouponCode:           strings.TrimSpace(req.CouponCode),
		ProceedWithoutCoupon: req.ProceedWithoutCoupon,
		ShippingAddress: services.Address{
			Recipient:  addr.Recipient,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		},
		PersonalDetails: services.PersonalDetails{
			FullName: req.PersonalDetails.FullName,
			Email:    req.PersonalDetails.Email,
			Phone:    req.PersonalDetails.Phone,
		},
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := createOrderResponse{Order: buildOrderPayload(result.Order)}
	if result.CouponRejection != nil {
		resp.CouponRejection = &couponRejectionPayload{
			Code:   result.CouponRejection.Code,
			Reason: string(result.CouponRejection.Reason),
		}
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	pager, err := pagination.FromRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{BuyerID: identity.UID, Pagination: pager})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
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

	order, err := h.orders.GetOrder(ctx, orderID, accessFor(identity))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
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
	var req cancelOrderRequest
	if !decodeJSONBody(w, r, maxConfirmRequestBody, true, &req) {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Access:  accessFor(identity),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
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
	if !h.attempts.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many payment attempts; wait before retrying", http.StatusTooManyRequests))
		return
	}
	var req confirmPaymentRequest
	if !decodeJSONBody(w, r, maxConfirmRequestBody, true, &req) {
		return
	}

	outcome, err := h.payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID: orderID,
		Method:  domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		Token: services.ProviderToken{
			IntentID:        strings.TrimSpace(req.IntentID),
			ProviderOrderID: strings.TrimSpace(req.ProviderOrderID),
			PaymentID:       strings.TrimSpace(req.PaymentID),
			Signature:       strings.TrimSpace(req.Signature),
		},
		Access: accessFor(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, outcomeStatus(outcome), buildOutcomeResponse(outcome))
}

func (h *OrderHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
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

	order, err := h.payments.RetryPayment(ctx, services.RetryPaymentCommand{
		OrderID: orderID,
		Access:  accessFor(identity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// outcomeStatus reports pending rails as 202 and declines as 402; the body always carries the outcome.
func outcomeStatus(outcome services.PaymentOutcome) int {
	switch outcome.Kind {
	case services.OutcomePending:
		return http.StatusAccepted
	case services.OutcomeDeclined:
		return http.StatusPaymentRequired
	default:
		return http.StatusOK
	}
}

func buildOutcomeResponse(outcome services.PaymentOutcome) paymentOutcomeResponse {
	resp := paymentOutcomeResponse{
		Outcome:        string(outcome.Kind),
		Order:          buildOrderPayload(outcome.Order),
		AlreadySettled: outcome.AlreadySettled,
		DeclineReason:  outcome.DeclineReason,
	}
	if action := outcome.ClientAction; action != nil {
		resp.ClientAction = &clientActionPayload{
			Provider:        action.Provider,
			ClientSecret:    action.ClientSecret,
			ProviderOrderID: action.ProviderOrderID,
			Amount:          action.Amount,
			Currency:        action.Currency,
		}
	}
	return resp
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func accessFor(identity *auth.Identity) services.OrderAccess {
	return services.OrderAccess{ActorID: identity.UID, Admin: identity.IsAdmin()}
}
