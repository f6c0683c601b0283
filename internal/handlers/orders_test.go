package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/services"
)

func sampleOrder(id, buyerID string) services.Order {
	return services.Order{
		ID:      id,
		BuyerID: buyerID,
		Items: []services.OrderItem{
			{ProductID: "p1", VendorID: "v1", Title: "Desk lamp", UnitPriceAtPurchase: 10000, Quantity: 1},
		},
		CouponCode:    "SAVE20",
		Currency:      "USD",
		Subtotal:      10000,
		Discount:      2000,
		Total:         8000,
		PaymentMethod: domain.PaymentMethodWallet,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		CreatedAt:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newOrderRouter(orders services.OrderService, payments services.PaymentService) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, orders, payments).Routes)
	return router
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			captured = cmd
			return services.CreateOrderResult{
				Order:           sampleOrder("ord_1", cmd.BuyerID),
				CouponRejection: &services.CouponRejection{Code: "OLD", Reason: services.CouponRejectExpired},
			}, nil
		},
	}
	router := newOrderRouter(orders, nil)

	body := `{"items":[{"productId":" p1 ","quantity":1}],"paymentMethod":"Wallet","couponCode":"old","proceedWithoutCoupon":true,
		"shippingAddress":{"recipient":"Ada","line1":"1 Row","city":"London","postalCode":"N1","country":"GB"},
		"personalDetails":{"fullName":"Ada","email":"ada@example.com"}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders", body, buyer("buyer-1")))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "buyer-1" || captured.PaymentMethod != domain.PaymentMethodWallet || !captured.ProceedWithoutCoupon {
		t.Fatalf("unexpected command %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "p1" {
		t.Fatalf("expected trimmed product id, got %+v", captured.Items)
	}

	var resp createOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.Total != 8000 || resp.Order.Items[0].LineTotal != 10000 {
		t.Fatalf("unexpected order payload %+v", resp.Order)
	}
	if resp.CouponRejection == nil || resp.CouponRejection.Reason != "expired" {
		t.Fatalf("expected coupon rejection in response, got %+v", resp.CouponRejection)
	}
}

func TestOrderHandlersCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "empty cart", err: services.ErrEmptyCart, wantStatus: http.StatusBadRequest, wantCode: "empty_cart"},
		{name: "item unavailable", err: &services.ItemUnavailableError{ProductID: "p3", Reason: "not approved"}, wantStatus: http.StatusUnprocessableEntity, wantCode: "item_unavailable"},
		{name: "coupon ineligible", err: &services.CouponRejection{Code: "BIG", Reason: services.CouponRejectMinPurchase}, wantStatus: http.StatusUnprocessableEntity, wantCode: "coupon_rejected"},
		{name: "coupon raced", err: &services.CouponRejection{Code: "LAST", Reason: services.CouponRejectExhausted}, wantStatus: http.StatusConflict, wantCode: "requote_required"},
		{name: "method disabled", err: services.ErrPaymentMethodDisabled, wantStatus: http.StatusUnprocessableEntity, wantCode: "payment_method_disabled"},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
					return services.CreateOrderResult{}, fmt.Errorf("wrapped: %w", tc.err)
				},
			}
			rr := httptest.NewRecorder()
			newOrderRouter(orders, nil).ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders", `{"items":[]}`, buyer("buyer-1")))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.wantCode {
				t.Fatalf("expected code %s, got %v", tc.wantCode, body["error"])
			}
		})
	}
}

func TestOrderHandlersRequireIdentityAndBody(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders", `{}`, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders", `{not json`, buyer("buyer-1")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rr.Code)
	}
}

func TestOrderHandlersGetPassesAccess(t *testing.T) {
	var gotAccess services.OrderAccess
	orders := &stubOrderService{
		getFn: func(_ context.Context, orderID string, access services.OrderAccess) (services.Order, error) {
			gotAccess = access
			if orderID != "ord_9" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(orderID, access.ActorID), nil
		},
	}
	router := newOrderRouter(orders, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/orders/ord_9", "", buyer("buyer-7")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotAccess.ActorID != "buyer-7" || gotAccess.Admin {
		t.Fatalf("unexpected access %+v", gotAccess)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/orders/ord_other", "", buyer("buyer-7")))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestOrderHandlersListUsesCallerAndPaging(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("ord_1", filter.BuyerID)},
				NextPageToken: "next",
			}, nil
		},
	}
	rr := httptest.NewRecorder()
	newOrderRouter(orders, nil).ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/orders?pageSize=5", "", buyer("buyer-3")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.BuyerID != "buyer-3" || captured.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %+v", captured)
	}
	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected list %+v", resp)
	}

	rr = httptest.NewRecorder()
	newOrderRouter(orders, nil).ServeHTTP(rr, newAuthedRequest(http.MethodGet, "/orders?pageSize=-1", "", buyer("buyer-3")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid page size, got %d", rr.Code)
	}
}

func TestOrderHandlersConfirmOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		outcome    services.PaymentOutcome
		wantStatus int
	}{
		{name: "settled", outcome: services.PaymentOutcome{Kind: services.OutcomeSettled}, wantStatus: http.StatusOK},
		{name: "pending", outcome: services.PaymentOutcome{Kind: services.OutcomePending, ClientAction: &services.ClientAction{Provider: "stripe", ClientSecret: "pi_1_secret", Amount: 8000, Currency: "USD"}}, wantStatus: http.StatusAccepted},
		{name: "declined", outcome: services.PaymentOutcome{Kind: services.OutcomeDeclined, DeclineReason: "insufficient_funds"}, wantStatus: http.StatusPaymentRequired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured services.ConfirmPaymentCommand
			payments := &stubPaymentService{
				confirmFn: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentOutcome, error) {
					captured = cmd
					outcome := tc.outcome
					outcome.Order = sampleOrder(cmd.OrderID, cmd.Access.ActorID)
					return outcome, nil
				},
			}
			rr := httptest.NewRecorder()
			body := `{"method":"gateway","providerOrderId":"order_1","paymentId":"pay_1","signature":"sig"}`
			newOrderRouter(nil, payments).ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1/payments/confirm", body, buyer("buyer-1")))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			if captured.OrderID != "ord_1" || captured.Method != domain.PaymentMethodGateway || captured.Token.PaymentID != "pay_1" {
				t.Fatalf("unexpected command %+v", captured)
			}
			var resp paymentOutcomeResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Outcome != string(tc.outcome.Kind) {
				t.Fatalf("expected outcome %s, got %s", tc.outcome.Kind, resp.Outcome)
			}
			if (tc.outcome.ClientAction != nil) != (resp.ClientAction != nil) {
				t.Fatalf("client action mismatch %+v", resp.ClientAction)
			}
		})
	}
}

func TestOrderHandlersConfirmErrors(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{err: services.ErrPaymentSignatureMismatch, wantStatus: http.StatusUnauthorized},
		{err: services.ErrPaymentProviderUnavailable, wantStatus: http.StatusBadGateway},
		{err: services.ErrOrderInvalidState, wantStatus: http.StatusConflict},
		{err: services.ErrInsufficientFunds, wantStatus: http.StatusConflict},
		{err: services.ErrLedgerInvariant, wantStatus: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		payments := &stubPaymentService{
			confirmFn: func(context.Context, services.ConfirmPaymentCommand) (services.PaymentOutcome, error) {
				return services.PaymentOutcome{}, tc.err
			},
		}
		rr := httptest.NewRecorder()
		newOrderRouter(nil, payments).ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1/payments/confirm", "", buyer("buyer-1")))
		if rr.Code != tc.wantStatus {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.wantStatus, rr.Code)
		}
	}
}

func TestOrderHandlersConfirmRateLimited(t *testing.T) {
	payments := &stubPaymentService{
		confirmFn: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentOutcome, error) {
			return services.PaymentOutcome{Kind: services.OutcomePending, Order: sampleOrder(cmd.OrderID, "buyer-1")}, nil
		},
	}
	router := newOrderRouter(nil, payments)
	for i := 0; i < confirmAttemptLimit; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1/payments/confirm", "", buyer("buyer-1")))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("attempt %d: expected 202, got %d", i, rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1/payments/confirm", "", buyer("buyer-1")))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1/payments/confirm", "", buyer("buyer-2")))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected other buyers to be unaffected, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelAndRetry(t *testing.T) {
	var cancelled services.CancelOrderCommand
	orders := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			cancelled = cmd
			order := sampleOrder(cmd.OrderID, cmd.Access.ActorID)
			order.OrderStatus = domain.OrderStatusCancelled
			return order, nil
		},
	}
	payments := &stubPaymentService{
		retryFn: func(_ context.Context, cmd services.RetryPaymentCommand) (services.Order, error) {
			if cmd.OrderID == "ord_paid" {
				return services.Order{}, services.ErrOrderInvalidState
			}
			order := sampleOrder(cmd.OrderID, cmd.Access.ActorID)
			order.PaymentStatus = domain.PaymentStatusProcessing
			return order, nil
		},
	}
	router := newOrderRouter(orders, payments)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1/cancel", `{"reason":" changed my mind "}`, buyer("buyer-1")))
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", rr.Code)
	}
	if cancelled.Reason != "changed my mind" || cancelled.Access.ActorID != "buyer-1" {
		t.Fatalf("unexpected cancel command %+v", cancelled)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1/cancel", "", buyer("buyer-1")))
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel without body: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_1/payments/retry", "", buyer("buyer-1")))
	if rr.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d", rr.Code)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.PaymentStatus != string(domain.PaymentStatusProcessing) {
		t.Fatalf("unexpected retry payload %+v", resp.Order)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/orders/ord_paid/payments/retry", "", buyer("buyer-1")))
	if rr.Code != http.StatusConflict {
		t.Fatalf("retry settled: expected 409, got %d", rr.Code)
	}
}
