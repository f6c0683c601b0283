package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/auth"
	"github.com/bazaarly/api/internal/services"
)

var errNotStubbed = errors.New("not implemented")

type stubOrderService struct {
	createFn func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	getFn    func(context.Context, string, services.OrderAccess) (services.Order, error)
	listFn   func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	cancelFn func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, access services.OrderAccess) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, access)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

type stubPaymentService struct {
	confirmFn func(context.Context, services.ConfirmPaymentCommand) (services.PaymentOutcome, error)
	retryFn   func(context.Context, services.RetryPaymentCommand) (services.Order, error)
	cashFn    func(context.Context, services.CashCollectedCommand) (services.PaymentOutcome, error)
	eventFn   func(context.Context, services.ProviderEventCommand) (services.PaymentOutcome, error)
}

func (s *stubPaymentService) ConfirmPayment(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentOutcome, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.PaymentOutcome{}, errNotStubbed
}

func (s *stubPaymentService) RetryPayment(ctx context.Context, cmd services.RetryPaymentCommand) (services.Order, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubPaymentService) MarkCashCollected(ctx context.Context, cmd services.CashCollectedCommand) (services.PaymentOutcome, error) {
	if s.cashFn != nil {
		return s.cashFn(ctx, cmd)
	}
	return services.PaymentOutcome{}, errNotStubbed
}

func (s *stubPaymentService) HandleProviderEvent(ctx context.Context, cmd services.ProviderEventCommand) (services.PaymentOutcome, error) {
	if s.eventFn != nil {
		return s.eventFn(ctx, cmd)
	}
	return services.PaymentOutcome{}, errNotStubbed
}

type stubWalletService struct {
	balance   services.WalletBalance
	txns      []services.WalletTransaction
	topUps    []services.WalletTopUpCommand
	refunds   []services.WalletRefundCommand
	reconcile error
}

func (s *stubWalletService) GetBalance(_ context.Context, userID string) (services.WalletBalance, error) {
	balance := s.balance
	balance.UserID = userID
	return balance, nil
}

func (s *stubWalletService) ListTransactions(context.Context, string) ([]services.WalletTransaction, error) {
	return s.txns, nil
}

func (s *stubWalletService) TopUp(_ context.Context, cmd services.WalletTopUpCommand) (services.WalletTransaction, error) {
	s.topUps = append(s.topUps, cmd)
	return services.WalletTransaction{ID: "wtx_1", UserID: cmd.UserID, Type: domain.WalletCredit, Amount: cmd.Amount}, nil
}

func (s *stubWalletService) Refund(_ context.Context, cmd services.WalletRefundCommand) (services.WalletTransaction, error) {
	s.refunds = append(s.refunds, cmd)
	return services.WalletTransaction{ID: "wtx_2", UserID: cmd.UserID, Type: domain.WalletCredit, Amount: 500, RelatedOrderID: cmd.OrderID}, nil
}

func (s *stubWalletService) Reconcile(_ context.Context, userID string) (services.WalletBalance, error) {
	if s.reconcile != nil {
		return services.WalletBalance{}, s.reconcile
	}
	balance := s.balance
	balance.UserID = userID
	return balance, nil
}

type stubPayoutService struct {
	requestFn func(context.Context, services.RequestPayoutCommand) (services.PayoutRequest, error)
	processFn func(context.Context, services.ProcessPayoutCommand) (services.PayoutRequest, error)
	listFn    func(context.Context, services.PayoutListFilter) (domain.CursorPage[services.PayoutRequest], error)
	saveFn    func(context.Context, services.SavePayoutAccountCommand) (services.PayoutAccount, error)
	earnings  services.VendorEarningsView
}

func (s *stubPayoutService) RequestPayout(ctx context.Context, cmd services.RequestPayoutCommand) (services.PayoutRequest, error) {
	if s.requestFn != nil {
		return s.requestFn(ctx, cmd)
	}
	return services.PayoutRequest{}, errNotStubbed
}

func (s *stubPayoutService) ProcessPayout(ctx context.Context, cmd services.ProcessPayoutCommand) (services.PayoutRequest, error) {
	if s.processFn != nil {
		return s.processFn(ctx, cmd)
	}
	return services.PayoutRequest{}, errNotStubbed
}

func (s *stubPayoutService) ListPayouts(ctx context.Context, filter services.PayoutListFilter) (domain.CursorPage[services.PayoutRequest], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.PayoutRequest]{}, nil
}

func (s *stubPayoutService) SavePayoutAccount(ctx context.Context, cmd services.SavePayoutAccountCommand) (services.PayoutAccount, error) {
	if s.saveFn != nil {
		return s.saveFn(ctx, cmd)
	}
	return services.PayoutAccount{}, errNotStubbed
}

func (s *stubPayoutService) GetVendorEarnings(context.Context, string) (services.VendorEarningsView, error) {
	return s.earnings, nil
}

var (
	_ services.OrderService   = (*stubOrderService)(nil)
	_ services.PaymentService = (*stubPaymentService)(nil)
	_ services.WalletService  = (*stubWalletService)(nil)
	_ services.PayoutService  = (*stubPayoutService)(nil)
)

func newAuthedRequest(method, target, body string, identity *auth.Identity) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func buyer(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleBuyer}}
}
