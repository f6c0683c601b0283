package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/payments"
	"github.com/bazaarly/api/internal/repositories/memory"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type recordedEvent struct {
	name   string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: event, fields: fields})
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.name == name {
			n++
		}
	}
	return n
}

type fakeCardProcessor struct {
	mu      sync.Mutex
	seq     int
	intents map[string]payments.Intent
	keys    []string
	err     error
	event   payments.Event
}

func newFakeCardProcessor() *fakeCardProcessor {
	return &fakeCardProcessor{intents: make(map[string]payments.Intent)}
}

func (f *fakeCardProcessor) CreateIntent(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return payments.Intent{}, f.err
	}
	f.seq++
	f.keys = append(f.keys, req.IdempotencyKey)
	intent := payments.Intent{
		ID:           fmt.Sprintf("pi_%d", f.seq),
		OrderID:      req.OrderID,
		ClientSecret: fmt.Sprintf("pi_%d_secret", f.seq),
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       payments.StatusPending,
	}
	f.intents[intent.ID] = intent
	return intent, nil
}

func (f *fakeCardProcessor) RetrieveIntent(_ context.Context, id string) (payments.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return payments.Intent{}, f.err
	}
	intent, ok := f.intents[id]
	if !ok {
		return payments.Intent{}, fmt.Errorf("no such intent %s", id)
	}
	return intent, nil
}

func (f *fakeCardProcessor) VerifyWebhook(_ []byte, signature string) (payments.Event, error) {
	if signature != "valid" {
		return payments.Event{}, payments.ErrSignatureMismatch
	}
	return f.event, nil
}

func (f *fakeCardProcessor) setStatus(id string, status payments.Status, failure string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent := f.intents[id]
	intent.Status = status
	intent.FailureCode = failure
	f.intents[id] = intent
}

type fakeGatewayProcessor struct {
	mu    sync.Mutex
	seq   int
	err   error
	event payments.Event
}

func (f *fakeGatewayProcessor) CreateOrder(_ context.Context, req payments.GatewayOrderRequest) (payments.GatewayOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return payments.GatewayOrder{}, f.err
	}
	f.seq++
	return payments.GatewayOrder{
		ID:       fmt.Sprintf("order_%d", f.seq),
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   "created",
	}, nil
}

func (f *fakeGatewayProcessor) VerifySignature(providerOrderID, paymentID, signature string) error {
	if signature != gatewaySignature(providerOrderID, paymentID) {
		return payments.ErrSignatureMismatch
	}
	return nil
}

func (f *fakeGatewayProcessor) VerifyWebhook(_ []byte, signature string) (payments.Event, error) {
	if signature != "valid" {
		return payments.Event{}, payments.ErrSignatureMismatch
	}
	return f.event, nil
}

func gatewaySignature(orderID, paymentID string) string {
	return "sig:" + orderID + "|" + paymentID
}

type testEnv struct {
	store    *memory.Store
	events   *eventRecorder
	settings SettingsService
	coupons  CouponService
	orders   OrderService
	payments PaymentService
	wallets  WalletService
	payouts  PayoutService
	card     *fakeCardProcessor
	gateway  *fakeGatewayProcessor
}

func defaultTestSettings() PlatformSettings {
	return PlatformSettings{
		Currency:          "USD",
		CommissionRateBps: 1000,
		MinimumPayout:     1000,
		EnabledPaymentMethods: []PaymentMethod{
			domain.PaymentMethodCard,
			domain.PaymentMethodGateway,
			domain.PaymentMethodWallet,
			domain.PaymentMethodCashOnDelivery,
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	store.PutProduct(domain.CatalogProduct{ID: "p1", VendorID: "v1", Title: "Desk lamp", Category: "home", Price: 10000, Currency: "USD", Approved: true})
	store.PutProduct(domain.CatalogProduct{ID: "p2", VendorID: "v2", Title: "Paperback", Category: "books", Price: 2500, Currency: "USD", Approved: true})
	store.PutProduct(domain.CatalogProduct{ID: "p3", VendorID: "v1", Title: "Rug", Category: "home", Price: 4000, Currency: "USD", Approved: false})

	events := &eventRecorder{}
	clock := func() time.Time { return testNow }

	settings, err := NewSettingsService(SettingsServiceDeps{Settings: store.Settings(), Clock: clock, Logger: events.log})
	if err != nil {
		t.Fatalf("NewSettingsService: %v", err)
	}
	if _, err := settings.EnsureDefaults(ctx, defaultTestSettings()); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	coupons, err := NewCouponService(CouponServiceDeps{Coupons: store.Coupons(), Clock: clock, Logger: events.log})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:   store.Orders(),
		Catalog:  store.Catalog(),
		Coupons:  coupons,
		Settings: settings,
		Clock:    clock,
		Logger:   events.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	card := newFakeCardProcessor()
	gateway := &fakeGatewayProcessor{}
	paymentSvc, err := NewPaymentService(PaymentServiceDeps{
		Orders:          store.Orders(),
		Settings:        settings,
		Card:            card,
		Gateway:         gateway,
		ProviderTimeout: time.Second,
		Clock:           clock,
		Logger:          events.log,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	wallets, err := NewWalletService(WalletServiceDeps{
		Wallets: store.Wallets(),
		Orders:  store.Orders(),
		Clock:   clock,
		Logger:  events.log,
	})
	if err != nil {
		t.Fatalf("NewWalletService: %v", err)
	}
	payouts, err := NewPayoutService(PayoutServiceDeps{
		Payouts:  store.Payouts(),
		Accounts: store.PayoutAccounts(),
		Earnings: store.Earnings(),
		Settings: settings,
		Clock:    clock,
		Logger:   events.log,
	})
	if err != nil {
		t.Fatalf("NewPayoutService: %v", err)
	}
	return &testEnv{
		store:    store,
		events:   events,
		settings: settings,
		coupons:  coupons,
		orders:   orders,
		payments: paymentSvc,
		wallets:  wallets,
		payouts:  payouts,
		card:     card,
		gateway:  gateway,
	}
}

func checkoutCommand(buyerID string, method PaymentMethod, items ...CartLine) CreateOrderCommand {
	return CreateOrderCommand{
		BuyerID:       buyerID,
		Items:         items,
		PaymentMethod: method,
		ShippingAddress: Address{
			Recipient:  "Ada Lovelace",
			Line1:      "12 Analytical Row",
			City:       "London",
			PostalCode: "N1 9GU",
			Country:    "gb",
		},
		PersonalDetails: PersonalDetails{
			FullName: "Ada Lovelace",
			Email:    "Ada@Example.com",
		},
	}
}

func (e *testEnv) placeOrder(t *testing.T, cmd CreateOrderCommand) Order {
	t.Helper()
	result, err := e.orders.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return result.Order
}

func (e *testEnv) topUp(t *testing.T, userID string, amount int64) {
	t.Helper()
	if _, err := e.wallets.TopUp(context.Background(), WalletTopUpCommand{UserID: userID, Amount: amount, ActorID: "admin"}); err != nil {
		t.Fatalf("TopUp: %v", err)
	}
}

// settleWalletOrder places and pays a wallet order, returning the settled order.
func (e *testEnv) settleWalletOrder(t *testing.T, buyerID string, items ...CartLine) Order {
	t.Helper()
	order := e.placeOrder(t, checkoutCommand(buyerID, domain.PaymentMethodWallet, items...))
	e.topUp(t, buyerID, order.Total)
	outcome, err := e.payments.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderID: order.ID,
		Access:  OrderAccess{ActorID: buyerID},
	})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if outcome.Kind != OutcomeSettled {
		t.Fatalf("expected settled outcome, got %+v", outcome)
	}
	return outcome.Order
}
