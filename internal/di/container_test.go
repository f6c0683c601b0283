package di

import (
	"context"
	"testing"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/config"
	"github.com/bazaarly/api/internal/repositories/memory"
	"github.com/bazaarly/api/internal/services"
)

func TestNewContainerPublishesDefaultsOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cfg := config.Config{Storage: config.StorageConfig{Backend: config.BackendMemory}}

	defaults, err := config.ParsePlatformDefaults([]byte("currency: inr\ncommissionRateBps: 1500\nenabledPaymentMethods: [Wallet, cash_on_delivery]\n"))
	if err != nil {
		t.Fatalf("ParsePlatformDefaults: %v", err)
	}
	first, err := NewContainer(ctx, cfg, store, Infrastructure{Defaults: defaults})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	settings, err := first.Services.Settings.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if settings.Version != 1 || settings.Currency != "INR" || settings.CommissionRateBps != 1500 {
		t.Fatalf("unexpected first version %+v", settings)
	}
	if !settings.MethodEnabled(domain.PaymentMethodWallet) || settings.MethodEnabled(domain.PaymentMethodCard) {
		t.Fatalf("unexpected methods %v", settings.EnabledPaymentMethods)
	}

	second, err := NewContainer(ctx, cfg, store, Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer again: %v", err)
	}
	again, err := second.Services.Settings.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if again.Version != 1 || again.Currency != "INR" {
		t.Fatalf("defaults must not overwrite a published version, got %+v", again)
	}
	if second.Services.System != nil {
		t.Fatalf("system service requires health checks")
	}
	if err := second.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestContainerSettlesCashOrderEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutProduct(domain.CatalogProduct{ID: "p1", VendorID: "v1", Title: "Desk lamp", Category: "home", Price: 10000, Currency: "USD", Approved: true})

	c, err := NewContainer(ctx, config.Config{}, store, Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer c.Close(ctx)

	result, err := c.Services.Orders.CreateOrder(ctx, services.CreateOrderCommand{
		BuyerID:       "buyer-1",
		Items:         []services.CartLine{{ProductID: "p1", Quantity: 1}},
		PaymentMethod: domain.PaymentMethodCashOnDelivery,
		ShippingAddress: services.Address{
			Recipient:  "Ada Lovelace",
			Line1:      "12 Analytical Row",
			City:       "London",
			PostalCode: "N1 9GU",
			Country:    "GB",
		},
		PersonalDetails: services.PersonalDetails{FullName: "Ada Lovelace", Email: "ada@example.com"},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	outcome, err := c.Services.Payments.MarkCashCollected(ctx, services.CashCollectedCommand{OrderID: result.Order.ID, AdminID: "admin-1"})
	if err != nil {
		t.Fatalf("MarkCashCollected: %v", err)
	}
	if outcome.Kind != services.OutcomeSettled || outcome.Order.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	view, err := c.Services.Payouts.GetVendorEarnings(ctx, "v1")
	if err != nil {
		t.Fatalf("GetVendorEarnings: %v", err)
	}
	if len(view.Earnings) != 1 || view.Summary.Unpaid != 9000 {
		t.Fatalf("expected one 9000 earning after 10%% commission, got %+v", view)
	}
}
