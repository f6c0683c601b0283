package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/payments"
	"github.com/bazaarly/api/internal/platform/config"
	"github.com/bazaarly/api/internal/platform/observability"
	"github.com/bazaarly/api/internal/repositories"
	"github.com/bazaarly/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Settings services.SettingsService
	Coupons  services.CouponService
	Orders   services.OrderService
	Payments services.PaymentService
	Wallets  services.WalletService
	Payouts  services.PayoutService
	System   services.SystemService
}

// Infrastructure carries the externally constructed collaborators. Every field is optional:
// a missing processor disables its rail, a missing publisher turns notifications into log lines.
type Infrastructure struct {
	Logger       *zap.Logger
	Card         payments.CardProcessor
	Gateway      payments.GatewayProcessor
	Publisher    services.NotificationPublisher
	Receipts     services.ReceiptArchiver
	HealthChecks []repositories.DependencyCheck
	Build        services.BuildInfo
	Defaults     config.PlatformDefaults
	Clock        func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Notifier     *services.AsyncNotifier
}

// NewContainer constructs the runtime dependencies and publishes the platform defaults when no
// settings version exists yet.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}
	if infra.Defaults.Currency == "" {
		infra.Defaults = config.BuiltinPlatformDefaults()
	}

	notifier := services.NewAsyncNotifier(services.AsyncNotifierDeps{
		Publisher: infra.Publisher,
		Clock:     infra.Clock,
		Logger:    observability.NewEventLogger(infra.Logger, "notifications"),
	})

	svc, err := buildServices(reg, cfg, infra, notifier)
	if err != nil {
		return nil, err
	}

	if _, err := svc.Settings.EnsureDefaults(ctx, SettingsFromDefaults(infra.Defaults)); err != nil {
		return nil, fmt.Errorf("publish platform defaults: %w", err)
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Notifier:     notifier,
	}, nil
}

// Close drains pending notifications and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.Notifier.Wait()
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, infra Infrastructure, notifier services.Notifier) (Services, error) {
	var svc Services
	logger := infra.Logger

	settingsSvc, err := services.NewSettingsService(services.SettingsServiceDeps{
		Settings: reg.Settings(),
		Clock:    infra.Clock,
		Logger:   observability.NewEventLogger(logger, "settings"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settings service: %w", err)
	}
	svc.Settings = settingsSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   infra.Clock,
		Logger:  observability.NewEventLogger(logger, "coupons"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Catalog:  reg.Catalog(),
		Coupons:  couponSvc,
		Settings: settingsSvc,
		Notifier: notifier,
		Clock:    infra.Clock,
		Logger:   observability.NewEventLogger(logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:          reg.Orders(),
		Settings:        settingsSvc,
		Card:            infra.Card,
		Gateway:         infra.Gateway,
		Notifier:        notifier,
		ProviderTimeout: cfg.PSP.Timeout,
		Clock:           infra.Clock,
		Logger:          observability.NewEventLogger(logger, "payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	walletSvc, err := services.NewWalletService(services.WalletServiceDeps{
		Wallets: reg.Wallets(),
		Orders:  reg.Orders(),
		Clock:   infra.Clock,
		Logger:  observability.NewEventLogger(logger, "wallets"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build wallet service: %w", err)
	}
	svc.Wallets = walletSvc

	payoutSvc, err := services.NewPayoutService(services.PayoutServiceDeps{
		Payouts:  reg.Payouts(),
		Accounts: reg.PayoutAccounts(),
		Earnings: reg.Earnings(),
		Settings: settingsSvc,
		Receipts: infra.Receipts,
		Notifier: notifier,
		Clock:    infra.Clock,
		Logger:   observability.NewEventLogger(logger, "payouts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payout service: %w", err)
	}
	svc.Payouts = payoutSvc

	if len(infra.HealthChecks) > 0 {
		healthRepo, err := repositories.NewDependencyHealthRepository(infra.HealthChecks, infra.Clock)
		if err != nil {
			return Services{}, fmt.Errorf("build health repository: %w", err)
		}
		build := infra.Build
		if build.Backend == "" {
			build.Backend = cfg.Storage.Backend
		}
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            infra.Clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// SettingsFromDefaults converts the YAML defaults into the first settings snapshot.
func SettingsFromDefaults(defaults config.PlatformDefaults) services.PlatformSettings {
	methods := make([]domain.PaymentMethod, 0, len(defaults.EnabledPaymentMethods))
	for _, method := range defaults.EnabledPaymentMethods {
		if trimmed := strings.ToLower(strings.TrimSpace(method)); trimmed != "" {
			methods = append(methods, domain.PaymentMethod(trimmed))
		}
	}
	return services.PlatformSettings{
		Currency:              strings.ToUpper(strings.TrimSpace(defaults.Currency)),
		CommissionRateBps:     defaults.CommissionRateBps,
		TaxEnabled:            defaults.Tax.Enabled,
		TaxRateBps:            defaults.Tax.RateBps,
		MinimumPayout:         defaults.MinimumPayout,
		EnabledPaymentMethods: methods,
	}
}
