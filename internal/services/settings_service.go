package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"github.com/bazaarly/api/internal/repositories"
)

// SettingsServiceDeps bundles collaborators required to construct the settings service.
type SettingsServiceDeps struct {
	Settings repositories.SettingsRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type settingsService struct {
	settings repositories.SettingsRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewSettingsService wires a SettingsService over the versioned settings repository.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Settings == nil {
		return nil, errors.New("settings service: settings repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &settingsService{
		settings: deps.Settings,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Current returns the latest snapshot. Callers fetch it once per operation and pass it along.
func (s *settingsService) Current(ctx context.Context) (PlatformSettings, error) {
	current, err := s.settings.Current(ctx)
	if err != nil {
		if isRepoNotFound(err) {
			return PlatformSettings{}, fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
		}
		return PlatformSettings{}, fmt.Errorf("settings service: load current: %w", err)
	}
	return current, nil
}

func (s *settingsService) Update(ctx context.Context, cmd UpdateSettingsCommand) (PlatformSettings, error) {
	next, err := buildSettings(cmd)
	if err != nil {
		return PlatformSettings{}, err
	}
	next.UpdatedAt = s.clock()
	published, err := s.settings.Publish(ctx, next)
	if err != nil {
		return PlatformSettings{}, fmt.Errorf("settings service: publish: %w", err)
	}
	s.logger(ctx, "settings.published", map[string]any{
		"version":           published.Version,
		"commissionRateBps": published.CommissionRateBps,
		"taxEnabled":        published.TaxEnabled,
		"actorId":           cmd.ActorID,
	})
	return published, nil
}

// EnsureDefaults publishes defaults as the first version when nothing has been published yet.
func (s *settingsService) EnsureDefaults(ctx context.Context, defaults PlatformSettings) (PlatformSettings, error) {
	current, err := s.Current(ctx)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, ErrSettingsUnavailable) {
		return PlatformSettings{}, err
	}
	return s.Update(ctx, UpdateSettingsCommand{
		Currency:              defaults.Currency,
		CommissionRateBps:     defaults.CommissionRateBps,
		TaxEnabled:            defaults.TaxEnabled,
		TaxRateBps:            defaults.TaxRateBps,
		MinimumPayout:         defaults.MinimumPayout,
		EnabledPaymentMethods: defaults.EnabledPaymentMethods,
		ActorID:               "system",
	})
}

func buildSettings(cmd UpdateSettingsCommand) (PlatformSettings, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(cmd.Currency))
	if err != nil {
		return PlatformSettings{}, fmt.Errorf("%w: unknown currency %q", ErrSettingsInvalidInput, cmd.Currency)
	}
	if cmd.CommissionRateBps < 0 || cmd.CommissionRateBps > basisPointsDenominator {
		return PlatformSettings{}, fmt.Errorf("%w: commissionRateBps must be within 0..10000", ErrSettingsInvalidInput)
	}
	if cmd.TaxRateBps < 0 || cmd.TaxRateBps > basisPointsDenominator {
		return PlatformSettings{}, fmt.Errorf("%w: taxRateBps must be within 0..10000", ErrSettingsInvalidInput)
	}
	if cmd.MinimumPayout < 0 {
		return PlatformSettings{}, fmt.Errorf("%w: minimumPayout must not be negative", ErrSettingsInvalidInput)
	}
	if len(cmd.EnabledPaymentMethods) == 0 {
		return PlatformSettings{}, fmt.Errorf("%w: at least one payment method must be enabled", ErrSettingsInvalidInput)
	}
	methods := make([]PaymentMethod, 0, len(cmd.EnabledPaymentMethods))
	for _, method := range cmd.EnabledPaymentMethods {
		if !method.Valid() {
			return PlatformSettings{}, fmt.Errorf("%w: unsupported payment method %q", ErrSettingsInvalidInput, method)
		}
		if !slices.Contains(methods, method) {
			methods = append(methods, method)
		}
	}
	return PlatformSettings{
		Currency:              unit.String(),
		CommissionRateBps:     cmd.CommissionRateBps,
		TaxEnabled:            cmd.TaxEnabled,
		TaxRateBps:            cmd.TaxRateBps,
		MinimumPayout:         cmd.MinimumPayout,
		EnabledPaymentMethods: methods,
		UpdatedBy:             strings.TrimSpace(cmd.ActorID),
	}, nil
}
