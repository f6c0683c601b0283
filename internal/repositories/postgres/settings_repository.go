package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/repositories"
)

// settingsLockKey names the advisory lock held while a settings version is published.
const settingsLockKey = 7_402_113

// SettingsRepository keeps every published settings version. The highest version is current.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

const settingsColumns = `version, currency, commission_rate_bps, tax_enabled, tax_rate_bps, minimum_payout,
enabled_payment_methods, updated_at, updated_by`

func (r *SettingsRepository) Current(ctx context.Context) (domain.PlatformSettings, error) {
	settings, err := scanSettings(r.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM platform_settings ORDER BY version DESC LIMIT 1`))
	if err != nil {
		return domain.PlatformSettings{}, wrapError("settings.current", err)
	}
	return settings, nil
}

func (r *SettingsRepository) Publish(ctx context.Context, settings domain.PlatformSettings) (domain.PlatformSettings, error) {
	var published domain.PlatformSettings
	err := inTx(ctx, r.pool, "settings.publish", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, settingsLockKey); err != nil {
			return err
		}
		var current *domain.PlatformSettings
		existing, err := scanSettings(tx.QueryRow(ctx, `SELECT `+settingsColumns+` FROM platform_settings ORDER BY version DESC LIMIT 1`))
		switch {
		case err == nil:
			current = &existing
		case isNoRows(err):
		default:
			return err
		}

		next := repositories.NextSettingsVersion(current, settings)
		methods := make([]string, 0, len(next.EnabledPaymentMethods))
		for _, method := range next.EnabledPaymentMethods {
			methods = append(methods, string(method))
		}
		_, err = tx.Exec(ctx, `INSERT INTO platform_settings (`+settingsColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			next.Version, next.Currency, next.CommissionRateBps, next.TaxEnabled, next.TaxRateBps, next.MinimumPayout,
			methods, next.UpdatedAt.UTC(), next.UpdatedBy)
		if err != nil {
			return err
		}
		published = next
		return nil
	})
	if err != nil {
		return domain.PlatformSettings{}, err
	}
	return published, nil
}

func scanSettings(row pgx.Row) (domain.PlatformSettings, error) {
	var (
		s         domain.PlatformSettings
		methods   []string
		updatedAt time.Time
	)
	err := row.Scan(&s.Version, &s.Currency, &s.CommissionRateBps, &s.TaxEnabled, &s.TaxRateBps, &s.MinimumPayout,
		&methods, &updatedAt, &s.UpdatedBy)
	if err != nil {
		return domain.PlatformSettings{}, err
	}
	s.EnabledPaymentMethods = make([]domain.PaymentMethod, 0, len(methods))
	for _, method := range methods {
		s.EnabledPaymentMethods = append(s.EnabledPaymentMethods, domain.PaymentMethod(method))
	}
	s.UpdatedAt = updatedAt.UTC()
	return s, nil
}
