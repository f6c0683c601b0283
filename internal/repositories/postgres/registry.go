// Package postgres implements the ledger repositories on PostgreSQL through pgx. Money-moving
// operations lock the rows they read with SELECT ... FOR UPDATE and verify conditional updates
// by their affected row count.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bazaarly/api/internal/platform/config"
	"github.com/bazaarly/api/internal/repositories"
)

// Connect opens a pgx pool for cfg.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Registry implements repositories.Registry on a pgx pool.
type Registry struct {
	pool *pgxpool.Pool
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wraps pool. The registry owns the pool and closes it on Close.
func NewRegistry(pool *pgxpool.Pool) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres registry: pool is required")
	}
	return &Registry{pool: pool}, nil
}

// Pool exposes the underlying pool for collaborators sharing the database.
func (r *Registry) Pool() *pgxpool.Pool { return r.pool }

// Ping verifies the database is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return wrapError("postgres.ping", r.pool.Ping(ctx))
}

func (r *Registry) Close(context.Context) error {
	r.pool.Close()
	return nil
}

func (r *Registry) Catalog() repositories.CatalogRepository {
	return &CatalogRepository{pool: r.pool}
}

func (r *Registry) Coupons() repositories.CouponRepository {
	return &CouponRepository{pool: r.pool}
}

func (r *Registry) Orders() repositories.OrderRepository {
	return &OrderRepository{pool: r.pool}
}

func (r *Registry) Wallets() repositories.WalletRepository {
	return &WalletRepository{pool: r.pool}
}

func (r *Registry) Earnings() repositories.EarningRepository {
	return &EarningRepository{pool: r.pool}
}

func (r *Registry) Payouts() repositories.PayoutRepository {
	return &PayoutRepository{pool: r.pool}
}

func (r *Registry) PayoutAccounts() repositories.PayoutAccountRepository {
	return &PayoutAccountRepository{pool: r.pool}
}

func (r *Registry) Settings() repositories.SettingsRepository {
	return &SettingsRepository{pool: r.pool}
}

// inTx runs fn in a read-committed transaction and classifies the resulting error.
func inTx(ctx context.Context, pool *pgxpool.Pool, op string, fn func(pgx.Tx) error) error {
	return wrapLedgerError(op, pgx.BeginFunc(ctx, pool, fn))
}

func wrapLedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		if ledgerErr.Op == "" {
			ledgerErr.Op = op
		}
		return ledgerErr
	}
	return wrapError(op, err)
}
