// Command migrate applies the SQL files under migrations/ to the Postgres ledger database. Each
// file is applied once and recorded in schema_migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bazaarly/api/internal/platform/config"
	"github.com/bazaarly/api/internal/platform/observability"
	"github.com/bazaarly/api/internal/platform/secrets"
	"github.com/bazaarly/api/internal/repositories/postgres"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	flag.Parse()

	ctx := context.Background()
	fetcher, err := secrets.NewFetcher(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise secret fetcher: %v\n", err)
		os.Exit(1)
	}
	defer fetcher.Close()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	baseLogger, err := observability.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = baseLogger.Sync() }()
	logger := baseLogger.Named("migrate")

	if cfg.Postgres.DSN == "" {
		logger.Fatal("API_POSTGRES_DSN is required")
	}
	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	applied, err := migrate(ctx, pool, *dir)
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("migrations complete", zap.Strings("applied", applied))
}

func migrate(ctx context.Context, pool *pgxpool.Pool, dir string) ([]string, error) {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return nil, fmt.Errorf("ensure schema table: %w", err)
	}
	files, err := listSQLFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var applied []string
	for _, file := range files {
		name := filepath.Base(file)
		data, err := os.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", name, err)
		}
		ok, err := applyOnce(ctx, pool, name, string(data))
		if err != nil {
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		if ok {
			applied = append(applied, name)
		}
	}
	return applied, nil
}

// applyOnce runs the migration and records it in one transaction. It reports false when the
// file was already applied.
func applyOnce(ctx context.Context, pool *pgxpool.Pool, name, body string) (bool, error) {
	var ran bool
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1) ON CONFLICT DO NOTHING`, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if strings.TrimSpace(body) != "" {
			if _, err := tx.Exec(ctx, body); err != nil {
				return err
			}
		}
		ran = true
		return nil
	})
	return ran, err
}

func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
