package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bazaarly/api/internal/repositories"
)

func TestWrapErrorClassifiesPostgresFailures(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "no rows", err: pgx.ErrNoRows, notFound: true},
		{name: "unique violation", err: &pgconn.PgError{Code: codeUniqueViolation}, conflict: true},
		{name: "check violation", err: &pgconn.PgError{Code: codeCheckViolation}, conflict: true},
		{name: "serialization failure", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: codeSerializationFailure}), conflict: true},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: codeAdminShutdown}, unavailable: true},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := wrapError("op", tc.err)
			var repoErr *Error
			if !errors.As(wrapped, &repoErr) {
				t.Fatalf("expected *Error, got %T", wrapped)
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification notFound=%v conflict=%v unavailable=%v",
					repoErr.IsNotFound(), repoErr.IsConflict(), repoErr.IsUnavailable())
			}
			if !errors.Is(wrapped, tc.err) {
				t.Fatalf("expected wrapped error to unwrap to the cause")
			}
		})
	}
}

func TestWrapErrorPassesThroughClassifiedErrors(t *testing.T) {
	if err := wrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := wrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation to pass through, got %v", err)
	}

	ledgerErr := repositories.NewLedgerError("", repositories.LedgerErrorInsufficientFunds, "", nil)
	got := wrapLedgerError("order.settle", fmt.Errorf("tx: %w", ledgerErr))
	code, ok := repositories.LedgerErrorCodeOf(got)
	if !ok || code != repositories.LedgerErrorInsufficientFunds {
		t.Fatalf("expected ledger code to survive, got %v", got)
	}
	if ledgerErr.Op != "order.settle" {
		t.Fatalf("expected op to be filled in, got %q", ledgerErr.Op)
	}

	existing := conflict("payout.create", "earning %s is no longer unpaid", "e1")
	if got := wrapError("other", existing); got != existing {
		t.Fatalf("expected classified error to pass through unchanged")
	}
}
