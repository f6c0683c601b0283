package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error implements repositories.RepositoryError by classifying pgx and SQLSTATE failures.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// SQLSTATE codes the repositories react to.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

func classify(op string, err error) *Error {
	e := &Error{op: op, err: err}
	if errors.Is(err, pgx.ErrNoRows) {
		e.notFound = true
		return e
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation, pgErr.Code == codeCheckViolation,
			pgErr.Code == codeSerializationFailure, pgErr.Code == codeDeadlockDetected,
			pgErr.Code == codeLockNotAvailable:
			e.conflict = true
		case pgErr.Code == codeAdminShutdown, pgErr.Code == codeCannotConnectNow,
			strings.HasPrefix(pgErr.Code, "08"):
			e.unavailable = true
		}
		return e
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		e.unavailable = true
	}
	return e
}

// wrapError annotates err with repository semantics. Errors that are already classified, such
// as ledger decisions returned from inside a transaction, pass through untouched.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var classified interface {
		IsNotFound() bool
		IsConflict() bool
		IsUnavailable() bool
	}
	if errors.As(err, &classified) {
		return err
	}
	return classify(op, err)
}

func notFound(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), conflict: true}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
