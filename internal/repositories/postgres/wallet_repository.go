package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/bazaarly/api/internal/domain"
)

// WalletRepository stores the append-only wallet ledger. Balances are derived by the caller.
type WalletRepository struct {
	pool *pgxpool.Pool
}

// AppendCredit records a credit entry under the wallet row lock.
func (r *WalletRepository) AppendCredit(ctx context.Context, txn domain.WalletTransaction) error {
	const op = "wallet.append"
	if txn.Type != domain.WalletCredit || txn.Amount <= 0 {
		return conflict(op, "only positive credits may be appended")
	}
	return inTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		if err := lockWallet(ctx, tx, txn.UserID); err != nil {
			return err
		}
		return insertWalletTransaction(ctx, tx, txn)
	})
}

// ListByUser returns the user's ledger oldest first.
func (r *WalletRepository) ListByUser(ctx context.Context, userID string) ([]domain.WalletTransaction, error) {
	txns, err := listLedger(ctx, r.pool, userID)
	if err != nil {
		return nil, wrapError("wallet.list", err)
	}
	return txns, nil
}

// lockWallet creates the wallet row on first use and holds its lock until tx ends.
func lockWallet(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return err
	}
	var entries int64
	return tx.QueryRow(ctx, `SELECT entries FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&entries)
}

// insertWalletTransaction appends txn and bumps the wallet head. The wallet must be locked.
func insertWalletTransaction(ctx context.Context, tx pgx.Tx, txn domain.WalletTransaction) error {
	_, err := tx.Exec(ctx, `INSERT INTO wallet_transactions (`+walletTxnColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID, txn.UserID, string(txn.Type), txn.Amount, txn.Description, txn.RelatedOrderID, txn.CreatedAt.UTC())
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE wallets SET entries = entries + 1, updated_at = $2 WHERE user_id = $1`,
		txn.UserID, txn.CreatedAt.UTC())
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listLedger(ctx context.Context, q querier, userID string) ([]domain.WalletTransaction, error) {
	rows, err := q.Query(ctx, `SELECT `+walletTxnColumns+` FROM wallet_transactions
WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.WalletTransaction, error) {
		return scanWalletTransaction(row)
	})
}
