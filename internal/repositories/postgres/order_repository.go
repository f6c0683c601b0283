package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/pagination"
	"github.com/bazaarly/api/internal/repositories"
)

// OrderRepository persists orders and runs the settlement transaction.
type OrderRepository struct {
	pool *pgxpool.Pool
}

const insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

const updateOrderSQL = `UPDATE orders
SET payment_status = $2, order_status = $3, payment = $4, updated_at = $5
WHERE id = $1`

// Insert stores the order and, when redemption is set, consumes a coupon use in the same
// transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order, redemption *repositories.CouponRedemption) error {
	return inTx(ctx, r.pool, "orders.insert", func(tx pgx.Tx) error {
		if redemption != nil {
			if err := redeemCoupon(ctx, tx, redemption.Code, redemption.RedeemedAt); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, insertOrderSQL, orderArgs(order)...)
		return err
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	return order, nil
}

// ListByBuyer returns the buyer's orders newest first using a keyset cursor.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	const op = "orders.list"
	size := pageSize(pager)
	at, id, ok, err := pagination.DecodeKeyset(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	var rows pgx.Rows
	if ok {
		rows, err = r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE buyer_id = $1 AND (created_at, id) < ($2, $3)
ORDER BY created_at DESC, id DESC LIMIT $4`, buyerID, at, id, size+1)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE buyer_id = $1
ORDER BY created_at DESC, id DESC LIMIT $2`, buyerID, size+1)
	}
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > size {
		page.Items = orders[:size]
		last := page.Items[size-1]
		if page.NextPageToken, err = pagination.EncodeKeyset(last.CreatedAt, last.ID); err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}
	return page, nil
}

// UpdatePayment locks the order row, applies mutate and writes the payment fields back.
func (r *OrderRepository) UpdatePayment(ctx context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error) {
	var updated domain.Order
	err := inTx(ctx, r.pool, "orders.updatePayment", func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := mutate(&order); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateOrderSQL, orderPaymentArgs(order)...); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// Settle completes payment exactly once. The order row lock makes concurrent settlements of one
// order queue behind each other, and the wallet row lock does the same for debits of one wallet.
func (r *OrderRepository) Settle(ctx context.Context, cmd repositories.SettleCommand) (repositories.SettleResult, error) {
	const op = "order.settle"
	var result repositories.SettleResult
	err := inTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, cmd.OrderID)
		if err != nil {
			if isNoRows(err) {
				return repositories.NewLedgerError(op, repositories.LedgerErrorOrderNotFound,
					fmt.Sprintf("order %s not found", cmd.OrderID), err)
			}
			return err
		}

		var ledger []domain.WalletTransaction
		if cmd.WalletDebitID != "" && !order.Settled() {
			if err := lockWallet(ctx, tx, order.BuyerID); err != nil {
				return err
			}
			if ledger, err = listLedger(ctx, tx, order.BuyerID); err != nil {
				return err
			}
		}

		settled, err := repositories.ApplySettlement(order, ledger, cmd)
		if err != nil {
			return err
		}
		result = settled
		if settled.AlreadySettled {
			return nil
		}

		if settled.Debit != nil {
			if err := insertWalletTransaction(ctx, tx, *settled.Debit); err != nil {
				return err
			}
		}
		if len(settled.Earnings) > 0 {
			rows := make([][]any, 0, len(settled.Earnings))
			for _, earning := range settled.Earnings {
				rows = append(rows, earningValues(earning))
			}
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"vendor_earnings"}, earningColumnNames, pgx.CopyFromRows(rows)); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, updateOrderSQL+` AND payment_status <> 'completed'`, orderPaymentArgs(settled.Order)...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return conflict(op, "order %s settled concurrently", order.ID)
		}
		return nil
	})
	if err != nil {
		return repositories.SettleResult{}, err
	}
	return result, nil
}

// Refund locks the order, its earnings and the buyer's wallet, then credits the buyer and
// reverses the unpaid earnings. Earnings locked here cannot be reserved by a concurrent payout.
func (r *OrderRepository) Refund(ctx context.Context, cmd repositories.RefundCommand) (repositories.RefundResult, error) {
	const op = "order.refund"
	var result repositories.RefundResult
	err := inTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		order, err := lockOrder(ctx, tx, cmd.OrderID)
		if err != nil {
			if isNoRows(err) {
				return repositories.NewLedgerError(op, repositories.LedgerErrorOrderNotFound,
					fmt.Sprintf("order %s not found", cmd.OrderID), err)
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT `+earningColumns+` FROM vendor_earnings
WHERE order_id = $1 ORDER BY created_at, id FOR UPDATE`, order.ID)
		if err != nil {
			return err
		}
		earnings, err := collectEarnings(rows)
		if err != nil {
			return err
		}

		refunded, err := repositories.ApplyRefund(order, earnings, cmd)
		if err != nil {
			return err
		}
		if err := lockWallet(ctx, tx, order.BuyerID); err != nil {
			return err
		}
		if err := insertWalletTransaction(ctx, tx, refunded.Credit); err != nil {
			return err
		}
		for _, earning := range refunded.Reversed {
			tag, err := tx.Exec(ctx, `UPDATE vendor_earnings SET payout_status = $2, updated_at = $3 WHERE id = $1 AND payout_status = $4`,
				earning.ID, string(earning.PayoutStatus), earning.UpdatedAt.UTC(), string(domain.PayoutStatusUnpaid))
			if err != nil {
				return err
			}
			if tag.RowsAffected() != 1 {
				return conflict(op, "earning %s reserved concurrently", earning.ID)
			}
		}
		tag, err := tx.Exec(ctx, updateOrderSQL+` AND order_status <> 'refunded'`, orderPaymentArgs(refunded.Order)...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return conflict(op, "order %s refunded concurrently", order.ID)
		}
		result = refunded
		return nil
	})
	if err != nil {
		return repositories.RefundResult{}, err
	}
	return result, nil
}

func lockOrder(ctx context.Context, tx pgx.Tx, orderID string) (domain.Order, error) {
	return scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
}

func pageSize(pager domain.Pagination) int {
	if pager.PageSize <= 0 || pager.PageSize > pagination.DefaultMaxPageSize {
		return pagination.DefaultPageSize
	}
	return pager.PageSize
}
