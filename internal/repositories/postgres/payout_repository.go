package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/pagination"
	"github.com/bazaarly/api/internal/repositories"
)

// EarningRepository reads vendor earnings.
type EarningRepository struct {
	pool *pgxpool.Pool
}

func (r *EarningRepository) ListByVendor(ctx context.Context, vendorID string, filter repositories.EarningFilter) ([]domain.VendorEarning, error) {
	sql := `SELECT ` + earningColumns + ` FROM vendor_earnings WHERE vendor_id = $1`
	args := []any{vendorID}
	if filter.Status != nil {
		sql += ` AND payout_status = $2`
		args = append(args, string(*filter.Status))
	}
	rows, err := r.pool.Query(ctx, sql+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, wrapError("earnings.listByVendor", err)
	}
	earnings, err := collectEarnings(rows)
	if err != nil {
		return nil, wrapError("earnings.listByVendor", err)
	}
	return earnings, nil
}

func (r *EarningRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.VendorEarning, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+earningColumns+` FROM vendor_earnings WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, wrapError("earnings.listByOrder", err)
	}
	earnings, err := collectEarnings(rows)
	if err != nil {
		return nil, wrapError("earnings.listByOrder", err)
	}
	return earnings, nil
}

// VendorLedger reads the vendor's earnings and payout requests in one read-only repeatable-read
// transaction so both reflect the same snapshot.
func (r *EarningRepository) VendorLedger(ctx context.Context, vendorID string) (repositories.VendorLedger, error) {
	const op = "earnings.vendorLedger"
	var ledger repositories.VendorLedger
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+earningColumns+` FROM vendor_earnings WHERE vendor_id = $1 ORDER BY created_at, id`, vendorID)
		if err != nil {
			return err
		}
		earnings, err := collectEarnings(rows)
		if err != nil {
			return err
		}
		rows, err = tx.Query(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE vendor_id = $1 ORDER BY requested_at, id`, vendorID)
		if err != nil {
			return err
		}
		payouts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PayoutRequest, error) {
			return scanPayout(row)
		})
		if err != nil {
			return err
		}
		ledger = repositories.VendorLedger{Earnings: earnings, Payouts: payouts}
		return nil
	})
	if err != nil {
		return repositories.VendorLedger{}, wrapError(op, err)
	}
	return ledger, nil
}

// PayoutRepository stores payout requests and moves the earnings they reserve.
type PayoutRepository struct {
	pool *pgxpool.Pool
}

const reserveEarningSQL = `UPDATE vendor_earnings
SET gross_amount = $2, commission_amount = $3, net_earning = $4, payout_status = $5, payout_request_id = $6, updated_at = $7
WHERE id = $1 AND payout_status = $8`

// Create locks the vendor's unpaid earnings, reserves them oldest first and stores the request.
func (r *PayoutRepository) Create(ctx context.Context, request domain.PayoutRequest, newID func() string) (domain.PayoutRequest, error) {
	const op = "payout.create"
	var stored domain.PayoutRequest
	err := inTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+earningColumns+` FROM vendor_earnings
WHERE vendor_id = $1 AND payout_status = $2
ORDER BY created_at, id FOR UPDATE`, request.VendorID, string(domain.PayoutStatusUnpaid))
		if err != nil {
			return err
		}
		unpaid, err := collectEarnings(rows)
		if err != nil {
			return err
		}

		planned, plan, err := repositories.PlanPayout(request, unpaid, newID)
		if err != nil {
			return err
		}
		for _, earning := range plan.Reserved {
			tag, err := tx.Exec(ctx, reserveEarningSQL, earning.ID, earning.GrossAmount, earning.CommissionAmount,
				earning.NetEarning, string(earning.PayoutStatus), earning.PayoutRequestID, earning.UpdatedAt.UTC(),
				string(domain.PayoutStatusUnpaid))
			if err != nil {
				return err
			}
			if tag.RowsAffected() != 1 {
				return conflict(op, "earning %s is no longer unpaid", earning.ID)
			}
		}
		if plan.Remainder != nil {
			_, err := tx.Exec(ctx, `INSERT INTO vendor_earnings (`+earningColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, earningValues(*plan.Remainder)...)
			if err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `INSERT INTO payout_requests (`+payoutColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, payoutArgs(planned)...)
		if err != nil {
			return err
		}
		stored = planned
		return nil
	})
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	return stored, nil
}

func (r *PayoutRepository) FindByID(ctx context.Context, requestID string) (domain.PayoutRequest, error) {
	request, err := scanPayout(r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`, requestID))
	if err != nil {
		return domain.PayoutRequest{}, wrapError("payout.get", err)
	}
	return request, nil
}

// List returns payout requests oldest first.
func (r *PayoutRepository) List(ctx context.Context, filter repositories.PayoutListFilter) (domain.CursorPage[domain.PayoutRequest], error) {
	const op = "payout.list"
	at, id, ok, err := pagination.DecodeKeyset(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.PayoutRequest]{}, err
	}

	sql := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE TRUE`
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.VendorID != "" {
		sql += ` AND vendor_id = ` + bind(filter.VendorID)
	}
	if filter.Status != nil {
		sql += ` AND status = ` + bind(string(*filter.Status))
	}
	if ok {
		sql += fmt.Sprintf(` AND (requested_at, id) > (%s, %s)`, bind(at), bind(id))
	}
	size := pageSize(filter.Pagination)
	sql += ` ORDER BY requested_at, id LIMIT ` + bind(size+1)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return domain.CursorPage[domain.PayoutRequest]{}, wrapError(op, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PayoutRequest, error) {
		return scanPayout(row)
	})
	if err != nil {
		return domain.CursorPage[domain.PayoutRequest]{}, wrapError(op, err)
	}

	page := domain.CursorPage[domain.PayoutRequest]{Items: items}
	if len(items) > size {
		page.Items = items[:size]
		last := page.Items[size-1]
		if page.NextPageToken, err = pagination.EncodeKeyset(last.RequestedAt, last.ID); err != nil {
			return domain.CursorPage[domain.PayoutRequest]{}, err
		}
	}
	return page, nil
}

// Process locks the request and its reserved earnings, then applies the decision.
func (r *PayoutRepository) Process(ctx context.Context, cmd repositories.ProcessPayoutCommand) (domain.PayoutRequest, error) {
	const op = "payout.process"
	var processed domain.PayoutRequest
	err := inTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		request, err := scanPayout(tx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, cmd.RequestID))
		if err != nil {
			if isNoRows(err) {
				return repositories.NewLedgerError(op, repositories.LedgerErrorPayoutNotFound,
					fmt.Sprintf("payout %s not found", cmd.RequestID), err)
			}
			return err
		}

		rows, err := tx.Query(ctx, `SELECT `+earningColumns+` FROM vendor_earnings
WHERE id = ANY($1) ORDER BY created_at, id FOR UPDATE`, request.EarningIDs)
		if err != nil {
			return err
		}
		reserved, err := collectEarnings(rows)
		if err != nil {
			return err
		}
		if len(reserved) != len(request.EarningIDs) {
			return repositories.NewLedgerError(op, repositories.LedgerErrorInvariant,
				fmt.Sprintf("payout %s reserves %d earnings but %d exist", request.ID, len(request.EarningIDs), len(reserved)), nil)
		}

		next, updated, err := repositories.ApplyPayoutDecision(request, reserved, cmd)
		if err != nil {
			return err
		}
		for _, earning := range updated {
			_, err := tx.Exec(ctx, `UPDATE vendor_earnings SET payout_status = $2, payout_request_id = $3, updated_at = $4 WHERE id = $1`,
				earning.ID, string(earning.PayoutStatus), earning.PayoutRequestID, earning.UpdatedAt.UTC())
			if err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `UPDATE payout_requests
SET status = $2, processed_at = $3, processed_by = $4, note = $5
WHERE id = $1 AND status = $6`,
			next.ID, string(next.Status), next.ProcessedAt, next.ProcessedBy, next.Note, string(domain.PayoutRequestPending))
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return conflict(op, "payout %s processed concurrently", next.ID)
		}
		processed = next
		return nil
	})
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	return processed, nil
}
