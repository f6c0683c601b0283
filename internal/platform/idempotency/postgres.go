package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on the Postgres ledger backend (table idempotency_keys).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed idempotency store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectIdempotencyRecord = `
SELECT key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
FROM idempotency_keys WHERE id = $1 FOR UPDATE`

// Reserve inserts a pending row or locks the existing one to classify it.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	id := documentID(key)
	fresh := newPendingRecord(key, fingerprint, now, ttl)

	var result Reservation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO idempotency_keys (id, key, fingerprint, status, response_status, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, 0, $5, $5, $6)
ON CONFLICT (id) DO NOTHING`, id, key, fingerprint, string(StatusPending), now, fresh.ExpiresAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			result = Reservation{State: ReservationStateNew, Record: fresh}
			return nil
		}

		record, err := scanRecord(tx.QueryRow(ctx, selectIdempotencyRecord, id))
		if err != nil {
			return err
		}
		if !expired(record, now) {
			result, err = reservationFor(record, fingerprint)
			return err
		}
		_, err = tx.Exec(ctx, `
UPDATE idempotency_keys
SET key = $2, fingerprint = $3, status = $4, response_status = 0, response_headers = NULL, response_body = NULL,
    created_at = $5, updated_at = $5, expires_at = $6
WHERE id = $1`, id, key, fingerprint, string(StatusPending), now, fresh.ExpiresAt)
		if err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: fresh}
		return nil
	})
	return result, err
}

// SaveResponse stores the completed response, refusing a different fingerprint.
func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO idempotency_keys (id, key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status, response_status = EXCLUDED.response_status, response_headers = EXCLUDED.response_headers,
    response_body = EXCLUDED.response_body, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.fingerprint = EXCLUDED.fingerprint`,
		documentID(key), key, fingerprint, string(StatusCompleted), resp.Status, sanitizeHeaders(resp.Headers), resp.Body, now, now.Add(ttl))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release removes the reservation to allow callers to retry.
func (s *PostgresStore) Release(ctx context.Context, key, _ string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE id = $1`, documentID(key))
	return err
}

// CleanupExpired deletes up to limit expired rows.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tag, err := s.pool.Exec(ctx, `
DELETE FROM idempotency_keys
WHERE id IN (SELECT id FROM idempotency_keys WHERE expires_at <= $1 LIMIT $2)`, now.UTC(), limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		record  Record
		status  string
		headers map[string][]string
	)
	err := row.Scan(&record.Key, &record.Fingerprint, &status, &record.ResponseStatus, &headers,
		&record.ResponseBody, &record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, errors.New("idempotency: reservation vanished during reserve")
	}
	if err != nil {
		return Record{}, err
	}
	record.Status = Status(status)
	record.ResponseHeaders = headers
	return record, nil
}
