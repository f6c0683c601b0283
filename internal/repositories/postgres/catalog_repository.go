package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/repositories"
)

// CatalogRepository reads the products table.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

func (r *CatalogRepository) FindByID(ctx context.Context, productID string) (domain.CatalogProduct, error) {
	var p domain.CatalogProduct
	err := r.pool.QueryRow(ctx, `
SELECT id, vendor_id, title, category, price, currency, approved, deleted, updated_at
FROM products WHERE id = $1`, productID).
		Scan(&p.ID, &p.VendorID, &p.Title, &p.Category, &p.Price, &p.Currency, &p.Approved, &p.Deleted, &p.UpdatedAt)
	if err != nil {
		return domain.CatalogProduct{}, wrapError("products.get", err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// CouponRepository stores coupon definitions and their usage counters.
type CouponRepository struct {
	pool *pgxpool.Pool
}

const couponColumns = `code, type, value, min_purchase, max_discount, usage_limit, used_count, expires_at,
applicable_products, applicable_categories, created_at, updated_at`

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	coupon, err := scanCoupon(r.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
	if err != nil {
		return domain.Coupon{}, wrapError("coupons.get", err)
	}
	return coupon, nil
}

// Upsert writes the coupon definition. The usage counter and creation time of an existing row are
// kept, and the write is refused when the new limit would fall below the uses already consumed.
func (r *CouponRepository) Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	const op = "coupons.upsert"
	now := coupon.UpdatedAt.UTC()
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = now
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO coupons (code, type, value, min_purchase, max_discount, usage_limit, used_count, expires_at,
    applicable_products, applicable_categories, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (code) DO UPDATE
SET type = EXCLUDED.type, value = EXCLUDED.value, min_purchase = EXCLUDED.min_purchase,
    max_discount = EXCLUDED.max_discount, usage_limit = EXCLUDED.usage_limit, expires_at = EXCLUDED.expires_at,
    applicable_products = EXCLUDED.applicable_products, applicable_categories = EXCLUDED.applicable_categories,
    updated_at = EXCLUDED.updated_at
WHERE coupons.used_count <= EXCLUDED.usage_limit
RETURNING `+couponColumns,
		coupon.Code, string(coupon.Type), coupon.Value, coupon.MinPurchase, coupon.MaxDiscount, coupon.UsageLimit,
		coupon.UsedCount, nullTime(coupon.ExpiresAt), emptyIfNil(coupon.ApplicableProducts),
		emptyIfNil(coupon.ApplicableCategories), coupon.CreatedAt.UTC(), now)
	stored, err := scanCoupon(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Coupon{}, conflict(op, "coupon %s has already been used more than %d times", coupon.Code, coupon.UsageLimit)
		}
		return domain.Coupon{}, wrapError(op, err)
	}
	return stored, nil
}

// redeemCoupon consumes one use inside tx. The row is locked first so the limit check and the
// conditional increment see the same counter.
func redeemCoupon(ctx context.Context, tx pgx.Tx, code string, at time.Time) error {
	coupon, err := scanCoupon(tx.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1 FOR UPDATE`, code))
	if err != nil {
		if isNoRows(err) {
			return repositories.NewLedgerError("order.insert", repositories.LedgerErrorCouponNotFound,
				fmt.Sprintf("coupon %s not found", code), err)
		}
		return err
	}
	redeemed, err := repositories.RedeemCoupon(coupon, at)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE coupons SET used_count = used_count + 1, updated_at = $2
WHERE code = $1 AND used_count < usage_limit`, code, redeemed.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return repositories.NewLedgerError("coupon.redeem", repositories.LedgerErrorCouponExhausted,
			fmt.Sprintf("coupon %s has no remaining uses", code), nil)
	}
	return nil
}

func scanCoupon(row pgx.Row) (domain.Coupon, error) {
	var (
		c          domain.Coupon
		couponType string
		expiresAt  *time.Time
	)
	err := row.Scan(&c.Code, &couponType, &c.Value, &c.MinPurchase, &c.MaxDiscount, &c.UsageLimit, &c.UsedCount,
		&expiresAt, &c.ApplicableProducts, &c.ApplicableCategories, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Coupon{}, err
	}
	c.Type = domain.CouponType(couponType)
	if expiresAt != nil {
		c.ExpiresAt = expiresAt.UTC()
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

// PayoutAccountRepository stores vendor remittance details.
type PayoutAccountRepository struct {
	pool *pgxpool.Pool
}

func (r *PayoutAccountRepository) Get(ctx context.Context, vendorID string) (domain.PayoutAccount, error) {
	account := domain.PayoutAccount{VendorID: vendorID}
	var method string
	err := r.pool.QueryRow(ctx, `SELECT method, details, updated_at FROM payout_accounts WHERE vendor_id = $1`, vendorID).
		Scan(&method, &account.Details, &account.UpdatedAt)
	if err != nil {
		return domain.PayoutAccount{}, wrapError("payoutAccounts.get", err)
	}
	account.Method = domain.PayoutMethod(method)
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

func (r *PayoutAccountRepository) Save(ctx context.Context, account domain.PayoutAccount) error {
	details := account.Details
	if details == nil {
		details = map[string]string{}
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO payout_accounts (vendor_id, method, details, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (vendor_id) DO UPDATE
SET method = EXCLUDED.method, details = EXCLUDED.details, updated_at = EXCLUDED.updated_at`,
		account.VendorID, string(account.Method), details, account.UpdatedAt.UTC())
	return wrapError("payoutAccounts.save", err)
}
