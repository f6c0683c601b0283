package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	domain "github.com/bazaarly/api/internal/domain"
	pfirestore "github.com/bazaarly/api/internal/platform/firestore"
)

// CouponRepository stores coupon definitions keyed by their normalised code.
type CouponRepository struct {
	base
	docs *pfirestore.BaseRepository[couponDocument]
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	doc, err := r.docs.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Upsert writes the definition, keeping the stored usage counter and creation time.
func (r *CouponRepository) Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	ref, err := r.docs.DocumentRef(ctx, coupon.Code)
	if err != nil {
		return domain.Coupon{}, err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing couponDocument
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			coupon.UsedCount = existing.UsedCount
			coupon.CreatedAt = existing.CreatedAt
		case !pfirestore.IsNotFound(err):
			return err
		}
		return tx.Set(ref, newCouponDocument(coupon))
	})
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.upsert", err)
	}
	return coupon, nil
}
