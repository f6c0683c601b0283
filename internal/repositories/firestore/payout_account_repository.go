package firestore

import (
	"context"

	domain "github.com/bazaarly/api/internal/domain"
	pfirestore "github.com/bazaarly/api/internal/platform/firestore"
)

// PayoutAccountRepository stores one remittance destination per vendor.
type PayoutAccountRepository struct {
	base
	docs *pfirestore.BaseRepository[payoutAccountDocument]
}

func (r *PayoutAccountRepository) Get(ctx context.Context, vendorID string) (domain.PayoutAccount, error) {
	doc, err := r.docs.Get(ctx, vendorID)
	if err != nil {
		return domain.PayoutAccount{}, err
	}
	return domain.PayoutAccount{
		VendorID:  doc.ID,
		Method:    domain.PayoutMethod(doc.Data.Method),
		Details:   doc.Data.Details,
		UpdatedAt: doc.Data.UpdatedAt,
	}, nil
}

func (r *PayoutAccountRepository) Save(ctx context.Context, account domain.PayoutAccount) error {
	_, err := r.docs.Set(ctx, account.VendorID, payoutAccountDocument{
		Method:    string(account.Method),
		Details:   account.Details,
		UpdatedAt: account.UpdatedAt.UTC(),
	})
	return err
}
