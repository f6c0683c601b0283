package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	domain "github.com/bazaarly/api/internal/domain"
	pfirestore "github.com/bazaarly/api/internal/platform/firestore"
	"github.com/bazaarly/api/internal/repositories"
)

// EarningRepository reads vendor earnings written by settlement and payout transactions.
type EarningRepository struct {
	base
}

func (r *EarningRepository) ListByVendor(ctx context.Context, vendorID string, filter repositories.EarningFilter) ([]domain.VendorEarning, error) {
	coll, err := r.collection(ctx, earningsCollection)
	if err != nil {
		return nil, err
	}
	query := coll.Where("vendorId", "==", vendorID)
	if filter.Status != nil {
		query = query.Where("payoutStatus", "==", string(*filter.Status))
	}
	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("earnings.listByVendor", err)
	}
	return decodeEarnings(snaps)
}

func (r *EarningRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.VendorEarning, error) {
	coll, err := r.collection(ctx, earningsCollection)
	if err != nil {
		return nil, err
	}
	snaps, err := coll.Where("orderId", "==", orderID).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("earnings.listByOrder", err)
	}
	return decodeEarnings(snaps)
}

// VendorLedger reads the vendor's earnings and payout requests inside one read-only
// transaction so both come from the same snapshot.
func (r *EarningRepository) VendorLedger(ctx context.Context, vendorID string) (repositories.VendorLedger, error) {
	earnings, err := r.collection(ctx, earningsCollection)
	if err != nil {
		return repositories.VendorLedger{}, err
	}
	payouts, err := r.collection(ctx, payoutRequestsCollection)
	if err != nil {
		return repositories.VendorLedger{}, err
	}

	var ledger repositories.VendorLedger
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		earningSnaps, err := tx.Documents(earnings.Where("vendorId", "==", vendorID)).GetAll()
		if err != nil {
			return err
		}
		payoutSnaps, err := tx.Documents(payouts.Where("vendorId", "==", vendorID).
			OrderBy("requestedAt", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)).GetAll()
		if err != nil {
			return err
		}
		decoded, err := decodeEarnings(earningSnaps)
		if err != nil {
			return err
		}
		requests := make([]domain.PayoutRequest, 0, len(payoutSnaps))
		for _, snap := range payoutSnaps {
			request, err := decodePayout(snap)
			if err != nil {
				return err
			}
			requests = append(requests, request)
		}
		ledger = repositories.VendorLedger{Earnings: decoded, Payouts: requests}
		return nil
	}, pfirestore.WithReadOnly())
	if err != nil {
		return repositories.VendorLedger{}, wrapLedgerError("earnings.vendorLedger", err)
	}
	return ledger, nil
}

// decodeEarnings returns the earnings oldest first.
func decodeEarnings(snaps []*firestore.DocumentSnapshot) ([]domain.VendorEarning, error) {
	out := make([]domain.VendorEarning, 0, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc earningDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode earning %s: %w", snap.Ref.ID, err)
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
	}
	repositories.SortEarningsOldestFirst(out)
	return out, nil
}
