package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	domain "github.com/bazaarly/api/internal/domain"
	pfirestore "github.com/bazaarly/api/internal/platform/firestore"
	"github.com/bazaarly/api/internal/platform/pagination"
	"github.com/bazaarly/api/internal/repositories"
)

// PayoutRepository stores payout requests and moves the earnings they reserve.
type PayoutRepository struct {
	base
}

// Create reserves the vendor's unpaid earnings oldest first and stores the request. Reserved
// earnings are rewritten inside the transaction, so two concurrent requests cannot claim the
// same rows.
func (r *PayoutRepository) Create(ctx context.Context, request domain.PayoutRequest, newID func() string) (domain.PayoutRequest, error) {
	requestRef, err := r.doc(ctx, payoutRequestsCollection, request.ID)
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	earnings, err := r.collection(ctx, earningsCollection)
	if err != nil {
		return domain.PayoutRequest{}, err
	}

	var stored domain.PayoutRequest
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		query := earnings.Where("vendorId", "==", request.VendorID).
			Where("payoutStatus", "==", string(domain.PayoutStatusUnpaid))
		snaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		unpaid, err := decodeEarnings(snaps)
		if err != nil {
			return err
		}

		planned, plan, err := repositories.PlanPayout(request, unpaid, newID)
		if err != nil {
			return err
		}
		for _, earning := range plan.Reserved {
			if err := tx.Set(earnings.Doc(earning.ID), newEarningDocument(earning)); err != nil {
				return err
			}
		}
		if plan.Remainder != nil {
			if err := tx.Create(earnings.Doc(plan.Remainder.ID), newEarningDocument(*plan.Remainder)); err != nil {
				return err
			}
		}
		stored = planned
		return tx.Create(requestRef, newPayoutRequestDocument(planned))
	})
	if err != nil {
		return domain.PayoutRequest{}, wrapLedgerError("payout.create", err)
	}
	return stored, nil
}

func (r *PayoutRepository) FindByID(ctx context.Context, requestID string) (domain.PayoutRequest, error) {
	ref, err := r.doc(ctx, payoutRequestsCollection, requestID)
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.PayoutRequest{}, pfirestore.WrapError("payout.get", err)
	}
	return decodePayout(snap)
}

// List returns payout requests oldest first.
func (r *PayoutRepository) List(ctx context.Context, filter repositories.PayoutListFilter) (domain.CursorPage[domain.PayoutRequest], error) {
	coll, err := r.collection(ctx, payoutRequestsCollection)
	if err != nil {
		return domain.CursorPage[domain.PayoutRequest]{}, err
	}
	query := coll.Query
	if filter.VendorID != "" {
		query = query.Where("vendorId", "==", filter.VendorID)
	}
	if filter.Status != nil {
		query = query.Where("status", "==", string(*filter.Status))
	}
	query = query.OrderBy("requestedAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)

	at, id, ok, err := pagination.DecodeKeyset(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.PayoutRequest]{}, err
	}
	if ok {
		query = query.StartAfter(at, id)
	}
	size := pageSize(filter.Pagination)
	snaps, err := query.Limit(size + 1).Documents(ctx).GetAll()
	if err != nil {
		return domain.CursorPage[domain.PayoutRequest]{}, pfirestore.WrapError("payout.list", err)
	}

	items := make([]domain.PayoutRequest, 0, len(snaps))
	for _, snap := range snaps {
		request, err := decodePayout(snap)
		if err != nil {
			return domain.CursorPage[domain.PayoutRequest]{}, err
		}
		items = append(items, request)
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

// Process applies the admin decision to the request and every earning it reserved.
func (r *PayoutRepository) Process(ctx context.Context, cmd repositories.ProcessPayoutCommand) (domain.PayoutRequest, error) {
	const op = "payout.process"
	requestRef, err := r.doc(ctx, payoutRequestsCollection, cmd.RequestID)
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	earnings, err := r.collection(ctx, earningsCollection)
	if err != nil {
		return domain.PayoutRequest{}, err
	}

	var processed domain.PayoutRequest
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(requestRef)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NewLedgerError(op, repositories.LedgerErrorPayoutNotFound,
					fmt.Sprintf("payout %s not found", cmd.RequestID), err)
			}
			return err
		}
		request, err := decodePayout(snap)
		if err != nil {
			return err
		}

		refs := make([]*firestore.DocumentRef, 0, len(request.EarningIDs))
		for _, id := range request.EarningIDs {
			refs = append(refs, earnings.Doc(id))
		}
		var reserved []domain.VendorEarning
		if len(refs) > 0 {
			snaps, err := tx.GetAll(refs)
			if err != nil {
				return err
			}
			for _, earningSnap := range snaps {
				if !earningSnap.Exists() {
					return repositories.NewLedgerError(op, repositories.LedgerErrorInvariant,
						fmt.Sprintf("earning %s reserved by payout %s is missing", earningSnap.Ref.ID, request.ID), nil)
				}
			}
			if reserved, err = decodeEarnings(snaps); err != nil {
				return err
			}
		}

		next, updated, err := repositories.ApplyPayoutDecision(request, reserved, cmd)
		if err != nil {
			return err
		}
		for _, earning := range updated {
			if err := tx.Set(earnings.Doc(earning.ID), newEarningDocument(earning)); err != nil {
				return err
			}
		}
		processed = next
		return tx.Set(requestRef, newPayoutRequestDocument(next))
	})
	if err != nil {
		return domain.PayoutRequest{}, wrapLedgerError(op, err)
	}
	return processed, nil
}

func decodePayout(snap *firestore.DocumentSnapshot) (domain.PayoutRequest, error) {
	var doc payoutRequestDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.PayoutRequest{}, fmt.Errorf("decode payout %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}
