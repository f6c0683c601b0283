package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/bazaarly/api/internal/domain"
	pfirestore "github.com/bazaarly/api/internal/platform/firestore"
)

// WalletRepository stores the append-only wallet ledger. Balances are never stored.
type WalletRepository struct {
	base
}

// AppendCredit adds a credit entry and bumps the wallet head inside one transaction.
func (r *WalletRepository) AppendCredit(ctx context.Context, txn domain.WalletTransaction) error {
	if txn.Type != domain.WalletCredit || txn.Amount <= 0 {
		return pfirestore.WrapError("wallet.append", status.Error(codes.FailedPrecondition, "only positive credits may be appended"))
	}
	txnRef, err := r.doc(ctx, walletTxnsCollection, txn.ID)
	if err != nil {
		return err
	}
	headRef, err := r.doc(ctx, walletsCollection, txn.UserID)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		head, err := readWalletHead(tx, headRef)
		if err != nil {
			return err
		}
		if err := tx.Create(txnRef, newWalletTransactionDocument(txn)); err != nil {
			return err
		}
		head.Entries++
		head.UpdatedAt = txn.CreatedAt.UTC()
		return tx.Set(headRef, head)
	})
	return pfirestore.WrapError("wallet.append", err)
}

// ListByUser returns the user's ledger oldest first.
func (r *WalletRepository) ListByUser(ctx context.Context, userID string) ([]domain.WalletTransaction, error) {
	coll, err := r.collection(ctx, walletTxnsCollection)
	if err != nil {
		return nil, err
	}
	snaps, err := ledgerQuery(coll, userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("wallet.list", err)
	}
	return decodeWalletTransactions(snaps)
}

func ledgerQuery(coll *firestore.CollectionRef, userID string) firestore.Query {
	return coll.Where("userId", "==", userID).
		OrderBy("createdAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
}

func readWalletHead(tx *firestore.Transaction, ref *firestore.DocumentRef) (walletHeadDocument, error) {
	var head walletHeadDocument
	snap, err := tx.Get(ref)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return head, nil
		}
		return head, err
	}
	if err := snap.DataTo(&head); err != nil {
		return head, fmt.Errorf("decode wallet head %s: %w", ref.ID, err)
	}
	return head, nil
}

func readWalletLedger(tx *firestore.Transaction, coll *firestore.CollectionRef, userID string) ([]domain.WalletTransaction, error) {
	snaps, err := tx.Documents(ledgerQuery(coll, userID)).GetAll()
	if err != nil {
		return nil, err
	}
	return decodeWalletTransactions(snaps)
}

func decodeWalletTransactions(snaps []*firestore.DocumentSnapshot) ([]domain.WalletTransaction, error) {
	out := make([]domain.WalletTransaction, 0, len(snaps))
	for _, snap := range snaps {
		var doc walletTransactionDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode wallet transaction %s: %w", snap.Ref.ID, err)
		}
		out = append(out, doc.toDomain(snap.Ref.ID))
	}
	return out, nil
}
