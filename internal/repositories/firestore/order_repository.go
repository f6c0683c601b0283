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

// OrderRepository persists orders and runs the settlement transaction.
type OrderRepository struct {
	base
}

// Insert creates the order and, when redemption is set, consumes one coupon use in the same
// transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order, redemption *repositories.CouponRedemption) error {
	orderRef, err := r.doc(ctx, ordersCollection, order.ID)
	if err != nil {
		return err
	}
	var couponRef *firestore.DocumentRef
	if redemption != nil {
		if couponRef, err = r.doc(ctx, couponsCollection, redemption.Code); err != nil {
			return err
		}
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if couponRef != nil {
			snap, err := tx.Get(couponRef)
			if err != nil {
				if pfirestore.IsNotFound(err) {
					return repositories.NewLedgerError("order.insert", repositories.LedgerErrorCouponNotFound,
						fmt.Sprintf("coupon %s not found", redemption.Code), err)
				}
				return err
			}
			var doc couponDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode coupon %s: %w", redemption.Code, err)
			}
			redeemed, err := repositories.RedeemCoupon(doc.toDomain(redemption.Code), redemption.RedeemedAt)
			if err != nil {
				return err
			}
			if err := tx.Set(couponRef, newCouponDocument(redeemed)); err != nil {
				return err
			}
		}
		return tx.Create(orderRef, newOrderDocument(order))
	})
	return wrapLedgerError("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.doc(ctx, ordersCollection, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrder(snap)
}

// ListByBuyer returns the buyer's orders newest first.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	coll, err := r.collection(ctx, ordersCollection)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pageSize(pager)
	query := coll.Where("buyerId", "==", buyerID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	at, id, ok, err := pagination.DecodeKeyset(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	if ok {
		query = query.StartAfter(at, id)
	}

	snaps, err := query.Limit(size + 1).Documents(ctx).GetAll()
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}
	orders := make([]domain.Order, 0, len(snaps))
	for _, snap := range snaps {
		order, err := decodeOrder(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
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

// UpdatePayment applies mutate to the freshly read order inside a transaction.
func (r *OrderRepository) UpdatePayment(ctx context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error) {
	ref, err := r.doc(ctx, ordersCollection, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return err
		}
		if err := mutate(&order); err != nil {
			return err
		}
		updated = order
		return tx.Set(ref, newOrderDocument(order))
	})
	if err != nil {
		return domain.Order{}, wrapLedgerError("orders.updatePayment", err)
	}
	return updated, nil
}

// Settle marks the order paid, appends the wallet debit and writes vendor earnings atomically.
// The wallet head document is read and rewritten so concurrent debits of one wallet serialise.
func (r *OrderRepository) Settle(ctx context.Context, cmd repositories.SettleCommand) (repositories.SettleResult, error) {
	const op = "order.settle"
	orderRef, err := r.doc(ctx, ordersCollection, cmd.OrderID)
	if err != nil {
		return repositories.SettleResult{}, err
	}
	walletTxns, err := r.collection(ctx, walletTxnsCollection)
	if err != nil {
		return repositories.SettleResult{}, err
	}
	earnings, err := r.collection(ctx, earningsCollection)
	if err != nil {
		return repositories.SettleResult{}, err
	}
	wallets, err := r.collection(ctx, walletsCollection)
	if err != nil {
		return repositories.SettleResult{}, err
	}

	var result repositories.SettleResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(orderRef)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NewLedgerError(op, repositories.LedgerErrorOrderNotFound,
					fmt.Sprintf("order %s not found", cmd.OrderID), err)
			}
			return err
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return err
		}

		var (
			ledger  []domain.WalletTransaction
			headRef *firestore.DocumentRef
			head    walletHeadDocument
		)
		if cmd.WalletDebitID != "" && !order.Settled() {
			headRef = wallets.Doc(order.BuyerID)
			if head, err = readWalletHead(tx, headRef); err != nil {
				return err
			}
			if ledger, err = readWalletLedger(tx, walletTxns, order.BuyerID); err != nil {
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
			if err := tx.Create(walletTxns.Doc(settled.Debit.ID), newWalletTransactionDocument(*settled.Debit)); err != nil {
				return err
			}
			head.Entries++
			head.UpdatedAt = cmd.SettledAt.UTC()
			if err := tx.Set(headRef, head); err != nil {
				return err
			}
		}
		for _, earning := range settled.Earnings {
			if err := tx.Create(earnings.Doc(earning.ID), newEarningDocument(earning)); err != nil {
				return err
			}
		}
		return tx.Set(orderRef, newOrderDocument(settled.Order))
	})
	if err != nil {
		return repositories.SettleResult{}, wrapLedgerError(op, err)
	}
	return result, nil
}

// Refund credits the buyer, reverses the order's unpaid earnings and marks the order refunded.
// All reads, including the earnings query, happen before any write.
func (r *OrderRepository) Refund(ctx context.Context, cmd repositories.RefundCommand) (repositories.RefundResult, error) {
	const op = "order.refund"
	orderRef, err := r.doc(ctx, ordersCollection, cmd.OrderID)
	if err != nil {
		return repositories.RefundResult{}, err
	}
	walletTxns, err := r.collection(ctx, walletTxnsCollection)
	if err != nil {
		return repositories.RefundResult{}, err
	}
	earnings, err := r.collection(ctx, earningsCollection)
	if err != nil {
		return repositories.RefundResult{}, err
	}
	wallets, err := r.collection(ctx, walletsCollection)
	if err != nil {
		return repositories.RefundResult{}, err
	}

	var result repositories.RefundResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(orderRef)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NewLedgerError(op, repositories.LedgerErrorOrderNotFound,
					fmt.Sprintf("order %s not found", cmd.OrderID), err)
			}
			return err
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return err
		}
		earningSnaps, err := tx.Documents(earnings.Where("orderId", "==", order.ID)).GetAll()
		if err != nil {
			return err
		}
		orderEarnings, err := decodeEarnings(earningSnaps)
		if err != nil {
			return err
		}
		headRef := wallets.Doc(order.BuyerID)
		head, err := readWalletHead(tx, headRef)
		if err != nil {
			return err
		}

		refunded, err := repositories.ApplyRefund(order, orderEarnings, cmd)
		if err != nil {
			return err
		}
		if err := tx.Create(walletTxns.Doc(refunded.Credit.ID), newWalletTransactionDocument(refunded.Credit)); err != nil {
			return err
		}
		head.Entries++
		head.UpdatedAt = cmd.RefundedAt.UTC()
		if err := tx.Set(headRef, head); err != nil {
			return err
		}
		for _, earning := range refunded.Reversed {
			if err := tx.Set(earnings.Doc(earning.ID), newEarningDocument(earning)); err != nil {
				return err
			}
		}
		result = refunded
		return tx.Set(orderRef, newOrderDocument(refunded.Order))
	})
	if err != nil {
		return repositories.RefundResult{}, wrapLedgerError(op, err)
	}
	return result, nil
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func pageSize(pager domain.Pagination) int {
	if pager.PageSize <= 0 || pager.PageSize > pagination.DefaultMaxPageSize {
		return pagination.DefaultPageSize
	}
	return pager.PageSize
}
