// Package firestore implements the ledger repositories on Cloud Firestore. Every money-moving
// operation runs inside a single RunTransaction so optimistic concurrency retries the whole
// read-transition-write cycle.
package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/bazaarly/api/internal/platform/firestore"
	"github.com/bazaarly/api/internal/repositories"
)

// Registry implements repositories.Registry on a shared Firestore provider.
type Registry struct {
	provider *pfirestore.Provider

	catalog  *CatalogRepository
	coupons  *CouponRepository
	orders   *OrderRepository
	wallets  *WalletRepository
	earnings *EarningRepository
	payouts  *PayoutRepository
	accounts *PayoutAccountRepository
	settings *SettingsRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every Firestore repository to provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	b := base{provider: provider}
	return &Registry{
		provider: provider,
		catalog:  &CatalogRepository{base: b, docs: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)},
		coupons:  &CouponRepository{base: b, docs: pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil, nil)},
		orders:   &OrderRepository{base: b},
		wallets:  &WalletRepository{base: b},
		earnings: &EarningRepository{base: b},
		payouts:  &PayoutRepository{base: b},
		accounts: &PayoutAccountRepository{base: b, docs: pfirestore.NewBaseRepository[payoutAccountDocument](provider, payoutAccountsCollection, nil, nil)},
		settings: &SettingsRepository{base: b},
	}, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Wallets() repositories.WalletRepository { return r.wallets }
func (r *Registry) Earnings() repositories.EarningRepository { return r.earnings }
func (r *Registry) Payouts() repositories.PayoutRepository { return r.payouts }
func (r *Registry) PayoutAccounts() repositories.PayoutAccountRepository { return r.accounts }
func (r *Registry) Settings() repositories.SettingsRepository { return r.settings }

type base struct {
	provider *pfirestore.Provider
}

func (b base) collection(ctx context.Context, name string) (*firestore.CollectionRef, error) {
	client, err := b.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(name), nil
}

func (b base) doc(ctx context.Context, collection, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pfirestore.WrapError(collection+".document", errors.New("firestore: document id is required"))
	}
	coll, err := b.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// wrapLedgerError keeps typed ledger errors intact and classifies everything else.
func wrapLedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		if ledgerErr.Op == "" {
			ledgerErr.Op = op
		}
		return ledgerErr
	}
	return pfirestore.WrapError(op, err)
}
