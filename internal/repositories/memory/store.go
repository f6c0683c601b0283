// Package memory provides a mutex-guarded, in-process repository backend for tests and local development.
// Every operation holds the store lock for its whole read-transition-write cycle.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/platform/pagination"
	"github.com/bazaarly/api/internal/repositories"
)

// Store is an in-memory implementation of repositories.Registry.
type Store struct {
	mu sync.Mutex

	products  map[string]domain.CatalogProduct
	coupons   map[string]domain.Coupon
	orders    map[string]domain.Order
	wallet    []domain.WalletTransaction
	earnings  map[string]domain.VendorEarning
	payouts   map[string]domain.PayoutRequest
	accounts  map[string]domain.PayoutAccount
	settings  []domain.PlatformSettings
	orderSeq  map[string]int64
	insertSeq int64
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		products: make(map[string]domain.CatalogProduct),
		coupons:  make(map[string]domain.Coupon),
		orders:   make(map[string]domain.Order),
		earnings: make(map[string]domain.VendorEarning),
		payouts:  make(map[string]domain.PayoutRequest),
		accounts: make(map[string]domain.PayoutAccount),
		orderSeq: make(map[string]int64),
	}
}

// PutProduct seeds or replaces a catalog product.
func (s *Store) PutProduct(product domain.CatalogProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Catalog() repositories.CatalogRepository { return catalogRepo{s} }
func (s *Store) Coupons() repositories.CouponRepository { return couponRepo{s} }
func (s *Store) Orders() repositories.OrderRepository { return orderRepo{s} }
func (s *Store) Wallets() repositories.WalletRepository { return walletRepo{s} }
func (s *Store) Earnings() repositories.EarningRepository { return earningRepo{s} }
func (s *Store) Payouts() repositories.PayoutRepository { return payoutRepo{s} }
func (s *Store) PayoutAccounts() repositories.PayoutAccountRepository { return accountRepo{s} }
func (s *Store) Settings() repositories.SettingsRepository { return settingsRepo{s} }

type catalogRepo struct{ s *Store }

func (r catalogRepo) FindByID(_ context.Context, productID string) (domain.CatalogProduct, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productID]
	if !ok {
		return domain.CatalogProduct{}, notFound("catalog.find", "product %s not found", productID)
	}
	return product, nil
}

type couponRepo struct{ s *Store }

func (r couponRepo) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	coupon, ok := r.s.coupons[code]
	if !ok {
		return domain.Coupon{}, notFound("coupon.find", "coupon %s not found", code)
	}
	return cloneCoupon(coupon), nil
}

func (r couponRepo) Upsert(_ context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.coupons[coupon.Code]; ok {
		coupon.UsedCount = existing.UsedCount
		coupon.CreatedAt = existing.CreatedAt
	}
	r.s.coupons[coupon.Code] = cloneCoupon(coupon)
	return cloneCoupon(coupon), nil
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(_ context.Context, order domain.Order, redemption *repositories.CouponRedemption) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.orders[order.ID]; exists {
		return conflict("order.insert", "order %s already exists", order.ID)
	}
	if redemption != nil {
		coupon, ok := r.s.coupons[redemption.Code]
		if !ok {
			return repositories.NewLedgerError("order.insert", repositories.LedgerErrorCouponNotFound,
				"coupon "+redemption.Code+" not found", nil)
		}
		redeemed, err := repositories.RedeemCoupon(coupon, redemption.RedeemedAt)
		if err != nil {
			return err
		}
		r.s.coupons[redemption.Code] = redeemed
	}
	r.s.insertSeq++
	r.s.orderSeq[order.ID] = r.s.insertSeq
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order.find", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepo) ListByBuyer(_ context.Context, buyerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	matches := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if order.BuyerID == buyerID {
			matches = append(matches, order)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return r.s.orderSeq[matches[i].ID] > r.s.orderSeq[matches[j].ID]
	})
	page, next, err := paginate(matches, pager)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	for i := range page {
		page[i] = cloneOrder(page[i])
	}
	return domain.CursorPage[domain.Order]{Items: page, NextPageToken: next}, nil
}

func (r orderRepo) UpdatePayment(_ context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order.update_payment", "order %s not found", orderID)
	}
	working := cloneOrder(order)
	if err := mutate(&working); err != nil {
		return domain.Order{}, err
	}
	r.s.orders[orderID] = cloneOrder(working)
	return working, nil
}

func (r orderRepo) Settle(_ context.Context, cmd repositories.SettleCommand) (repositories.SettleResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[cmd.OrderID]
	if !ok {
		return repositories.SettleResult{}, repositories.NewLedgerError("order.settle", repositories.LedgerErrorOrderNotFound,
			"order "+cmd.OrderID+" not found", nil)
	}
	var ledger []domain.WalletTransaction
	if cmd.WalletDebitID != "" {
		ledger = r.s.walletFor(order.BuyerID)
	}
	result, err := repositories.ApplySettlement(cloneOrder(order), ledger, cmd)
	if err != nil || result.AlreadySettled {
		return result, err
	}
	for _, earning := range result.Earnings {
		if _, exists := r.s.earnings[earning.ID]; exists {
			return repositories.SettleResult{}, conflict("order.settle", "earning %s already exists", earning.ID)
		}
	}
	if result.Debit != nil {
		r.s.wallet = append(r.s.wallet, *result.Debit)
	}
	for _, earning := range result.Earnings {
		r.s.earnings[earning.ID] = earning
	}
	r.s.orders[order.ID] = cloneOrder(result.Order)
	return result, nil
}

func (r orderRepo) Refund(_ context.Context, cmd repositories.RefundCommand) (repositories.RefundResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[cmd.OrderID]
	if !ok {
		return repositories.RefundResult{}, repositories.NewLedgerError("order.refund", repositories.LedgerErrorOrderNotFound,
			"order "+cmd.OrderID+" not found", nil)
	}
	earnings := make([]domain.VendorEarning, 0)
	for _, earning := range r.s.earnings {
		if earning.OrderID == order.ID {
			earnings = append(earnings, earning)
		}
	}
	repositories.SortEarningsOldestFirst(earnings)
	result, err := repositories.ApplyRefund(cloneOrder(order), earnings, cmd)
	if err != nil {
		return repositories.RefundResult{}, err
	}
	for _, existing := range r.s.wallet {
		if existing.ID == result.Credit.ID {
			return repositories.RefundResult{}, conflict("order.refund", "transaction %s already exists", result.Credit.ID)
		}
	}
	r.s.wallet = append(r.s.wallet, result.Credit)
	for _, earning := range result.Reversed {
		r.s.earnings[earning.ID] = earning
	}
	r.s.orders[order.ID] = cloneOrder(result.Order)
	return result, nil
}

func (s *Store) walletFor(userID string) []domain.WalletTransaction {
	out := make([]domain.WalletTransaction, 0)
	for _, txn := range s.wallet {
		if txn.UserID == userID {
			out = append(out, txn)
		}
	}
	return out
}

type walletRepo struct{ s *Store }

func (r walletRepo) AppendCredit(_ context.Context, txn domain.WalletTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if txn.Type != domain.WalletCredit || txn.Amount <= 0 {
		return conflict("wallet.append", "only positive credits may be appended")
	}
	for _, existing := range r.s.wallet {
		if existing.ID == txn.ID {
			return conflict("wallet.append", "transaction %s already exists", txn.ID)
		}
	}
	r.s.wallet = append(r.s.wallet, txn)
	return nil
}

func (r walletRepo) ListByUser(_ context.Context, userID string) ([]domain.WalletTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.walletFor(userID), nil
}

type earningRepo struct{ s *Store }

func (r earningRepo) ListByVendor(_ context.Context, vendorID string, filter repositories.EarningFilter) ([]domain.VendorEarning, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.VendorEarning, 0)
	for _, earning := range r.s.earnings {
		if earning.VendorID != vendorID {
			continue
		}
		if filter.Status != nil && earning.PayoutStatus != *filter.Status {
			continue
		}
		out = append(out, earning)
	}
	repositories.SortEarningsOldestFirst(out)
	return out, nil
}

func (r earningRepo) ListByOrder(_ context.Context, orderID string) ([]domain.VendorEarning, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.VendorEarning, 0)
	for _, earning := range r.s.earnings {
		if earning.OrderID == orderID {
			out = append(out, earning)
		}
	}
	repositories.SortEarningsOldestFirst(out)
	return out, nil
}

func (r earningRepo) VendorLedger(_ context.Context, vendorID string) (repositories.VendorLedger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ledger := repositories.VendorLedger{
		Earnings: make([]domain.VendorEarning, 0),
		Payouts:  make([]domain.PayoutRequest, 0),
	}
	for _, earning := range r.s.earnings {
		if earning.VendorID == vendorID {
			ledger.Earnings = append(ledger.Earnings, earning)
		}
	}
	repositories.SortEarningsOldestFirst(ledger.Earnings)
	for _, request := range r.s.payouts {
		if request.VendorID == vendorID {
			ledger.Payouts = append(ledger.Payouts, clonePayout(request))
		}
	}
	sort.Slice(ledger.Payouts, func(i, j int) bool {
		if ledger.Payouts[i].RequestedAt.Equal(ledger.Payouts[j].RequestedAt) {
			return ledger.Payouts[i].ID < ledger.Payouts[j].ID
		}
		return ledger.Payouts[i].RequestedAt.Before(ledger.Payouts[j].RequestedAt)
	})
	return ledger, nil
}

type payoutRepo struct{ s *Store }

func (r payoutRepo) Create(_ context.Context, request domain.PayoutRequest, newID func() string) (domain.PayoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.payouts[request.ID]; exists {
		return domain.PayoutRequest{}, conflict("payout.create", "payout %s already exists", request.ID)
	}
	unpaid := make([]domain.VendorEarning, 0)
	for _, earning := range r.s.earnings {
		if earning.VendorID == request.VendorID && earning.PayoutStatus == domain.PayoutStatusUnpaid {
			unpaid = append(unpaid, earning)
		}
	}
	stored, plan, err := repositories.PlanPayout(request, unpaid, newID)
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	for _, earning := range plan.Reserved {
		r.s.earnings[earning.ID] = earning
	}
	if plan.Remainder != nil {
		r.s.earnings[plan.Remainder.ID] = *plan.Remainder
	}
	r.s.payouts[stored.ID] = clonePayout(stored)
	return clonePayout(stored), nil
}

func (r payoutRepo) FindByID(_ context.Context, requestID string) (domain.PayoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	request, ok := r.s.payouts[requestID]
	if !ok {
		return domain.PayoutRequest{}, notFound("payout.find", "payout %s not found", requestID)
	}
	return clonePayout(request), nil
}

func (r payoutRepo) List(_ context.Context, filter repositories.PayoutListFilter) (domain.CursorPage[domain.PayoutRequest], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matches := make([]domain.PayoutRequest, 0)
	for _, request := range r.s.payouts {
		if filter.VendorID != "" && request.VendorID != filter.VendorID {
			continue
		}
		if filter.Status != nil && request.Status != *filter.Status {
			continue
		}
		matches = append(matches, clonePayout(request))
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].RequestedAt.Equal(matches[j].RequestedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].RequestedAt.Before(matches[j].RequestedAt)
	})
	page, next, err := paginate(matches, filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.PayoutRequest]{}, err
	}
	return domain.CursorPage[domain.PayoutRequest]{Items: page, NextPageToken: next}, nil
}

func (r payoutRepo) Process(_ context.Context, cmd repositories.ProcessPayoutCommand) (domain.PayoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	request, ok := r.s.payouts[cmd.RequestID]
	if !ok {
		return domain.PayoutRequest{}, repositories.NewLedgerError("payout.process", repositories.LedgerErrorPayoutNotFound,
			"payout "+cmd.RequestID+" not found", nil)
	}
	reserved := make([]domain.VendorEarning, 0, len(request.EarningIDs))
	for _, id := range request.EarningIDs {
		earning, ok := r.s.earnings[id]
		if !ok {
			return domain.PayoutRequest{}, repositories.NewLedgerError("payout.process", repositories.LedgerErrorInvariant,
				"reserved earning "+id+" is missing", nil)
		}
		reserved = append(reserved, earning)
	}
	updated, earnings, err := repositories.ApplyPayoutDecision(clonePayout(request), reserved, cmd)
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	for _, earning := range earnings {
		r.s.earnings[earning.ID] = earning
	}
	r.s.payouts[updated.ID] = clonePayout(updated)
	return updated, nil
}

type accountRepo struct{ s *Store }

func (r accountRepo) Get(_ context.Context, vendorID string) (domain.PayoutAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[vendorID]
	if !ok {
		return domain.PayoutAccount{}, notFound("payout_account.get", "vendor %s has no payout account", vendorID)
	}
	account.Details = cloneStringMap(account.Details)
	return account, nil
}

func (r accountRepo) Save(_ context.Context, account domain.PayoutAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account.Details = cloneStringMap(account.Details)
	r.s.accounts[account.VendorID] = account
	return nil
}

type settingsRepo struct{ s *Store }

func (r settingsRepo) Current(context.Context) (domain.PlatformSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if len(r.s.settings) == 0 {
		return domain.PlatformSettings{}, notFound("settings.current", "no platform settings published")
	}
	return cloneSettings(r.s.settings[len(r.s.settings)-1]), nil
}

func (r settingsRepo) Publish(_ context.Context, settings domain.PlatformSettings) (domain.PlatformSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var current *domain.PlatformSettings
	if n := len(r.s.settings); n > 0 {
		current = &r.s.settings[n-1]
	}
	next := cloneSettings(repositories.NextSettingsVersion(current, settings))
	r.s.settings = append(r.s.settings, next)
	return cloneSettings(next), nil
}

func paginate[T any](items []T, pager domain.Pagination) ([]T, string, error) {
	size := pager.PageSize
	if size <= 0 || size > pagination.DefaultMaxPageSize {
		size = pagination.DefaultPageSize
	}
	offset := 0
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return nil, "", err
		}
		if len(cursor.StartAt) == 1 {
			if raw, ok := cursor.StartAt[0].(string); ok {
				offset, _ = strconv.Atoi(raw)
			}
		}
	}
	if offset >= len(items) {
		return []T{}, "", nil
	}
	end := offset + size
	if end >= len(items) {
		return append([]T(nil), items[offset:]...), "", nil
	}
	next, err := pagination.EncodeToken(pagination.Cursor{StartAt: []any{strconv.Itoa(end)}})
	if err != nil {
		return nil, "", err
	}
	return append([]T(nil), items[offset:end]...), next, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	if order.Payment.SettledAt != nil {
		settled := *order.Payment.SettledAt
		order.Payment.SettledAt = &settled
	}
	if order.Payment.RefundedAt != nil {
		refunded := *order.Payment.RefundedAt
		order.Payment.RefundedAt = &refunded
	}
	return order
}

func cloneCoupon(coupon domain.Coupon) domain.Coupon {
	coupon.ApplicableProducts = append([]string(nil), coupon.ApplicableProducts...)
	coupon.ApplicableCategories = append([]string(nil), coupon.ApplicableCategories...)
	return coupon
}

func clonePayout(request domain.PayoutRequest) domain.PayoutRequest {
	request.EarningIDs = append([]string(nil), request.EarningIDs...)
	request.AccountDetailsSnapshot = cloneStringMap(request.AccountDetailsSnapshot)
	if request.ProcessedAt != nil {
		processed := *request.ProcessedAt
		request.ProcessedAt = &processed
	}
	return request
}

func cloneSettings(settings domain.PlatformSettings) domain.PlatformSettings {
	settings.EnabledPaymentMethods = append([]domain.PaymentMethod(nil), settings.EnabledPaymentMethods...)
	return settings
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
