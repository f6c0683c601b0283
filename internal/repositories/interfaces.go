package repositories

import (
	"context"
	"time"

	domain "github.com/bazaarly/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Wallets() WalletRepository
	Earnings() EarningRepository
	Payouts() PayoutRepository
	PayoutAccounts() PayoutAccountRepository
	Settings() SettingsRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository reads authoritative product data. Catalog writes happen elsewhere.
type CatalogRepository interface {
	FindByID(ctx context.Context, productID string) (domain.CatalogProduct, error)
}

// CouponRepository stores coupon definitions and usage counters.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
}

// CouponRedemption asks Insert to consume one coupon use in the same transaction.
type CouponRedemption struct {
	Code       string
	RedeemedAt time.Time
}

// OrderRepository persists orders and performs the settlement transaction.
type OrderRepository interface {
	// Insert stores a new order. A non-nil redemption increments the coupon usage only if
	// UsedCount < UsageLimit, atomically with the insert.
	Insert(ctx context.Context, order domain.Order, redemption *CouponRedemption) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// UpdatePayment reads the order, applies mutate and writes it back as one atomic unit.
	UpdatePayment(ctx context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error)
	// Settle completes payment exactly once. See SettleCommand.
	Settle(ctx context.Context, cmd SettleCommand) (SettleResult, error)
	// Refund credits the buyer, reverses the order's unpaid earnings and marks the order
	// refunded in one transaction. See ApplyRefund.
	Refund(ctx context.Context, cmd RefundCommand) (RefundResult, error)
}

// SettleCommand describes the settlement of a single order.
type SettleCommand struct {
	OrderID     string
	Provider    string
	ProviderRef string
	SettledAt   time.Time
	// WalletDebitID, when set, debits the order total from the buyer's wallet using this
	// transaction id, provided the derived balance covers it.
	WalletDebitID string
	// Earnings builds the vendor earning rows for the order being settled.
	Earnings func(order domain.Order) ([]domain.VendorEarning, error)
}

// SettleResult reports the outcome of a settlement attempt.
type SettleResult struct {
	Order          domain.Order
	AlreadySettled bool
	Earnings       []domain.VendorEarning
	Debit          *domain.WalletTransaction
}

// RefundCommand describes returning a settled order's total to its buyer.
type RefundCommand struct {
	OrderID string
	// BuyerID, when set, must own the order.
	BuyerID     string
	CreditID    string
	Description string
	Reason      string
	RefundedAt  time.Time
}

// RefundResult reports what a refund wrote.
type RefundResult struct {
	Order    domain.Order
	Credit   domain.WalletTransaction
	Reversed []domain.VendorEarning
}

// WalletRepository stores the append-only wallet ledger.
type WalletRepository interface {
	// AppendCredit records a credit entry. Debits are only written by settlement.
	AppendCredit(ctx context.Context, txn domain.WalletTransaction) error
	ListByUser(ctx context.Context, userID string) ([]domain.WalletTransaction, error)
}

// EarningFilter narrows earning listings.
type EarningFilter struct {
	Status *domain.PayoutStatus
}

// EarningRepository reads vendor earnings. Rows are written by settlement and payout transactions.
type EarningRepository interface {
	ListByVendor(ctx context.Context, vendorID string, filter EarningFilter) ([]domain.VendorEarning, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.VendorEarning, error)
	// VendorLedger reads the vendor's earnings and payout requests from one consistent snapshot.
	VendorLedger(ctx context.Context, vendorID string) (VendorLedger, error)
}

// VendorLedger is every earning and payout request of one vendor as of a single point in time.
type VendorLedger struct {
	Earnings []domain.VendorEarning
	Payouts  []domain.PayoutRequest
}

// PayoutListFilter narrows payout request listings.
type PayoutListFilter struct {
	VendorID   string
	Status     *domain.PayoutRequestStatus
	Pagination domain.Pagination
}

// ProcessPayoutCommand carries an admin decision on a pending request.
type ProcessPayoutCommand struct {
	RequestID   string
	Decision    domain.PayoutDecision
	ProcessedBy string
	Note        string
	ProcessedAt time.Time
}

// PayoutRepository persists payout requests together with earning reservations.
type PayoutRepository interface {
	// Create reserves unpaid earnings oldest-first and stores the request in one transaction.
	Create(ctx context.Context, request domain.PayoutRequest, newID func() string) (domain.PayoutRequest, error)
	FindByID(ctx context.Context, requestID string) (domain.PayoutRequest, error)
	List(ctx context.Context, filter PayoutListFilter) (domain.CursorPage[domain.PayoutRequest], error)
	// Process applies an approve or reject decision to a pending request and its earnings.
	Process(ctx context.Context, cmd ProcessPayoutCommand) (domain.PayoutRequest, error)
}

// PayoutAccountRepository stores vendor remittance details.
type PayoutAccountRepository interface {
	Get(ctx context.Context, vendorID string) (domain.PayoutAccount, error)
	Save(ctx context.Context, account domain.PayoutAccount) error
}

// SettingsRepository stores versioned platform settings snapshots.
type SettingsRepository interface {
	Current(ctx context.Context) (domain.PlatformSettings, error)
	// Publish stores settings as the next version and returns the stored snapshot.
	Publish(ctx context.Context, settings domain.PlatformSettings) (domain.PlatformSettings, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
