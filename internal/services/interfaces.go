package services

import (
	"context"
	"time"

	domain "github.com/bazaarly/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	Address             = domain.Address
	PersonalDetails     = domain.PersonalDetails
	PaymentMethod       = domain.PaymentMethod
	Coupon              = domain.Coupon
	PriceLine           = domain.PriceLine
	TaxPolicy           = domain.TaxPolicy
	Quote               = domain.Quote
	WalletTransaction   = domain.WalletTransaction
	WalletBalance       = domain.WalletBalance
	VendorEarning       = domain.VendorEarning
	EarningsSummary     = domain.EarningsSummary
	PayoutRequest       = domain.PayoutRequest
	PayoutAccount       = domain.PayoutAccount
	PayoutDecision      = domain.PayoutDecision
	PayoutMethod        = domain.PayoutMethod
	PayoutRequestStatus = domain.PayoutRequestStatus
	PlatformSettings    = domain.PlatformSettings
	SystemHealthReport  = domain.SystemHealthReport
)

// CouponService validates coupon codes during checkout and lets administrators maintain them.
type CouponService interface {
	Validate(ctx context.Context, code string, subtotal int64, lines []PriceLine) (CouponDecision, error)
	Upsert(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
}

// OrderService turns carts into priced, pending orders and exposes buyer order reads.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID string, access OrderAccess) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PaymentService is the payment orchestrator. Every rail reports through PaymentOutcome and
// settlement happens exactly once per order.
type PaymentService interface {
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentOutcome, error)
	RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (Order, error)
	MarkCashCollected(ctx context.Context, cmd CashCollectedCommand) (PaymentOutcome, error)
	HandleProviderEvent(ctx context.Context, cmd ProviderEventCommand) (PaymentOutcome, error)
}

// WalletService exposes the append-only wallet ledger.
type WalletService interface {
	GetBalance(ctx context.Context, userID string) (WalletBalance, error)
	ListTransactions(ctx context.Context, userID string) ([]WalletTransaction, error)
	TopUp(ctx context.Context, cmd WalletTopUpCommand) (WalletTransaction, error)
	Refund(ctx context.Context, cmd WalletRefundCommand) (WalletTransaction, error)
	Reconcile(ctx context.Context, userID string) (WalletBalance, error)
}

// PayoutService drives vendor withdrawals from request to admin decision.
type PayoutService interface {
	RequestPayout(ctx context.Context, cmd RequestPayoutCommand) (PayoutRequest, error)
	ProcessPayout(ctx context.Context, cmd ProcessPayoutCommand) (PayoutRequest, error)
	ListPayouts(ctx context.Context, filter PayoutListFilter) (domain.CursorPage[PayoutRequest], error)
	SavePayoutAccount(ctx context.Context, cmd SavePayoutAccountCommand) (PayoutAccount, error)
	GetVendorEarnings(ctx context.Context, vendorID string) (VendorEarningsView, error)
}

// SettingsService serves versioned platform settings snapshots.
type SettingsService interface {
	Current(ctx context.Context) (PlatformSettings, error)
	Update(ctx context.Context, cmd UpdateSettingsCommand) (PlatformSettings, error)
	EnsureDefaults(ctx context.Context, defaults PlatformSettings) (PlatformSettings, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Notifier delivers fire-and-forget notifications. Implementations must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]any)
}

// NotificationPublisher hands a notification message to the delivery transport.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, message NotificationMessage) (string, error)
}

// ReceiptArchiver stores a remittance receipt for a processed payout and returns its object path.
type ReceiptArchiver interface {
	ArchivePayoutReceipt(ctx context.Context, request PayoutRequest) (string, error)
}

// Command and DTO definitions ------------------------------------------------

type CouponDecision struct {
	Coupon   Coupon
	Discount int64
}

type UpsertCouponCommand struct {
	Code                 string
	Type                 domain.CouponType
	Value                int64
	MinPurchase          int64
	MaxDiscount          int64
	UsageLimit           int64
	ExpiresAt            time.Time
	ApplicableProducts   []string
	ApplicableCategories []string
	ActorID              string
}

type CartLine struct {
	ProductID string
	Quantity  int64
}

type CreateOrderCommand struct {
	BuyerID              string
	Items                []CartLine
	PaymentMethod        PaymentMethod
	CouponCode           string
	ProceedWithoutCoupon bool
	ShippingAddress      Address
	PersonalDetails      PersonalDetails
}

// CreateOrderResult carries the persisted order. CouponRejection is set when the caller asked
// to proceed without an ineligible coupon.
type CreateOrderResult struct {
	Order           Order
	CouponRejection *CouponRejection
}

// OrderAccess identifies who is reading or mutating an order.
type OrderAccess struct {
	ActorID string
	Admin   bool
}

type OrderListFilter struct {
	BuyerID    string
	Pagination Pagination
}

type CancelOrderCommand struct {
	OrderID string
	Access  OrderAccess
	Reason  string
}

// ProviderToken is the client-reported proof of payment. Card payments use IntentID; gateway
// payments use the signed triplet.
type ProviderToken struct {
	IntentID        string
	ProviderOrderID string
	PaymentID       string
	Signature       string
}

// Empty reports whether no token fields were supplied.
func (t ProviderToken) Empty() bool {
	return t.IntentID == "" && t.ProviderOrderID == "" && t.PaymentID == "" && t.Signature == ""
}

type ConfirmPaymentCommand struct {
	OrderID string
	Method  PaymentMethod
	Token   ProviderToken
	Access  OrderAccess
}

type RetryPaymentCommand struct {
	OrderID string
	Access  OrderAccess
}

type CashCollectedCommand struct {
	OrderID string
	AdminID string
}

type ProviderEventCommand struct {
	Provider  string
	Payload   []byte
	Signature string
}

// OutcomeKind is the normalised result of a payment attempt.
type OutcomeKind string

const (
	OutcomeSettled  OutcomeKind = "settled"
	OutcomeDeclined OutcomeKind = "declined"
	OutcomePending  OutcomeKind = "pending"
)

// ClientAction tells the client how to complete a pending payment.
type ClientAction struct {
	Provider        string
	ClientSecret    string
	ProviderOrderID string
	Amount          int64
	Currency        string
}

// PaymentOutcome is the uniform result of every payment rail.
type PaymentOutcome struct {
	Kind           OutcomeKind
	Order          Order
	AlreadySettled bool
	DeclineReason  string
	ClientAction   *ClientAction
}

type WalletTopUpCommand struct {
	UserID      string
	Amount      int64
	Description string
	ActorID     string
}

type WalletRefundCommand struct {
	UserID  string
	OrderID string
	Reason  string
	ActorID string
}

type RequestPayoutCommand struct {
	VendorID       string
	Amount         int64
	Method         PayoutMethod
	AccountDetails map[string]string
}

type ProcessPayoutCommand struct {
	RequestID string
	Decision  PayoutDecision
	AdminID   string
	Note      string
}

type PayoutListFilter struct {
	VendorID   string
	Status     *PayoutRequestStatus
	Pagination Pagination
}

type SavePayoutAccountCommand struct {
	VendorID string
	Method   PayoutMethod
	Details  map[string]string
}

// VendorEarningsView combines a vendor's earning rows with derived totals.
type VendorEarningsView struct {
	Summary  EarningsSummary
	Earnings []VendorEarning
}

type UpdateSettingsCommand struct {
	Currency              string
	CommissionRateBps     int64
	TaxEnabled            bool
	TaxRateBps            int64
	MinimumPayout         int64
	EnabledPaymentMethods []PaymentMethod
	ActorID               string
}

// NotificationMessage is the payload published for downstream delivery.
type NotificationMessage struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}
