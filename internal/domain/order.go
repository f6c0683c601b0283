package domain

import "time"

// PaymentStatus tracks the settlement state of an order.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// OrderStatus tracks fulfilment. It only advances past pending once payment completed.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:     {PaymentStatusProcessing},
}

// CanTransitionPayment reports whether the payment state machine allows from -> to.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem is a line item with the price snapshotted at purchase time.
type OrderItem struct {
	ProductID           string
	VendorID            string
	Title               string
	Category            string
	UnitPriceAtPurchase int64
	Quantity            int64
}

// LineTotal returns unit price times quantity.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPriceAtPurchase * i.Quantity
}

// OrderPayment holds provider-side references for the current payment attempt.
type OrderPayment struct {
	Provider      string
	ProviderRef   string
	ClientSecret  string
	Attempts      int
	FailureReason string
	SettledAt     *time.Time
	RefundedAt    *time.Time
	RefundReason  string
}

// Order is one checkout attempt. Orders are never deleted.
type Order struct {
	ID              string
	BuyerID         string
	Items           []OrderItem
	CouponCode      string
	Currency        string
	Subtotal        int64
	Discount        int64
	TaxAmount       int64
	Total           int64
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	OrderStatus     OrderStatus
	ShippingAddress Address
	PersonalDetails PersonalDetails
	Payment         OrderPayment
	SettingsVersion int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Settled reports whether payment has completed.
func (o Order) Settled() bool {
	return o.PaymentStatus == PaymentStatusCompleted
}

// Refunded reports whether the settled payment was returned to the buyer.
func (o Order) Refunded() bool {
	return o.OrderStatus == OrderStatusRefunded
}

// ItemsSubtotal recomputes the subtotal from the snapshotted items.
func (o Order) ItemsSubtotal() int64 {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += item.LineTotal()
	}
	return subtotal
}

// TotalsConsistent checks total == subtotal + tax - discount with a non-negative total.
func (o Order) TotalsConsistent() bool {
	subtotal := o.ItemsSubtotal()
	return subtotal == o.Subtotal && o.Total == subtotal+o.TaxAmount-o.Discount && o.Total >= 0
}

// VendorIDs lists the distinct vendors referenced by the order in item order.
func (o Order) VendorIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	out := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		out = append(out, item.VendorID)
	}
	return out
}
