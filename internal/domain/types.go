package domain

import "time"

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// PaymentMethod identifies the rail used to settle an order.
type PaymentMethod string

const (
	// PaymentMethodCard settles through the card processor.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodGateway settles through the regional payment gateway.
	PaymentMethodGateway PaymentMethod = "gateway"
	// PaymentMethodWallet settles synchronously against the buyer's wallet ledger.
	PaymentMethodWallet PaymentMethod = "wallet"
	// PaymentMethodCashOnDelivery settles once an administrator records collection.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Valid reports whether the method is one of the supported rails.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodGateway, PaymentMethodWallet, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

// Address is the shipping destination captured at checkout.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// PersonalDetails stores buyer contact data captured at checkout.
type PersonalDetails struct {
	FullName string
	Email    string
	Phone    string
}

// CatalogProduct is the authoritative catalog view used when pricing an order.
type CatalogProduct struct {
	ID        string
	VendorID  string
	Title     string
	Category  string
	Price     int64
	Currency  string
	Approved  bool
	Deleted   bool
	UpdatedAt time.Time
}

// Purchasable reports whether the product can currently be bought.
func (p CatalogProduct) Purchasable() bool {
	return p.Approved && !p.Deleted && p.Price >= 0
}

// PlatformSettings is an immutable, versioned snapshot of admin-controlled platform configuration.
type PlatformSettings struct {
	Version               int64
	Currency              string
	CommissionRateBps     int64
	TaxEnabled            bool
	TaxRateBps            int64
	MinimumPayout         int64
	EnabledPaymentMethods []PaymentMethod
	UpdatedAt             time.Time
	UpdatedBy             string
}

// MethodEnabled reports whether the payment method is accepted under this snapshot.
func (s PlatformSettings) MethodEnabled(method PaymentMethod) bool {
	for _, enabled := range s.EnabledPaymentMethods {
		if enabled == method {
			return true
		}
	}
	return false
}
