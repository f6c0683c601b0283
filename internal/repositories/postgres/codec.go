package postgres

import (
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/bazaarly/api/internal/domain"
)

// JSONB payloads of the orders table.

type orderItemJSON struct {
	ProductID           string `json:"productId"`
	VendorID            string `json:"vendorId"`
	Title               string `json:"title"`
	Category            string `json:"category,omitempty"`
	UnitPriceAtPurchase int64  `json:"unitPriceAtPurchase"`
	Quantity            int64  `json:"quantity"`
}

type addressJSON struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type personalDetailsJSON struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
}

type paymentJSON struct {
	Provider      string     `json:"provider,omitempty"`
	ProviderRef   string     `json:"providerRef,omitempty"`
	ClientSecret  string     `json:"clientSecret,omitempty"`
	Attempts      int        `json:"attempts"`
	FailureReason string     `json:"failureReason,omitempty"`
	SettledAt     *time.Time `json:"settledAt,omitempty"`
	RefundedAt    *time.Time `json:"refundedAt,omitempty"`
	RefundReason  string     `json:"refundReason,omitempty"`
}

const orderColumns = `id, buyer_id, items, coupon_code, currency, subtotal, discount, tax_amount, total,
payment_method, payment_status, order_status, shipping_address, personal_details, payment,
settings_version, created_at, updated_at`

func orderArgs(o domain.Order) []any {
	items := make([]orderItemJSON, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemJSON{
			ProductID:           item.ProductID,
			VendorID:            item.VendorID,
			Title:               item.Title,
			Category:            item.Category,
			UnitPriceAtPurchase: item.UnitPriceAtPurchase,
			Quantity:            item.Quantity,
		})
	}
	a := o.ShippingAddress
	p := o.PersonalDetails
	return []any{
		o.ID, o.BuyerID, items, o.CouponCode, o.Currency, o.Subtotal, o.Discount, o.TaxAmount, o.Total,
		string(o.PaymentMethod), string(o.PaymentStatus), string(o.OrderStatus),
		addressJSON{
			Recipient: a.Recipient, Line1: a.Line1, Line2: a.Line2, City: a.City,
			State: a.State, PostalCode: a.PostalCode, Country: a.Country, Phone: a.Phone,
		},
		personalDetailsJSON{FullName: p.FullName, Email: p.Email, Phone: p.Phone},
		newPaymentJSON(o.Payment),
		o.SettingsVersion, o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	}
}

// orderPaymentArgs binds the columns rewritten by payment updates.
func orderPaymentArgs(o domain.Order) []any {
	return []any{o.ID, string(o.PaymentStatus), string(o.OrderStatus), newPaymentJSON(o.Payment), o.UpdatedAt.UTC()}
}

func newPaymentJSON(p domain.OrderPayment) paymentJSON {
	return paymentJSON{
		Provider:      p.Provider,
		ProviderRef:   p.ProviderRef,
		ClientSecret:  p.ClientSecret,
		Attempts:      p.Attempts,
		FailureReason: p.FailureReason,
		SettledAt:     utcPtr(p.SettledAt),
		RefundedAt:    utcPtr(p.RefundedAt),
		RefundReason:  p.RefundReason,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o        domain.Order
		items    []orderItemJSON
		address  addressJSON
		personal personalDetailsJSON
		payment  paymentJSON
	)
	var method, paymentStatus, orderStatus string
	err := row.Scan(&o.ID, &o.BuyerID, &items, &o.CouponCode, &o.Currency, &o.Subtotal, &o.Discount,
		&o.TaxAmount, &o.Total, &method, &paymentStatus, &orderStatus, &address, &personal, &payment,
		&o.SettingsVersion, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		o.Items = append(o.Items, domain.OrderItem{
			ProductID:           item.ProductID,
			VendorID:            item.VendorID,
			Title:               item.Title,
			Category:            item.Category,
			UnitPriceAtPurchase: item.UnitPriceAtPurchase,
			Quantity:            item.Quantity,
		})
	}
	o.PaymentMethod = domain.PaymentMethod(method)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.OrderStatus = domain.OrderStatus(orderStatus)
	o.ShippingAddress = domain.Address{
		Recipient: address.Recipient, Line1: address.Line1, Line2: address.Line2, City: address.City,
		State: address.State, PostalCode: address.PostalCode, Country: address.Country, Phone: address.Phone,
	}
	o.PersonalDetails = domain.PersonalDetails{FullName: personal.FullName, Email: personal.Email, Phone: personal.Phone}
	o.Payment = domain.OrderPayment{
		Provider:      payment.Provider,
		ProviderRef:   payment.ProviderRef,
		ClientSecret:  payment.ClientSecret,
		Attempts:      payment.Attempts,
		FailureReason: payment.FailureReason,
		SettledAt:     payment.SettledAt,
		RefundedAt:    payment.RefundedAt,
		RefundReason:  payment.RefundReason,
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

const walletTxnColumns = `id, user_id, type, amount, description, related_order_id, created_at`

func scanWalletTransaction(row pgx.Row) (domain.WalletTransaction, error) {
	var (
		t       domain.WalletTransaction
		txnType string
	)
	if err := row.Scan(&t.ID, &t.UserID, &txnType, &t.Amount, &t.Description, &t.RelatedOrderID, &t.CreatedAt); err != nil {
		return domain.WalletTransaction{}, err
	}
	t.Type = domain.WalletTransactionType(txnType)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

const earningColumns = `id, vendor_id, order_id, product_id, gross_amount, commission_rate_bps, commission_amount,
net_earning, payout_status, payout_request_id, split_from_id, created_at, updated_at`

var earningColumnNames = []string{
	"id", "vendor_id", "order_id", "product_id", "gross_amount", "commission_rate_bps", "commission_amount",
	"net_earning", "payout_status", "payout_request_id", "split_from_id", "created_at", "updated_at",
}

func earningValues(e domain.VendorEarning) []any {
	return []any{
		e.ID, e.VendorID, e.OrderID, e.ProductID, e.GrossAmount, e.CommissionRateBps, e.CommissionAmount,
		e.NetEarning, string(e.PayoutStatus), e.PayoutRequestID, e.SplitFromID, e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	}
}

func scanEarning(row pgx.Row) (domain.VendorEarning, error) {
	var (
		e      domain.VendorEarning
		status string
	)
	err := row.Scan(&e.ID, &e.VendorID, &e.OrderID, &e.ProductID, &e.GrossAmount, &e.CommissionRateBps,
		&e.CommissionAmount, &e.NetEarning, &status, &e.PayoutRequestID, &e.SplitFromID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return domain.VendorEarning{}, err
	}
	e.PayoutStatus = domain.PayoutStatus(status)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func collectEarnings(rows pgx.Rows) ([]domain.VendorEarning, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.VendorEarning, error) {
		return scanEarning(row)
	})
}

const payoutColumns = `id, vendor_id, amount, method, account_details, status, earning_ids, requested_at,
processed_at, processed_by, note`

func payoutArgs(r domain.PayoutRequest) []any {
	var processedAt *time.Time
	if r.ProcessedAt != nil {
		t := r.ProcessedAt.UTC()
		processedAt = &t
	}
	earningIDs := r.EarningIDs
	if earningIDs == nil {
		earningIDs = []string{}
	}
	return []any{
		r.ID, r.VendorID, r.Amount, string(r.Method), r.AccountDetailsSnapshot, string(r.Status), earningIDs,
		r.RequestedAt.UTC(), processedAt, r.ProcessedBy, r.Note,
	}
}

func scanPayout(row pgx.Row) (domain.PayoutRequest, error) {
	var (
		r              domain.PayoutRequest
		method, status string
	)
	err := row.Scan(&r.ID, &r.VendorID, &r.Amount, &method, &r.AccountDetailsSnapshot, &status, &r.EarningIDs,
		&r.RequestedAt, &r.ProcessedAt, &r.ProcessedBy, &r.Note)
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	r.Method = domain.PayoutMethod(method)
	r.Status = domain.PayoutRequestStatus(status)
	r.RequestedAt = r.RequestedAt.UTC()
	if r.ProcessedAt != nil {
		t := r.ProcessedAt.UTC()
		r.ProcessedAt = &t
	}
	return r, nil
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
