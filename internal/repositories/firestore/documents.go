package firestore

import (
	"time"

	domain "github.com/bazaarly/api/internal/domain"
)

const (
	productsCollection         = "products"
	couponsCollection          = "coupons"
	ordersCollection           = "orders"
	walletsCollection          = "wallets"
	walletTxnsCollection       = "walletTransactions"
	earningsCollection         = "vendorEarnings"
	payoutRequestsCollection   = "payoutRequests"
	payoutAccountsCollection   = "payoutAccounts"
	settingsCollection         = "platformSettings"
	settingsVersionsCollection = "platformSettingsVersions"
	currentSettingsDocID       = "current"
)

type productDocument struct {
	VendorID  string    `firestore:"vendorId"`
	Title     string    `firestore:"title"`
	Category  string    `firestore:"category"`
	Price     int64     `firestore:"price"`
	Currency  string    `firestore:"currency"`
	Approved  bool      `firestore:"approved"`
	Deleted   bool      `firestore:"deleted"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.CatalogProduct {
	return domain.CatalogProduct{
		ID:        id,
		VendorID:  d.VendorID,
		Title:     d.Title,
		Category:  d.Category,
		Price:     d.Price,
		Currency:  d.Currency,
		Approved:  d.Approved,
		Deleted:   d.Deleted,
		UpdatedAt: d.UpdatedAt,
	}
}

type couponDocument struct {
	Type                 string     `firestore:"type"`
	Value                int64      `firestore:"value"`
	MinPurchase          int64      `firestore:"minPurchase"`
	MaxDiscount          int64      `firestore:"maxDiscount"`
	UsageLimit           int64      `firestore:"usageLimit"`
	UsedCount            int64      `firestore:"usedCount"`
	ExpiresAt            *time.Time `firestore:"expiresAt,omitempty"`
	ApplicableProducts   []string   `firestore:"applicableProducts,omitempty"`
	ApplicableCategories []string   `firestore:"applicableCategories,omitempty"`
	CreatedAt            time.Time  `firestore:"createdAt"`
	UpdatedAt            time.Time  `firestore:"updatedAt"`
}

func newCouponDocument(c domain.Coupon) couponDocument {
	doc := couponDocument{
		Type:                 string(c.Type),
		Value:                c.Value,
		MinPurchase:          c.MinPurchase,
		MaxDiscount:          c.MaxDiscount,
		UsageLimit:           c.UsageLimit,
		UsedCount:            c.UsedCount,
		ApplicableProducts:   c.ApplicableProducts,
		ApplicableCategories: c.ApplicableCategories,
		CreatedAt:            c.CreatedAt.UTC(),
		UpdatedAt:            c.UpdatedAt.UTC(),
	}
	if !c.ExpiresAt.IsZero() {
		expires := c.ExpiresAt.UTC()
		doc.ExpiresAt = &expires
	}
	return doc
}

func (d couponDocument) toDomain(code string) domain.Coupon {
	coupon := domain.Coupon{
		Code:                 code,
		Type:                 domain.CouponType(d.Type),
		Value:                d.Value,
		MinPurchase:          d.MinPurchase,
		MaxDiscount:          d.MaxDiscount,
		UsageLimit:           d.UsageLimit,
		UsedCount:            d.UsedCount,
		ApplicableProducts:   d.ApplicableProducts,
		ApplicableCategories: d.ApplicableCategories,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
	if d.ExpiresAt != nil {
		coupon.ExpiresAt = *d.ExpiresAt
	}
	return coupon
}

type orderItemDocument struct {
	ProductID           string `firestore:"productId"`
	VendorID            string `firestore:"vendorId"`
	Title               string `firestore:"title"`
	Category            string `firestore:"category"`
	UnitPriceAtPurchase int64  `firestore:"unitPriceAtPurchase"`
	Quantity            int64  `firestore:"quantity"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type personalDetailsDocument struct {
	FullName string `firestore:"fullName"`
	Email    string `firestore:"email"`
	Phone    string `firestore:"phone,omitempty"`
}

type orderPaymentDocument struct {
	Provider      string     `firestore:"provider,omitempty"`
	ProviderRef   string     `firestore:"providerRef,omitempty"`
	ClientSecret  string     `firestore:"clientSecret,omitempty"`
	Attempts      int        `firestore:"attempts"`
	FailureReason string     `firestore:"failureReason,omitempty"`
	SettledAt     *time.Time `firestore:"settledAt,omitempty"`
	RefundedAt    *time.Time `firestore:"refundedAt,omitempty"`
	RefundReason  string     `firestore:"refundReason,omitempty"`
}

type orderDocument struct {
	BuyerID         string                  `firestore:"buyerId"`
	Items           []orderItemDocument     `firestore:"items"`
	CouponCode      string                  `firestore:"couponCode,omitempty"`
	Currency        string                  `firestore:"currency"`
	Subtotal        int64                   `firestore:"subtotal"`
	Discount        int64                   `firestore:"discount"`
	TaxAmount       int64                   `firestore:"taxAmount"`
	Total           int64                   `firestore:"total"`
	PaymentMethod   string                  `firestore:"paymentMethod"`
	PaymentStatus   string                  `firestore:"paymentStatus"`
	OrderStatus     string                  `firestore:"orderStatus"`
	ShippingAddress addressDocument         `firestore:"shippingAddress"`
	PersonalDetails personalDetailsDocument `firestore:"personalDetails"`
	Payment         orderPaymentDocument    `firestore:"payment"`
	SettingsVersion int64                   `firestore:"settingsVersion"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemDocument{
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
	return orderDocument{
		BuyerID:       o.BuyerID,
		Items:         items,
		CouponCode:    o.CouponCode,
		Currency:      o.Currency,
		Subtotal:      o.Subtotal,
		Discount:      o.Discount,
		TaxAmount:     o.TaxAmount,
		Total:         o.Total,
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		OrderStatus:   string(o.OrderStatus),
		ShippingAddress: addressDocument{
			Recipient: a.Recipient, Line1: a.Line1, Line2: a.Line2, City: a.City,
			State: a.State, PostalCode: a.PostalCode, Country: a.Country, Phone: a.Phone,
		},
		PersonalDetails: personalDetailsDocument{FullName: p.FullName, Email: p.Email, Phone: p.Phone},
		Payment: orderPaymentDocument{
			Provider:      o.Payment.Provider,
			ProviderRef:   o.Payment.ProviderRef,
			ClientSecret:  o.Payment.ClientSecret,
			Attempts:      o.Payment.Attempts,
			FailureReason: o.Payment.FailureReason,
			SettledAt:     utcPtr(o.Payment.SettledAt),
			RefundedAt:    utcPtr(o.Payment.RefundedAt),
			RefundReason:  o.Payment.RefundReason,
		},
		SettingsVersion: o.SettingsVersion,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ProductID:           item.ProductID,
			VendorID:            item.VendorID,
			Title:               item.Title,
			Category:            item.Category,
			UnitPriceAtPurchase: item.UnitPriceAtPurchase,
			Quantity:            item.Quantity,
		})
	}
	a := d.ShippingAddress
	p := d.PersonalDetails
	return domain.Order{
		ID:            id,
		BuyerID:       d.BuyerID,
		Items:         items,
		CouponCode:    d.CouponCode,
		Currency:      d.Currency,
		Subtotal:      d.Subtotal,
		Discount:      d.Discount,
		TaxAmount:     d.TaxAmount,
		Total:         d.Total,
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		OrderStatus:   domain.OrderStatus(d.OrderStatus),
		ShippingAddress: domain.Address{
			Recipient: a.Recipient, Line1: a.Line1, Line2: a.Line2, City: a.City,
			State: a.State, PostalCode: a.PostalCode, Country: a.Country, Phone: a.Phone,
		},
		PersonalDetails: domain.PersonalDetails{FullName: p.FullName, Email: p.Email, Phone: p.Phone},
		Payment: domain.OrderPayment{
			Provider:      d.Payment.Provider,
			ProviderRef:   d.Payment.ProviderRef,
			ClientSecret:  d.Payment.ClientSecret,
			Attempts:      d.Payment.Attempts,
			FailureReason: d.Payment.FailureReason,
			SettledAt:     d.Payment.SettledAt,
			RefundedAt:    d.Payment.RefundedAt,
			RefundReason:  d.Payment.RefundReason,
		},
		SettingsVersion: d.SettingsVersion,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type walletTransactionDocument struct {
	UserID         string    `firestore:"userId"`
	Type           string    `firestore:"type"`
	Amount         int64     `firestore:"amount"`
	Description    string    `firestore:"description"`
	RelatedOrderID string    `firestore:"relatedOrderId,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func newWalletTransactionDocument(t domain.WalletTransaction) walletTransactionDocument {
	return walletTransactionDocument{
		UserID:         t.UserID,
		Type:           string(t.Type),
		Amount:         t.Amount,
		Description:    t.Description,
		RelatedOrderID: t.RelatedOrderID,
		CreatedAt:      t.CreatedAt.UTC(),
	}
}

func (d walletTransactionDocument) toDomain(id string) domain.WalletTransaction {
	return domain.WalletTransaction{
		ID:             id,
		UserID:         d.UserID,
		Type:           domain.WalletTransactionType(d.Type),
		Amount:         d.Amount,
		Description:    d.Description,
		RelatedOrderID: d.RelatedOrderID,
		CreatedAt:      d.CreatedAt,
	}
}

// walletHeadDocument is rewritten by every ledger append for its user, so concurrent appends
// conflict on it and one of them retries against the fresh ledger.
type walletHeadDocument struct {
	Entries   int64     `firestore:"entries"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type earningDocument struct {
	VendorID          string    `firestore:"vendorId"`
	OrderID           string    `firestore:"orderId"`
	ProductID         string    `firestore:"productId"`
	GrossAmount       int64     `firestore:"grossAmount"`
	CommissionRateBps int64     `firestore:"commissionRateBps"`
	CommissionAmount  int64     `firestore:"commissionAmount"`
	NetEarning        int64     `firestore:"netEarning"`
	PayoutStatus      string    `firestore:"payoutStatus"`
	PayoutRequestID   string    `firestore:"payoutRequestId,omitempty"`
	SplitFromID       string    `firestore:"splitFromId,omitempty"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func newEarningDocument(e domain.VendorEarning) earningDocument {
	return earningDocument{
		VendorID:          e.VendorID,
		OrderID:           e.OrderID,
		ProductID:         e.ProductID,
		GrossAmount:       e.GrossAmount,
		CommissionRateBps: e.CommissionRateBps,
		CommissionAmount:  e.CommissionAmount,
		NetEarning:        e.NetEarning,
		PayoutStatus:      string(e.PayoutStatus),
		PayoutRequestID:   e.PayoutRequestID,
		SplitFromID:       e.SplitFromID,
		CreatedAt:         e.CreatedAt.UTC(),
		UpdatedAt:         e.UpdatedAt.UTC(),
	}
}

func (d earningDocument) toDomain(id string) domain.VendorEarning {
	return domain.VendorEarning{
		ID:                id,
		VendorID:          d.VendorID,
		OrderID:           d.OrderID,
		ProductID:         d.ProductID,
		GrossAmount:       d.GrossAmount,
		CommissionRateBps: d.CommissionRateBps,
		CommissionAmount:  d.CommissionAmount,
		NetEarning:        d.NetEarning,
		PayoutStatus:      domain.PayoutStatus(d.PayoutStatus),
		PayoutRequestID:   d.PayoutRequestID,
		SplitFromID:       d.SplitFromID,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

type payoutRequestDocument struct {
	VendorID               string            `firestore:"vendorId"`
	Amount                 int64             `firestore:"amount"`
	Method                 string            `firestore:"method"`
	AccountDetailsSnapshot map[string]string `firestore:"accountDetailsSnapshot,omitempty"`
	Status                 string            `firestore:"status"`
	EarningIDs             []string          `firestore:"earningIds"`
	RequestedAt            time.Time         `firestore:"requestedAt"`
	ProcessedAt            *time.Time        `firestore:"processedAt,omitempty"`
	ProcessedBy            string            `firestore:"processedBy,omitempty"`
	Note                   string            `firestore:"note,omitempty"`
}

func newPayoutRequestDocument(r domain.PayoutRequest) payoutRequestDocument {
	return payoutRequestDocument{
		VendorID:               r.VendorID,
		Amount:                 r.Amount,
		Method:                 string(r.Method),
		AccountDetailsSnapshot: r.AccountDetailsSnapshot,
		Status:                 string(r.Status),
		EarningIDs:             r.EarningIDs,
		RequestedAt:            r.RequestedAt.UTC(),
		ProcessedAt:            utcPtr(r.ProcessedAt),
		ProcessedBy:            r.ProcessedBy,
		Note:                   r.Note,
	}
}

func (d payoutRequestDocument) toDomain(id string) domain.PayoutRequest {
	return domain.PayoutRequest{
		ID:                     id,
		VendorID:               d.VendorID,
		Amount:                 d.Amount,
		Method:                 domain.PayoutMethod(d.Method),
		AccountDetailsSnapshot: d.AccountDetailsSnapshot,
		Status:                 domain.PayoutRequestStatus(d.Status),
		EarningIDs:             d.EarningIDs,
		RequestedAt:            d.RequestedAt,
		ProcessedAt:            d.ProcessedAt,
		ProcessedBy:            d.ProcessedBy,
		Note:                   d.Note,
	}
}

type payoutAccountDocument struct {
	Method    string            `firestore:"method"`
	Details   map[string]string `firestore:"details"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

type settingsDocument struct {
	Version               int64     `firestore:"version"`
	Currency              string    `firestore:"currency"`
	CommissionRateBps     int64     `firestore:"commissionRateBps"`
	TaxEnabled            bool      `firestore:"taxEnabled"`
	TaxRateBps            int64     `firestore:"taxRateBps"`
	MinimumPayout         int64     `firestore:"minimumPayout"`
	EnabledPaymentMethods []string  `firestore:"enabledPaymentMethods"`
	UpdatedAt             time.Time `firestore:"updatedAt"`
	UpdatedBy             string    `firestore:"updatedBy"`
}

func newSettingsDocument(s domain.PlatformSettings) settingsDocument {
	methods := make([]string, 0, len(s.EnabledPaymentMethods))
	for _, method := range s.EnabledPaymentMethods {
		methods = append(methods, string(method))
	}
	return settingsDocument{
		Version:               s.Version,
		Currency:              s.Currency,
		CommissionRateBps:     s.CommissionRateBps,
		TaxEnabled:            s.TaxEnabled,
		TaxRateBps:            s.TaxRateBps,
		MinimumPayout:         s.MinimumPayout,
		EnabledPaymentMethods: methods,
		UpdatedAt:             s.UpdatedAt.UTC(),
		UpdatedBy:             s.UpdatedBy,
	}
}

func (d settingsDocument) toDomain() domain.PlatformSettings {
	methods := make([]domain.PaymentMethod, 0, len(d.EnabledPaymentMethods))
	for _, method := range d.EnabledPaymentMethods {
		methods = append(methods, domain.PaymentMethod(method))
	}
	return domain.PlatformSettings{
		Version:               d.Version,
		Currency:              d.Currency,
		CommissionRateBps:     d.CommissionRateBps,
		TaxEnabled:            d.TaxEnabled,
		TaxRateBps:            d.TaxRateBps,
		MinimumPayout:         d.MinimumPayout,
		EnabledPaymentMethods: methods,
		UpdatedAt:             d.UpdatedAt,
		UpdatedBy:             d.UpdatedBy,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
