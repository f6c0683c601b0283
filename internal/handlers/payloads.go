package handlers

import (
	"time"

	"github.com/bazaarly/api/internal/services"
)

type orderItemPayload struct {
	ProductID           string `json:"productId"`
	VendorID            string `json:"vendorId"`
	Title               string `json:"title"`
	Category            string `json:"category,omitempty"`
	UnitPriceAtPurchase int64  `json:"unitPriceAtPurchase"`
	Quantity            int64  `json:"quantity"`
	LineTotal           int64  `json:"lineTotal"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type personalDetailsPayload struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
}

type orderPaymentPayload struct {
	Provider      string `json:"provider,omitempty"`
	ProviderRef   string `json:"providerRef,omitempty"`
	ClientSecret  string `json:"clientSecret,omitempty"`
	Attempts      int    `json:"attempts"`
	FailureReason string `json:"failureReason,omitempty"`
	SettledAt     string `json:"settledAt,omitempty"`
	RefundedAt    string `json:"refundedAt,omitempty"`
	RefundReason  string `json:"refundReason,omitempty"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	BuyerID         string                 `json:"buyerId"`
	Items           []orderItemPayload     `json:"items"`
	CouponCode      string                 `json:"couponCode,omitempty"`
	Currency        string                 `json:"currency"`
	Subtotal        int64                  `json:"subtotal"`
	Discount        int64                  `json:"discount"`
	TaxAmount       int64                  `json:"taxAmount"`
	Total           int64                  `json:"total"`
	PaymentMethod   string                 `json:"paymentMethod"`
	PaymentStatus   string                 `json:"paymentStatus"`
	OrderStatus     string                 `json:"orderStatus"`
	ShippingAddress addressPayload         `json:"shippingAddress"`
	PersonalDetails personalDetailsPayload `json:"personalDetails"`
	Payment         orderPaymentPayload    `json:"payment"`
	SettingsVersion int64                  `json:"settingsVersion"`
	CreatedAt       string                 `json:"createdAt"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID:           item.ProductID,
			VendorID:            item.VendorID,
			Title:               item.Title,
			Category:            item.Category,
			UnitPriceAtPurchase: item.UnitPriceAtPurchase,
			Quantity:            item.Quantity,
			LineTotal:           item.LineTotal(),
		})
	}
	addr := order.ShippingAddress
	payload := orderPayload{
		ID:            order.ID,
		BuyerID:       order.BuyerID,
		Items:         items,
		CouponCode:    order.CouponCode,
		Currency:      order.Currency,
		Subtotal:      order.Subtotal,
		Discount:      order.Discount,
		TaxAmount:     order.TaxAmount,
		Total:         order.Total,
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		OrderStatus:   string(order.OrderStatus),
		ShippingAddress: addressPayload{
			Recipient:  addr.Recipient,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		},
		PersonalDetails: personalDetailsPayload{
			FullName: order.PersonalDetails.FullName,
			Email:    order.PersonalDetails.Email,
			Phone:    order.PersonalDetails.Phone,
		},
		Payment: orderPaymentPayload{
			Provider:      order.Payment.Provider,
			ProviderRef:   order.Payment.ProviderRef,
			ClientSecret:  order.Payment.ClientSecret,
			Attempts:      order.Payment.Attempts,
			FailureReason: order.Payment.FailureReason,
			SettledAt:     formatTimePtr(order.Payment.SettledAt),
			RefundedAt:    formatTimePtr(order.Payment.RefundedAt),
			RefundReason:  order.Payment.RefundReason,
		},
		SettingsVersion: order.SettingsVersion,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	return payload
}

type walletTransactionPayload struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description,omitempty"`
	RelatedOrderID string `json:"relatedOrderId,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

func buildWalletTransactionPayload(txn services.WalletTransaction) walletTransactionPayload {
	return walletTransactionPayload{
		ID:             txn.ID,
		Type:           string(txn.Type),
		Amount:         txn.Amount,
		Description:    txn.Description,
		RelatedOrderID: txn.RelatedOrderID,
		CreatedAt:      formatTime(txn.CreatedAt),
	}
}

type walletBalancePayload struct {
	UserID           string `json:"userId"`
	Balance          int64  `json:"balance"`
	Credits          int64  `json:"credits"`
	Debits           int64  `json:"debits"`
	TransactionCount int    `json:"transactionCount"`
}

func buildWalletBalancePayload(balance services.WalletBalance) walletBalancePayload {
	return walletBalancePayload{
		UserID:           balance.UserID,
		Balance:          balance.Balance,
		Credits:          balance.Credits,
		Debits:           balance.Debits,
		TransactionCount: balance.Transactions,
	}
}

type earningPayload struct {
	ID                string `json:"id"`
	OrderID           string `json:"orderId"`
	ProductID         string `json:"productId"`
	GrossAmount       int64  `json:"grossAmount"`
	CommissionRateBps int64  `json:"commissionRateBps"`
	CommissionAmount  int64  `json:"commissionAmount"`
	NetEarning        int64  `json:"netEarning"`
	PayoutStatus      string `json:"payoutStatus"`
	CreatedAt         string `json:"createdAt"`
}

type earningsSummaryPayload struct {
	Unpaid           int64 `json:"unpaid"`
	Requested        int64 `json:"requested"`
	Paid             int64 `json:"paid"`
	Reversed         int64 `json:"reversed"`
	CompletedPayouts int64 `json:"completedPayouts"`
	Commission       int64 `json:"commission"`
}

type vendorEarningsResponse struct {
	VendorID string                 `json:"vendorId"`
	Summary  earningsSummaryPayload `json:"summary"`
	Earnings []earningPayload       `json:"earnings"`
}

func buildVendorEarningsResponse(vendorID string, view services.VendorEarningsView) vendorEarningsResponse {
	earnings := make([]earningPayload, 0, len(view.Earnings))
	for _, earning := range view.Earnings {
		earnings = append(earnings, earningPayload{
			ID:                earning.ID,
			OrderID:           earning.OrderID,
			ProductID:         earning.ProductID,
			GrossAmount:       earning.GrossAmount,
			CommissionRateBps: earning.CommissionRateBps,
			CommissionAmount:  earning.CommissionAmount,
			NetEarning:        earning.NetEarning,
			PayoutStatus:      string(earning.PayoutStatus),
			CreatedAt:         formatTime(earning.CreatedAt),
		})
	}
	return vendorEarningsResponse{
		VendorID: vendorID,
		Summary: earningsSummaryPayload{
			Unpaid:           view.Summary.Unpaid,
			Requested:        view.Summary.Requested,
			Paid:             view.Summary.Paid,
			Reversed:         view.Summary.Reversed,
			CompletedPayouts: view.Summary.CompletedPayouts,
			Commission:       view.Summary.Commission,
		},
		Earnings: earnings,
	}
}

// payoutPayload omits the reserved earning ids; vendors only see the decision.
type payoutPayload struct {
	ID             string            `json:"id"`
	VendorID       string            `json:"vendorId"`
	Amount         int64             `json:"amount"`
	Method         string            `json:"method"`
	AccountDetails map[string]string `json:"accountDetails,omitempty"`
	Status         string            `json:"status"`
	RequestedAt    string            `json:"requestedAt"`
	ProcessedAt    string            `json:"processedAt,omitempty"`
	ProcessedBy    string            `json:"processedBy,omitempty"`
	Note           string            `json:"note,omitempty"`
	EarningIDs     []string          `json:"earningIds,omitempty"`
}

func buildPayoutPayload(request services.PayoutRequest, includeEarnings bool) payoutPayload {
	payload := payoutPayload{
		ID:             request.ID,
		VendorID:       request.VendorID,
		Amount:         request.Amount,
		Method:         string(request.Method),
		AccountDetails: request.AccountDetailsSnapshot,
		Status:         string(request.Status),
		RequestedAt:    formatTime(request.RequestedAt),
		ProcessedAt:    formatTimePtr(request.ProcessedAt),
		ProcessedBy:    request.ProcessedBy,
		Note:           request.Note,
	}
	if includeEarnings {
		payload.EarningIDs = append([]string(nil), request.EarningIDs...)
	}
	return payload
}

type payoutListResponse struct {
	Items         []payoutPayload `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type settingsPayload struct {
	Version               int64    `json:"version"`
	Currency              string   `json:"currency"`
	CommissionRateBps     int64    `json:"commissionRateBps"`
	TaxEnabled            bool     `json:"taxEnabled"`
	TaxRateBps            int64    `json:"taxRateBps"`
	MinimumPayout         int64    `json:"minimumPayout"`
	EnabledPaymentMethods []string `json:"enabledPaymentMethods"`
	UpdatedAt             string   `json:"updatedAt,omitempty"`
	UpdatedBy             string   `json:"updatedBy,omitempty"`
}

func buildSettingsPayload(settings services.PlatformSettings) settingsPayload {
	methods := make([]string, 0, len(settings.EnabledPaymentMethods))
	for _, method := range settings.EnabledPaymentMethods {
		methods = append(methods, string(method))
	}
	return settingsPayload{
		Version:               settings.Version,
		Currency:              settings.Currency,
		CommissionRateBps:     settings.CommissionRateBps,
		TaxEnabled:            settings.TaxEnabled,
		TaxRateBps:            settings.TaxRateBps,
		MinimumPayout:         settings.MinimumPayout,
		EnabledPaymentMethods: methods,
		UpdatedAt:             formatTime(settings.UpdatedAt),
		UpdatedBy:             settings.UpdatedBy,
	}
}

type couponPayload struct {
	Code                 string   `json:"code"`
	Type                 string   `json:"type"`
	Value                int64    `json:"value"`
	MinPurchase          int64    `json:"minPurchase"`
	MaxDiscount          int64    `json:"maxDiscount,omitempty"`
	UsageLimit           int64    `json:"usageLimit"`
	UsedCount            int64    `json:"usedCount"`
	ExpiresAt            string   `json:"expiresAt,omitempty"`
	ApplicableProducts   []string `json:"applicableProducts,omitempty"`
	ApplicableCategories []string `json:"applicableCategories,omitempty"`
}

func buildCouponPayload(coupon services.Coupon) couponPayload {
	return couponPayload{
		Code:                 coupon.Code,
		Type:                 string(coupon.Type),
		Value:                coupon.Value,
		MinPurchase:          coupon.MinPurchase,
		MaxDiscount:          coupon.MaxDiscount,
		UsageLimit:           coupon.UsageLimit,
		UsedCount:            coupon.UsedCount,
		ExpiresAt:            formatTime(coupon.ExpiresAt),
		ApplicableProducts:   coupon.ApplicableProducts,
		ApplicableCategories: coupon.ApplicableCategories,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
