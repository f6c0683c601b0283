package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	maxCartLines    = 100
	maxLineQuantity = 1000
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Catalog     repositories.CatalogRepository
	Coupons     CouponService
	Settings    SettingsService
	Notifier    Notifier
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	catalog  repositories.CatalogRepository
	coupons  CouponService
	settings SettingsService
	notifier Notifier
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	policy   *bluemonday.Policy
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon service is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("order service: settings service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}

	return &orderService{
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		coupons:  deps.Coupons,
		settings: deps.Settings,
		notifier: notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
		policy: bluemonday.StrictPolicy(),
	}, nil
}

// CreateOrder prices the cart from authoritative catalog data and persists a pending order.
// A coupon, when present, is redeemed in the same repository transaction as the insert.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return CreateOrderResult{}, ErrEmptyCart
	}
	if len(cmd.Items) > maxCartLines {
		return CreateOrderResult{}, fmt.Errorf("%w: cart exceeds %d lines", ErrOrderInvalidInput, maxCartLines)
	}
	if !cmd.PaymentMethod.Valid() {
		return CreateOrderResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	address, err := s.cleanAddress(cmd.ShippingAddress)
	if err != nil {
		return CreateOrderResult{}, err
	}
	details, err := s.cleanPersonalDetails(cmd.PersonalDetails)
	if err != nil {
		return CreateOrderResult{}, err
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if !settings.MethodEnabled(cmd.PaymentMethod) {
		return CreateOrderResult{}, fmt.Errorf("%w: %s", ErrPaymentMethodDisabled, cmd.PaymentMethod)
	}

	items, lines, err := s.snapshotItems(ctx, cmd.Items, settings.Currency)
	if err != nil {
		return CreateOrderResult{}, err
	}
	subtotal, err := CalculateQuote(lines, 0, TaxPolicy{})
	if err != nil {
		return CreateOrderResult{}, err
	}

	result := CreateOrderResult{}
	var coupon *CouponDecision
	if code := NormaliseCouponCode(cmd.CouponCode); code != "" {
		decision, err := s.coupons.Validate(ctx, code, subtotal.Subtotal, lines)
		var rejection *CouponRejection
		switch {
		case err == nil:
			coupon = &decision
		case errors.As(err, &rejection) && cmd.ProceedWithoutCoupon:
			result.CouponRejection = rejection
		default:
			return CreateOrderResult{}, err
		}
	}

	now := s.clock()
	order := Order{
		ID:              orderIDPrefix + s.newID(),
		BuyerID:         buyerID,
		Items:           items,
		Currency:        settings.Currency,
		PaymentMethod:   cmd.PaymentMethod,
		PaymentStatus:   domain.PaymentStatusPending,
		OrderStatus:     domain.OrderStatusPending,
		ShippingAddress: address,
		PersonalDetails: details,
		SettingsVersion: settings.Version,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tax := TaxPolicy{Enabled: settings.TaxEnabled, RateBps: settings.TaxRateBps}

	err = s.insert(ctx, &order, lines, tax, coupon)
	var rejection *CouponRejection
	if errors.As(err, &rejection) && cmd.ProceedWithoutCoupon {
		// The last use went to a concurrent checkout; price again without the coupon.
		result.CouponRejection = rejection
		err = s.insert(ctx, &order, lines, tax, nil)
	}
	if err != nil {
		return CreateOrderResult{}, err
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":       order.ID,
		"buyerId":       order.BuyerID,
		"total":         order.Total,
		"discount":      order.Discount,
		"coupon":        order.CouponCode,
		"paymentMethod": string(order.PaymentMethod),
	})
	s.notifier.Notify(ctx, notifyEventOrderCreated, map[string]any{
		"orderId": order.ID,
		"buyerId": order.BuyerID,
		"total":   order.Total,
	})
	result.Order = order
	return result, nil
}

func (s *orderService) insert(ctx context.Context, order *Order, lines []PriceLine, tax TaxPolicy, coupon *CouponDecision) error {
	var discount int64
	var redemption *repositories.CouponRedemption
	order.CouponCode = ""
	if coupon != nil {
		discount = coupon.Discount
		order.CouponCode = coupon.Coupon.Code
		redemption = &repositories.CouponRedemption{Code: coupon.Coupon.Code, RedeemedAt: order.CreatedAt}
	}
	quote, err := CalculateQuote(lines, discount, tax)
	if err != nil {
		return err
	}
	order.Subtotal = quote.Subtotal
	order.Discount = quote.Discount
	order.TaxAmount = quote.TaxAmount
	order.Total = quote.Total

	if err := s.orders.Insert(ctx, *order, redemption); err != nil {
		code, _ := repositories.LedgerErrorCodeOf(err)
		switch {
		case code == repositories.LedgerErrorCouponExhausted:
			return &CouponRejection{Code: order.CouponCode, Reason: CouponRejectExhausted}
		case code == repositories.LedgerErrorCouponNotFound:
			return &CouponRejection{Code: order.CouponCode, Reason: CouponRejectNotFound}
		case isRepoConflict(err):
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
		return fmt.Errorf("order service: insert order: %w", err)
	}
	return nil
}

// snapshotItems merges duplicate lines and copies current catalog prices onto the order.
func (s *orderService) snapshotItems(ctx context.Context, cart []CartLine, currency string) ([]OrderItem, []PriceLine, error) {
	quantities := make(map[string]int64, len(cart))
	order := make([]string, 0, len(cart))
	for i, line := range cart {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, nil, fmt.Errorf("%w: item %d product id is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 || line.Quantity > maxLineQuantity {
			return nil, nil, fmt.Errorf("%w: item %d quantity must be within 1..%d", ErrOrderInvalidInput, i, maxLineQuantity)
		}
		if _, seen := quantities[productID]; !seen {
			order = append(order, productID)
		}
		quantities[productID] += line.Quantity
	}

	items := make([]OrderItem, 0, len(order))
	lines := make([]PriceLine, 0, len(order))
	for _, productID := range order {
		product, err := s.catalog.FindByID(ctx, productID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, nil, &ItemUnavailableError{ProductID: productID, Reason: "not_found"}
			}
			return nil, nil, fmt.Errorf("order service: load product %s: %w", productID, err)
		}
		if !product.Purchasable() {
			return nil, nil, &ItemUnavailableError{ProductID: productID, Reason: "not_purchasable"}
		}
		if product.Currency != "" && !strings.EqualFold(product.Currency, currency) {
			return nil, nil, &ItemUnavailableError{ProductID: productID, Reason: "currency_mismatch"}
		}
		quantity := quantities[productID]
		if quantity > maxLineQuantity {
			return nil, nil, fmt.Errorf("%w: product %s quantity exceeds %d", ErrOrderInvalidInput, productID, maxLineQuantity)
		}
		items = append(items, OrderItem{
			ProductID:           product.ID,
			VendorID:            product.VendorID,
			Title:               product.Title,
			Category:            product.Category,
			UnitPriceAtPurchase: product.Price,
			Quantity:            quantity,
		})
		lines = append(lines, PriceLine{
			ProductID: product.ID,
			Category:  product.Category,
			UnitPrice: product.Price,
			Quantity:  quantity,
		})
	}
	return items, lines, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, access OrderAccess) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !canAccessOrder(order, access) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	buyerID := strings.TrimSpace(filter.BuyerID)
	if buyerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByBuyer(ctx, buyerID, filter.Pagination)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

// CancelOrder cancels an order whose payment never completed.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	updated, err := s.orders.UpdatePayment(ctx, orderID, func(order *Order) error {
		if !canAccessOrder(*order, cmd.Access) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if order.OrderStatus == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order already cancelled", ErrOrderInvalidState)
		}
		if order.PaymentStatus != domain.PaymentStatusPending && order.PaymentStatus != domain.PaymentStatusFailed {
			return fmt.Errorf("%w: cannot cancel with payment status %s", ErrOrderInvalidState, order.PaymentStatus)
		}
		order.OrderStatus = domain.OrderStatusCancelled
		order.UpdatedAt = s.clock()
		return nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId": updated.ID,
		"actorId": cmd.Access.ActorID,
		"reason":  cmd.Reason,
	})
	return updated, nil
}

func (s *orderService) cleanAddress(addr Address) (Address, error) {
	out := Address{
		Recipient:  s.clean(addr.Recipient),
		Line1:      s.clean(addr.Line1),
		Line2:      s.clean(addr.Line2),
		City:       s.clean(addr.City),
		State:      s.clean(addr.State),
		PostalCode: s.clean(addr.PostalCode),
		Country:    strings.ToUpper(s.clean(addr.Country)),
		Phone:      s.clean(addr.Phone),
	}
	switch {
	case out.Recipient == "":
		return Address{}, fmt.Errorf("%w: shipping recipient is required", ErrOrderInvalidInput)
	case out.Line1 == "":
		return Address{}, fmt.Errorf("%w: shipping line1 is required", ErrOrderInvalidInput)
	case out.City == "":
		return Address{}, fmt.Errorf("%w: shipping city is required", ErrOrderInvalidInput)
	case out.PostalCode == "":
		return Address{}, fmt.Errorf("%w: shipping postal code is required", ErrOrderInvalidInput)
	case len(out.Country) != 2:
		return Address{}, fmt.Errorf("%w: shipping country must be an ISO 3166-1 alpha-2 code", ErrOrderInvalidInput)
	}
	return out, nil
}

func (s *orderService) cleanPersonalDetails(details PersonalDetails) (PersonalDetails, error) {
	out := PersonalDetails{
		FullName: s.clean(details.FullName),
		Email:    strings.ToLower(s.clean(details.Email)),
		Phone:    s.clean(details.Phone),
	}
	if out.FullName == "" {
		return PersonalDetails{}, fmt.Errorf("%w: full name is required", ErrOrderInvalidInput)
	}
	if _, err := mail.ParseAddress(out.Email); err != nil || !strings.Contains(out.Email, "@") {
		return PersonalDetails{}, fmt.Errorf("%w: email is invalid", ErrOrderInvalidInput)
	}
	return out, nil
}

func (s *orderService) clean(value string) string {
	// StrictPolicy strips markup but entity-encodes text; decode so names like O'Neil survive.
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(strings.TrimSpace(value))))
}

func canAccessOrder(order Order, access OrderAccess) bool {
	return access.Admin || (access.ActorID != "" && access.ActorID == order.BuyerID)
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderInvalidState) || errors.Is(err, ErrOrderInvalidInput) {
		return err
	}
	if _, ok := repositories.LedgerErrorCodeOf(err); ok {
		return translateLedgerError(err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}
