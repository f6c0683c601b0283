package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/payments"
	"github.com/bazaarly/api/internal/repositories"
)

const (
	instrumentationName = "github.com/bazaarly/api/internal/services"

	defaultProviderTimeout = 10 * time.Second

	declineInsufficientFunds = "insufficient_funds"
)

// PaymentServiceDeps bundles collaborators required to construct the payment orchestrator.
type PaymentServiceDeps struct {
	Orders          repositories.OrderRepository
	Settings        SettingsService
	Card            payments.CardProcessor
	Gateway         payments.GatewayProcessor
	Notifier        Notifier
	ProviderTimeout time.Duration
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
	Meter           metric.Meter
	Tracer          trace.Tracer
}

type paymentService struct {
	orders   repositories.OrderRepository
	settings SettingsService
	rails    map[domain.PaymentMethod]paymentRail
	card     payments.CardProcessor
	gateway  payments.GatewayProcessor
	notifier Notifier
	timeout  time.Duration
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// NewPaymentService wires the payment orchestrator. Card and gateway processors are optional;
// orders using an unconfigured rail fail with ErrPaymentProviderUnavailable.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("payment service: settings service is required")
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
	timeout := deps.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	outcomes, err := meter.Int64Counter("payments.outcomes",
		metric.WithDescription("Payment confirmation outcomes by method and kind"))
	if err != nil {
		return nil, fmt.Errorf("payment service: create counter: %w", err)
	}

	svc := &paymentService{
		orders:   deps.Orders,
		settings: deps.Settings,
		card:     deps.Card,
		gateway:  deps.Gateway,
		notifier: notifier,
		timeout:  timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		logger:   logger,
		tracer:   tracer,
		outcomes: outcomes,
	}
	svc.rails = map[domain.PaymentMethod]paymentRail{
		domain.PaymentMethodWallet:         walletRail{},
		domain.PaymentMethodCashOnDelivery: cashRail{},
	}
	if deps.Card != nil {
		svc.rails[domain.PaymentMethodCard] = cardRail{processor: deps.Card, security: svc.securityEvent}
	}
	if deps.Gateway != nil {
		svc.rails[domain.PaymentMethodGateway] = gatewayRail{processor: deps.Gateway, security: svc.securityEvent}
	}
	return svc, nil
}

// ConfirmPayment runs the order's rail and normalises the result into a PaymentOutcome.
// Repeated confirmations of a settled order return Settled with AlreadySettled and write nothing.
func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "payments.confirm", trace.WithAttributes(
		attribute.String("order.id", cmd.OrderID),
		attribute.String("payment.method", string(cmd.Method)),
	))
	defer span.End()

	outcome, err := s.confirm(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PaymentOutcome{}, err
	}
	span.SetAttributes(attribute.String("payment.outcome", string(outcome.Kind)))
	return outcome, nil
}

func (s *paymentService) confirm(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentOutcome, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentOutcome{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentOutcome{}, mapOrderRepositoryError(err)
	}
	if !canAccessOrder(order, cmd.Access) {
		return PaymentOutcome{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if cmd.Method != "" && cmd.Method != order.PaymentMethod {
		return PaymentOutcome{}, fmt.Errorf("%w: order was placed with %s, not %s", ErrPaymentInvalidInput, order.PaymentMethod, cmd.Method)
	}
	if order.Settled() {
		return PaymentOutcome{Kind: OutcomeSettled, Order: order, AlreadySettled: true}, nil
	}
	if order.OrderStatus == domain.OrderStatusCancelled {
		return PaymentOutcome{}, fmt.Errorf("%w: order %s is cancelled", ErrOrderInvalidState, orderID)
	}
	if order.PaymentStatus == domain.PaymentStatusFailed {
		return PaymentOutcome{}, fmt.Errorf("%w: payment failed; retry the payment first", ErrOrderInvalidState)
	}

	// Nothing to collect; settle without touching a provider.
	if order.Total == 0 {
		return s.settle(ctx, order, railResult{action: railSettle, provider: "none"})
	}

	rail, err := railFor(order.PaymentMethod, s.rails)
	if err != nil {
		return PaymentOutcome{}, err
	}
	providerCtx, cancel := context.WithTimeout(ctx, s.timeout)
	result, err := rail.confirm(providerCtx, order, cmd.Token)
	cancel()
	if err != nil {
		pending, mapped := providerErrorOutcome(err)
		if !pending {
			s.logger(ctx, "payment.confirm.failed", map[string]any{
				"orderId": order.ID,
				"method":  string(order.PaymentMethod),
				"error":   mapped.Error(),
			})
			return PaymentOutcome{}, mapped
		}
		s.logger(ctx, "payment.provider.timeout", map[string]any{
			"orderId": order.ID,
			"method":  string(order.PaymentMethod),
		})
		s.record(ctx, order.PaymentMethod, OutcomePending)
		return PaymentOutcome{Kind: OutcomePending, Order: order}, nil
	}
	return s.apply(ctx, order, result)
}

func (s *paymentService) apply(ctx context.Context, order Order, result railResult) (PaymentOutcome, error) {
	switch result.action {
	case railSettle:
		return s.settle(ctx, order, result)
	case railDecline:
		failed, err := s.markFailed(ctx, order.ID, result.reason)
		if err != nil {
			return PaymentOutcome{}, err
		}
		s.record(ctx, order.PaymentMethod, OutcomeDeclined)
		return PaymentOutcome{Kind: OutcomeDeclined, Order: failed, DeclineReason: result.reason}, nil
	}

	updated := order
	if result.providerRef != "" && result.providerRef != order.Payment.ProviderRef {
		var err error
		updated, err = s.orders.UpdatePayment(ctx, order.ID, func(o *Order) error {
			if o.Settled() {
				return nil
			}
			if o.PaymentStatus == domain.PaymentStatusPending {
				o.PaymentStatus = domain.PaymentStatusProcessing
			}
			o.Payment.Provider = result.provider
			o.Payment.ProviderRef = result.providerRef
			if result.clientAction != nil {
				o.Payment.ClientSecret = result.clientAction.ClientSecret
			}
			o.UpdatedAt = s.clock()
			return nil
		})
		if err != nil {
			return PaymentOutcome{}, mapOrderRepositoryError(err)
		}
	}
	s.record(ctx, order.PaymentMethod, OutcomePending)
	return PaymentOutcome{Kind: OutcomePending, Order: updated, ClientAction: result.clientAction}, nil
}

// settle performs the single settlement transaction: payment status, wallet debit, and vendor
// earnings are written together or not at all, gated on the order not being settled yet.
func (s *paymentService) settle(ctx context.Context, order Order, result railResult) (PaymentOutcome, error) {
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return PaymentOutcome{}, err
	}
	now := s.clock()
	cmd := repositories.SettleCommand{
		OrderID:     order.ID,
		Provider:    result.provider,
		ProviderRef: result.providerRef,
		SettledAt:   now,
		Earnings: func(current Order) ([]VendorEarning, error) {
			return SplitEarnings(current, settings, now, s.newID)
		},
	}
	if result.debitWallet {
		cmd.WalletDebitID = walletTxnIDPrefix + s.newID()
	}

	settled, err := s.orders.Settle(ctx, cmd)
	if err != nil {
		mapped := translateLedgerError(err)
		switch {
		case errors.Is(mapped, ErrInsufficientFunds):
			s.logger(ctx, "payment.declined", map[string]any{
				"orderId": order.ID,
				"reason":  declineInsufficientFunds,
				"total":   order.Total,
			})
			s.record(ctx, order.PaymentMethod, OutcomeDeclined)
			return PaymentOutcome{Kind: OutcomeDeclined, Order: order, DeclineReason: declineInsufficientFunds}, nil
		case errors.Is(mapped, ErrLedgerInvariant):
			s.logger(ctx, "ledger_violation", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
		return PaymentOutcome{}, mapped
	}

	if settled.AlreadySettled {
		return PaymentOutcome{Kind: OutcomeSettled, Order: settled.Order, AlreadySettled: true}, nil
	}

	fields := map[string]any{
		"orderId":         settled.Order.ID,
		"method":          string(settled.Order.PaymentMethod),
		"total":           settled.Order.Total,
		"earnings":        len(settled.Earnings),
		"settingsVersion": settings.Version,
	}
	if settled.Debit != nil {
		fields["walletTxnId"] = settled.Debit.ID
	}
	s.logger(ctx, "payment.settled", fields)
	s.record(ctx, settled.Order.PaymentMethod, OutcomeSettled)
	s.notifier.Notify(ctx, notifyEventOrderSettled, map[string]any{
		"orderId": settled.Order.ID,
		"buyerId": settled.Order.BuyerID,
		"total":   settled.Order.Total,
		"vendors": settled.Order.VendorIDs(),
	})
	return PaymentOutcome{Kind: OutcomeSettled, Order: settled.Order}, nil
}

func (s *paymentService) markFailed(ctx context.Context, orderID, reason string) (Order, error) {
	updated, err := s.orders.UpdatePayment(ctx, orderID, func(o *Order) error {
		if o.Settled() || o.PaymentStatus == domain.PaymentStatusFailed {
			return nil
		}
		if !domain.CanTransitionPayment(o.PaymentStatus, domain.PaymentStatusFailed) {
			return fmt.Errorf("%w: cannot fail payment from %s", ErrOrderInvalidState, o.PaymentStatus)
		}
		o.PaymentStatus = domain.PaymentStatusFailed
		o.Payment.FailureReason = reason
		o.UpdatedAt = s.clock()
		return nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	s.logger(ctx, "payment.failed", map[string]any{
		"orderId": orderID,
		"reason":  reason,
	})
	if updated.PaymentStatus == domain.PaymentStatusFailed {
		s.notifier.Notify(ctx, notifyEventPaymentFailed, map[string]any{
			"orderId": orderID,
			"buyerId": updated.BuyerID,
			"reason":  reason,
		})
	}
	return updated, nil
}

// RetryPayment opens a new attempt on a failed order: failed -> processing.
func (s *paymentService) RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	updated, err := s.orders.UpdatePayment(ctx, orderID, func(o *Order) error {
		if !canAccessOrder(*o, cmd.Access) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if o.OrderStatus == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order is cancelled", ErrOrderInvalidState)
		}
		if o.PaymentStatus != domain.PaymentStatusFailed {
			return fmt.Errorf("%w: only failed payments can be retried, status is %s", ErrOrderInvalidState, o.PaymentStatus)
		}
		beginRetry(o, s.clock())
		return nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	s.logger(ctx, "payment.retry", map[string]any{
		"orderId":  updated.ID,
		"attempts": updated.Payment.Attempts,
	})
	return updated, nil
}

func beginRetry(o *Order, now time.Time) {
	o.PaymentStatus = domain.PaymentStatusProcessing
	o.Payment.Attempts++
	o.Payment.ProviderRef = ""
	o.Payment.ClientSecret = ""
	o.Payment.FailureReason = ""
	o.UpdatedAt = now
}

// MarkCashCollected settles a cash-on-delivery order once an administrator records the cash.
func (s *paymentService) MarkCashCollected(ctx context.Context, cmd CashCollectedCommand) (PaymentOutcome, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || strings.TrimSpace(cmd.AdminID) == "" {
		return PaymentOutcome{}, fmt.Errorf("%w: order id and admin id are required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentOutcome{}, mapOrderRepositoryError(err)
	}
	if order.PaymentMethod != domain.PaymentMethodCashOnDelivery {
		return PaymentOutcome{}, fmt.Errorf("%w: order %s is not cash on delivery", ErrPaymentInvalidInput, orderID)
	}
	if order.OrderStatus == domain.OrderStatusCancelled {
		return PaymentOutcome{}, fmt.Errorf("%w: order %s is cancelled", ErrOrderInvalidState, orderID)
	}
	s.logger(ctx, "payment.cash.collected", map[string]any{
		"orderId": orderID,
		"adminId": cmd.AdminID,
	})
	return s.settle(ctx, order, railResult{action: railSettle, provider: "cash", providerRef: "collected_by:" + cmd.AdminID})
}

// HandleProviderEvent applies a verified PSP webhook. Unverifiable payloads are security events.
func (s *paymentService) HandleProviderEvent(ctx context.Context, cmd ProviderEventCommand) (PaymentOutcome, error) {
	var (
		event  payments.Event
		err    error
		method domain.PaymentMethod
	)
	switch strings.ToLower(strings.TrimSpace(cmd.Provider)) {
	case "stripe":
		if s.card == nil {
			return PaymentOutcome{}, fmt.Errorf("%w: card processor not configured", ErrPaymentProviderUnavailable)
		}
		method = domain.PaymentMethodCard
		event, err = s.card.VerifyWebhook(cmd.Payload, cmd.Signature)
	case "razorpay", "gateway":
		if s.gateway == nil {
			return PaymentOutcome{}, fmt.Errorf("%w: gateway processor not configured", ErrPaymentProviderUnavailable)
		}
		method = domain.PaymentMethodGateway
		event, err = s.gateway.VerifyWebhook(cmd.Payload, cmd.Signature)
	default:
		return PaymentOutcome{}, fmt.Errorf("%w: unknown provider %q", ErrPaymentInvalidInput, cmd.Provider)
	}
	if err != nil {
		if errors.Is(err, payments.ErrSignatureMismatch) {
			s.logger(ctx, "security_event", map[string]any{
				"kind":     "webhook_signature_mismatch",
				"provider": cmd.Provider,
			})
			return PaymentOutcome{}, fmt.Errorf("%w: %v", ErrPaymentSignatureMismatch, err)
		}
		return PaymentOutcome{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}
	if event.Type == payments.EventIgnored || event.OrderID == "" {
		return PaymentOutcome{Kind: OutcomePending}, nil
	}

	order, err := s.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		return PaymentOutcome{}, mapOrderRepositoryError(err)
	}
	if order.PaymentMethod != method {
		s.securityEvent(ctx, order, "webhook provider does not match order payment method")
		return PaymentOutcome{}, fmt.Errorf("%w: order %s does not use %s", ErrPaymentInvalidInput, order.ID, method)
	}
	if order.Settled() {
		return PaymentOutcome{Kind: OutcomeSettled, Order: order, AlreadySettled: true}, nil
	}

	switch event.Type {
	case payments.EventPaymentSucceeded:
		if event.Amount != 0 && event.Amount != order.Total {
			s.securityEvent(ctx, order, fmt.Sprintf("webhook amount %d differs from order total %d", event.Amount, order.Total))
			return PaymentOutcome{}, fmt.Errorf("%w: amount mismatch", ErrPaymentInvalidInput)
		}
		if order.OrderStatus == domain.OrderStatusCancelled {
			s.capturedOnClosedOrder(ctx, order, event)
			return PaymentOutcome{}, fmt.Errorf("%w: order %s is cancelled but provider %s captured %s",
				ErrOrderInvalidState, order.ID, event.Provider, event.ProviderRef)
		}
		if order.PaymentStatus == domain.PaymentStatusFailed {
			// The provider captured funds after we recorded a failure; reopen the attempt first.
			order, err = s.orders.UpdatePayment(ctx, order.ID, func(o *Order) error {
				if o.OrderStatus == domain.OrderStatusCancelled {
					return fmt.Errorf("%w: order %s is cancelled", ErrOrderInvalidState, o.ID)
				}
				if o.PaymentStatus == domain.PaymentStatusFailed {
					beginRetry(o, s.clock())
				}
				return nil
			})
			if err != nil {
				if errors.Is(err, ErrOrderInvalidState) {
					s.capturedOnClosedOrder(ctx, order, event)
				}
				return PaymentOutcome{}, mapOrderRepositoryError(err)
			}
		}
		ref := event.ProviderRef
		if method == domain.PaymentMethodGateway {
			ref = ""
		}
		outcome, err := s.settle(ctx, order, railResult{action: railSettle, provider: event.Provider, providerRef: ref})
		if errors.Is(err, ErrOrderInvalidState) {
			s.capturedOnClosedOrder(ctx, order, event)
		}
		return outcome, err
	case payments.EventPaymentFailed:
		failed, err := s.markFailed(ctx, order.ID, firstNonEmpty(event.Reason, "provider_failed"))
		if err != nil {
			return PaymentOutcome{}, err
		}
		s.record(ctx, order.PaymentMethod, OutcomeDeclined)
		return PaymentOutcome{Kind: OutcomeDeclined, Order: failed, DeclineReason: failed.Payment.FailureReason}, nil
	}
	return PaymentOutcome{Kind: OutcomePending, Order: order}, nil
}

// capturedOnClosedOrder records provider funds that arrived for an order that can no longer
// settle. The money sits with the provider until someone reverses it by hand.
func (s *paymentService) capturedOnClosedOrder(ctx context.Context, order Order, event payments.Event) {
	s.logger(ctx, "ledger_violation", map[string]any{
		"kind":        "capture_on_closed_order",
		"orderId":     order.ID,
		"buyerId":     order.BuyerID,
		"orderStatus": string(order.OrderStatus),
		"provider":    event.Provider,
		"providerRef": event.ProviderRef,
		"amount":      event.Amount,
	})
}

func (s *paymentService) securityEvent(ctx context.Context, order Order, detail string) {
	s.logger(ctx, "security_event", map[string]any{
		"kind":    "payment_verification_failed",
		"orderId": order.ID,
		"buyerId": order.BuyerID,
		"method":  string(order.PaymentMethod),
		"detail":  detail,
	})
}

func (s *paymentService) record(ctx context.Context, method domain.PaymentMethod, kind OutcomeKind) {
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(method)),
		attribute.String("outcome", string(kind)),
	))
}
