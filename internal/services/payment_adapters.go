package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	domain "github.com/bazaarly/api/internal/domain"
	"github.com/bazaarly/api/internal/payments"
)

// railAction is what the orchestrator must do after an adapter inspected a payment attempt.
type railAction int

const (
	railPending railAction = iota
	railSettle
	railDecline
)

// railResult is the adapter-level outcome before persistence.
type railResult struct {
	action       railAction
	provider     string
	providerRef  string
	clientAction *ClientAction
	debitWallet  bool
	reason       string
}

// paymentRail confirms one payment method. Implementations never write to repositories;
// the orchestrator owns every state transition.
type paymentRail interface {
	confirm(ctx context.Context, order Order, token ProviderToken) (railResult, error)
}

type cardRail struct {
	processor payments.CardProcessor
	security  func(ctx context.Context, order Order, detail string)
}

// confirm creates an intent on the first call and settles only once Stripe reports success.
func (r cardRail) confirm(ctx context.Context, order Order, token ProviderToken) (railResult, error) {
	intentID := token.IntentID
	if intentID == "" && order.Payment.ProviderRef == "" {
		intent, err := r.processor.CreateIntent(ctx, payments.IntentRequest{
			OrderID:        order.ID,
			Amount:         order.Total,
			Currency:       order.Currency,
			IdempotencyKey: "order:" + order.ID + ":attempt:" + strconv.Itoa(order.Payment.Attempts+1),
			Metadata:       map[string]string{"buyer_id": order.BuyerID},
		})
		if err != nil {
			return railResult{}, err
		}
		return railResult{
			action:      railPending,
			provider:    "stripe",
			providerRef: intent.ID,
			clientAction: &ClientAction{
				Provider:     "stripe",
				ClientSecret: intent.ClientSecret,
				Amount:       order.Total,
				Currency:     order.Currency,
			},
		}, nil
	}
	if intentID == "" {
		intentID = order.Payment.ProviderRef
	}
	if order.Payment.ProviderRef != "" && intentID != order.Payment.ProviderRef {
		r.security(ctx, order, "payment intent does not match the order's current attempt")
		return railResult{}, fmt.Errorf("%w: payment intent does not belong to order", ErrPaymentInvalidInput)
	}

	intent, err := r.processor.RetrieveIntent(ctx, intentID)
	if err != nil {
		return railResult{}, err
	}
	if intent.OrderID != order.ID || intent.Amount != order.Total {
		r.security(ctx, order, "payment intent order or amount mismatch")
		return railResult{}, fmt.Errorf("%w: payment intent does not match order", ErrPaymentInvalidInput)
	}
	result := railResult{provider: "stripe", providerRef: intent.ID}
	switch intent.Status {
	case payments.StatusSucceeded:
		result.action = railSettle
	case payments.StatusFailed:
		result.action = railDecline
		result.reason = firstNonEmpty(intent.FailureCode, "card_declined")
	default:
		result.action = railPending
		result.clientAction = &ClientAction{
			Provider:     "stripe",
			ClientSecret: intent.ClientSecret,
			Amount:       order.Total,
			Currency:     order.Currency,
		}
	}
	return result, nil
}

type gatewayRail struct {
	processor payments.GatewayProcessor
	security  func(ctx context.Context, order Order, detail string)
}

// confirm opens a provider order, then trusts only a callback whose signature verifies.
func (r gatewayRail) confirm(ctx context.Context, order Order, token ProviderToken) (railResult, error) {
	if token.Empty() {
		if order.Payment.ProviderRef != "" {
			return railResult{
				action:      railPending,
				provider:    "razorpay",
				providerRef: order.Payment.ProviderRef,
				clientAction: &ClientAction{
					Provider:        "razorpay",
					ProviderOrderID: order.Payment.ProviderRef,
					Amount:          order.Total,
					Currency:        order.Currency,
				},
			}, nil
		}
		created, err := r.processor.CreateOrder(ctx, payments.GatewayOrderRequest{
			OrderID:  order.ID,
			Amount:   order.Total,
			Currency: order.Currency,
		})
		if err != nil {
			return railResult{}, err
		}
		return railResult{
			action:      railPending,
			provider:    "razorpay",
			providerRef: created.ID,
			clientAction: &ClientAction{
				Provider:        "razorpay",
				ProviderOrderID: created.ID,
				Amount:          order.Total,
				Currency:        order.Currency,
			},
		}, nil
	}

	if err := r.processor.VerifySignature(token.ProviderOrderID, token.PaymentID, token.Signature); err != nil {
		r.security(ctx, order, "gateway callback signature mismatch")
		return railResult{}, fmt.Errorf("%w: %v", ErrPaymentSignatureMismatch, err)
	}
	// A valid triplet for some other order must not settle this one.
	if token.ProviderOrderID != order.Payment.ProviderRef {
		r.security(ctx, order, "gateway callback references a different provider order")
		return railResult{}, fmt.Errorf("%w: provider order does not belong to order", ErrPaymentSignatureMismatch)
	}
	return railResult{action: railSettle, provider: "razorpay", providerRef: token.ProviderOrderID}, nil
}

// walletRail defers the balance check to the settlement transaction so it is atomic with the debit.
type walletRail struct{}

func (walletRail) confirm(context.Context, Order, ProviderToken) (railResult, error) {
	return railResult{action: railSettle, provider: "wallet", debitWallet: true}, nil
}

// cashRail waits for an administrator to record collection.
type cashRail struct{}

func (cashRail) confirm(context.Context, Order, ProviderToken) (railResult, error) {
	return railResult{action: railPending, provider: "cash"}, nil
}

func providerErrorOutcome(err error) (pending bool, mapped error) {
	switch {
	case errors.Is(err, payments.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return true, nil
	case errors.Is(err, payments.ErrSignatureMismatch):
		return false, fmt.Errorf("%w: %v", ErrPaymentSignatureMismatch, err)
	case errors.Is(err, payments.ErrProviderUnavailable):
		return false, fmt.Errorf("%w: %v", ErrPaymentProviderUnavailable, err)
	}
	return false, err
}

func railFor(method domain.PaymentMethod, rails map[domain.PaymentMethod]paymentRail) (paymentRail, error) {
	rail, ok := rails[method]
	if !ok || rail == nil {
		return nil, fmt.Errorf("%w: no rail configured for %s", ErrPaymentProviderUnavailable, method)
	}
	return rail, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
