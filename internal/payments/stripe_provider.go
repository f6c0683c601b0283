package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const stripeOrderMetadataKey = "order_id"

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
}

// StripeConfig configures the StripeCardProcessor.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        Logger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeCardProcessor implements CardProcessor using Stripe PaymentIntents.
type StripeCardProcessor struct {
	api           stripeClients
	webhookSecret string
	account       string
	clock         func() time.Time
	logger        Logger
}

// NewStripeCardProcessor constructs a Stripe backed card processor.
func NewStripeCardProcessor(cfg StripeConfig) (*StripeCardProcessor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{intents: sc.PaymentIntents}
	}
	if clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &StripeCardProcessor{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateIntent opens a PaymentIntent for the order total.
func (p *StripeCardProcessor) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: processor is nil")
	}
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("stripe: amount must be positive, got %d", req.Amount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	params.AddMetadata(stripeOrderMetadataKey, req.OrderID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, stripeError("create payment intent", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderId":       req.OrderID,
		"amount":        intent.Amount,
	})
	return stripeIntent(intent), nil
}

// RetrieveIntent fetches the current state of a PaymentIntent from Stripe.
func (p *StripeCardProcessor) RetrieveIntent(ctx context.Context, intentID string) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: processor is nil")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, errors.New("stripe: payment intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(intentID, params)
	if err != nil {
		return Intent{}, stripeError("retrieve payment intent", err)
	}
	return stripeIntent(intent), nil
}

// VerifyWebhook validates the Stripe-Signature header and normalises payment intent events.
func (p *StripeCardProcessor) VerifyWebhook(payload []byte, signature string) (Event, error) {
	if p == nil {
		return Event{}, errors.New("stripe: processor is nil")
	}
	if p.webhookSecret == "" {
		return Event{}, errors.New("stripe: webhook secret is not configured")
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	out := Event{
		ID:         evt.ID,
		Provider:   "stripe",
		Type:       EventIgnored,
		ReceivedAt: p.clock(),
	}
	switch evt.Type {
	case "payment_intent.succeeded":
		out.Type = EventPaymentSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		out.Type = EventPaymentFailed
	default:
		return out, nil
	}

	var intent stripe.PaymentIntent
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return Event{}, errors.New("stripe: webhook event has no data")
	}
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
		return Event{}, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	normalised := stripeIntent(&intent)
	out.OrderID = normalised.OrderID
	out.ProviderRef = normalised.ID
	out.Amount = normalised.Amount
	out.Reason = normalised.FailureCode
	return out, nil
}

func stripeIntent(intent *stripe.PaymentIntent) Intent {
	if intent == nil {
		return Intent{}
	}
	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}
	out := Intent{
		ID:           intent.ID,
		OrderID:      intent.Metadata[stripeOrderMetadataKey],
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Status:       status,
	}
	if intent.LastPaymentError != nil {
		out.FailureCode = string(intent.LastPaymentError.Code)
		if out.FailureCode == "" {
			out.FailureCode = intent.LastPaymentError.Msg
		}
	}
	if intent.Status == stripe.PaymentIntentStatusCanceled && out.FailureCode == "" {
		out.FailureCode = string(intent.CancellationReason)
	}
	return out
}

func stripeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: stripe: %s: %v", ErrProviderTimeout, op, err)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < 500 {
		return fmt.Errorf("stripe: %s: %w", op, err)
	}
	return fmt.Errorf("%w: stripe: %s: %v", ErrProviderUnavailable, op, err)
}
