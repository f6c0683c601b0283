package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states shared across processors.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

var (
	// ErrSignatureMismatch marks a callback or webhook whose signature could not be verified.
	// Callers must treat it as a security event rather than a transient failure.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
	// ErrProviderUnavailable wraps transport failures talking to a PSP.
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
	// ErrProviderTimeout indicates the PSP call exceeded its deadline; the outcome is unknown.
	ErrProviderTimeout = errors.New("payments: provider timeout")
)

// IntentRequest asks the card processor for a payment intent scoped to an order.
type IntentRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the normalised view of a card payment intent.
type Intent struct {
	ID           string
	OrderID      string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       Status
	FailureCode  string
}

// GatewayOrderRequest asks the regional gateway to open a provider-side order.
type GatewayOrderRequest struct {
	OrderID  string
	Amount   int64
	Currency string
}

// GatewayOrder is the provider-side order created by the gateway.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
}

// EventType classifies verified PSP notifications.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventIgnored          EventType = "ignored"
)

// Event is a verified PSP notification about one of our orders.
type Event struct {
	ID          string
	Provider    string
	Type        EventType
	OrderID     string
	ProviderRef string
	Amount      int64
	Reason      string
	ReceivedAt  time.Time
}

// CardProcessor creates and inspects card payment intents.
type CardProcessor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (Intent, error)
	VerifyWebhook(payload []byte, signature string) (Event, error)
}

// GatewayProcessor creates gateway orders and verifies their signed callbacks.
type GatewayProcessor interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	VerifySignature(providerOrderID, paymentID, signature string) error
	VerifyWebhook(payload []byte, signature string) (Event, error)
}

// Logger defines the logging contract for processor operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}
