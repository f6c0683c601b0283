package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/razorpay/razorpay-go"
)

const razorpayOrderNoteKey = "order_id"

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayConfig configures the RazorpayGateway.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Logger        Logger
	Clock         func() time.Time
	Orders        razorpayOrderAPI
}

// RazorpayGateway implements GatewayProcessor on the Razorpay orders API.
type RazorpayGateway struct {
	orders        razorpayOrderAPI
	keySecret     []byte
	webhookSecret []byte
	clock         func() time.Time
	logger        Logger
}

// NewRazorpayGateway constructs a gateway processor. KeySecret signs checkout callbacks.
func NewRazorpayGateway(cfg RazorpayConfig) (*RazorpayGateway, error) {
	secret := strings.TrimSpace(cfg.KeySecret)
	if secret == "" {
		return nil, errors.New("razorpay: key secret is required")
	}
	orders := cfg.Orders
	if orders == nil {
		keyID := strings.TrimSpace(cfg.KeyID)
		if keyID == "" {
			return nil, errors.New("razorpay: key id is required")
		}
		orders = razorpay.NewClient(keyID, secret).Order
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		webhookSecret = secret
	}
	return &RazorpayGateway{
		orders:        orders,
		keySecret:     []byte(secret),
		webhookSecret: []byte(webhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateOrder opens a Razorpay order. The SDK is not context aware, so the call is abandoned
// (and reported as a timeout) when ctx expires first.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	if g == nil {
		return GatewayOrder{}, errors.New("razorpay: gateway is nil")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, fmt.Errorf("razorpay: amount must be positive, got %d", req.Amount)
	}
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.OrderID,
		"notes": map[string]interface{}{
			razorpayOrderNoteKey: req.OrderID,
		},
	}

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := g.orders.Create(data, nil)
		done <- result{body: body, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return GatewayOrder{}, fmt.Errorf("%w: razorpay: create order: %v", ErrProviderTimeout, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return GatewayOrder{}, fmt.Errorf("%w: razorpay: create order: %v", ErrProviderUnavailable, res.err)
	}

	id, _ := res.body["id"].(string)
	if id == "" {
		return GatewayOrder{}, fmt.Errorf("%w: razorpay: create order returned no id", ErrProviderUnavailable)
	}
	order := GatewayOrder{
		ID:       id,
		Amount:   int64Value(res.body["amount"]),
		Currency: stringValue(res.body["currency"]),
		Status:   stringValue(res.body["status"]),
	}
	g.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"providerOrderId": order.ID,
		"orderId":         req.OrderID,
		"amount":          order.Amount,
	})
	return order, nil
}

// VerifySignature checks the checkout callback signature HMAC-SHA256(orderId|paymentId).
func (g *RazorpayGateway) VerifySignature(providerOrderID, paymentID, signature string) error {
	if g == nil {
		return errors.New("razorpay: gateway is nil")
	}
	providerOrderID = strings.TrimSpace(providerOrderID)
	paymentID = strings.TrimSpace(paymentID)
	if providerOrderID == "" || paymentID == "" || strings.TrimSpace(signature) == "" {
		return fmt.Errorf("%w: incomplete callback triplet", ErrSignatureMismatch)
	}
	if !validHexMAC(g.keySecret, []byte(providerOrderID+"|"+paymentID), signature) {
		return ErrSignatureMismatch
	}
	return nil
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string            `json:"id"`
				OrderID          string            `json:"order_id"`
				Amount           int64             `json:"amount"`
				ErrorCode        string            `json:"error_code"`
				ErrorDescription string            `json:"error_description"`
				Notes            map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// VerifyWebhook validates X-Razorpay-Signature over the raw body and normalises payment events.
func (g *RazorpayGateway) VerifyWebhook(payload []byte, signature string) (Event, error) {
	if g == nil {
		return Event{}, errors.New("razorpay: gateway is nil")
	}
	if !validHexMAC(g.webhookSecret, payload, signature) {
		return Event{}, ErrSignatureMismatch
	}

	var body razorpayWebhook
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, fmt.Errorf("razorpay: decode webhook: %w", err)
	}
	entity := body.Payload.Payment.Entity
	out := Event{
		Provider:    "razorpay",
		Type:        EventIgnored,
		OrderID:     entity.Notes[razorpayOrderNoteKey],
		ProviderRef: entity.ID,
		Amount:      entity.Amount,
		ReceivedAt:  g.clock(),
	}
	switch body.Event {
	case "payment.captured", "order.paid":
		out.Type = EventPaymentSucceeded
	case "payment.failed":
		out.Type = EventPaymentFailed
		out.Reason = entity.ErrorCode
		if out.Reason == "" {
			out.Reason = entity.ErrorDescription
		}
	}
	return out, nil
}

func validHexMAC(secret, message []byte, signature string) bool {
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(expected) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), expected)
}

func int64Value(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		out, _ := n.Int64()
		return out
	}
	return 0
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
