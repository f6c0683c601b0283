package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

type fakeRazorpayOrders struct {
	data  map[string]interface{}
	body  map[string]interface{}
	err   error
	block chan struct{}
}

func (f *fakeRazorpayOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.data = data
	if f.block != nil {
		<-f.block
	}
	return f.body, f.err
}

func hexMAC(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayCreateOrder(t *testing.T) {
	orders := &fakeRazorpayOrders{body: map[string]interface{}{"id": "order_rzp_1", "amount": float64(8000), "currency": "INR", "status": "created"}}
	g, err := NewRazorpayGateway(RazorpayConfig{KeySecret: "secret", Orders: orders})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	order, err := g.CreateOrder(context.Background(), GatewayOrderRequest{OrderID: "ord_1", Amount: 8000, Currency: "inr"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "order_rzp_1" || order.Amount != 8000 {
		t.Fatalf("unexpected order %+v", order)
	}
	if orders.data["receipt"] != "ord_1" || orders.data["currency"] != "INR" {
		t.Fatalf("unexpected request data %v", orders.data)
	}
}

func TestRazorpayCreateOrderTimesOut(t *testing.T) {
	orders := &fakeRazorpayOrders{block: make(chan struct{})}
	defer close(orders.block)
	g, _ := NewRazorpayGateway(RazorpayConfig{KeySecret: "secret", Orders: orders})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := g.CreateOrder(ctx, GatewayOrderRequest{OrderID: "ord_1", Amount: 100, Currency: "INR"})
	if !errors.Is(err, ErrProviderTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRazorpayVerifySignature(t *testing.T) {
	g, _ := NewRazorpayGateway(RazorpayConfig{KeySecret: "secret", Orders: &fakeRazorpayOrders{}})

	valid := hexMAC("secret", "order_rzp_1|pay_1")
	if err := g.VerifySignature("order_rzp_1", "pay_1", valid); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	cases := []struct{ order, payment, sig string }{
		{"order_rzp_1", "pay_2", valid},
		{"order_rzp_1", "pay_1", hexMAC("other", "order_rzp_1|pay_1")},
		{"order_rzp_1", "pay_1", "not-hex"},
		{"", "pay_1", valid},
	}
	for _, tc := range cases {
		if err := g.VerifySignature(tc.order, tc.payment, tc.sig); !errors.Is(err, ErrSignatureMismatch) {
			t.Fatalf("%+v: expected mismatch, got %v", tc, err)
		}
	}
}

func TestRazorpayVerifyWebhook(t *testing.T) {
	g, _ := NewRazorpayGateway(RazorpayConfig{KeySecret: "secret", WebhookSecret: "hook", Orders: &fakeRazorpayOrders{}})
	payload := `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_rzp_1","amount":500,"error_code":"BAD_REQUEST_ERROR","notes":{"order_id":"ord_7"}}}}}`

	event, err := g.VerifyWebhook([]byte(payload), hexMAC("hook", payload))
	if err != nil {
		t.Fatalf("verify webhook: %v", err)
	}
	if event.Type != EventPaymentFailed || event.OrderID != "ord_7" || event.Reason != "BAD_REQUEST_ERROR" {
		t.Fatalf("unexpected event %+v", event)
	}
	if _, err := g.VerifyWebhook([]byte(payload), hexMAC("secret", payload)); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch for wrong secret, got %v", err)
	}
}
