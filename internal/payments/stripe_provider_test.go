package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeIntents struct {
	created *stripe.PaymentIntentParams
	intent  *stripe.PaymentIntent
	err     error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = params
	return f.intent, f.err
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return f.intent, f.err
}

func newTestStripe(t *testing.T, intents *fakeIntents) *StripeCardProcessor {
	t.Helper()
	p, err := NewStripeCardProcessor(StripeConfig{
		WebhookSecret: "whsec_test",
		Clients:       &stripeClients{intents: intents},
		Clock:         func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p
}

func TestStripeCreateIntentTagsOrder(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{
		ID:           "pi_1",
		Amount:       8000,
		Currency:     "usd",
		ClientSecret: "pi_1_secret",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
		Metadata:     map[string]string{"order_id": "ord_1"},
	}}
	p := newTestStripe(t, intents)

	intent, err := p.CreateIntent(context.Background(), IntentRequest{OrderID: "ord_1", Amount: 8000, Currency: "USD", IdempotencyKey: "order:ord_1:attempt:1"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Status != StatusPending || intent.ClientSecret != "pi_1_secret" || intent.OrderID != "ord_1" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intents.created == nil || *intents.created.Amount != 8000 || *intents.created.Currency != "usd" {
		t.Fatalf("unexpected params %+v", intents.created)
	}
	if intents.created.Metadata["order_id"] != "ord_1" {
		t.Fatalf("expected order metadata, got %v", intents.created.Metadata)
	}
	if intents.created.IdempotencyKey == nil || *intents.created.IdempotencyKey != "order:ord_1:attempt:1" {
		t.Fatalf("expected idempotency key to be set")
	}
}

func TestStripeCreateIntentRejectsNonPositiveAmount(t *testing.T) {
	p := newTestStripe(t, &fakeIntents{})
	if _, err := p.CreateIntent(context.Background(), IntentRequest{OrderID: "ord", Amount: 0}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestStripeRetrieveIntentMapsStatus(t *testing.T) {
	cases := map[stripe.PaymentIntentStatus]Status{
		stripe.PaymentIntentStatusSucceeded:      StatusSucceeded,
		stripe.PaymentIntentStatusProcessing:     StatusPending,
		stripe.PaymentIntentStatusRequiresAction: StatusPending,
		stripe.PaymentIntentStatusCanceled:       StatusFailed,
	}
	for status, want := range cases {
		p := newTestStripe(t, &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi", Status: status}})
		intent, err := p.RetrieveIntent(context.Background(), "pi")
		if err != nil {
			t.Fatalf("retrieve: %v", err)
		}
		if intent.Status != want {
			t.Fatalf("status %s: expected %s, got %s", status, want, intent.Status)
		}
	}
}

func TestStripeRetrieveIntentWrapsTransportErrors(t *testing.T) {
	p := newTestStripe(t, &fakeIntents{err: errors.New("connection reset")})
	_, err := p.RetrieveIntent(context.Background(), "pi")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func signStripe(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifyWebhook(t *testing.T) {
	p := newTestStripe(t, &fakeIntents{})
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_9","object":"payment_intent","amount":8000,"status":"succeeded","metadata":{"order_id":"ord_9"}}}}`)

	event, err := p.VerifyWebhook(payload, signStripe(payload, "whsec_test", time.Now().Unix()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Type != EventPaymentSucceeded || event.OrderID != "ord_9" || event.ProviderRef != "pi_9" || event.Amount != 8000 {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := p.VerifyWebhook(payload, signStripe(payload, "whsec_other", time.Now().Unix())); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}

func TestStripeVerifyWebhookIgnoresUnrelatedEvents(t *testing.T) {
	p := newTestStripe(t, &fakeIntents{})
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	event, err := p.VerifyWebhook(payload, signStripe(payload, "whsec_test", time.Now().Unix()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Type != EventIgnored {
		t.Fatalf("expected ignored event, got %s", event.Type)
	}
}
