package services

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	notifyEventOrderCreated    = "order.created"
	notifyEventOrderSettled    = "order.settled"
	notifyEventPaymentFailed   = "order.payment_failed"
	notifyEventPayoutRequested = "payout.requested"
	notifyEventPayoutProcessed = "payout.processed"

	defaultNotifyTimeout = 5 * time.Second
)

// AsyncNotifierDeps bundles collaborators for the asynchronous notifier.
type AsyncNotifierDeps struct {
	Publisher NotificationPublisher
	Timeout   time.Duration
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// AsyncNotifier publishes notifications on a background goroutine so callers never wait on delivery.
type AsyncNotifier struct {
	publisher NotificationPublisher
	timeout   time.Duration
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	wg        sync.WaitGroup
}

// NewAsyncNotifier returns a Notifier. A nil publisher yields a notifier that only logs.
func NewAsyncNotifier(deps AsyncNotifierDeps) *AsyncNotifier {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &AsyncNotifier{
		publisher: deps.Publisher,
		timeout:   timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
}

// Notify enqueues event for delivery and returns immediately.
func (n *AsyncNotifier) Notify(ctx context.Context, event string, payload map[string]any) {
	if n == nil {
		return
	}
	message := NotificationMessage{
		ID:         ulid.Make().String(),
		Event:      event,
		Payload:    maps.Clone(payload),
		OccurredAt: n.clock(),
	}
	if n.publisher == nil {
		n.logger(ctx, "notification.skipped", map[string]any{"event": event, "id": message.ID})
		return
	}

	// Detach from the request so delivery survives the response being written.
	bg := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pubCtx, cancel := context.WithTimeout(bg, n.timeout)
		defer cancel()
		if _, err := n.publisher.PublishNotification(pubCtx, message); err != nil {
			n.logger(bg, "notification.publish.failed", map[string]any{
				"event": event,
				"id":    message.ID,
				"error": err.Error(),
			})
		}
	}()
}

// Wait blocks until in-flight notifications finish. Used on shutdown and in tests.
func (n *AsyncNotifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, map[string]any) {}
