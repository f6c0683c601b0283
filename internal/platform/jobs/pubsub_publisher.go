package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/bazaarly/api/internal/services"
)

// payload keys promoted to message attributes so subscribers can filter without decoding.
var attributeKeys = map[string]string{
	"orderId":   "orderId",
	"buyerId":   "buyerId",
	"vendorId":  "vendorId",
	"requestId": "payoutRequestId",
}

// PubSubNotificationPublisher publishes marketplace notifications to a Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishNotification sends message on the configured topic and waits for the server id.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, message services.NotificationMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "event", message.Event)
	setAttr(attrs, "notificationId", message.ID)
	for key, attr := range attributeKeys {
		if value, ok := message.Payload[key].(string); ok {
			setAttr(attrs, attr, value)
		}
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification %s: %w", message.Event, err)
	}
	return id, nil
}

// Stop flushes pending messages. Call once on shutdown.
func (p *PubSubNotificationPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
