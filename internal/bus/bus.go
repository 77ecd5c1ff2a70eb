package bus

import (
	"log/slog"
	"reflect"

	"github.com/cskr/pubsub"
)

const defaultCapacity = 128

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus fans relay events out to in-process subscribers.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger
}

func New(logger *slog.Logger) *PubSubBus {
	return NewWithCapacity(logger, defaultCapacity)
}

func NewWithCapacity(logger *slog.Logger, capacity int) *PubSubBus {
	if logger == nil {
		logger = slog.Default().With("component", "bus")
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	return &PubSubBus{
		ps:     pubsub.New(capacity),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)
}

// TryPublish drops the event instead of blocking when a subscriber is full.
func (b *PubSubBus) TryPublish(topic string, msg any) {
	b.logger.Debug("try publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.TryPub(msg, topic)
}

func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	ch := b.ps.Sub(topics...)
	b.logger.Debug("subscribe", "topics", topics)
	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
