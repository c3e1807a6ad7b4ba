// Package pubsub implements the Pub/Sub Adapter (§2.3): a fire-and-forget
// broadcast to named channels with at-most-once, best-effort delivery. It
// wraps Watermill's publisher/subscriber interfaces with two backends — an
// in-process GoChannel backend for dev/test, and a NATS JetStream backend
// for production — selected by configuration, the way liverty-music-backend
// selects its messaging backend.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
)

// Envelope is the JSON shape every published message carries: a topic-scoped
// event name plus an arbitrary payload (§4.3 "publishes one of...",
// §4.4 reaction framing, §4.5 playlist-update).
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus is the adapter every subsystem publishes through.
type Bus interface {
	// Publish sends event with payload on topic. Failures are non-critical
	// per §7's propagation policy; callers log and continue.
	Publish(ctx context.Context, topic, event string, payload any) error

	// Subscribe returns a channel of envelopes for topic. The returned
	// channel closes when ctx is cancelled or Close is called.
	Subscribe(ctx context.Context, topic string) (<-chan Envelope, error)

	Close() error
}

type watermillBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
}

// NewGoChannel returns an in-process Bus (dev/test), backed by Watermill's
// GoChannel pub/sub — no external broker required.
func NewGoChannel(logger *slog.Logger) Bus {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, watermill.NewSlogLogger(logger))
	return &watermillBus{publisher: ps, subscriber: ps, logger: logger}
}

// NewNATS returns a production Bus backed by NATS JetStream.
func NewNATS(url string, logger *slog.Logger) (Bus, error) {
	wlog := watermill.NewSlogLogger(logger)

	marshaler := &nats.GobMarshaler{}
	opts := []natsgo.Option{natsgo.RetryOnFailedConnect(true), natsgo.Timeout(10 * time.Second)}

	pub, err := nats.NewPublisher(nats.PublisherConfig{
		URL:         url,
		NatsOptions: opts,
		Marshaler:   marshaler,
		JetStream:   nats.JetStreamConfig{Disabled: false, AutoProvision: true},
	}, wlog)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new nats publisher: %w", err)
	}

	sub, err := nats.NewSubscriber(nats.SubscriberConfig{
		URL:         url,
		NatsOptions: opts,
		Unmarshaler: marshaler,
		JetStream: nats.JetStreamConfig{
			Disabled:        false,
			AutoProvision:   true,
			DurablePrefix:   "afterhours",
			SubscribeOptions: nil,
		},
		SubscribersCount: 4,
	}, wlog)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("pubsub: new nats subscriber: %w", err)
	}

	return &watermillBus{publisher: pub, subscriber: sub, logger: logger}, nil
}

func (b *watermillBus) Publish(ctx context.Context, topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pubsub: marshal payload: %w", err)
	}
	env := Envelope{Event: event, Payload: raw, Timestamp: time.Now().UTC()}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pubsub: marshal envelope: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.SetContext(ctx)
	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("pubsub: publish %s/%s: %w", topic, event, err)
	}
	return nil
}

func (b *watermillBus) Subscribe(ctx context.Context, topic string) (<-chan Envelope, error) {
	msgs, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub: subscribe %s: %w", topic, err)
	}
	out := make(chan Envelope, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal(msg.Payload, &env); err != nil {
					b.logger.Warn("pubsub: dropping malformed envelope", "topic", topic, "err", err)
					msg.Ack()
					continue
				}
				msg.Ack()
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *watermillBus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return b.subscriber.Close()
}
