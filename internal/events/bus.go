// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/waymark-io/waymark/internal/metrics"
)

// Bus is the event fan-out used by the ingestion service and the
// websocket bridge. Publish failures never fail the request that
// triggered them; the store is the source of truth and the bus is a
// best-effort notification path.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	serializer *Serializer
	logger     watermill.LoggerAdapter
	breaker    *gobreaker.CircuitBreaker[any]

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

// NewGoChannelBus creates the in-process transport. Subscriptions are
// not persistent; a subscriber only sees events published after it
// subscribed, which matches live feed semantics.
func NewGoChannelBus() *Bus {
	logger := NewLoggerAdapter()
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, logger)

	bus := newBus(pubsub, pubsub, logger)
	bus.addCloser(pubsub.Close)
	return bus
}

func newBus(pub message.Publisher, sub message.Subscriber, logger watermill.LoggerAdapter) *Bus {
	return &Bus{
		publisher:  pub,
		subscriber: sub,
		serializer: NewSerializer(),
		logger:     logger,
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name: "bus-publish",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (b *Bus) addCloser(fn func() error) {
	b.mu.Lock()
	b.closers = append(b.closers, fn)
	b.mu.Unlock()
}

// PublishEvent validates, serializes, and publishes an event to its
// kind's topic.
func (b *Bus) PublishEvent(ctx context.Context, event *Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.Unlock()

	data, err := b.serializer.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(event.EventID, data)
	msg.Metadata.Set("kind", event.Kind)
	msg.Metadata.Set("journey_id", event.JourneyID())
	msg.SetContext(ctx)

	topic := event.Topic()
	_, err = b.breaker.Execute(func() (any, error) {
		return nil, b.publisher.Publish(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	metrics.RecordBusPublish(topic)
	return nil
}

// Subscribe returns the raw message channel for a topic. The channel
// closes when ctx is cancelled or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.subscriber.Subscribe(ctx, topic)
}

// SubscribeEvents consumes a topic until ctx is cancelled, invoking fn
// for each decoded event. Messages are acked on success and nacked on
// handler error; decode failures are acked and logged, redelivery
// cannot fix a malformed payload.
func (b *Bus) SubscribeEvents(ctx context.Context, topic string, fn func(context.Context, *Event) error) error {
	messages, err := b.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handleMessage(ctx, topic, msg, fn)
		}
	}
}

func (b *Bus) handleMessage(ctx context.Context, topic string, msg *message.Message, fn func(context.Context, *Event) error) {
	event, err := b.serializer.Unmarshal(msg.Payload)
	if err != nil {
		b.logger.Error("drop undecodable event", err, watermill.LogFields{
			"message_uuid": msg.UUID,
			"topic":        topic,
		})
		msg.Ack()
		return
	}

	if err := fn(ctx, event); err != nil {
		b.logger.Error("event handler failed", err, watermill.LogFields{
			"message_uuid": msg.UUID,
			"topic":        topic,
			"kind":         event.Kind,
		})
		msg.Nack()
		return
	}
	msg.Ack()
}

// Close shuts the bus down. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	closers := b.closers
	b.mu.Unlock()

	var firstErr error
	// Close in reverse construction order so transports stop before the
	// infrastructure beneath them.
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
