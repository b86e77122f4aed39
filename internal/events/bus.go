// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/callsync/internal/logging"
)

// MetadataCorrelationID is the message metadata key for the correlation ID.
const MetadataCorrelationID = "correlation_id"

const defaultOutputBuffer = 64

// ErrBusClosed is returned when publishing on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// Bus is an in-process publish/subscribe bus.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
	now    func() time.Time

	closed atomic.Bool
}

// NewBus creates a bus whose subscriber channels buffer up to buffer
// messages. buffer <= 0 uses a default.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultOutputBuffer
	}
	logger := logging.NewWatermillAdapter()
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: int64(buffer),
			// Signaling order matters (busy before idle), so a publish
			// returns only after every subscriber acked the message.
			BlockPublishUntilSubscriberAck: true,
		}, logger),
		logger: logger,
		now:    time.Now,
	}
}

// Publish JSON-encodes payload and publishes it on topic. It blocks until
// every current subscriber has acked the message.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set(MetadataCorrelationID, id)
	}

	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns the message stream for topic. The stream closes when ctx
// is canceled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return msgs, nil
}

// PublishHistoryChanged announces a history modification.
func (b *Bus) PublishHistoryChanged(ctx context.Context) error {
	return b.Publish(ctx, TopicHistoryChanged, HistoryChanged{At: b.now()})
}

// FireNotification raises a user-facing notification of the given kind.
func (b *Bus) FireNotification(ctx context.Context, kind string) error {
	return b.Publish(ctx, TopicNotifications, Notification{Kind: kind, At: b.now()})
}

// Close shuts the bus down and closes every subscriber stream.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.pubsub.Close()
}
