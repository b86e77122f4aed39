// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/callsync/internal/logging"
)

// Decode unmarshals a message payload into T.
func Decode[T any](msg *message.Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("unmarshal message %s: %w", msg.UUID, err)
	}
	return v, nil
}

// Consume decodes each message from msgs and passes it to fn until ctx is
// canceled or msgs closes. Every message is acked: a handler error or an
// undecodable payload is logged and dropped, since redelivery would fail
// the same way.
func Consume[T any](ctx context.Context, msgs <-chan *message.Message, fn func(context.Context, T) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			handleMessage(ctx, msg, fn)
		}
	}
}

func handleMessage[T any](ctx context.Context, msg *message.Message, fn func(context.Context, T) error) {
	defer msg.Ack()

	msgCtx := ctx
	if id := msg.Metadata.Get(MetadataCorrelationID); id != "" {
		msgCtx = logging.ContextWithCorrelationID(ctx, id)
	}

	v, err := Decode[T](msg)
	if err != nil {
		logging.Ctx(msgCtx).Warn().Err(err).Msg("Dropping undecodable event")
		return
	}
	if err := fn(msgCtx, v); err != nil {
		logging.Ctx(msgCtx).Error().Err(err).Str("message_uuid", msg.UUID).Msg("Event handler failed")
	}
}
