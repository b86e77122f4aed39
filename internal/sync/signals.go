// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package sync

import (
	"context"
	"fmt"

	"github.com/tomtom215/callsync/internal/events"
	"github.com/tomtom215/callsync/internal/logging"
	"github.com/tomtom215/callsync/internal/models"
)

// subscribe attaches every signaling handler to the bus. All subscriptions
// are made before any handler runs.
func (m *Manager) subscribe(ctx context.Context) error {
	if m.bus == nil {
		return nil
	}

	subs := []func() error{
		func() error { return consume(m, ctx, events.TopicNetworkUp, m.onNetworkUp) },
		func() error { return consume(m, ctx, events.TopicMWICount, m.onMWICount) },
		func() error { return consume(m, ctx, events.TopicCallStatus, m.onCallStatus) },
		func() error { return consume(m, ctx, events.TopicCallMissed, m.onCallMissed) },
		func() error { return consume(m, ctx, events.TopicCOSChanged, m.onCOSChanged) },
		func() error { return consume(m, ctx, events.TopicCallsLocal, m.onLocalCall) },
	}
	for _, sub := range subs {
		if err := sub(); err != nil {
			return err
		}
	}
	return nil
}

func consume[T any](m *Manager, ctx context.Context, topic string, fn func(context.Context, T) error) error {
	msgs, err := m.bus.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("sync manager: %w", err)
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		events.Consume(ctx, msgs, fn)
	}()
	return nil
}

func (m *Manager) onNetworkUp(_ context.Context, _ events.NetworkUp) error {
	m.TriggerRefresh(SourceNetworkUp)
	return nil
}

// onMWICount fetches when the voicemail count goes up; a new voicemail
// usually follows a missed call.
func (m *Manager) onMWICount(_ context.Context, ev events.MWICount) error {
	m.mu.Lock()
	increased := ev.Count > m.lastMWI
	m.lastMWI = ev.Count
	m.mu.Unlock()

	if increased {
		m.TriggerRefresh(SourceMWI)
	}
	return nil
}

func (m *Manager) onCallStatus(_ context.Context, ev events.CallStatus) error {
	if m.tracker.Update(ev) {
		m.scheduleOnce(m.cfg.CallEndedDelay, SourceCallEnded)
	}
	return nil
}

func (m *Manager) onCallMissed(ctx context.Context, ev events.CallMissed) error {
	logging.Ctx(ctx).Debug().Str("number", m.normalizer.Normalize(ev.Number)).Msg("Missed call signaled")
	m.scheduleOnce(m.cfg.MissedCallFirstDelay, SourceMissedCall)
	m.scheduleOnce(m.cfg.MissedCallSecondDelay, SourceMissedCall)
	return nil
}

func (m *Manager) onCOSChanged(_ context.Context, ev events.COSChanged) error {
	if ev.CallLogEnabled {
		m.Enable()
		return nil
	}
	m.Disable("class_of_service")
	return nil
}

// onLocalCall stores a call observed by local signaling so the next cycle
// can reconcile it against the server.
func (m *Manager) onLocalCall(ctx context.Context, rec models.CallRecord) error {
	for i := range rec.Peers {
		if rec.Peers[i].NormalizedNumber == "" {
			rec.Peers[i].NormalizedNumber = m.normalizer.Normalize(rec.Peers[i].Address)
		}
	}
	stored, err := m.history.AddLocal(ctx, &rec)
	if err != nil {
		return fmt.Errorf("add local call: %w", err)
	}
	logging.Ctx(ctx).Debug().Str("id", stored.ID).Str("direction", string(stored.Direction)).Msg("Local call recorded")
	return nil
}
