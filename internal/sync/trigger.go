// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package sync

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/callsync/internal/logging"
	"github.com/tomtom215/callsync/internal/metrics"
)

// Trigger sources.
const (
	SourcePeriodic   = "periodic"
	SourceInitial    = "initial"
	SourceNetworkUp  = "network_up"
	SourceMWI        = "mwi"
	SourceCallEnded  = "call_ended"
	SourceMissedCall = "missed_call"
	SourceManual     = "manual"
)

// TriggerResult is the outcome of TriggerRefresh.
type TriggerResult int

const (
	// TriggerStarted means a fetch was started.
	TriggerStarted TriggerResult = iota

	// TriggerInFlight means a fetch was already running; the trigger was dropped.
	TriggerInFlight

	// TriggerDisabled means the feature is off or the manager is stopped.
	TriggerDisabled
)

func (r TriggerResult) String() string {
	switch r {
	case TriggerStarted:
		return "started"
	case TriggerInFlight:
		return "in_flight"
	default:
		return "disabled"
	}
}

// TriggerRefresh starts a fetch unless one is already in flight or the
// feature is disabled.
func (m *Manager) TriggerRefresh(source string) TriggerResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || !m.enabled {
		metrics.RecordTrigger(source, "disabled")
		logging.Debug().Str("source", source).Msg("Refresh trigger ignored, sync disabled")
		return TriggerDisabled
	}
	if m.fetchInFlight {
		metrics.RecordTrigger(source, "in_flight")
		logging.Debug().Str("source", source).Msg("Refresh trigger coalesced with fetch in flight")
		return TriggerInFlight
	}

	m.fetchInFlight = true
	metrics.RecordTrigger(source, "")
	logging.Debug().Str("source", source).Msg("Refresh triggered")

	m.wg.Add(1)
	go m.fetch(m.runCtx, source)
	return TriggerStarted
}

// clearInFlight is safe to call more than once per cycle.
func (m *Manager) clearInFlight() {
	m.mu.Lock()
	m.fetchInFlight = false
	m.mu.Unlock()
}

// registerTriggersLocked starts the periodic schedule and the initial
// one-shot fetch. Must be called with m.mu held.
func (m *Manager) registerTriggersLocked() {
	if m.scheduler != nil {
		return
	}

	m.scheduler = cron.New()
	if m.cfg.Interval > 0 {
		m.scheduler.Schedule(cron.Every(m.cfg.Interval), cron.FuncJob(func() {
			m.TriggerRefresh(SourcePeriodic)
		}))
	}
	m.scheduler.Start()

	m.scheduleOnceLocked(m.cfg.InitialDelay, SourceInitial)
	logging.Debug().Dur("interval", m.cfg.Interval).Dur("initial_delay", m.cfg.InitialDelay).Msg("Refresh triggers registered")
}

// unregisterTriggersLocked stops the periodic schedule and every pending
// one-shot. Must be called with m.mu held.
func (m *Manager) unregisterTriggersLocked() {
	if m.scheduler != nil {
		// Stop does not wait for running jobs; they end in TriggerRefresh,
		// which is harmless once the feature is off.
		m.scheduler.Stop()
		m.scheduler = nil
	}
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// scheduleOnce arms a delayed trigger if the feature is enabled.
func (m *Manager) scheduleOnce(delay time.Duration, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || !m.enabled {
		metrics.RecordTrigger(source, "disabled")
		return
	}
	m.scheduleOnceLocked(delay, source)
}

func (m *Manager) scheduleOnceLocked(delay time.Duration, source string) {
	id := m.nextTimerID
	m.nextTimerID++

	m.timers[id] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		_, pending := m.timers[id]
		delete(m.timers, id)
		m.mu.Unlock()

		if pending {
			m.TriggerRefresh(source)
		}
	})
}

// pendingTimers returns the number of armed one-shot triggers.
func (m *Manager) pendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
