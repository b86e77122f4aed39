// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package sync

import (
	stdSync "sync"

	"github.com/tomtom215/callsync/internal/callhistory"
	"github.com/tomtom215/callsync/internal/events"
)

// CallTracker keeps the live call-state snapshot built from call.status
// events. It implements callhistory.CallState.
type CallTracker struct {
	normalizer *callhistory.Normalizer

	mu     stdSync.RWMutex
	onCall bool
	peers  []string
}

var _ callhistory.CallState = (*CallTracker)(nil)

// NewCallTracker creates an idle tracker.
func NewCallTracker(normalizer *callhistory.Normalizer) *CallTracker {
	if normalizer == nil {
		normalizer = callhistory.NewNormalizer("")
	}
	return &CallTracker{normalizer: normalizer}
}

// Update applies a status event and reports whether this was a busy→idle
// transition.
func (t *CallTracker) Update(status events.CallStatus) (callEnded bool) {
	busy := status.Status == events.CallStatusBusy

	peers := make([]string, 0, len(status.Peers))
	if busy {
		for _, p := range status.Peers {
			if n := t.normalizer.Normalize(p); n != "" {
				peers = append(peers, n)
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	callEnded = t.onCall && !busy
	t.onCall = busy
	t.peers = peers
	return callEnded
}

// IsOnCall reports whether the user has an active call.
func (t *CallTracker) IsOnCall() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onCall
}

// ActiveCallPeers returns the normalized numbers of the active call.
func (t *CallTracker) ActiveCallPeers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.peers))
	copy(out, t.peers)
	return out
}
