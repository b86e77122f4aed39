// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

// Package directory provides display-name lookup for phone numbers.
//
// A Directory streams zero or more Results for a query and closes the
// channel when it has nothing more to say. An empty, closed stream means
// "no match". Callers are responsible for bounding how long they wait.
package directory

import (
	"context"
)

// Result is one directory answer.
type Result struct {
	DisplayName string
}

// Directory looks up display names by phone number.
type Directory interface {
	Query(ctx context.Context, number string) (<-chan Result, error)
}

// Static is an in-memory Directory keyed by normalized number.
type Static struct {
	entries map[string]string
}

// NewStatic copies entries into a new Static directory.
func NewStatic(entries map[string]string) *Static {
	m := make(map[string]string, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return &Static{entries: m}
}

// Query answers immediately from the map.
func (s *Static) Query(_ context.Context, number string) (<-chan Result, error) {
	ch := make(chan Result, 1)
	if name, ok := s.entries[number]; ok && name != "" {
		ch <- Result{DisplayName: name}
	}
	close(ch)
	return ch, nil
}
