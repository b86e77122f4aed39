// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package callhistory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Persisted watermark keys. Values are epoch milliseconds.
const (
	KeyLastClientRefresh = "callsync/last_client_refresh"
	KeyLastServerRecord  = "callsync/last_server_record"
)

// KV is the scalar key/value persistence the watermarks live in.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Watermarks holds the client refresh and server record watermarks. Only
// the reconciliation worker advances them; readers such as triggers and the
// status endpoint go through the mutex.
type Watermarks struct {
	kv KV

	mu            sync.RWMutex
	clientRefresh time.Time
	hasClient     bool
	serverRecord  time.Time
}

// WatermarkSnapshot is a consistent copy of the watermark state.
type WatermarkSnapshot struct {
	LastClientRefresh    time.Time `json:"last_client_refresh"`
	LastServerRecordTime time.Time `json:"last_server_record_time"`
	FirstRun             bool      `json:"first_run"`
}

// LoadWatermarks reads both watermarks from kv. Missing keys are not an
// error: a missing client refresh key is what makes this the first run.
func LoadWatermarks(ctx context.Context, kv KV) (*Watermarks, error) {
	w := &Watermarks{kv: kv}

	client, ok, err := loadMillis(ctx, kv, KeyLastClientRefresh)
	if err != nil {
		return nil, err
	}
	w.clientRefresh, w.hasClient = client, ok

	server, _, err := loadMillis(ctx, kv, KeyLastServerRecord)
	if err != nil {
		return nil, err
	}
	w.serverRecord = server

	return w, nil
}

func loadMillis(ctx context.Context, kv KV, key string) (time.Time, bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load watermark %s: %w", key, err)
	}
	if !ok || raw == "" {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load watermark %s: %w", key, err)
	}
	return time.UnixMilli(ms), true, nil
}

// FirstRun reports whether no client refresh has ever been persisted.
func (w *Watermarks) FirstRun() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.hasClient
}

// LastClientRefresh returns the client-clock time of the last completed cycle.
func (w *Watermarks) LastClientRefresh() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.clientRefresh
}

// LastServerRecordTime returns the server-clock end time of the newest
// ingested server record.
func (w *Watermarks) LastServerRecordTime() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.serverRecord
}

// Snapshot returns all watermark state at once.
func (w *Watermarks) Snapshot() WatermarkSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WatermarkSnapshot{
		LastClientRefresh:    w.clientRefresh,
		LastServerRecordTime: w.serverRecord,
		FirstRun:             !w.hasClient,
	}
}

// AdvanceServer moves the server watermark forward to t. It never moves
// backwards; an older or equal t is ignored.
func (w *Watermarks) AdvanceServer(ctx context.Context, t time.Time) error {
	t = t.Truncate(time.Millisecond)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !t.After(w.serverRecord) {
		return nil
	}
	if err := w.kv.Set(ctx, KeyLastServerRecord, strconv.FormatInt(t.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("persist server watermark: %w", err)
	}
	w.serverRecord = t
	return nil
}

// SetClientRefresh records the client time of a completed cycle, which
// also ends the first run. t is truncated to the persisted millisecond
// resolution so the in-memory value matches what a restart would load.
//
// The in-memory watermark moves even when persisting fails: records written
// during the cycle carry AddedAt == t and must not be read back as local
// records by the next cycle of this process.
func (w *Watermarks) SetClientRefresh(ctx context.Context, t time.Time) error {
	t = t.Truncate(time.Millisecond)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.clientRefresh = t
	w.hasClient = true
	if err := w.kv.Set(ctx, KeyLastClientRefresh, strconv.FormatInt(t.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("persist client watermark: %w", err)
	}
	return nil
}
