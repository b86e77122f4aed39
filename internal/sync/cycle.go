// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/tomtom215/callsync/internal/backend"
	"github.com/tomtom215/callsync/internal/callhistory"
	"github.com/tomtom215/callsync/internal/logging"
	"github.com/tomtom215/callsync/internal/metrics"
)

// CycleStatus describes the most recent reconciliation cycle.
type CycleStatus struct {
	Source   string             `json:"source,omitempty"`
	Finished time.Time          `json:"finished"`
	Result   callhistory.Result `json:"result"`
	Error    string             `json:"error,omitempty"`
}

// Status is a point-in-time view of the manager.
type Status struct {
	Running       bool                          `json:"running"`
	Enabled       bool                          `json:"enabled"`
	FetchInFlight bool                          `json:"fetch_in_flight"`
	Watermarks    callhistory.WatermarkSnapshot `json:"watermarks"`
	Unresolved    int                           `json:"unresolved_missed_calls"`
	LastCycle     CycleStatus                   `json:"last_cycle"`
}

// Status returns the current manager state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	s := Status{
		Running:       m.running,
		Enabled:       m.enabled,
		FetchInFlight: m.fetchInFlight,
		LastCycle:     m.last,
	}
	m.mu.Unlock()

	if m.watermarks != nil {
		s.Watermarks = m.watermarks.Snapshot()
	}
	s.Unresolved = m.reconciler.UnresolvedCount()
	return s
}

// fetch runs on its own goroutine and hands a successful payload to the
// worker. It owns fetchInFlight until the hand-off.
func (m *Manager) fetch(ctx context.Context, source string) {
	defer m.wg.Done()

	ctx = logging.ContextWithNewCorrelationID(ctx)
	log := logging.Ctx(ctx)

	start := time.Now()
	payload, err := m.fetcher.Fetch(ctx)
	if err != nil {
		m.clearInFlight()
		if errors.Is(err, backend.ErrNotPermitted) {
			metrics.RecordFetch(time.Since(start), metrics.FetchNotPermitted)
			log.Warn().Str("source", source).Msg("Backend does not permit call logs for this account")
			m.Disable("not_permitted")
			return
		}
		metrics.RecordFetch(time.Since(start), metrics.FetchError)
		m.recordCycle(source, callhistory.Result{}, err)
		log.Warn().Err(err).Str("source", source).Msg("Call log fetch failed")
		return
	}
	metrics.RecordFetch(time.Since(start), metrics.FetchSuccess)
	log.Debug().Str("source", source).Int("bytes", len(payload)).Dur("duration", time.Since(start)).Msg("Call log fetched")

	select {
	case m.work <- fetchedPayload{ctx: ctx, source: source, payload: payload}:
	case <-ctx.Done():
		m.clearInFlight()
	}
}

// worker is the single goroutine that parses and reconciles.
func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.work:
			m.process(job)
		}
	}
}

func (m *Manager) process(job fetchedPayload) {
	// Let a started cycle finish even if the manager is stopping.
	ctx := context.WithoutCancel(job.ctx)

	defer m.clearInFlight()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("reconciliation panic: %v", r)
			logging.Ctx(ctx).Error().Err(err).Str("stack", string(debug.Stack())).Msg("Recovered from panic in reconciliation")
			m.recordCycle(job.source, callhistory.Result{}, err)
		}
	}()

	res, err := m.runCycle(ctx, job.payload)
	m.recordCycle(job.source, res, err)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("source", job.source).Msg("Reconciliation cycle failed")
	}
}

// runCycle is one parse and reconcile pass over a fetched payload.
func (m *Manager) runCycle(ctx context.Context, payload []byte) (callhistory.Result, error) {
	snap := m.watermarks.Snapshot()

	// Taken before the local query, so records added while the cycle runs
	// are seen again next time.
	cycleAt := m.now().Truncate(time.Millisecond)

	local, err := m.history.FindRecordsAddedAfter(ctx, snap.LastClientRefresh)
	if err != nil {
		return callhistory.Result{}, fmt.Errorf("load local records: %w", err)
	}
	if m.names != nil {
		m.names.BeginCycle(local)
	}

	parsed, err := m.parser.Parse(ctx, payload, snap.LastServerRecordTime)
	if err != nil {
		if errors.Is(err, callhistory.ErrMalformedPayload) {
			metrics.FetchesTotal.WithLabelValues(metrics.FetchMalformed).Inc()
		}
		return callhistory.Result{}, err
	}

	if len(parsed.Records) > 0 {
		if err := m.watermarks.AdvanceServer(ctx, parsed.MaxEndTime); err != nil {
			return callhistory.Result{}, err
		}
	}

	res, recErr := m.reconciler.Reconcile(ctx, callhistory.Input{
		Server:    parsed.Records,
		Local:     local,
		FirstRun:  snap.FirstRun,
		RefreshAt: cycleAt,
	})

	// Written records carry AddedAt == cycleAt, so the client watermark moves
	// even after a partial failure or they would come back as local records.
	if err := m.watermarks.SetClientRefresh(ctx, cycleAt); err != nil {
		return res, errors.Join(recErr, err)
	}
	return res, recErr
}

func (m *Manager) recordCycle(source string, res callhistory.Result, err error) {
	status := CycleStatus{Source: source, Finished: m.now(), Result: res}
	if err != nil {
		status.Error = err.Error()
	}
	m.mu.Lock()
	m.last = status
	m.mu.Unlock()
}
