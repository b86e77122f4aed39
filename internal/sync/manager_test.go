// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package sync

import (
	"context"
	"errors"
	"strings"
	stdSync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/callsync/internal/backend"
	"github.com/tomtom215/callsync/internal/callhistory"
	"github.com/tomtom215/callsync/internal/config"
	"github.com/tomtom215/callsync/internal/models"
	"github.com/tomtom215/callsync/internal/store"
)

const missedCallPayload = `{"missed":[{"DateTime":"01 Mar 26 10:00:00","DirectoryNumber":"sip:1001@pbx.example.com"}]}`

// mockFetcher is a function-field mock of Fetcher.
type mockFetcher struct {
	calls   atomic.Int32
	fetchFn func(ctx context.Context) ([]byte, error)
}

func (m *mockFetcher) Fetch(ctx context.Context) ([]byte, error) {
	m.calls.Add(1)
	if m.fetchFn == nil {
		return []byte(`{}`), nil
	}
	return m.fetchFn(ctx)
}

type mockNotifier struct {
	mu    stdSync.Mutex
	kinds []string
}

func (n *mockNotifier) FireNotification(_ context.Context, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	return nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.kinds)
}

// mockNames is a function-field mock of NameSource.
type mockNames struct {
	beginCycleFn func(local []*models.CallRecord)
}

func (m *mockNames) BeginCycle(local []*models.CallRecord) {
	if m.beginCycleFn != nil {
		m.beginCycleFn(local)
	}
}

func (m *mockNames) Resolve(context.Context, string) (string, bool) { return "", false }

func newTestConfig() *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{Feed: config.FeedBasic, TimeZone: "UTC"},
		Sync: config.SyncConfig{
			Enabled:               true,
			Interval:              time.Hour,
			InitialDelay:          time.Hour,
			CallEndedDelay:        10 * time.Millisecond,
			MissedCallFirstDelay:  10 * time.Millisecond,
			MissedCallSecondDelay: 200 * time.Millisecond,
			ClickToDialTolerance:  5 * time.Second,
			WorkerQueue:           1,
		},
	}
}

type testEnv struct {
	manager    *Manager
	history    *store.History
	watermarks *callhistory.Watermarks
	notifier   *mockNotifier
}

func newTestEnv(t *testing.T, cfg *config.Config, deps Deps) *testEnv {
	t.Helper()

	db, err := store.Open(config.StoreConfig{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	wm, err := callhistory.LoadWatermarks(context.Background(), db)
	if err != nil {
		t.Fatalf("LoadWatermarks() error = %v", err)
	}

	env := &testEnv{
		history:    store.NewHistory(db, nil),
		watermarks: wm,
		notifier:   &mockNotifier{},
	}
	deps.History = env.history
	deps.Watermarks = wm
	if deps.Notifier == nil {
		deps.Notifier = env.notifier
	}
	if deps.Fetcher == nil {
		deps.Fetcher = &mockFetcher{}
	}

	env.manager = NewManager(cfg, deps)
	return env
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	if err := e.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = e.manager.Stop() })
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	waitFor(t, "fetch to finish", func() bool { return !m.Status().FetchInFlight })
}

func TestManager_TriggerCoalescesWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	fetcher := &mockFetcher{fetchFn: func(context.Context) ([]byte, error) {
		<-release
		return []byte(missedCallPayload), nil
	}}
	env := newTestEnv(t, newTestConfig(), Deps{Fetcher: fetcher})
	env.start(t)
	m := env.manager

	if got := m.TriggerRefresh(SourceManual); got != TriggerStarted {
		t.Fatalf("first TriggerRefresh() = %v, want started", got)
	}
	before := env.watermarks.Snapshot()

	if got := m.TriggerRefresh(SourceMWI); got != TriggerInFlight {
		t.Errorf("second TriggerRefresh() = %v, want in_flight", got)
	}
	if got := fetcher.calls.Load(); got > 1 {
		t.Errorf("backend called %d times while in flight, want 1", got)
	}
	if after := env.watermarks.Snapshot(); after != before {
		t.Errorf("watermarks changed by coalesced trigger: %+v -> %+v", before, after)
	}

	close(release)
	waitIdle(t, m)

	if got := fetcher.calls.Load(); got != 1 {
		t.Errorf("backend called %d times, want 1", got)
	}
	if env.watermarks.FirstRun() {
		t.Error("client watermark not set after successful cycle")
	}
	if got := m.TriggerRefresh(SourceManual); got != TriggerStarted {
		t.Errorf("TriggerRefresh() after completion = %v, want started", got)
	}
	waitIdle(t, m)
}

func TestManager_DisabledIgnoresTriggers(t *testing.T) {
	cfg := newTestConfig()
	cfg.Sync.Enabled = false
	fetcher := &mockFetcher{}
	env := newTestEnv(t, cfg, Deps{Fetcher: fetcher})
	env.start(t)
	m := env.manager

	if got := m.TriggerRefresh(SourceManual); got != TriggerDisabled {
		t.Errorf("TriggerRefresh() = %v, want disabled", got)
	}
	if fetcher.calls.Load() != 0 {
		t.Error("backend called while disabled")
	}

	m.Enable()
	if got := m.TriggerRefresh(SourceManual); got != TriggerStarted {
		t.Errorf("TriggerRefresh() after Enable = %v, want started", got)
	}
	waitIdle(t, m)
}

func TestManager_NotPermittedDisables(t *testing.T) {
	fetcher := &mockFetcher{fetchFn: func(context.Context) ([]byte, error) {
		return nil, backend.ErrNotPermitted
	}}
	env := newTestEnv(t, newTestConfig(), Deps{Fetcher: fetcher})
	env.start(t)
	m := env.manager

	if m.pendingTimers() != 1 {
		t.Fatalf("pendingTimers() = %d, want the initial one-shot", m.pendingTimers())
	}

	m.TriggerRefresh(SourceManual)
	waitFor(t, "feature to be disabled", func() bool { return !m.Enabled() })
	waitIdle(t, m)

	if m.pendingTimers() != 0 {
		t.Errorf("pendingTimers() = %d after disable, want 0", m.pendingTimers())
	}
	if got := m.TriggerRefresh(SourceManual); got != TriggerDisabled {
		t.Errorf("TriggerRefresh() = %v, want disabled", got)
	}
	if !env.watermarks.FirstRun() {
		t.Error("watermarks advanced by a not-permitted fetch")
	}
}

func TestManager_FetchErrorKeepsWatermarks(t *testing.T) {
	fetcher := &mockFetcher{fetchFn: func(context.Context) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}
	env := newTestEnv(t, newTestConfig(), Deps{Fetcher: fetcher})
	env.start(t)
	m := env.manager

	m.TriggerRefresh(SourceManual)
	waitIdle(t, m)

	st := m.Status()
	if !strings.Contains(st.LastCycle.Error, "connection refused") {
		t.Errorf("LastCycle.Error = %q", st.LastCycle.Error)
	}
	if !st.Enabled {
		t.Error("transient fetch error disabled the feature")
	}
	if !st.Watermarks.FirstRun {
		t.Error("watermarks advanced after failed fetch")
	}
}

func TestManager_MalformedPayload(t *testing.T) {
	fetcher := &mockFetcher{fetchFn: func(context.Context) ([]byte, error) {
		return []byte(`{"missed":[{"DateTime":"yesterday"}]}`), nil
	}}
	env := newTestEnv(t, newTestConfig(), Deps{Fetcher: fetcher})
	env.start(t)

	env.manager.TriggerRefresh(SourceManual)
	waitIdle(t, env.manager)

	st := env.manager.Status()
	if st.LastCycle.Error == "" {
		t.Error("malformed payload not reported")
	}
	if !st.Watermarks.FirstRun || !st.Watermarks.LastServerRecordTime.IsZero() {
		t.Errorf("watermarks moved on malformed payload: %+v", st.Watermarks)
	}
}

func TestManager_PanicClearsInFlight(t *testing.T) {
	var panicked atomic.Bool
	names := &mockNames{beginCycleFn: func([]*models.CallRecord) {
		if panicked.CompareAndSwap(false, true) {
			panic("boom")
		}
	}}
	env := newTestEnv(t, newTestConfig(), Deps{Names: names})
	env.start(t)
	m := env.manager

	m.TriggerRefresh(SourceManual)
	waitFor(t, "panic to be recorded", func() bool {
		return strings.Contains(m.Status().LastCycle.Error, "panic")
	})
	waitIdle(t, m)

	if got := m.TriggerRefresh(SourceManual); got != TriggerStarted {
		t.Errorf("TriggerRefresh() after panic = %v, want started", got)
	}
	waitIdle(t, m)
	if m.Status().LastCycle.Error != "" {
		t.Errorf("second cycle failed: %s", m.Status().LastCycle.Error)
	}
}

func TestManager_CycleIsIdempotent(t *testing.T) {
	fetcher := &mockFetcher{fetchFn: func(context.Context) ([]byte, error) {
		return []byte(missedCallPayload), nil
	}}
	env := newTestEnv(t, newTestConfig(), Deps{Fetcher: fetcher})
	ctx := context.Background()

	// Not the first run: new missed calls get attention and a notification.
	if err := env.watermarks.SetClientRefresh(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SetClientRefresh() error = %v", err)
	}
	env.start(t)
	m := env.manager

	m.TriggerRefresh(SourceManual)
	waitIdle(t, m)

	first := m.Status().LastCycle
	if first.Error != "" || first.Result.Written != 1 {
		t.Fatalf("first cycle = %+v, want one record written", first)
	}
	if env.notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", env.notifier.count())
	}

	m.TriggerRefresh(SourceManual)
	waitIdle(t, m)

	second := m.Status().LastCycle
	if second.Error != "" || second.Result.Written != 0 {
		t.Errorf("second cycle = %+v, want nothing written", second)
	}

	recent, err := env.history.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("history has %d records, want 1", len(recent))
	}
	if !recent[0].Attention || recent[0].FirstPeer().NormalizedNumber != "1001" {
		t.Errorf("stored record = %+v", recent[0])
	}
	if env.notifier.count() != 1 {
		t.Errorf("notifications = %d after repeat, want 1", env.notifier.count())
	}
}

func TestManager_LocalMissedCallSurvivesCycles(t *testing.T) {
	env := newTestEnv(t, newTestConfig(), Deps{})
	ctx := context.Background()
	if err := env.watermarks.SetClientRefresh(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SetClientRefresh() error = %v", err)
	}

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	local, err := env.history.AddLocal(ctx, &models.CallRecord{
		Direction: models.DirectionIn,
		StartTime: start,
		EndTime:   start,
		Peers:     []models.PeerRecord{{Address: "5555@pbx.example.com", NormalizedNumber: "5555"}},
		Attention: true,
	})
	if err != nil {
		t.Fatalf("AddLocal() error = %v", err)
	}

	env.start(t)
	m := env.manager
	for i := 0; i < 3; i++ {
		m.TriggerRefresh(SourceManual)
		waitIdle(t, m)
		if got := m.Status().Unresolved; got != 1 {
			t.Fatalf("cycle %d: Unresolved = %d, want 1", i, got)
		}
	}

	if rec, err := env.history.Get(ctx, local.ID); err != nil || rec == nil {
		t.Errorf("local missed call was removed: %v", err)
	}
	if got := m.Unresolved(); len(got) != 1 || got[0].ID != local.ID {
		t.Errorf("Unresolved() = %+v", got)
	}
}

func TestManager_Lifecycle(t *testing.T) {
	env := newTestEnv(t, newTestConfig(), Deps{})
	m := env.manager

	if err := m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() before Start = %v, want ErrNotRunning", err)
	}
	if got := m.TriggerRefresh(SourceManual); got != TriggerDisabled {
		t.Errorf("TriggerRefresh() before Start = %v, want disabled", got)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() expected error")
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.pendingTimers() != 0 {
		t.Errorf("pendingTimers() = %d after Stop", m.pendingTimers())
	}
	if m.Status().Running {
		t.Error("Status().Running = true after Stop")
	}
}

func TestTriggerResult_String(t *testing.T) {
	tests := map[TriggerResult]string{
		TriggerStarted:  "started",
		TriggerInFlight: "in_flight",
		TriggerDisabled: "disabled",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", r, got, want)
		}
	}
}
