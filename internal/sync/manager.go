// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package sync

import (
	"context"
	"errors"
	"fmt"
	stdSync "sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/robfig/cron/v3"

	"github.com/tomtom215/callsync/internal/callhistory"
	"github.com/tomtom215/callsync/internal/config"
	"github.com/tomtom215/callsync/internal/logging"
	"github.com/tomtom215/callsync/internal/metrics"
	"github.com/tomtom215/callsync/internal/models"
)

// Fetcher retrieves the raw server call-log payload.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// LocalHistory is the local call-history store.
type LocalHistory interface {
	callhistory.Store
	FindRecordsAddedAfter(ctx context.Context, t time.Time) ([]*models.CallRecord, error)
	AddLocal(ctx context.Context, rec *models.CallRecord) (*models.CallRecord, error)
}

// NameSource resolves display names and is reset at the start of each cycle.
type NameSource interface {
	callhistory.NameSource
	BeginCycle(local []*models.CallRecord)
}

// Subscriber is the event bus as seen by the manager.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Deps are the collaborators of a Manager. Names, Notifier and Bus are
// optional.
type Deps struct {
	Fetcher    Fetcher
	History    LocalHistory
	Watermarks *callhistory.Watermarks
	Names      NameSource
	Notifier   callhistory.Notifier
	Bus        Subscriber
}

// ErrNotRunning is returned by Stop when the manager was never started.
var ErrNotRunning = errors.New("sync manager is not running")

// Manager orchestrates fetch triggers and reconciliation cycles.
type Manager struct {
	cfg        config.SyncConfig
	fetcher    Fetcher
	history    LocalHistory
	watermarks *callhistory.Watermarks
	names      NameSource
	bus        Subscriber
	normalizer *callhistory.Normalizer
	tracker    *CallTracker
	parser     *callhistory.Parser
	reconciler *callhistory.Reconciler
	now        func() time.Time

	work chan fetchedPayload
	wg   stdSync.WaitGroup

	mu            stdSync.Mutex
	running       bool
	enabled       bool
	fetchInFlight bool
	cancel        context.CancelFunc
	runCtx        context.Context
	scheduler     *cron.Cron
	timers        map[uint64]*time.Timer
	nextTimerID   uint64
	lastMWI       int
	last          CycleStatus
}

// fetchedPayload is the hand-off from the fetch goroutine to the worker.
type fetchedPayload struct {
	ctx     context.Context
	source  string
	payload []byte
}

// NewManager wires a Manager from configuration and collaborators.
func NewManager(cfg *config.Config, deps Deps) *Manager {
	normalizer := callhistory.NewNormalizer(cfg.Phone.DefaultRegion)
	tracker := NewCallTracker(normalizer)

	var names callhistory.NameSource
	if deps.Names != nil {
		names = deps.Names
	}

	queue := cfg.Sync.WorkerQueue
	if queue < 1 {
		queue = 1
	}

	m := &Manager{
		cfg:        cfg.Sync,
		fetcher:    deps.Fetcher,
		history:    deps.History,
		watermarks: deps.Watermarks,
		names:      deps.Names,
		bus:        deps.Bus,
		normalizer: normalizer,
		tracker:    tracker,
		parser: callhistory.NewParser(callhistory.ParserConfig{
			CombinedFeed: cfg.Backend.Feed == config.FeedCombined,
			Location:     cfg.Backend.Location(),
			Normalizer:   normalizer,
			CallState:    tracker,
			Names:        names,
		}),
		reconciler: callhistory.NewReconciler(deps.History, deps.Notifier, names, cfg.Sync.ClickToDialTolerance),
		now:        time.Now,
		work:       make(chan fetchedPayload, queue),
		enabled:    cfg.Sync.Enabled,
		timers:     make(map[uint64]*time.Timer),
	}

	logging.Info().
		Bool("enabled", cfg.Sync.Enabled).
		Dur("interval", cfg.Sync.Interval).
		Str("feed", cfg.Backend.Feed).
		Str("time_zone", cfg.Backend.Location().String()).
		Msg("Sync manager config loaded")

	return m
}

// Start subscribes to signaling events, starts the reconciliation worker and
// registers triggers if the feature is enabled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	if err := m.subscribe(runCtx); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		cancel()
		m.wg.Wait()
		return err
	}

	m.wg.Add(1)
	go m.worker(runCtx)

	m.mu.Lock()
	if m.enabled {
		m.registerTriggersLocked()
	}
	metrics.SetEnabled(m.enabled)
	m.mu.Unlock()

	logging.Info().Msg("Sync manager started")
	return nil
}

// Stop unregisters triggers, cancels signal handling and waits for the
// fetch and worker goroutines. A cycle already reconciling runs to
// completion.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	m.unregisterTriggersLocked()
	cancel := m.cancel
	m.mu.Unlock()

	logging.Info().Msg("Stopping sync manager...")
	cancel()
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")
	return nil
}

// Enable turns the feature on and registers triggers.
func (m *Manager) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return
	}
	m.enabled = true
	metrics.SetEnabled(true)
	if m.running {
		m.registerTriggersLocked()
	}
	logging.Info().Msg("Call history sync enabled")
}

// Disable turns the feature off and unregisters every trigger. A running
// cycle is not interrupted.
func (m *Manager) Disable(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.enabled = false
	metrics.SetEnabled(false)
	m.unregisterTriggersLocked()
	logging.Info().Str("reason", reason).Msg("Call history sync disabled")
}

// Enabled reports whether the feature is on.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Unresolved returns the missed calls still waiting for a server match.
func (m *Manager) Unresolved() []*models.CallRecord {
	return m.reconciler.Unresolved()
}
