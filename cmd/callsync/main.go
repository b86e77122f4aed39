// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

// Package main is the entry point for the callsync daemon.
//
// Callsync keeps a device's local call history consistent with the call log
// kept by a telephony backend. It fetches the remote log when call signaling
// suggests something changed, merges it with locally observed calls and
// raises missed-call notifications.
//
// # Startup Order
//
//  1. Configuration: defaults, optional YAML file, environment (koanf v2)
//  2. Logging: zerolog, with slog and watermill adapters
//  3. Store: badger-backed call history and watermarks
//  4. Event bus: in-process watermill gochannel
//  5. Backend client, directory and sync manager
//  6. Supervisor tree: store GC, sync manager, admin HTTP server
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the supervisor tree. A reconciliation cycle that
// is already writing runs to completion before the store is closed.
//
// # Example Usage
//
//	export BACKEND_URL=https://xsi.example.com/v2/users/alice
//	export BACKEND_TOKEN=...
//	export STORE_PATH=/var/lib/callsync
//	./callsync
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/tomtom215/callsync/internal/api"
	"github.com/tomtom215/callsync/internal/backend"
	"github.com/tomtom215/callsync/internal/callhistory"
	"github.com/tomtom215/callsync/internal/config"
	"github.com/tomtom215/callsync/internal/directory"
	"github.com/tomtom215/callsync/internal/events"
	"github.com/tomtom215/callsync/internal/logging"
	"github.com/tomtom215/callsync/internal/store"
	"github.com/tomtom215/callsync/internal/supervisor"
	"github.com/tomtom215/callsync/internal/supervisor/services"
	"github.com/tomtom215/callsync/internal/sync"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("callsync exited with error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run(cfg *config.Config) error {
	logging.Info().
		Str("backend", cfg.Backend.URL).
		Str("feed", cfg.Backend.Feed).
		Bool("in_memory_store", cfg.Store.InMemory).
		Msg("Starting callsync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	bus := events.NewBus(0)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	history := store.NewHistory(db, bus)
	watermarks, err := callhistory.LoadWatermarks(ctx, db)
	if err != nil {
		return fmt.Errorf("load watermarks: %w", err)
	}

	manager := sync.NewManager(cfg, sync.Deps{
		Fetcher:    backend.NewClient(cfg.Backend),
		History:    history,
		Watermarks: watermarks,
		Names:      callhistory.NewNameResolver(newDirectory(cfg.Directory), cfg.Directory.Timeout),
		Notifier:   bus,
		Bus:        bus,
	})

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDataService(services.NewStoreGCService(db, cfg.Store.GCInterval))
	tree.AddSyncService(services.NewSyncService(manager))

	if cfg.Server.Enabled {
		server := &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:           api.NewRouter(manager, history).Handler(),
			ReadHeaderTimeout: cfg.Server.Timeout,
			ReadTimeout:       cfg.Server.Timeout,
			WriteTimeout:      cfg.Server.Timeout,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Supervisor.ShutdownTimeout))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	logging.Info().Msg("Starting supervisor tree...")
	err = tree.Serve(ctx)

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	return nil
}

// newDirectory picks the HTTP directory when a URL is configured and the
// static table otherwise.
func newDirectory(cfg config.DirectoryConfig) directory.Directory {
	if cfg.URL != "" {
		logging.Info().Str("url", cfg.URL).Msg("Using HTTP directory")
		return directory.NewHTTP(cfg.URL, &http.Client{Timeout: cfg.Timeout})
	}
	logging.Info().Int("entries", len(cfg.Static)).Msg("Using static directory")
	return directory.NewStatic(cfg.Static)
}
