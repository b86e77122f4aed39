// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

/*
Package services provides suture.Service wrappers for callsync components.

Each wrapper translates a component lifecycle into suture's context-aware
Serve pattern and names itself through fmt.Stringer for the supervisor's
event log.

# Available Services

SyncService:
  - Wraps sync.Manager (Start/Stop lifecycle)
  - A failed Start is returned so suture restarts it with backoff

HTTPServerService:
  - Wraps *http.Server (ListenAndServe/Shutdown)
  - Shutdown is bounded by a configurable timeout

StoreGCService:
  - Runs badger value-log garbage collection on a fixed interval
  - GC failures are logged, not returned; a restart would not help

# Example

	tree.AddDataService(services.NewStoreGCService(db, cfg.Store.GCInterval))
	tree.AddSyncService(services.NewSyncService(manager))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))
*/
package services
