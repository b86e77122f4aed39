// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

/*
Package supervisor provides process supervision for callsync using suture v4.

The tree isolates failures by layer:

	RootSupervisor ("callsync")
	├── DataSupervisor ("data-layer")
	│   └── StoreGCService
	├── SyncSupervisor ("sync-layer")
	│   └── SyncService (sync.Manager)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (if HTTP_ENABLED)

Crashed services are restarted with backoff once FailureThreshold is
exceeded; failures decay at FailureDecay per second. Supervisor events are
logged through sutureslog into the zerolog-backed slog adapter.

Usage Example:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(),
	    supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
	    return err
	}
	tree.AddSyncService(services.NewSyncService(manager))
	return tree.Serve(ctx)

See package services for the individual wrappers.
*/
package supervisor
