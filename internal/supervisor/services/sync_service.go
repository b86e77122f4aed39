// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package services

import (
	"context"
	"fmt"
)

// StartStopManager matches the sync.Manager lifecycle.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SyncService wraps the call history sync manager as a supervised service.
//
// The manager owns its goroutines and waits for them in Stop, so the
// wrapper only sequences Start, the wait for cancellation, and Stop.
type SyncService struct {
	manager StartStopManager
	name    string
}

// NewSyncService creates a new sync service wrapper.
func NewSyncService(manager StartStopManager) *SyncService {
	return &SyncService{
		manager: manager,
		name:    "sync-manager",
	}
}

// Serve implements suture.Service. A Start error is returned immediately so
// the supervisor restarts the service according to its backoff policy.
func (s *SyncService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("sync manager start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("sync manager stop failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's event log.
func (s *SyncService) String() string {
	return s.name
}
