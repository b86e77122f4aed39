// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package services

import (
	"context"
	"time"

	"github.com/tomtom215/callsync/internal/logging"
)

const defaultGCInterval = 10 * time.Minute

// GarbageCollector matches store.DB.
type GarbageCollector interface {
	RunGC() error
}

// StoreGCService periodically reclaims value-log space in the local store.
// Call history is rewritten on every cycle that merges records, so the
// value log grows without it.
type StoreGCService struct {
	store    GarbageCollector
	interval time.Duration
	name     string
}

// NewStoreGCService creates a GC service. A non-positive interval falls back
// to 10m.
func NewStoreGCService(store GarbageCollector, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	return &StoreGCService{
		store:    store,
		interval: interval,
		name:     "store-gc",
	}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log := logging.WithComponent(s.name)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.store.RunGC(); err != nil {
				log.Warn().Err(err).Msg("Value log GC failed")
				continue
			}
			log.Debug().Dur("duration", time.Since(start)).Msg("Value log GC finished")
		}
	}
}

// String implements fmt.Stringer for suture's event log.
func (s *StoreGCService) String() string {
	return s.name
}
