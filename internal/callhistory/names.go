// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package callhistory

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/callsync/internal/cache"
	"github.com/tomtom215/callsync/internal/directory"
	"github.com/tomtom215/callsync/internal/logging"
	"github.com/tomtom215/callsync/internal/metrics"
	"github.com/tomtom215/callsync/internal/models"
)

// DefaultLookupTimeout bounds a single directory lookup.
const DefaultLookupTimeout = 5 * time.Second

const defaultNameCacheSize = 4096

// NameResolver enriches numbers with display names. Lookup order: names
// already known from this cycle's local records, the per-cycle cache
// (which also remembers misses), then one bounded directory query.
type NameResolver struct {
	dir     directory.Directory
	timeout time.Duration
	cache   *cache.LRU[string]

	mu    sync.RWMutex
	known map[string]string
}

// NewNameResolver creates a resolver. dir may be nil, in which case only
// locally known names are used. timeout <= 0 uses DefaultLookupTimeout.
func NewNameResolver(dir directory.Directory, timeout time.Duration) *NameResolver {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &NameResolver{
		dir:     dir,
		timeout: timeout,
		cache:   cache.NewLRU[string](defaultNameCacheSize),
		known:   make(map[string]string),
	}
}

// BeginCycle clears the lookup cache and seeds the known-local map from the
// display names carried by local records.
func (r *NameResolver) BeginCycle(local []*models.CallRecord) {
	known := make(map[string]string)
	for _, rec := range local {
		for _, peer := range rec.Peers {
			if peer.NormalizedNumber == "" || peer.DisplayName == "" || peer.DisplayName == UnknownDisplayName {
				continue
			}
			known[peer.NormalizedNumber] = peer.DisplayName
		}
	}

	r.mu.Lock()
	r.known = known
	r.mu.Unlock()
	r.cache.Clear()
}

// Resolve returns the display name for number. ok is false when nothing is
// known; a directory timeout counts as "nothing known" and is cached.
func (r *NameResolver) Resolve(ctx context.Context, number string) (string, bool) {
	if number == "" {
		return "", false
	}

	r.mu.RLock()
	name, ok := r.known[number]
	r.mu.RUnlock()
	if ok {
		return name, true
	}

	if name, ok := r.cache.Get(number); ok {
		metrics.DirectoryLookups.WithLabelValues("cached").Inc()
		return name, name != ""
	}

	name = r.query(ctx, number)
	r.cache.Add(number, name)
	return name, name != ""
}

func (r *NameResolver) query(ctx context.Context, number string) string {
	if r.dir == nil {
		return ""
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results, err := r.dir.Query(lookupCtx, number)
	if err != nil {
		metrics.DirectoryLookups.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Debug().Err(err).Str("number", number).Msg("Directory query failed")
		return ""
	}

	for {
		select {
		case res, ok := <-results:
			if !ok {
				metrics.DirectoryLookups.WithLabelValues("not_found").Inc()
				return ""
			}
			if res.DisplayName != "" {
				metrics.DirectoryLookups.WithLabelValues("found").Inc()
				return res.DisplayName
			}
		case <-lookupCtx.Done():
			metrics.DirectoryLookups.WithLabelValues("timeout").Inc()
			logging.Ctx(ctx).Debug().Str("number", number).Dur("timeout", r.timeout).Msg("Directory lookup timed out")
			return ""
		}
	}
}
