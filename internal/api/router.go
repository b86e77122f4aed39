// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/callsync/internal/models"
	"github.com/tomtom215/callsync/internal/sync"
)

// SyncManager is the part of sync.Manager the admin API drives.
type SyncManager interface {
	Status() sync.Status
	TriggerRefresh(source string) sync.TriggerResult
}

// HistoryReader reads the local call history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]*models.CallRecord, error)
	ByPeer(ctx context.Context, address string, limit int) ([]*models.CallRecord, error)
}

// Router holds the handler dependencies.
type Router struct {
	manager   SyncManager
	history   HistoryReader
	startTime time.Time
}

// NewRouter creates a Router. history may be nil, in which case the history
// endpoint answers 503.
func NewRouter(manager SyncManager, history HistoryReader) *Router {
	return &Router{
		manager:   manager,
		history:   history,
		startTime: time.Now(),
	}
}

// Handler builds the chi routing tree.
func (router *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(PrometheusMetrics)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", router.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Post("/refresh", router.Refresh)
		r.Get("/history", router.History)
	})

	return r
}
