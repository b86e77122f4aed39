// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

/*
Package api provides the local admin HTTP surface for callsync.

Routes:

  - GET /metrics: Prometheus exposition
  - GET /healthz: sync manager status (enabled flag, in-flight fetch,
    watermarks, unresolved missed calls, last cycle)
  - POST /api/v1/refresh: manual fetch trigger; 202 when a cycle started,
    409 when a fetch is already in flight, 503 when the feature is disabled
  - GET /api/v1/history: most recent call history entries, optionally
    filtered by peer address with ?peer=

The router is built on go-chi/chi v5. Every request gets an X-Request-ID
header and a correlation ID in its logging context, and is counted by the
callsync_api_requests_total metric under its route pattern.

Usage Example:

	router := api.NewRouter(manager, history)
	server := &http.Server{Addr: "127.0.0.1:8095", Handler: router.Handler()}
*/
package api
