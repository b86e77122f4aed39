// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

// Package metrics exposes Prometheus instrumentation for callsync.
//
// All collectors register with the default registry through promauto and are
// served by the admin API at /metrics. Helpers such as RecordFetch and
// RecordReconcile keep label values consistent across callers.
package metrics
