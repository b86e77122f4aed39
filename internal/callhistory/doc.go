// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

/*
Package callhistory implements the call-history reconciliation engine.

Components:

  - Watermarks: the two persisted scalars (last client refresh, last server
    record end time) and the derived first-run flag
  - Parser: turns the backend's bucketed JSON payload into server records,
    dropping entries already ingested and calls still in progress
  - NameResolver: best-effort display names with a per-cycle cache and a
    bounded directory wait
  - Reconciler: merges server records with local records, removes
    click-to-dial duplicates, tracks unresolved missed calls and writes the
    final set to the local store

A cycle, driven by internal/sync:

	locals := history.FindRecordsAddedAfter(ctx, wm.LastClientRefresh())
	names.BeginCycle(locals)
	parsed, err := parser.Parse(ctx, payload, wm.LastServerRecordTime())
	wm.AdvanceServer(ctx, parsed.MaxEndTime)
	reconciler.Reconcile(ctx, Input{Server: parsed.Records, Local: locals, ...})
	wm.SetClientRefresh(ctx, cycleAt)

Matching rule: two records match when their directions are equal and one
peer number is a suffix of the other once international prefixes ("+" or
"00") are stripped. Empty (anonymous) numbers only match each other.
*/
package callhistory
