// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

/*
Package models defines the call-history data structures shared by the parser,
the reconciler and the local store.

Key Types:

  - CallRecord: one entry of call history (direction, start/end, peers, attention)
  - PeerRecord: a single participant with raw address and normalized number
  - Direction / EndReason / Provenance: small enums used by the merge pass

Conventions:

  - A missed call has StartTime == EndTime
  - Provenance is in-memory only (json:"-") and is cleared before a record is written
  - Attention is only ever set on missed calls
*/
package models
