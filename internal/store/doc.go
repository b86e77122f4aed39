// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

/*
Package store is the BadgerDB-backed local call-history store.

One badger database holds two things:

  - Call records written by reconciliation or added by local call signaling,
    with secondary indexes on added time, start time and peer address
  - Small scalar settings (the sync watermarks) under the "kv:" prefix

Key layout:

	call:<id>                          JSON record
	added:<unix-nanos>:<id>            index for FindRecordsAddedAfter
	start:<unix-nanos>:<id>            index for Recent
	peer:<address>\x00<unix-nanos>:<id> index for ByPeer
	kv:<key>                           scalar settings

Timestamps are zero-padded so lexical key order equals time order.
*/
package store
