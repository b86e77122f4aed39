// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

/*
Package events is the in-process event bus that connects call signaling to
the sync manager.

The bus is a Watermill gochannel pub/sub. Payloads are JSON (goccy/go-json)
and every message carries the publisher's correlation ID in its metadata.

Inbound topics (signaling → callsync):

  - network.up: connectivity restored
  - mwi.count: voicemail waiting count changed
  - call.status: the user went busy or idle
  - call.missed: a call rang out
  - cos.changed: class of service changed (call-log entitlement)
  - calls.local: a locally observed call to add to history

Outbound topics (callsync → UI):

  - history.changed: the local history was modified
  - notifications: a user-facing notification, e.g. a new missed call

Subscribers must subscribe before the first publish on a topic; gochannel
does not keep messages for late subscribers. Publishing blocks until every
subscriber acked, which keeps per-publisher ordering intact, so subscribers
must keep draining their stream.
*/
package events
