// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

/*
Package sync decides when to fetch the server call log and runs each
reconciliation cycle.

Triggers:

  - periodic: robfig/cron every Sync.Interval, plus a one-shot after
    Sync.InitialDelay when the feature is enabled
  - network_up: connectivity restored
  - mwi: the voicemail waiting count increased
  - call_ended: the user went from busy to idle (after Sync.CallEndedDelay)
  - missed_call: two delayed fetches (MissedCallFirstDelay and
    MissedCallSecondDelay)
  - manual: TriggerRefresh from the admin API

Every trigger funnels into TriggerRefresh. At most one fetch is in flight;
triggers that arrive meanwhile are dropped, not queued. Triggers are also
dropped while the feature is disabled.

Cycle:

 1. The fetch runs on its own goroutine
 2. The payload is handed to a single worker goroutine
 3. The worker loads local records added since the last client refresh,
    parses the payload, advances the server watermark, reconciles and
    advances the client watermark
 4. The in-flight flag is cleared on every path, including panics

Class of service:

The feature starts in the state given by Sync.Enabled. cos.changed events
flip it at runtime and a backend ErrNotPermitted disables it. Disabling
stops the periodic schedule and pending one-shot fetches; a cycle that is
already running is allowed to finish.
*/
package sync
