// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package callhistory

import "errors"

// ErrMalformedPayload rejects a whole fetch batch: bad JSON shape, bad
// date, bad duration or a field of the wrong type. Nothing from the batch is
// ingested and the watermarks are left untouched.
var ErrMalformedPayload = errors.New("malformed call log payload")
