// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

/*
Package backend fetches the raw call-log payload from the telephony backend.

The Client issues a single GET per fetch:

	GET {url}/calllog?feed={basic|combined}
	Authorization: Bearer {token}

and returns the response body untouched; decoding is the parser's job.

Resilience layers, outermost first:

  - Circuit breaker (sony/gobreaker): consecutive failed fetches open the
    circuit and later fetches fail fast until the breaker timeout elapses
  - Retry with exponential backoff for transport errors and HTTP 5xx
  - HTTP 429 handling that honours Retry-After
  - Token bucket limiter (golang.org/x/time/rate) before every request

A 404 or a JSON body of {"error":"no such object"} means the account is not
provisioned for call logs. That is reported as ErrNotPermitted, is never
retried and does not count against the circuit breaker.
*/
package backend
