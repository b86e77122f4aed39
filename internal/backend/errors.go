// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package backend

import (
	"errors"
	"fmt"
)

// ErrNotPermitted means the backend does not offer call logs to this account.
var ErrNotPermitted = errors.New("call log not permitted for this account")

// StatusError is a non-2xx backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	if errors.Is(err, ErrNotPermitted) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}
