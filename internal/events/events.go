// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package events

import (
	"time"
)

// Topics.
const (
	TopicNetworkUp      = "network.up"
	TopicMWICount       = "mwi.count"
	TopicCallStatus     = "call.status"
	TopicCallMissed     = "call.missed"
	TopicCOSChanged     = "cos.changed"
	TopicCallsLocal     = "calls.local"
	TopicHistoryChanged = "history.changed"
	TopicNotifications  = "notifications"
)

// NetworkUp is published when connectivity comes back.
type NetworkUp struct {
	Interface string `json:"interface,omitempty"`
}

// MWICount carries the current number of waiting voicemails.
type MWICount struct {
	Count int `json:"count"`
}

// Call status values.
const (
	CallStatusBusy = "busy"
	CallStatusIdle = "idle"
)

// CallStatus reports whether the user is on a call and with whom.
type CallStatus struct {
	Status string `json:"status"`

	// Peers are the raw addresses of the active call's participants.
	Peers []string `json:"peers,omitempty"`
}

// CallMissed is published when an inbound call rings out.
type CallMissed struct {
	Number string `json:"number"`
}

// COSChanged carries the call-log entitlement from class of service.
type COSChanged struct {
	CallLogEnabled bool `json:"call_log_enabled"`
}

// HistoryChanged tells listeners to reload call history.
type HistoryChanged struct {
	At time.Time `json:"at"`
}

// Notification is a user-facing notification request.
type Notification struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}
