// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package models

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the direction of a call relative to the local user.
type Direction string

const (
	// DirectionIn is an inbound call (answered or missed).
	DirectionIn Direction = "in"

	// DirectionOut is an outbound (dialed) call.
	DirectionOut Direction = "out"
)

// EndReason records why a call ended. Only answered inbound calls carry
// EndReasonNormalClearing; everything else leaves it empty.
type EndReason string

const (
	// EndReasonNone means no end reason is known.
	EndReasonNone EndReason = ""

	// EndReasonNormalClearing marks an inbound call that was answered somewhere.
	EndReasonNormalClearing EndReason = "normal_clearing"
)

// Provenance tags where an in-memory record came from during a merge pass.
// It is never persisted.
type Provenance int

const (
	// ProvenanceNone is the zero value used for written records.
	ProvenanceNone Provenance = iota

	// ProvenanceLocal marks a record produced by local call signaling.
	ProvenanceLocal

	// ProvenanceServer marks a record parsed from a backend fetch.
	ProvenanceServer
)

// String returns a short label for logging.
func (p Provenance) String() string {
	switch p {
	case ProvenanceLocal:
		return "local"
	case ProvenanceServer:
		return "server"
	default:
		return "none"
	}
}

// PeerRecord is one participant of a call.
type PeerRecord struct {
	// Address is the raw peer address, possibly "number@domain".
	Address string `json:"address" validate:"required,max=256,peeraddress"`

	// NormalizedNumber is the E.164-ish form used for matching. Anonymous
	// callers normalize to the empty string.
	NormalizedNumber string `json:"normalized_number"`

	DisplayName string `json:"display_name,omitempty"`
}

// CallRecord is the canonical unit of call history.
//
// A missed call has StartTime == EndTime by convention. Peers is non-empty for
// every record that has been written to the local store.
type CallRecord struct {
	// ID identifies the record in the local store. Server records get an ID
	// when they are written.
	ID string `json:"id"`

	// AddedAt is the client time at which the record entered the local store.
	AddedAt time.Time `json:"added_at"`

	Direction Direction    `json:"direction" validate:"oneof=in out"`
	StartTime time.Time    `json:"start_time" validate:"required"`
	EndTime   time.Time    `json:"end_time" validate:"gtefield=StartTime"`
	EndReason EndReason    `json:"end_reason,omitempty"`
	Peers     []PeerRecord `json:"peers" validate:"required,min=1,dive"`

	// Attention marks the entry as new/unseen. Only missed calls are flagged.
	Attention bool `json:"attention"`

	Provenance Provenance `json:"-"`
}

// NewRecordID returns a fresh store identifier.
func NewRecordID() string {
	return uuid.New().String()
}

// IsMissed reports whether the call had zero duration.
func (r *CallRecord) IsMissed() bool {
	return r.StartTime.Equal(r.EndTime)
}

// Duration returns the call length.
func (r *CallRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// IsConference reports whether more than one peer took part.
func (r *CallRecord) IsConference() bool {
	return len(r.Peers) > 1
}

// FirstPeer returns the first peer, or the zero value when there is none.
func (r *CallRecord) FirstPeer() PeerRecord {
	if len(r.Peers) == 0 {
		return PeerRecord{}
	}
	return r.Peers[0]
}

// Clone returns a deep copy so merge passes can mutate records freely.
func (r *CallRecord) Clone() *CallRecord {
	c := *r
	if r.Peers != nil {
		c.Peers = make([]PeerRecord, len(r.Peers))
		copy(c.Peers, r.Peers)
	}
	return &c
}
