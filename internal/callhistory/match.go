// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package callhistory

import (
	"strings"

	"github.com/tomtom215/callsync/internal/models"
)

// numbersMatch reports whether one number is a suffix of the other after
// stripping international prefixes, so "+4420123456" matches "20123456"
// dialled without the country code.
func numbersMatch(a, b string) bool {
	a, b = stripInternationalPrefix(a), stripInternationalPrefix(b)
	if a == "" || b == "" {
		return a == b
	}
	return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
}

func stripInternationalPrefix(s string) string {
	if strings.HasPrefix(s, "+") {
		return s[1:]
	}
	if strings.HasPrefix(s, "00") {
		return s[2:]
	}
	return s
}

// candidatePool holds this cycle's server records. A record is either still
// free, claimed by a local record (kept for writing, but never matched
// again) or removed (superseded by a local copy).
type candidatePool struct {
	records []*models.CallRecord
	claimed map[*models.CallRecord]bool
	removed map[*models.CallRecord]bool
}

func newCandidatePool(records []*models.CallRecord) *candidatePool {
	return &candidatePool{
		records: records,
		claimed: make(map[*models.CallRecord]bool),
		removed: make(map[*models.CallRecord]bool),
	}
}

// find returns the first free record with the given direction whose first
// peer matches number and which satisfies accept (if non-nil).
func (p *candidatePool) find(dir models.Direction, number string, accept func(*models.CallRecord) bool) *models.CallRecord {
	for _, r := range p.records {
		if p.claimed[r] || p.removed[r] {
			continue
		}
		if r.Direction != dir || !numbersMatch(number, r.FirstPeer().NormalizedNumber) {
			continue
		}
		if accept != nil && !accept(r) {
			continue
		}
		return r
	}
	return nil
}

func (p *candidatePool) claim(r *models.CallRecord)  { p.claimed[r] = true }
func (p *candidatePool) remove(r *models.CallRecord) { p.removed[r] = true }

// remaining returns records that were not removed, in pool order.
func (p *candidatePool) remaining() []*models.CallRecord {
	out := make([]*models.CallRecord, 0, len(p.records))
	for _, r := range p.records {
		if !p.removed[r] {
			out = append(out, r)
		}
	}
	return out
}
