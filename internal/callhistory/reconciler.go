// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package callhistory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/callsync/internal/logging"
	"github.com/tomtom215/callsync/internal/metrics"
	"github.com/tomtom215/callsync/internal/models"
)

// DefaultClickToDialTolerance is the maximum end-time difference between
// the inbound and outbound legs of one click-to-dial call.
const DefaultClickToDialTolerance = 5 * time.Second

// NotificationMissedCall is the notification kind raised per new missed call.
const NotificationMissedCall = "missed_call"

// maxLoggedRecords caps trace logging of record sets.
const maxLoggedRecords = 20

// Store is the local history store the reconciler writes to.
type Store interface {
	Write(ctx context.Context, rec *models.CallRecord, peerAddress string) error
	Delete(ctx context.Context, rec *models.CallRecord) error
	FireHistoryChanged(ctx context.Context) error
}

// Notifier raises user-facing notifications.
type Notifier interface {
	FireNotification(ctx context.Context, kind string) error
}

// Input is one reconciliation pass.
type Input struct {
	// Server holds this cycle's parsed server records (may be empty).
	Server []*models.CallRecord

	// Local holds local records added since the previous client refresh.
	Local []*models.CallRecord

	FirstRun bool

	// RefreshAt stamps AddedAt on written records. The caller persists the
	// same value as the new client watermark, so written records are never
	// seen as local on the next pass.
	RefreshAt time.Time
}

// Result summarizes a reconciliation pass.
type Result struct {
	Written       int `json:"written"`
	Deleted       int `json:"deleted"`
	Notifications int `json:"notifications"`
	ClickToDial   int `json:"click_to_dial"`
	Unresolved    int `json:"unresolved"`
}

// Reconciler merges server and local call records. It owns the unresolved
// missed-call set, which lives for the lifetime of the process.
type Reconciler struct {
	store     Store
	notifier  Notifier
	names     NameSource
	tolerance time.Duration

	// passMu serializes Reconcile calls. mu guards only unresolved and is
	// never held across store or directory calls.
	passMu     sync.Mutex
	mu         sync.Mutex
	unresolved []*models.CallRecord
}

// NewReconciler creates a Reconciler. notifier and names may be nil.
// tolerance <= 0 uses DefaultClickToDialTolerance.
func NewReconciler(store Store, notifier Notifier, names NameSource, tolerance time.Duration) *Reconciler {
	if tolerance <= 0 {
		tolerance = DefaultClickToDialTolerance
	}
	return &Reconciler{
		store:     store,
		notifier:  notifier,
		names:     names,
		tolerance: tolerance,
	}
}

// UnresolvedCount returns the size of the unresolved missed-call set.
func (r *Reconciler) UnresolvedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unresolved)
}

// Unresolved returns a copy of the unresolved missed-call set.
func (r *Reconciler) Unresolved() []*models.CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.CallRecord, len(r.unresolved))
	for i, rec := range r.unresolved {
		out[i] = rec.Clone()
	}
	return out
}

// pass carries the mutable state of a single Reconcile call.
type pass struct {
	in         Input
	pool       *candidatePool
	matched    map[*models.CallRecord]bool
	unresolved []*models.CallRecord
	toWrite    []*models.CallRecord
	toDelete   []*models.CallRecord
}

// Reconcile runs one merge pass. It is not transactional: a store failure
// part way through leaves earlier writes and deletes in place, and the
// remaining operations are still attempted. The returned error joins every
// store failure.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (Result, error) {
	start := time.Now()
	log := logging.Ctx(ctx)

	r.passMu.Lock()
	defer r.passMu.Unlock()

	r.mu.Lock()
	unresolved := append([]*models.CallRecord(nil), r.unresolved...)
	r.mu.Unlock()

	local := withUnresolved(in.Local, unresolved)
	server := cloneAll(in.Server)
	sortByStart(local)
	sortByStart(server)
	logRecords(log, "local", local)
	logRecords(log, "server", server)

	p := &pass{
		in:         in,
		pool:       newCandidatePool(server),
		matched:    make(map[*models.CallRecord]bool),
		unresolved: unresolved,
	}

	for _, l := range local {
		p.reconcileLocal(l)
	}

	r.mu.Lock()
	r.unresolved = p.unresolved
	r.mu.Unlock()

	dropped := r.dropClickToDial(p)
	finals := r.finalizeServer(ctx, p)

	p.toWrite = append(p.toWrite, finals...)
	sortByStart(p.toWrite)

	var errs []error
	res := Result{ClickToDial: dropped}

	for _, rec := range p.toDelete {
		if err := r.store.Delete(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", rec.ID, err))
			continue
		}
		res.Deleted++
	}

	for _, rec := range p.toWrite {
		notify := rec.Provenance == models.ProvenanceServer && isMissedCall(rec) && !p.matched[rec] && rec.Attention

		rec.ID = models.NewRecordID()
		rec.AddedAt = in.RefreshAt
		rec.Provenance = models.ProvenanceNone
		if err := r.store.Write(ctx, rec, rec.FirstPeer().Address); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", rec.FirstPeer().Address, err))
			continue
		}
		res.Written++

		if notify && !in.FirstRun && r.notifier != nil {
			if err := r.notifier.FireNotification(ctx, NotificationMissedCall); err != nil {
				log.Warn().Err(err).Msg("Failed to raise missed call notification")
				continue
			}
			res.Notifications++
		}
	}

	if res.Written > 0 || res.Deleted > 0 {
		if err := r.store.FireHistoryChanged(ctx); err != nil {
			errs = append(errs, fmt.Errorf("fire history changed: %w", err))
		}
	}

	res.Unresolved = len(p.unresolved)
	err := errors.Join(errs...)

	metrics.ClickToDialDropped.Add(float64(dropped))
	metrics.NotificationsFired.Add(float64(res.Notifications))
	metrics.RecordReconcile(time.Since(start), res.Written, res.Deleted, res.Unresolved, err)

	log.Info().
		Int("server", len(in.Server)).
		Int("local", len(local)).
		Int("written", res.Written).
		Int("deleted", res.Deleted).
		Int("click_to_dial", res.ClickToDial).
		Int("unresolved", res.Unresolved).
		Int("notifications", res.Notifications).
		Bool("first_run", in.FirstRun).
		Msg("Reconciliation finished")

	return res, err
}

// withUnresolved returns clones of local plus every unresolved record not
// already present by ID.
func withUnresolved(local, unresolved []*models.CallRecord) []*models.CallRecord {
	out := make([]*models.CallRecord, 0, len(local)+len(unresolved))
	seen := make(map[string]bool, len(local))
	for _, rec := range local {
		c := rec.Clone()
		c.Provenance = models.ProvenanceLocal
		out = append(out, c)
		seen[c.ID] = true
	}
	for _, rec := range unresolved {
		if seen[rec.ID] {
			continue
		}
		c := rec.Clone()
		c.Provenance = models.ProvenanceLocal
		out = append(out, c)
	}
	return out
}

// reconcileLocal decides the fate of one local record.
func (p *pass) reconcileLocal(l *models.CallRecord) {
	switch {
	case len(l.Peers) == 0:
		// Nothing to match on; leave it alone.

	case l.IsConference() || l.Direction == models.DirectionOut:
		// The local copy has richer peer detail than the server can report.
		// Every participant is modelled as an outgoing leg.
		for _, peer := range l.Peers {
			if m := p.pool.find(models.DirectionOut, peer.NormalizedNumber, nil); m != nil {
				p.pool.remove(m)
			}
		}
		p.resolve(l.ID)
		p.toDelete = append(p.toDelete, l)
		rewrite := l.Clone()
		p.toWrite = append(p.toWrite, rewrite)

	case !l.IsMissed():
		// Simple answered inbound call: the server copy is authoritative.
		p.resolve(l.ID)
		p.toDelete = append(p.toDelete, l)

	default:
		number := l.FirstPeer().NormalizedNumber
		if m := p.pool.find(models.DirectionIn, number, nil); m != nil {
			m.Attention = l.Attention
			p.pool.claim(m)
			p.matched[m] = true
			p.resolve(l.ID)
			p.toDelete = append(p.toDelete, l)
			return
		}

		// No server counterpart yet: keep the local copy.
		if !p.in.FirstRun {
			p.addUnresolved(l)
		}
		if l.EndReason != models.EndReasonNormalClearing {
			return
		}
		// Answered elsewhere or a click-to-dial leg: a zero-duration
		// outgoing server record supersedes the local "missed" call.
		if m := p.pool.find(models.DirectionOut, number, (*models.CallRecord).IsMissed); m != nil {
			p.pool.claim(m)
			p.resolve(l.ID)
			p.toDelete = append(p.toDelete, l)
		}
	}
}

// dropClickToDial removes inbound server records that have an outbound twin
// with the same number ending within the tolerance.
func (r *Reconciler) dropClickToDial(p *pass) int {
	remaining := p.pool.remaining()
	dropped := 0
	for _, in := range remaining {
		if in.Direction != models.DirectionIn {
			continue
		}
		for _, out := range remaining {
			if out.Direction != models.DirectionOut || p.pool.removed[out] {
				continue
			}
			if in.FirstPeer().NormalizedNumber != out.FirstPeer().NormalizedNumber {
				continue
			}
			if absDuration(in.EndTime.Sub(out.EndTime)) <= r.tolerance {
				p.pool.remove(in)
				dropped++
				break
			}
		}
	}
	return dropped
}

// finalizeServer attaches display names and attention flags to the server
// records that survived the local pass and click-to-dial removal.
func (r *Reconciler) finalizeServer(ctx context.Context, p *pass) []*models.CallRecord {
	finals := p.pool.remaining()
	for _, rec := range finals {
		if len(rec.Peers) > 0 {
			peer := &rec.Peers[0]
			if peer.DisplayName == "" || peer.DisplayName == UnknownDisplayName {
				peer.DisplayName = UnknownDisplayName
				if r.names != nil {
					if name, ok := r.names.Resolve(ctx, peer.NormalizedNumber); ok {
						peer.DisplayName = name
					}
				}
			}
		}

		switch {
		case p.in.FirstRun || !isMissedCall(rec):
			rec.Attention = false
		case p.matched[rec]:
			// Keep the attention copied from the local record.
		default:
			rec.Attention = true
		}
	}
	return finals
}

func (p *pass) addUnresolved(rec *models.CallRecord) {
	for _, u := range p.unresolved {
		if u.ID == rec.ID {
			return
		}
	}
	c := rec.Clone()
	c.Provenance = models.ProvenanceNone
	p.unresolved = append(p.unresolved, c)
}

func (p *pass) resolve(id string) {
	for i, u := range p.unresolved {
		if u.ID == id {
			p.unresolved = append(p.unresolved[:i], p.unresolved[i+1:]...)
			return
		}
	}
}

// isMissedCall reports whether rec is an inbound zero-duration call, the
// only kind of record that can carry attention.
func isMissedCall(rec *models.CallRecord) bool {
	return rec.Direction == models.DirectionIn && rec.IsMissed()
}

func sortByStart(records []*models.CallRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})
}

func cloneAll(records []*models.CallRecord) []*models.CallRecord {
	out := make([]*models.CallRecord, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
		out[i].Provenance = models.ProvenanceServer
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func logRecords(log *zerolog.Logger, kind string, records []*models.CallRecord) {
	if !log.Trace().Enabled() {
		return
	}
	for i, rec := range records {
		if i == maxLoggedRecords {
			log.Trace().Str("kind", kind).Int("omitted", len(records)-i).Msg("Record list truncated")
			return
		}
		log.Trace().
			Str("kind", kind).
			Str("id", rec.ID).
			Str("direction", string(rec.Direction)).
			Time("start", rec.StartTime).
			Dur("duration", rec.Duration()).
			Str("number", rec.FirstPeer().NormalizedNumber).
			Bool("attention", rec.Attention).
			Msg("Reconcile input")
	}
}
