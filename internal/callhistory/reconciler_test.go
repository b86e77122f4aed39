// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package callhistory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/callsync/internal/models"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testRecord(dir models.Direction, number string, start time.Time, dur time.Duration) *models.CallRecord {
	return &models.CallRecord{
		ID:        models.NewRecordID(),
		Direction: dir,
		StartTime: start,
		EndTime:   start.Add(dur),
		Peers: []models.PeerRecord{{
			Address:          number + "@pbx.example.com",
			NormalizedNumber: number,
		}},
	}
}

// fakeStore records writes and deletes.
type fakeStore struct {
	written  []*models.CallRecord
	deleted  []string
	changed  int
	writeErr error
}

func (s *fakeStore) Write(_ context.Context, rec *models.CallRecord, _ string) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, rec.Clone())
	return nil
}

func (s *fakeStore) Delete(_ context.Context, rec *models.CallRecord) error {
	s.deleted = append(s.deleted, rec.ID)
	return nil
}

func (s *fakeStore) FireHistoryChanged(context.Context) error {
	s.changed++
	return nil
}

type fakeNotifier struct {
	kinds []string
}

func (n *fakeNotifier) FireNotification(_ context.Context, kind string) error {
	n.kinds = append(n.kinds, kind)
	return nil
}

func newTestReconciler() (*Reconciler, *fakeStore, *fakeNotifier) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	return NewReconciler(store, notifier, nil, 0), store, notifier
}

func TestReconciler_ClickToDialDropsInboundLeg(t *testing.T) {
	r, store, _ := newTestReconciler()

	in := testRecord(models.DirectionIn, "1234", t0, 30*time.Second)
	out := testRecord(models.DirectionOut, "1234", t0.Add(2*time.Second), 30*time.Second)

	res, err := r.Reconcile(context.Background(), Input{Server: []*models.CallRecord{in, out}, RefreshAt: t0})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.ClickToDial != 1 {
		t.Errorf("ClickToDial = %d, want 1", res.ClickToDial)
	}
	if len(store.written) != 1 || store.written[0].Direction != models.DirectionOut {
		t.Fatalf("written = %+v, want only the outbound leg", store.written)
	}
}

func TestReconciler_ClickToDialOutsideTolerance(t *testing.T) {
	r, store, _ := newTestReconciler()

	in := testRecord(models.DirectionIn, "1234", t0, 30*time.Second)
	out := testRecord(models.DirectionOut, "1234", t0.Add(time.Minute), 30*time.Second)

	if _, err := r.Reconcile(context.Background(), Input{Server: []*models.CallRecord{in, out}, RefreshAt: t0}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(store.written) != 2 {
		t.Errorf("written %d records, want 2", len(store.written))
	}
}

func TestReconciler_MissedCallPersistsAcrossCycles(t *testing.T) {
	r, store, _ := newTestReconciler()
	ctx := context.Background()

	local := testRecord(models.DirectionIn, "5555", t0, 0)
	local.Attention = true

	for cycle := 0; cycle < 3; cycle++ {
		in := Input{RefreshAt: t0.Add(time.Duration(cycle) * time.Minute)}
		if cycle == 0 {
			in.Local = []*models.CallRecord{local}
		}
		if _, err := r.Reconcile(ctx, in); err != nil {
			t.Fatalf("cycle %d: Reconcile() error = %v", cycle, err)
		}
		if len(store.deleted) != 0 {
			t.Fatalf("cycle %d: local missed call deleted without a server match", cycle)
		}
		if got := r.UnresolvedCount(); got != 1 {
			t.Fatalf("cycle %d: UnresolvedCount() = %d, want 1", cycle, got)
		}
	}

	unresolved := r.Unresolved()
	if unresolved[0].ID != local.ID {
		t.Errorf("Unresolved()[0].ID = %q, want %q", unresolved[0].ID, local.ID)
	}

	// The server finally reports it; the local copy is replaced.
	server := testRecord(models.DirectionIn, "5555", t0.Add(time.Second), 0)
	res, err := r.Reconcile(ctx, Input{Server: []*models.CallRecord{server}, RefreshAt: t0.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if r.UnresolvedCount() != 0 {
		t.Errorf("UnresolvedCount() = %d after server match, want 0", r.UnresolvedCount())
	}
	if res.Deleted != 1 || store.deleted[0] != local.ID {
		t.Errorf("deleted = %v, want local record", store.deleted)
	}
	if len(store.written) != 1 || !store.written[0].Attention {
		t.Errorf("written = %+v, want one record carrying local attention", store.written)
	}
}

func TestReconciler_FirstRunSuppressesAttention(t *testing.T) {
	r, store, notifier := newTestReconciler()

	server := []*models.CallRecord{
		testRecord(models.DirectionIn, "1001", t0, 0),
		testRecord(models.DirectionIn, "1002", t0.Add(time.Minute), 0),
		testRecord(models.DirectionOut, "1003", t0.Add(2*time.Minute), time.Minute),
	}
	local := testRecord(models.DirectionIn, "7777", t0, 0)

	if _, err := r.Reconcile(context.Background(), Input{
		Server:    server,
		Local:     []*models.CallRecord{local},
		FirstRun:  true,
		RefreshAt: t0,
	}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if len(store.written) != 3 {
		t.Fatalf("written %d records, want 3", len(store.written))
	}
	for _, rec := range store.written {
		if rec.Attention {
			t.Errorf("record %s has attention on first run", rec.FirstPeer().NormalizedNumber)
		}
	}
	if len(notifier.kinds) != 0 {
		t.Errorf("notifications on first run: %v", notifier.kinds)
	}
	if r.UnresolvedCount() != 0 {
		t.Errorf("UnresolvedCount() = %d on first run, want 0", r.UnresolvedCount())
	}
}

func TestReconciler_NewMissedCallGetsAttention(t *testing.T) {
	r, store, notifier := newTestReconciler()

	server := []*models.CallRecord{
		testRecord(models.DirectionIn, "1001", t0, 0),
		testRecord(models.DirectionIn, "1002", t0.Add(time.Minute), time.Minute),
	}
	res, err := r.Reconcile(context.Background(), Input{Server: server, RefreshAt: t0})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if !store.written[0].Attention {
		t.Error("missed call written without attention")
	}
	if store.written[1].Attention {
		t.Error("answered call written with attention")
	}
	if res.Notifications != 1 || len(notifier.kinds) != 1 || notifier.kinds[0] != NotificationMissedCall {
		t.Errorf("notifications = %v, want one %q", notifier.kinds, NotificationMissedCall)
	}
	if store.written[0].FirstPeer().DisplayName != UnknownDisplayName {
		t.Errorf("display name = %q, want %q", store.written[0].FirstPeer().DisplayName, UnknownDisplayName)
	}
	for _, rec := range store.written {
		if !rec.AddedAt.Equal(t0) || rec.ID == "" || rec.Provenance != models.ProvenanceNone {
			t.Errorf("written record not stamped: %+v", rec)
		}
	}
	if store.changed != 1 {
		t.Errorf("history changed fired %d times, want 1", store.changed)
	}
}

func TestReconciler_SuffixMatching(t *testing.T) {
	r, store, _ := newTestReconciler()

	local := testRecord(models.DirectionIn, "+4420123456", t0, 0)
	server := testRecord(models.DirectionIn, "20123456", t0, 0)

	if _, err := r.Reconcile(context.Background(), Input{
		Server:    []*models.CallRecord{server},
		Local:     []*models.CallRecord{local},
		RefreshAt: t0,
	}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(store.deleted) != 1 || len(store.written) != 1 {
		t.Errorf("deleted %d, written %d; want 1 and 1", len(store.deleted), len(store.written))
	}
	if r.UnresolvedCount() != 0 {
		t.Error("matched record left unresolved")
	}
}

func TestReconciler_MergedMissedCallKeepsLocalAttention(t *testing.T) {
	tests := []struct {
		name      string
		attention bool
	}{
		{"already seen", false},
		{"still unseen", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store, notifier := newTestReconciler()

			local := testRecord(models.DirectionIn, "1001", t0.Add(time.Second), 0)
			local.Attention = tt.attention
			server := testRecord(models.DirectionIn, "1001", t0, 0)

			res, err := r.Reconcile(context.Background(), Input{
				Server:    []*models.CallRecord{server},
				Local:     []*models.CallRecord{local},
				RefreshAt: t0,
			})
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if res.Written != 1 || res.Deleted != 1 {
				t.Fatalf("written %d, deleted %d; want one merged record", res.Written, res.Deleted)
			}
			if store.written[0].Attention != tt.attention {
				t.Errorf("attention = %v, want %v", store.written[0].Attention, tt.attention)
			}
			if len(notifier.kinds) != 0 {
				t.Errorf("merged record raised notification: %v", notifier.kinds)
			}
		})
	}
}

func TestReconciler_LocalAnsweredAndOutbound(t *testing.T) {
	r, store, _ := newTestReconciler()

	answered := testRecord(models.DirectionIn, "1001", t0, time.Minute)
	answered.EndReason = models.EndReasonNormalClearing
	outbound := testRecord(models.DirectionOut, "1002", t0.Add(time.Hour), time.Minute)
	outbound.Peers[0].DisplayName = "Carol"

	serverAnswered := testRecord(models.DirectionIn, "1001", t0, time.Minute)
	serverOut := testRecord(models.DirectionOut, "1002", t0.Add(time.Hour), time.Minute)

	res, err := r.Reconcile(context.Background(), Input{
		Server:    []*models.CallRecord{serverAnswered, serverOut},
		Local:     []*models.CallRecord{answered, outbound},
		RefreshAt: t0,
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Deleted != 2 {
		t.Errorf("deleted %d, want 2", res.Deleted)
	}
	if res.Written != 2 {
		t.Fatalf("written %d, want 2", res.Written)
	}

	var sawRewrite bool
	for _, rec := range store.written {
		if rec.ID == outbound.ID {
			t.Error("rewritten outbound record kept its old ID")
		}
		if rec.Direction == models.DirectionOut && rec.FirstPeer().DisplayName == "Carol" {
			sawRewrite = true
		}
	}
	if !sawRewrite {
		t.Error("local outbound record was not rewritten in place of the server copy")
	}
}

func TestReconciler_ConferenceConsumesEveryPeer(t *testing.T) {
	r, store, _ := newTestReconciler()

	conf := testRecord(models.DirectionIn, "1001", t0, 10*time.Minute)
	conf.Peers = append(conf.Peers, models.PeerRecord{Address: "1002", NormalizedNumber: "1002"})

	server := []*models.CallRecord{
		testRecord(models.DirectionOut, "1001", t0, 10*time.Minute),
		testRecord(models.DirectionOut, "1002", t0, 10*time.Minute),
	}

	res, err := r.Reconcile(context.Background(), Input{Server: server, Local: []*models.CallRecord{conf}, RefreshAt: t0})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Written != 1 || len(store.written[0].Peers) != 2 {
		t.Errorf("written = %+v, want the conference record only", store.written)
	}
}

func TestReconciler_AnsweredElsewhereResolvesLocalMissed(t *testing.T) {
	r, store, _ := newTestReconciler()

	local := testRecord(models.DirectionIn, "1001", t0, 0)
	local.EndReason = models.EndReasonNormalClearing
	server := testRecord(models.DirectionOut, "1001", t0, 0)

	res, err := r.Reconcile(context.Background(), Input{
		Server:    []*models.CallRecord{server},
		Local:     []*models.CallRecord{local},
		RefreshAt: t0,
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Deleted != 1 || r.UnresolvedCount() != 0 {
		t.Errorf("deleted %d, unresolved %d; want local copy resolved", res.Deleted, r.UnresolvedCount())
	}
	if len(store.written) != 1 || store.written[0].Direction != models.DirectionOut {
		t.Errorf("written = %+v, want the outbound server record", store.written)
	}
}

func TestReconciler_WriteErrorsAreJoined(t *testing.T) {
	r, store, _ := newTestReconciler()
	store.writeErr = errors.New("disk full")

	server := []*models.CallRecord{
		testRecord(models.DirectionIn, "1001", t0, time.Minute),
		testRecord(models.DirectionIn, "1002", t0.Add(time.Minute), time.Minute),
	}
	res, err := r.Reconcile(context.Background(), Input{Server: server, RefreshAt: t0})
	if !errors.Is(err, store.writeErr) {
		t.Fatalf("Reconcile() error = %v, want wrapped write error", err)
	}
	if res.Written != 0 {
		t.Errorf("Written = %d, want 0", res.Written)
	}
	if store.changed != 0 {
		t.Error("history changed fired with nothing written")
	}
}

func TestReconciler_DoesNotMutateInput(t *testing.T) {
	r, _, _ := newTestReconciler()

	server := testRecord(models.DirectionIn, "1001", t0, 0)
	id := server.ID
	if _, err := r.Reconcile(context.Background(), Input{Server: []*models.CallRecord{server}, RefreshAt: t0}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if server.ID != id || server.Attention {
		t.Errorf("input record mutated: %+v", server)
	}
}

// blockingNames parks every lookup until release is closed.
type blockingNames struct {
	entered chan struct{}
	release chan struct{}
}

func (n *blockingNames) Resolve(ctx context.Context, _ string) (string, bool) {
	n.entered <- struct{}{}
	select {
	case <-n.release:
	case <-ctx.Done():
	}
	return "", false
}

func TestReconciler_UnresolvedCountDuringSlowLookup(t *testing.T) {
	ctx := context.Background()
	names := &blockingNames{entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := NewReconciler(&fakeStore{}, &fakeNotifier{}, names, 0)

	local := testRecord(models.DirectionIn, "5555", t0, 0)
	server := testRecord(models.DirectionIn, "7777", t0.Add(time.Minute), 0)

	done := make(chan error, 1)
	go func() {
		_, err := r.Reconcile(ctx, Input{
			Local:     []*models.CallRecord{local},
			Server:    []*models.CallRecord{server},
			RefreshAt: t0,
		})
		done <- err
	}()

	select {
	case <-names.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("name lookup never started")
	}

	counted := make(chan int, 1)
	go func() { counted <- r.UnresolvedCount() }()

	select {
	case n := <-counted:
		if n != 1 {
			t.Errorf("UnresolvedCount() = %d, want 1", n)
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("UnresolvedCount() blocked behind a pending name lookup")
	}

	close(names.release)
	if err := <-done; err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if got := len(r.Unresolved()); got != 1 {
		t.Errorf("len(Unresolved()) = %d, want 1", got)
	}
}
