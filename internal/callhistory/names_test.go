// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package callhistory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/callsync/internal/directory"
	"github.com/tomtom215/callsync/internal/models"
)

// mockDirectory is a function-field mock of directory.Directory.
type mockDirectory struct {
	calls   atomic.Int32
	queryFn func(ctx context.Context, number string) (<-chan directory.Result, error)
}

func (m *mockDirectory) Query(ctx context.Context, number string) (<-chan directory.Result, error) {
	m.calls.Add(1)
	return m.queryFn(ctx, number)
}

func TestNameResolver_KnownFromLocalRecords(t *testing.T) {
	dir := &mockDirectory{queryFn: func(context.Context, string) (<-chan directory.Result, error) {
		t.Error("directory queried for a number known from local history")
		return nil, errors.New("unexpected")
	}}
	r := NewNameResolver(dir, time.Second)

	r.BeginCycle([]*models.CallRecord{{
		Peers: []models.PeerRecord{{NormalizedNumber: "1001", DisplayName: "Alice"}},
	}})

	name, ok := r.Resolve(context.Background(), "1001")
	if !ok || name != "Alice" {
		t.Errorf("Resolve() = %q, %v; want Alice, true", name, ok)
	}
}

func TestNameResolver_CachesDirectoryAnswers(t *testing.T) {
	dir := &mockDirectory{queryFn: directory.NewStatic(map[string]string{"1002": "Bob"}).Query}
	r := NewNameResolver(dir, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if name, ok := r.Resolve(ctx, "1002"); !ok || name != "Bob" {
			t.Fatalf("Resolve() = %q, %v; want Bob, true", name, ok)
		}
		if _, ok := r.Resolve(ctx, "9999"); ok {
			t.Fatal("Resolve() found a name for an unknown number")
		}
	}
	if got := dir.calls.Load(); got != 2 {
		t.Errorf("directory queried %d times, want 2", got)
	}

	r.BeginCycle(nil)
	r.Resolve(ctx, "1002")
	if got := dir.calls.Load(); got != 3 {
		t.Errorf("directory queried %d times after new cycle, want 3", got)
	}
}

func TestNameResolver_Timeout(t *testing.T) {
	dir := &mockDirectory{queryFn: func(context.Context, string) (<-chan directory.Result, error) {
		// Never answers and never closes.
		return make(chan directory.Result), nil
	}}
	r := NewNameResolver(dir, 20*time.Millisecond)

	start := time.Now()
	if _, ok := r.Resolve(context.Background(), "1003"); ok {
		t.Error("Resolve() succeeded against a silent directory")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Resolve() took %v, want bounded by timeout", elapsed)
	}
}

func TestNameResolver_QueryError(t *testing.T) {
	dir := &mockDirectory{queryFn: func(context.Context, string) (<-chan directory.Result, error) {
		return nil, errors.New("directory down")
	}}
	r := NewNameResolver(dir, time.Second)

	if _, ok := r.Resolve(context.Background(), "1004"); ok {
		t.Error("Resolve() succeeded on query error")
	}
	if _, ok := r.Resolve(context.Background(), ""); ok {
		t.Error("Resolve() succeeded for empty number")
	}
}
