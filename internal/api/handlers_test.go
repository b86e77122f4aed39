// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/callsync/internal/metrics"
	"github.com/tomtom215/callsync/internal/models"
	"github.com/tomtom215/callsync/internal/sync"
)

// mockManager is a function-field mock of SyncManager.
type mockManager struct {
	statusFn  func() sync.Status
	triggerFn func(source string) sync.TriggerResult
	sources   []string
}

func (m *mockManager) Status() sync.Status {
	if m.statusFn == nil {
		return sync.Status{}
	}
	return m.statusFn()
}

func (m *mockManager) TriggerRefresh(source string) sync.TriggerResult {
	m.sources = append(m.sources, source)
	if m.triggerFn == nil {
		return sync.TriggerStarted
	}
	return m.triggerFn(source)
}

// mockHistory is a function-field mock of HistoryReader.
type mockHistory struct {
	recentFn func(ctx context.Context, limit int) ([]*models.CallRecord, error)
	byPeerFn func(ctx context.Context, address string, limit int) ([]*models.CallRecord, error)
}

func (m *mockHistory) Recent(ctx context.Context, limit int) ([]*models.CallRecord, error) {
	if m.recentFn == nil {
		return nil, nil
	}
	return m.recentFn(ctx, limit)
}

func (m *mockHistory) ByPeer(ctx context.Context, address string, limit int) ([]*models.CallRecord, error) {
	if m.byPeerFn == nil {
		return nil, nil
	}
	return m.byPeerFn(ctx, address, limit)
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	if data != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			t.Fatalf("invalid data %s: %v", raw.Data, err)
		}
	}
	return raw.Response
}

func TestHealth(t *testing.T) {
	finished := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mgr := &mockManager{statusFn: func() sync.Status {
		return sync.Status{
			Running:    true,
			Enabled:    true,
			Unresolved: 2,
			LastCycle:  sync.CycleStatus{Source: sync.SourcePeriodic, Finished: finished},
		}
	}}
	h := NewRouter(mgr, nil).Handler()

	rec := serve(t, h, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	var body HealthResponse
	resp := decodeResponse(t, rec, &body)
	if resp.Status != "success" {
		t.Errorf("status field = %q", resp.Status)
	}
	if !body.Sync.Enabled || body.Sync.Unresolved != 2 {
		t.Errorf("sync status = %+v", body.Sync)
	}
	if !body.Sync.LastCycle.Finished.Equal(finished) {
		t.Errorf("LastCycle.Finished = %v, want %v", body.Sync.LastCycle.Finished, finished)
	}
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name     string
		result   sync.TriggerResult
		wantCode int
		wantErr  string
	}{
		{"started", sync.TriggerStarted, http.StatusAccepted, ""},
		{"in flight", sync.TriggerInFlight, http.StatusConflict, "FETCH_IN_FLIGHT"},
		{"disabled", sync.TriggerDisabled, http.StatusServiceUnavailable, "SYNC_DISABLED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := &mockManager{triggerFn: func(string) sync.TriggerResult { return tt.result }}
			h := NewRouter(mgr, nil).Handler()

			rec := serve(t, h, http.MethodPost, "/api/v1/refresh")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if len(mgr.sources) != 1 || mgr.sources[0] != sync.SourceManual {
				t.Errorf("trigger sources = %v, want [manual]", mgr.sources)
			}

			resp := decodeResponse(t, rec, nil)
			if tt.wantErr == "" {
				if resp.Error != nil {
					t.Errorf("unexpected error body %+v", resp.Error)
				}
				return
			}
			if resp.Error == nil || resp.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestRefresh_MethodNotAllowed(t *testing.T) {
	mgr := &mockManager{}
	h := NewRouter(mgr, nil).Handler()

	rec := serve(t, h, http.MethodGet, "/api/v1/refresh")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	if len(mgr.sources) != 0 {
		t.Error("GET triggered a refresh")
	}
}

func TestHistory(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	records := []*models.CallRecord{
		{ID: "b", Direction: models.DirectionIn, StartTime: start, EndTime: start, Attention: true,
			Peers: []models.PeerRecord{{Address: "1001@pbx", NormalizedNumber: "1001"}}},
		{ID: "a", Direction: models.DirectionOut, StartTime: start.Add(-time.Hour), EndTime: start.Add(-50 * time.Minute),
			Peers: []models.PeerRecord{{Address: "1002@pbx", NormalizedNumber: "1002"}}},
	}

	var gotLimit int
	var gotPeer string
	hist := &mockHistory{
		recentFn: func(_ context.Context, limit int) ([]*models.CallRecord, error) {
			gotLimit = limit
			return records, nil
		},
		byPeerFn: func(_ context.Context, address string, limit int) ([]*models.CallRecord, error) {
			gotPeer, gotLimit = address, limit
			return records[:1], nil
		},
	}
	h := NewRouter(&mockManager{}, hist).Handler()

	t.Run("recent with default limit", func(t *testing.T) {
		rec := serve(t, h, http.MethodGet, "/api/v1/history")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body HistoryResponse
		decodeResponse(t, rec, &body)
		if gotLimit != defaultHistoryLimit {
			t.Errorf("limit = %d, want %d", gotLimit, defaultHistoryLimit)
		}
		if body.Count != 2 || body.Records[0].ID != "b" || !body.Records[0].Attention {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("by peer", func(t *testing.T) {
		rec := serve(t, h, http.MethodGet, "/api/v1/history?peer=1001@pbx&limit=5")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body HistoryResponse
		decodeResponse(t, rec, &body)
		if gotPeer != "1001@pbx" || gotLimit != 5 {
			t.Errorf("ByPeer(%q, %d)", gotPeer, gotLimit)
		}
		if body.Count != 1 {
			t.Errorf("Count = %d, want 1", body.Count)
		}
	})

	invalid := []struct {
		query    string
		wantText string
	}{
		{"limit=0", "Limit must be at least 1"},
		{"limit=-3", "Limit must be at least 1"},
		{"limit=501", "Limit must be at most 500"},
		{"limit=abc", "limit must be an integer"},
		{"peer=%0A1001", "Peer must be a non-empty address"},
	}
	for _, tt := range invalid {
		t.Run("invalid "+tt.query, func(t *testing.T) {
			rec := serve(t, h, http.MethodGet, "/api/v1/history?"+tt.query)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			resp := decodeResponse(t, rec, nil)
			if resp.Error == nil || resp.Error.Code != "VALIDATION_ERROR" || !strings.Contains(resp.Error.Message, tt.wantText) {
				t.Errorf("error = %+v, want VALIDATION_ERROR containing %q", resp.Error, tt.wantText)
			}
		})
	}
}

func TestHistory_Errors(t *testing.T) {
	t.Run("store error", func(t *testing.T) {
		hist := &mockHistory{recentFn: func(context.Context, int) ([]*models.CallRecord, error) {
			return nil, errors.New("value log truncated")
		}}
		rec := serve(t, NewRouter(&mockManager{}, hist).Handler(), http.MethodGet, "/api/v1/history")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "truncated") {
			t.Error("internal error leaked into response body")
		}
	})

	t.Run("empty store", func(t *testing.T) {
		rec := serve(t, NewRouter(&mockManager{}, &mockHistory{}).Handler(), http.MethodGet, "/api/v1/history")
		if !strings.Contains(rec.Body.String(), `"records":[]`) {
			t.Errorf("body = %s, want empty records array", rec.Body.String())
		}
	})

	t.Run("no store", func(t *testing.T) {
		rec := serve(t, NewRouter(&mockManager{}, nil).Handler(), http.MethodGet, "/api/v1/history")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(&mockManager{}, nil).Handler()

	before := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200"))
	serve(t, h, http.MethodGet, "/healthz")
	after := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200"))
	if after-before != 1 {
		t.Errorf("api request counter moved by %v, want 1", after-before)
	}

	rec := serve(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "callsync_api_requests_total") {
		t.Error("/metrics does not expose callsync_api_requests_total")
	}
}
