// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/callsync/internal/logging"
	"github.com/tomtom215/callsync/internal/models"
	"github.com/tomtom215/callsync/internal/sync"
	"github.com/tomtom215/callsync/internal/validation"
)

const defaultHistoryLimit = 50

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Uptime float64     `json:"uptime_seconds"`
	Sync   sync.Status `json:"sync"`
}

// RefreshResponse is the body of POST /api/v1/refresh.
type RefreshResponse struct {
	Result string `json:"result"`
}

// HistoryResponse is the body of GET /api/v1/history.
type HistoryResponse struct {
	Count   int                  `json:"count"`
	Records []*models.CallRecord `json:"records"`
}

// Health reports the sync manager state. It always answers 200 while the
// process is up; a disabled feature is a valid state, not an outage.
func (router *Router) Health(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, HealthResponse{
		Uptime: time.Since(router.startTime).Seconds(),
		Sync:   router.manager.Status(),
	})
}

// Refresh triggers a manual fetch.
func (router *Router) Refresh(w http.ResponseWriter, r *http.Request) {
	result := router.manager.TriggerRefresh(sync.SourceManual)
	logging.Ctx(r.Context()).Info().Str("result", result.String()).Msg("Manual refresh requested")

	switch result {
	case sync.TriggerStarted:
		respondData(w, http.StatusAccepted, RefreshResponse{Result: result.String()})
	case sync.TriggerInFlight:
		respondError(w, r, http.StatusConflict, "FETCH_IN_FLIGHT", "A fetch is already in progress", nil)
	default:
		respondError(w, r, http.StatusServiceUnavailable, "SYNC_DISABLED", "Call history sync is disabled", nil)
	}
}

// History lists the most recent local call history entries.
func (router *Router) History(w http.ResponseWriter, r *http.Request) {
	if router.history == nil {
		respondError(w, r, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Call history store is not configured", nil)
		return
	}

	req, ok := parseHistoryRequest(w, r)
	if !ok {
		return
	}

	var (
		records []*models.CallRecord
		err     error
	)
	if req.Peer != "" {
		records, err = router.history.ByPeer(r.Context(), req.Peer, req.Limit)
	} else {
		records, err = router.history.Recent(r.Context(), req.Limit)
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to read call history", err)
		return
	}
	if records == nil {
		records = []*models.CallRecord{}
	}

	respondData(w, http.StatusOK, HistoryResponse{Count: len(records), Records: records})
}

// HistoryRequest holds the query parameters of GET /api/v1/history.
type HistoryRequest struct {
	Limit int    `validate:"min=1,max=500"`
	Peer  string `validate:"omitempty,max=256,peeraddress"`
}

// parseHistoryRequest reads and validates the query, answering 400 itself
// when it is invalid.
func parseHistoryRequest(w http.ResponseWriter, r *http.Request) (HistoryRequest, bool) {
	q := r.URL.Query()
	req := HistoryRequest{Limit: defaultHistoryLimit, Peer: q.Get("peer")}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
			return req, false
		}
		req.Limit = n
	}

	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return req, false
	}
	return req, true
}
