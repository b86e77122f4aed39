// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/callsync/internal/logging"
)

// maxResponseSize bounds how much of a directory response is decoded.
const maxResponseSize = 1 << 20

// HTTP queries a JSON directory service:
//
//	GET {base}/lookup?number=+442071234567
//	200 {"entries":[{"display_name":"Reception"}]}
//	404 means no match
type HTTP struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates an HTTP directory. The caller bounds each lookup through ctx.
func NewHTTP(baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type lookupResponse struct {
	Entries []struct {
		DisplayName string `json:"display_name"`
	} `json:"entries"`
}

// Query starts the lookup in the background and streams each entry.
func (d *HTTP) Query(ctx context.Context, number string) (<-chan Result, error) {
	reqURL := d.baseURL + "/lookup?number=" + url.QueryEscape(number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	ch := make(chan Result)
	go func() {
		defer close(ch)

		entries, err := d.do(req)
		if err != nil {
			logging.Debug().Err(err).Str("number", number).Msg("Directory lookup failed")
			return
		}
		for _, name := range entries {
			select {
			case ch <- Result{DisplayName: name}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (d *HTTP) do(req *http.Request) ([]string, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("directory returned HTTP %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode directory response: %w", err)
	}

	names := make([]string, 0, len(body.Entries))
	for _, e := range body.Entries {
		if name := strings.TrimSpace(e.DisplayName); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
