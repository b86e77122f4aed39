// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/callsync/internal/config"
	"github.com/tomtom215/callsync/internal/logging"
)

const (
	// maxPayloadSize caps a call-log response.
	maxPayloadSize = 16 << 20

	// maxErrorBodySize caps the body quoted in a StatusError.
	maxErrorBodySize = 1024

	maxRateLimitRetries = 3

	noSuchObject = "no such object"
)

// Client fetches call-log payloads.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter

	retryAttempts int
	retryDelay    time.Duration

	breaker *circuitBreaker
}

// NewClient creates a Client from backend configuration.
func NewClient(cfg config.BackendConfig) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	feed := cfg.Feed
	if feed == "" {
		feed = config.FeedBasic
	}
	endpoint := strings.TrimRight(cfg.URL, "/") + "/calllog?" + url.Values{"feed": {feed}}.Encode()

	return &Client{
		endpoint:      endpoint,
		token:         cfg.Token,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		limiter:       rate.NewLimiter(limit, burst),
		retryAttempts: attempts,
		retryDelay:    cfg.RetryDelay,
		breaker:       newCircuitBreaker("callsync-backend", cfg.BreakerFailures, cfg.BreakerTimeout),
	}
}

// Fetch returns the raw call-log payload.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	return c.breaker.execute(func() ([]byte, error) {
		return c.fetchWithRetry(ctx)
	})
}

// fetchWithRetry retries transient failures with doubling delays.
func (c *Client) fetchWithRetry(ctx context.Context) ([]byte, error) {
	var err error
	delay := c.retryDelay

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var payload []byte
		payload, err = c.fetchOnce(ctx)
		if err == nil {
			return payload, nil
		}
		if !retryable(err) || ctx.Err() != nil {
			return nil, err
		}

		if attempt < c.retryAttempts-1 {
			logging.Ctx(ctx).Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", c.retryAttempts).Dur("delay", delay).Msg("Call log fetch failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("max retry attempts reached: %w", err)
}

func (c *Client) fetchOnce(ctx context.Context) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.doRequestWithRateLimit(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotPermitted
	}
	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		if isNoSuchObject(body) {
			return nil, ErrNotPermitted
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if isNoSuchObject(payload) {
		return nil, ErrNotPermitted
	}
	return payload, nil
}

// doRequestWithRateLimit retries HTTP 429 responses, honouring Retry-After
// when the backend sends it in seconds.
func (c *Client) doRequestWithRateLimit(req *http.Request) (*http.Response, error) {
	baseDelay := time.Second

	for attempt := 0; ; attempt++ {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		if attempt == maxRateLimitRetries {
			return nil, &StatusError{Code: http.StatusTooManyRequests, Body: fmt.Sprintf("rate limited after %d retries", maxRateLimitRetries)}
		}

		retryDelay := baseDelay * (1 << attempt)
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
				retryDelay = time.Duration(seconds) * time.Second
			}
		}

		logging.Ctx(req.Context()).Warn().Dur("retry_delay", retryDelay).Int("attempt", attempt+1).Int("max_retries", maxRateLimitRetries).Msg("Backend rate limited (HTTP 429), retrying")

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(retryDelay):
		}
	}
}

// isNoSuchObject reports whether body is the backend's JSON "no such
// object" error document.
func isNoSuchObject(body []byte) bool {
	var doc struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(doc.Error), noSuchObject)
}

// readBodyForError reads at most maxErrorBodySize bytes of an error response.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}
