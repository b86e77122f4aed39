// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package callhistory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/callsync/internal/logging"
	"github.com/tomtom215/callsync/internal/metrics"
	"github.com/tomtom215/callsync/internal/models"
)

// DateTimeLayout is the backend's "dd MMM yy HH:mm:ss" format.
const DateTimeLayout = "02 Jan 06 15:04:05"

// UnknownDisplayName is used when no display name can be found.
const UnknownDisplayName = "Unknown"

// Bucket names in the fetch payload. Keys are matched case-insensitively.
const (
	BucketAnswered = "answered"
	BucketMissed   = "missed"
	BucketDialed   = "dialed"
	BucketRejected = "rejected"
)

// bucketOrder is the order buckets are parsed in. Rejected calls are
// deliberately not ingested.
var bucketOrder = []string{BucketAnswered, BucketMissed, BucketDialed}

// CallState is the live call-state snapshot used to suppress entries for
// calls that are still in progress.
type CallState interface {
	// IsOnCall reports whether the user currently has an active call.
	IsOnCall() bool
	// ActiveCallPeers returns the normalized numbers of active call peers.
	ActiveCallPeers() []string
}

// NameSource resolves a normalized number to a display name.
type NameSource interface {
	Resolve(ctx context.Context, number string) (name string, ok bool)
}

// ParserConfig configures a Parser.
type ParserConfig struct {
	// CombinedFeed enables in-progress suppression for answered calls.
	CombinedFeed bool

	// Location is the time zone DateTime values are rendered in.
	Location *time.Location

	Normalizer *Normalizer
	CallState  CallState
	Names      NameSource
}

// Parser converts fetch payloads into server call records.
type Parser struct {
	combinedFeed bool
	loc          *time.Location
	normalizer   *Normalizer
	callState    CallState
	names        NameSource
}

// NewParser creates a Parser. Nil collaborators fall back to UTC, a
// region-less Normalizer, "never on a call" and no name lookup.
func NewParser(cfg ParserConfig) *Parser {
	p := &Parser{
		combinedFeed: cfg.CombinedFeed,
		loc:          cfg.Location,
		normalizer:   cfg.Normalizer,
		callState:    cfg.CallState,
		names:        cfg.Names,
	}
	if p.loc == nil {
		p.loc = time.UTC
	}
	if p.normalizer == nil {
		p.normalizer = NewNormalizer("")
	}
	return p
}

// ParseResult is the outcome of parsing one payload.
type ParseResult struct {
	// Records are the accepted server records in payload order.
	Records []*models.CallRecord

	// MaxEndTime is the candidate server watermark: the latest end time
	// among Records. Zero when Records is empty.
	MaxEndTime time.Time

	SkippedSeen       int
	SkippedInProgress int
}

// rawCall is one entry of a bucket.
type rawCall struct {
	DateTime        *string `json:"DateTime"`
	Duration        *string `json:"Duration"`
	DirectoryNumber *string `json:"DirectoryNumber"`
}

// Parse decodes payload and returns every record that ends after since.
// Any malformed entry fails the whole batch with ErrMalformedPayload.
func (p *Parser) Parse(ctx context.Context, payload []byte, since time.Time) (*ParseResult, error) {
	var buckets map[string]json.RawMessage
	if err := json.Unmarshal(payload, &buckets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	byName := make(map[string]json.RawMessage, len(buckets))
	for name, raw := range buckets {
		key := strings.ToLower(name)
		if key != BucketAnswered && key != BucketMissed && key != BucketDialed && key != BucketRejected {
			logging.Ctx(ctx).Debug().Str("bucket", name).Msg("Ignoring unknown call log bucket")
			continue
		}
		byName[key] = raw
	}

	// Decode and validate everything before producing any record, so a bad
	// entry late in the payload cannot leave a partial result behind.
	type pending struct {
		bucket string
		start  time.Time
		end    time.Time
		number string
	}
	var entries []pending
	for _, bucket := range bucketOrder {
		raw, ok := byName[bucket]
		if !ok || isJSONNull(raw) {
			continue
		}
		var calls []rawCall
		if err := json.Unmarshal(raw, &calls); err != nil {
			return nil, fmt.Errorf("%w: bucket %s: %v", ErrMalformedPayload, bucket, err)
		}
		for i, c := range calls {
			start, end, err := p.parseTimes(bucket, c)
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", ErrMalformedPayload, bucket, i, err)
			}
			number := ""
			if c.DirectoryNumber != nil {
				number = *c.DirectoryNumber
			}
			entries = append(entries, pending{bucket: bucket, start: start, end: end, number: number})
		}
	}

	result := &ParseResult{}
	for _, e := range entries {
		if !e.end.After(since) {
			result.SkippedSeen++
			continue
		}

		normalized := p.normalizer.Normalize(e.number)
		if p.inProgress(e.bucket, e.start, e.end, normalized) {
			result.SkippedInProgress++
			continue
		}

		rec := &models.CallRecord{
			Direction:  models.DirectionIn,
			StartTime:  e.start,
			EndTime:    e.end,
			Provenance: models.ProvenanceServer,
			Peers: []models.PeerRecord{{
				Address:          e.number,
				NormalizedNumber: normalized,
				DisplayName:      p.displayName(ctx, normalized),
			}},
		}
		switch e.bucket {
		case BucketDialed:
			rec.Direction = models.DirectionOut
		case BucketAnswered:
			rec.EndReason = models.EndReasonNormalClearing
		}

		if rec.EndTime.After(result.MaxEndTime) {
			result.MaxEndTime = rec.EndTime
		}
		result.Records = append(result.Records, rec)
	}

	metrics.RecordsParsed.Add(float64(len(result.Records)))
	metrics.RecordsSkipped.WithLabelValues("already_seen").Add(float64(result.SkippedSeen))
	metrics.RecordsSkipped.WithLabelValues("in_progress").Add(float64(result.SkippedInProgress))

	return result, nil
}

func (p *Parser) parseTimes(bucket string, c rawCall) (start, end time.Time, err error) {
	if c.DateTime == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("missing DateTime")
	}
	start, err = time.ParseInLocation(DateTimeLayout, strings.TrimSpace(*c.DateTime), p.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad DateTime %q: %w", *c.DateTime, err)
	}

	if bucket == BucketMissed {
		return start, start, nil
	}
	if c.Duration == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("missing Duration")
	}
	d, err := parseDuration(*c.Duration)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(d), nil
}

// parseDuration parses "HH:MM:SS". Exactly three non-negative integer
// components are required; hours may exceed 23.
func parseDuration(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("bad Duration %q: want HH:MM:SS", s)
	}

	var total time.Duration
	units := [3]time.Duration{time.Hour, time.Minute, time.Second}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad Duration %q: component %q", s, part)
		}
		if i > 0 && n > 59 {
			return 0, fmt.Errorf("bad Duration %q: component %q out of range", s, part)
		}
		total += time.Duration(n) * units[i]
	}
	return total, nil
}

// inProgress reports whether the entry probably belongs to a call that is
// still up. Only dialed entries, and answered entries on the combined feed,
// are candidates.
func (p *Parser) inProgress(bucket string, start, end time.Time, number string) bool {
	if bucket != BucketDialed && !(bucket == BucketAnswered && p.combinedFeed) {
		return false
	}
	if p.callState == nil || !start.Equal(end) || !p.callState.IsOnCall() {
		return false
	}
	for _, peer := range p.callState.ActiveCallPeers() {
		if numbersMatch(number, peer) {
			return true
		}
	}
	return false
}

func (p *Parser) displayName(ctx context.Context, number string) string {
	if p.names == nil || number == "" {
		return UnknownDisplayName
	}
	if name, ok := p.names.Resolve(ctx, number); ok {
		return name
	}
	return UnknownDisplayName
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
