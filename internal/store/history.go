// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/callsync/internal/models"
	"github.com/tomtom215/callsync/internal/validation"
)

const (
	callKeyPrefix  = "call:"
	addedKeyPrefix = "added:"
	startKeyPrefix = "start:"
	peerKeyPrefix  = "peer:"
)

// ErrInvalidRecord is returned when a record cannot be stored.
var ErrInvalidRecord = errors.New("invalid call record")

// ChangePublisher receives the coalesced "history changed" signal.
type ChangePublisher interface {
	PublishHistoryChanged(ctx context.Context) error
}

// storedRecord is the value stored under call:<id>. PeerAddress is the key
// the record was written under so its index entry can be removed later.
type storedRecord struct {
	Record      models.CallRecord `json:"record"`
	PeerAddress string            `json:"peer_address"`
}

// History is the local call-history store.
type History struct {
	db      *badger.DB
	changes ChangePublisher
	now     func() time.Time
}

// HistoryOption customizes a History.
type HistoryOption func(*History)

// WithClock overrides the clock used to stamp AddedAt on local records.
func WithClock(now func() time.Time) HistoryOption {
	return func(h *History) { h.now = now }
}

// NewHistory creates the history store over d. changes may be nil.
func NewHistory(d *DB, changes ChangePublisher, opts ...HistoryOption) *History {
	h := &History{db: d.db, changes: changes, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddLocal stores a record produced by local call signaling. It gets a new
// ID when it has none and AddedAt is set to the current time, which makes it
// visible to the next FindRecordsAddedAfter.
func (h *History) AddLocal(ctx context.Context, rec *models.CallRecord) (*models.CallRecord, error) {
	if verr := validation.ValidateStruct(rec); verr != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecord, verr.Error())
	}

	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = models.NewRecordID()
	}
	stored.AddedAt = h.now()
	stored.Provenance = models.ProvenanceNone
	if !stored.IsMissed() || stored.Direction != models.DirectionIn {
		stored.Attention = false
	}

	if err := h.Write(ctx, stored, stored.FirstPeer().Address); err != nil {
		return nil, err
	}
	return stored, nil
}

// Write stores rec keyed by peerAddress, replacing any previous version
// with the same ID.
func (h *History) Write(ctx context.Context, rec *models.CallRecord, peerAddress string) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if len(rec.Peers) == 0 {
		return fmt.Errorf("%w: no peers", ErrInvalidRecord)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value := storedRecord{Record: *rec, PeerAddress: peerAddress}
	value.Record.Provenance = models.ProvenanceNone
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return h.db.Update(func(txn *badger.Txn) error {
		prev, err := getStored(txn, rec.ID)
		if err != nil {
			return err
		}
		if prev != nil {
			if err := deleteIndexes(txn, prev); err != nil {
				return err
			}
		}

		if err := txn.Set(callKey(rec.ID), data); err != nil {
			return fmt.Errorf("set record: %w", err)
		}
		for _, key := range indexKeys(&value) {
			if err := txn.Set(key, []byte(rec.ID)); err != nil {
				return fmt.Errorf("set index: %w", err)
			}
		}
		return nil
	})
}

// Delete removes rec by ID. Deleting a missing record is not an error.
func (h *History) Delete(ctx context.Context, rec *models.CallRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return h.db.Update(func(txn *badger.Txn) error {
		prev, err := getStored(txn, rec.ID)
		if err != nil || prev == nil {
			return err
		}
		if err := deleteIndexes(txn, prev); err != nil {
			return err
		}
		if err := txn.Delete(callKey(rec.ID)); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		return nil
	})
}

// Get returns the record with the given ID, or nil when it does not exist.
func (h *History) Get(_ context.Context, id string) (*models.CallRecord, error) {
	var out *models.CallRecord
	err := h.db.View(func(txn *badger.Txn) error {
		stored, err := getStored(txn, id)
		if err != nil || stored == nil {
			return err
		}
		out = &stored.Record
		return nil
	})
	return out, err
}

// FindRecordsAddedAfter returns every record whose AddedAt is strictly after
// t, oldest first, tagged with local provenance.
func (h *History) FindRecordsAddedAfter(ctx context.Context, t time.Time) ([]*models.CallRecord, error) {
	var records []*models.CallRecord

	err := h.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(addedKeyPrefix)
		// ';' sorts after ':', so the seek skips entries stamped exactly t.
		start := []byte(addedKeyPrefix + timeKey(t) + ";")
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := recordFromIndex(txn, it.Item())
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			rec.Provenance = models.ProvenanceLocal
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find records added after %s: %w", t.Format(time.RFC3339), err)
	}
	return records, nil
}

// Recent returns up to limit records, newest start time first.
func (h *History) Recent(ctx context.Context, limit int) ([]*models.CallRecord, error) {
	return h.scanReverse(ctx, []byte(startKeyPrefix), limit)
}

// ByPeer returns up to limit records written under address, newest first.
func (h *History) ByPeer(ctx context.Context, address string, limit int) ([]*models.CallRecord, error) {
	return h.scanReverse(ctx, peerPrefix(address), limit)
}

// FireHistoryChanged signals that reconciliation changed the stored history.
func (h *History) FireHistoryChanged(ctx context.Context) error {
	if h.changes == nil {
		return nil
	}
	return h.changes.PublishHistoryChanged(ctx)
}

func (h *History) scanReverse(ctx context.Context, prefix []byte, limit int) ([]*models.CallRecord, error) {
	var records []*models.CallRecord

	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := recordFromIndex(txn, it.Item())
			if err != nil {
				return err
			}
			if rec != nil {
				records = append(records, rec)
			}
		}
		return nil
	})
	return records, err
}

func recordFromIndex(txn *badger.Txn, item *badger.Item) (*models.CallRecord, error) {
	var id string
	if err := item.Value(func(val []byte) error {
		id = string(val)
		return nil
	}); err != nil {
		return nil, err
	}
	stored, err := getStored(txn, id)
	if err != nil || stored == nil {
		return nil, err
	}
	return &stored.Record, nil
}

func getStored(txn *badger.Txn, id string) (*storedRecord, error) {
	item, err := txn.Get(callKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}

	var stored storedRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	}); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &stored, nil
}

func deleteIndexes(txn *badger.Txn, stored *storedRecord) error {
	for _, key := range indexKeys(stored) {
		if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete index: %w", err)
		}
	}
	return nil
}

func indexKeys(stored *storedRecord) [][]byte {
	r := &stored.Record
	return [][]byte{
		[]byte(addedKeyPrefix + timeKey(r.AddedAt) + ":" + r.ID),
		[]byte(startKeyPrefix + timeKey(r.StartTime) + ":" + r.ID),
		append(peerPrefix(stored.PeerAddress), []byte(timeKey(r.StartTime)+":"+r.ID)...),
	}
}

func callKey(id string) []byte {
	return []byte(callKeyPrefix + id)
}

func peerPrefix(address string) []byte {
	return []byte(peerKeyPrefix + address + "\x00")
}

// timeKey renders t as fixed-width nanoseconds so keys sort chronologically.
func timeKey(t time.Time) string {
	if t.IsZero() || t.UnixNano() < 0 {
		return fmt.Sprintf("%020d", 0)
	}
	return fmt.Sprintf("%020d", t.UnixNano())
}
