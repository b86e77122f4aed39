// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/callsync/internal/config"
	"github.com/tomtom215/callsync/internal/logging"
)

const kvKeyPrefix = "kv:"

// gcDiscardRatio is the value log discard ratio used by RunGC.
const gcDiscardRatio = 0.5

// DB wraps the badger database shared by the history store and the
// watermark KV.
type DB struct {
	db *badger.DB
}

// Open opens (or creates) the badger database described by cfg.
func Open(cfg config.StoreConfig) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = badgerLogger{}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("Call history store opened")
	return &DB{db: db}, nil
}

// Close flushes and closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Get reads a scalar setting. ok is false when the key has never been set.
func (d *DB) Get(_ context.Context, key string) (value string, ok bool, err error) {
	err = d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(kvKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		ok = true
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	return value, ok, err
}

// Set writes a scalar setting.
func (d *DB) Set(_ context.Context, key, value string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(kvKeyPrefix+key), []byte(value))
	})
}

// RunGC reclaims value log space until badger reports nothing to rewrite.
func (d *DB) RunGC() error {
	for {
		err := d.db.RunValueLogGC(gcDiscardRatio)
		switch {
		case err == nil:
			continue
		case errors.Is(err, badger.ErrNoRewrite),
			errors.Is(err, badger.ErrGCInMemoryMode),
			errors.Is(err, badger.ErrRejected):
			return nil
		default:
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// badgerLogger routes badger's internal logging into zerolog. Badger's info
// output is routine compaction noise, so it is logged at debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Str("component", "badger").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Str("component", "badger").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Trace().Str("component", "badger").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
