// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	run/<start unix nanos, 20 digits>/<run id>  -> Report JSON
//	id/<run id>                                 -> run key
const (
	runPrefix = "run/"
	idPrefix  = "id/"
)

// ErrNotFound is returned by HistoryStore.Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// HistoryConfig configures a HistoryStore.
type HistoryConfig struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the history in memory only. Tests use it.
	InMemory bool

	// Logger receives badger's own messages. Nil silences them.
	Logger *slog.Logger
}

// HistoryStore keeps every report in a local BadgerDB, newest first on
// listing.
//
// Thread Safety: Safe for concurrent use.
type HistoryStore struct {
	db *badger.DB
}

// badgerLogger adapts slog to badger's Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenHistory opens or creates the history database.
func OpenHistory(cfg HistoryConfig) (*HistoryStore, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("history: dir is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("history: create dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Name implements Sink.
func (h *HistoryStore) Name() string { return "history" }

// Publish implements Sink by storing r. A report with the same run id
// replaces the earlier one.
func (h *HistoryStore) Publish(_ context.Context, r Report) error {
	if r.RunID == "" {
		return errors.New("history: report has no run id")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("history: encode %s: %w", r.RunID, err)
	}
	key := fmt.Appendf(nil, "%s%020d/%s", runPrefix, r.Start.UnixNano(), r.RunID)

	err = h.db.Update(func(txn *badger.Txn) error {
		idKey := []byte(idPrefix + r.RunID)
		if item, err := txn.Get(idKey); err == nil {
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(old); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey, key)
	})
	if err != nil {
		return fmt.Errorf("history: store %s: %w", r.RunID, err)
	}
	return nil
}

// Get returns the report of runID or ErrNotFound.
func (h *HistoryStore) Get(runID string) (Report, error) {
	var r Report
	err := h.db.View(func(txn *badger.Txn) error {
		ref, err := txn.Get([]byte(idPrefix + runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := ref.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &r) })
	})
	if err != nil {
		return Report{}, fmt.Errorf("history: get %s: %w", runID, err)
	}
	return r, nil
}

// List returns up to limit reports, newest start first. limit <= 0 means
// all.
func (h *HistoryStore) List(limit int) ([]Report, error) {
	var out []Report
	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= seek.
		for it.Seek(append([]byte(runPrefix), 0xff)); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var r Report
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &r) }); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// Close implements Sink.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}
