// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ignore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// recordSchema is bumped when the stored record format changes.
const recordSchema uint16 = 1

// keyPrefix namespaces ignore records in the database.
var keyPrefix = []byte("ignore/rule/")

// storedRecord is the on-disk form of a Record.
type storedRecord struct {
	Schema uint16 `msgpack:"schema"`
	Record `msgpack:",inline"`
}

// BadgerConfig configures the badger-backed store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in memory. Used by tests.
	InMemory bool

	// SyncWrites makes every Put durable before it returns.
	SyncWrites bool

	// Logger receives badger's internal log lines. Nil silences them.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns the configuration for a persistent store.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns the configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
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
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is a Store backed by BadgerDB. Records are msgpack encoded
// under one key per rule, so Put is naturally idempotent.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (creating if needed) a badger store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent ignore store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create ignore store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ignore store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func ruleKey(ruleID string) []byte {
	key := make([]byte, 0, len(keyPrefix)+len(ruleID))
	key = append(key, keyPrefix...)
	return append(key, ruleID...)
}

// Load returns every stored record.
func (s *BadgerStore) Load(ctx context.Context) ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec storedRecord
				if err := msgpack.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}
				if rec.Schema != recordSchema {
					return fmt.Errorf("decode %s: unsupported schema %d", item.Key(), rec.Schema)
				}
				out = append(out, rec.Record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load ignored rules: %w", err)
	}
	return out, nil
}

// Put stores rec, replacing any record for the same rule.
func (s *BadgerStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := msgpack.Marshal(storedRecord{Schema: recordSchema, Record: rec})
	if err != nil {
		return fmt.Errorf("encode ignored rule %s: %w", rec.RuleID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ruleKey(rec.RuleID), val)
	})
}

// Clear deletes every record.
func (s *BadgerStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropPrefix(keyPrefix)
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
