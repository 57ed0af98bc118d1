// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps BadgerDB for CRAM's small embedded stores.
//
// The wrapper owns open options, context-aware transaction helpers and the
// value-log GC loop. Callers work with raw badger transactions inside
// WithTxn and WithReadTxn.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// DefaultGCInterval is how often RunGC attempts a value-log collection.
const DefaultGCInterval = 10 * time.Minute

// gcDiscardRatio is passed to RunValueLogGC.
const gcDiscardRatio = 0.5

// Config describes how to open a DB.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory; nothing touches disk.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives open and GC diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns an on-disk configuration. Path must be set before
// opening.
func DefaultConfig() Config {
	return Config{SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests and ephemeral stores.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an open BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger
	inMem  bool
}

// OpenDB opens the database described by cfg.
//
// # Inputs
//
//   - cfg: Open configuration. Path is required unless InMemory.
//
// # Outputs
//
//   - *DB: The open database. Close it when done.
//   - error: Non-nil if the configuration is invalid or Badger fails.
func OpenDB(cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts dgbadger.Options
	switch {
	case cfg.InMemory:
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	case cfg.Path != "":
		opts = dgbadger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	default:
		return nil, errors.New("OpenDB: path is required for an on-disk database")
	}
	opts = opts.WithLogger(nil)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("OpenDB: %w", err)
	}
	logger.Debug("badger opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
	)
	return &DB{db: db, logger: logger, inMem: cfg.InMemory}, nil
}

// WithTxn runs fn in a read-write transaction and commits it when fn
// returns nil.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// RunGC collects the value log every interval until ctx is done.
//
// In-memory databases have no value log and return immediately.
func (d *DB) RunGC(ctx context.Context, interval time.Duration) {
	if d.inMem {
		return
	}
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				err := d.db.RunValueLogGC(gcDiscardRatio)
				if err != nil {
					if !errors.Is(err, dgbadger.ErrNoRewrite) {
						d.logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
					}
					break
				}
			}
		}
	}
}

// Raw returns the underlying handle for tools that iterate the keyspace.
func (d *DB) Raw() *dgbadger.DB { return d.db }

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
