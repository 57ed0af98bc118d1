// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/ARUOHTA/cram-books-mcp/services/cram/storage/badger"
)

// KeyPrefix namespaces confirmation records in a shared DB.
const KeyPrefix = "confirm/v1/"

// BadgerStore implements TokenStore on BadgerDB with native TTL.
//
// # Description
//
// Expiry is enforced by Badger: an expired key reads as ErrKeyNotFound,
// which the store reports as ErrNotFound. Consume reads and deletes in one
// transaction; two concurrent consumers of one key conflict at commit and
// the loser sees ErrNotFound.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db     *badgerstore.DB
	logger *slog.Logger
}

// NewBadgerStore wraps an open DB. The caller owns the DB lifecycle.
func NewBadgerStore(db *badgerstore.DB, logger *slog.Logger) *BadgerStore {
	if db == nil {
		panic("NewBadgerStore: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger}
}

// Put implements TokenStore.
func (s *BadgerStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.SetEntry(dgbadger.NewEntry(storeKey(key), value).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("token store put: %w", err)
	}
	return nil
}

// Consume implements TokenStore.
func (s *BadgerStore) Consume(ctx context.Context, key string, fn func(value []byte) error) error {
	k := storeKey(key)
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy token: %w", err)
		}
		if err := fn(value); err != nil {
			return err
		}
		return txn.Delete(k)
	})
	if errors.Is(err, dgbadger.ErrConflict) {
		s.logger.Debug("token consumed concurrently", slog.String("key", key))
		return ErrNotFound
	}
	return err
}

func storeKey(key string) []byte {
	return []byte(KeyPrefix + key)
}
