// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// token_dump inspects the confirmation token store of the CRAM service.
//
// Pending update and delete previews live in BadgerDB until confirmed or
// expired. This tool opens the store read-only and prints each pending
// record: kind, token, target, TTL remaining and payload size.
//
// Usage:
//
//	token_dump [--path /path/to/token/store]
//
// If --path is not given, reads CRAM_CONFIRM_STORE_PATH from the
// environment, falling back to ~/.cram/tokens/.
//
// Exit codes:
//
//	0 - success (including an empty store)
//	1 - error opening or reading the database
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/confirm"
)

func main() {
	pathFlag := flag.String("path", "", "Path to the token BadgerDB directory (overrides CRAM_CONFIRM_STORE_PATH)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("CRAM_CONFIRM_STORE_PATH")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".cram", "tokens")
	}

	fmt.Printf("Token store path: %s\n", dbPath)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Store directory does not exist. The service runs with an in-memory store or has not started yet.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithReadOnly(true)
	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	entries, err := collect(db)
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}
	render(os.Stdout, entries, time.Now())
}

// entry is one pending confirmation.
type entry struct {
	key       string
	kind      string
	token     string
	record    confirm.Record
	expiresAt time.Time
	hasExpiry bool
	rawSize   int
	decodeErr error
}

// collect reads every record under confirm.KeyPrefix.
func collect(db *dgbadger.DB) ([]entry, error) {
	var entries []entry
	err := db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(confirm.KeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			e := entry{key: string(item.Key())}
			e.kind, e.token, _ = strings.Cut(strings.TrimPrefix(e.key, confirm.KeyPrefix), ":")

			// ExpiresAt is Unix seconds, 0 = no expiry.
			if exp := item.ExpiresAt(); exp > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(exp), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)
			if err := json.Unmarshal(raw, &e.record); err != nil {
				e.decodeErr = fmt.Errorf("json decode: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// render prints entries relative to now.
func render(w io.Writer, entries []entry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "\nNo pending confirmations.")
		return
	}

	fmt.Fprintf(w, "\nFound %d pending confirmation%s:\n", len(entries), plural(len(entries)))
	fmt.Fprintln(w, strings.Repeat("─", 80))

	for i, e := range entries {
		fmt.Fprintf(w, "\n[%d] Kind:    %s\n", i+1, e.kind)
		fmt.Fprintf(w, "    Token:   %s\n", e.token)

		if e.hasExpiry {
			remaining := e.expiresAt.Sub(now)
			if remaining < 0 {
				fmt.Fprintf(w, "    TTL:     EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Fprintf(w, "    TTL:     %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Fprintf(w, "    TTL:     no expiry set\n")
		}

		if e.decodeErr != nil {
			fmt.Fprintf(w, "    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}
		fmt.Fprintf(w, "    Target:  %s\n", e.record.Subject)
		fmt.Fprintf(w, "    State:   %s\n", e.record.State)
		fmt.Fprintf(w, "    Payload: %d bytes\n", len(e.record.Payload))
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("─", 80))
	fmt.Fprintf(w, "Summary: %d pending\n", len(entries))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "token_dump: "+format+"\n", args...)
	os.Exit(1)
}
