// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// rowKeyPrefix namespaces progress rows inside the shared database.
const rowKeyPrefix = "progress/"

// BadgerTable stores completion state in a local BadgerDB, one JSON row
// per specialist. It backs deployments that run without the shared
// sheet.
type BadgerTable struct {
	db *badger.DB
}

// NewBadgerTable wraps an already-open database.
func NewBadgerTable(db *badger.DB) *BadgerTable {
	return &BadgerTable{db: db}
}

// OpenBadgerTable opens (creating if needed) a database at path and
// returns a table over it. Close releases the database.
func OpenBadgerTable(path string) (*BadgerTable, error) {
	if path == "" {
		return nil, errors.New("progress database path must not be empty")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create progress database directory %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open progress database: %w", err)
	}
	return &BadgerTable{db: db}, nil
}

// OpenInMemoryBadgerTable opens a throwaway in-memory table for tests.
func OpenInMemoryBadgerTable() (*BadgerTable, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory progress database: %w", err)
	}
	return &BadgerTable{db: db}, nil
}

// Close closes the underlying database.
func (t *BadgerTable) Close() error {
	return t.db.Close()
}

func rowKey(specialist string) []byte {
	return []byte(rowKeyPrefix + specialist)
}

// Rows returns every stored row, sorted by specialist.
func (t *BadgerTable) Rows(_ context.Context) ([]Row, error) {
	var rows []Row
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(rowKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var row Row
				if err := json.Unmarshal(val, &row); err != nil {
					return fmt.Errorf("decode progress row %s: %w", it.Item().Key(), err)
				}
				rows = append(rows, row)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Specialist < rows[j].Specialist })
	return rows, nil
}

// Upsert overwrites the specialist's row.
func (t *BadgerTable) Upsert(_ context.Context, row Row) error {
	sort.Strings(row.Completed)
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode progress row: %w", err)
	}
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rowKey(row.Specialist), data)
	})
}

// Delete removes the specialist's row; missing rows are ignored.
func (t *BadgerTable) Delete(_ context.Context, specialist string) error {
	return t.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(rowKey(specialist))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
