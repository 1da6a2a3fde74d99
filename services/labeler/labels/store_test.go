// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package labels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaucomalab/progression/services/labeler/datatypes"
	"github.com/glaucomalab/progression/services/labeler/sheets"
)

// fakeRemote is an in-memory sheet: row 1 is the header, data rows
// follow. Identity reads return columns A:D of every row.
type fakeRemote struct {
	rows    [][]string
	err     error
	appends int
	updates int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: [][]string{datatypes.SheetHeader()}}
}

func (f *fakeRemote) ReadRange(_ context.Context, rangeA1 string) ([][]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if rangeA1 == sheets.IdentityRange("labels_spreadsheet") {
		out := make([][]string, len(f.rows))
		for i, row := range f.rows {
			if len(row) > 4 {
				row = row[:4]
			}
			out[i] = row
		}
		return out, nil
	}
	// Single-row range "sheet!A{n}:AB{n}".
	var n int
	if _, err := fmt.Sscanf(rangeA1, "labels_spreadsheet!A%d:", &n); err != nil || n < 1 || n > len(f.rows) {
		return nil, fmt.Errorf("bad range %q", rangeA1)
	}
	return [][]string{f.rows[n-1]}, nil
}

func (f *fakeRemote) AppendRow(_ context.Context, _ string, row []interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.appends++
	f.rows = append(f.rows, stringify(row))
	return nil
}

func (f *fakeRemote) UpdateRange(_ context.Context, rangeA1 string, rows [][]interface{}) error {
	if f.err != nil {
		return f.err
	}
	var n int
	if _, err := fmt.Sscanf(rangeA1, "labels_spreadsheet!A%d:", &n); err != nil || n < 1 || n > len(f.rows) {
		return fmt.Errorf("bad range %q", rangeA1)
	}
	f.updates++
	f.rows[n-1] = stringify(rows[0])
	return nil
}

func stringify(row []interface{}) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = fmt.Sprintf("%v", cell)
	}
	return out
}

func newTestStore(t *testing.T, remote RemoteTable) *Store {
	t.Helper()
	store, err := New(t.TempDir(), remote, "labels_spreadsheet", nil)
	require.NoError(t, err)
	store.now = func() time.Time {
		return time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	}
	return store
}

func testRecord(t *testing.T, patient, eye, idx string) *datatypes.AnnotationRecord {
	t.Helper()
	key, err := datatypes.NewRecordKey("drsmith", patient, eye, idx)
	require.NoError(t, err)
	return &datatypes.AnnotationRecord{
		Key:    key,
		Labels: datatypes.LabelSet{Normality: "Abnormal", Reliability: "Reliable"},
		Source: datatypes.SourceMeta{PDFFilename: patient + ".pdf"},
	}
}

func TestSaveWritesLocalAndAppendsRemote(t *testing.T) {
	remote := newFakeRemote()
	store := newTestStore(t, remote)
	rec := testRecord(t, "P001", "OD", "1")

	require.NoError(t, store.Save(context.Background(), rec))

	assert.Equal(t, "2025-06-01, 10:30:00", rec.LastUpdated)
	assert.FileExists(t, filepath.Join(store.dir, "drsmith_P001_OD_1.json"))
	assert.Equal(t, 1, remote.appends)
	assert.Equal(t, 0, remote.updates)
}

func TestSaveUpsertsExistingRemoteRow(t *testing.T) {
	remote := newFakeRemote()
	store := newTestStore(t, remote)
	rec := testRecord(t, "P001", "OD", "1")

	require.NoError(t, store.Save(context.Background(), rec))

	rec.Comment = "revised after review"
	require.NoError(t, store.Save(context.Background(), rec))

	assert.Equal(t, 1, remote.appends, "second save must update in place, not append")
	assert.Equal(t, 1, remote.updates)
	require.Len(t, remote.rows, 2)
	assert.Equal(t, "revised after review", remote.rows[1][24])
}

func TestSaveSucceedsWhenRemoteDown(t *testing.T) {
	remote := newFakeRemote()
	remote.err = sheets.ErrUnavailable
	store := newTestStore(t, remote)
	rec := testRecord(t, "P001", "OD", "1")

	require.NoError(t, store.Save(context.Background(), rec))
	assert.FileExists(t, filepath.Join(store.dir, "drsmith_P001_OD_1.json"))
}

func TestLoadPrefersLocalFile(t *testing.T) {
	remote := newFakeRemote()
	store := newTestStore(t, remote)
	rec := testRecord(t, "P001", "OD", "1")
	require.NoError(t, store.Save(context.Background(), rec))

	// Poison the remote so a fallthrough would fail the test.
	remote.err = sheets.ErrUnavailable

	got, found, err := store.Load(context.Background(), rec.Key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.Labels, got.Labels)
}

func TestLoadFallsBackToRemote(t *testing.T) {
	remote := newFakeRemote()
	store := newTestStore(t, remote)
	rec := testRecord(t, "P001", "OD", "1")
	require.NoError(t, store.Save(context.Background(), rec))

	// Drop the local copy; only the sheet row remains.
	require.NoError(t, os.Remove(filepath.Join(store.dir, rec.Key.FileName())))

	got, found, err := store.Load(context.Background(), rec.Key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.Key, got.Key)
	assert.Equal(t, "Abnormal", got.Labels.Normality)
}

func TestLoadCorruptLocalFileTreatedAsAbsent(t *testing.T) {
	remote := newFakeRemote()
	store := newTestStore(t, remote)
	rec := testRecord(t, "P001", "OD", "1")
	require.NoError(t, store.Save(context.Background(), rec))

	path := filepath.Join(store.dir, rec.Key.FileName())
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	got, found, err := store.Load(context.Background(), rec.Key)
	require.NoError(t, err)
	require.True(t, found, "corrupt local file should fall through to the remote row")
	assert.Equal(t, rec.Key, got.Key)
}

func TestLoadNotFoundWhileRemoteDown(t *testing.T) {
	remote := newFakeRemote()
	remote.err = sheets.ErrUnavailable
	store := newTestStore(t, remote)

	key, err := datatypes.NewRecordKey("drsmith", "P404", "OD", "1")
	require.NoError(t, err)

	_, found, err := store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListForPatient(t *testing.T) {
	store := newTestStore(t, nil)
	for _, spec := range []struct{ patient, eye, idx string }{
		{"P001", "OD", "1"},
		{"P001", "OS", "2"},
		{"P002", "OD", "1"},
	} {
		require.NoError(t, store.Save(context.Background(), testRecord(t, spec.patient, spec.eye, spec.idx)))
	}

	keys, err := store.ListForPatient("drsmith", "P001")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	for _, key := range keys {
		assert.Equal(t, "P001", key.Patient)
	}
}

func TestListForPatientPrefixIsExact(t *testing.T) {
	// Records for patient "P1" must not leak into listings for "P10".
	store := newTestStore(t, nil)
	require.NoError(t, store.Save(context.Background(), testRecord(t, "P10", "OD", "1")))

	keys, err := store.ListForPatient("drsmith", "P1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDeleteForPatientIdempotent(t *testing.T) {
	store := newTestStore(t, nil)
	require.NoError(t, store.Save(context.Background(), testRecord(t, "P001", "OD", "1")))
	require.NoError(t, store.Save(context.Background(), testRecord(t, "P001", "OS", "1")))

	removed, err := store.DeleteForPatient("drsmith", "P001")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = store.DeleteForPatient("drsmith", "P001")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestLabeledPairsMergesLocalAndRemote(t *testing.T) {
	remote := newFakeRemote()
	store := newTestStore(t, remote)

	// Local-only record.
	require.NoError(t, store.Save(context.Background(), testRecord(t, "P001", "OD", "1")))
	// Remote-only record, as another machine would have written it.
	other := testRecord(t, "P002", "OS", "2")
	require.NoError(t, remote.AppendRow(context.Background(), "", other.SheetRow()))
	// Another specialist's remote row must be excluded.
	remote.rows = append(remote.rows, []string{"drjones", "P003", "OD", "1"})

	pairs, err := store.LabeledPairs(context.Background(), "drsmith")
	require.NoError(t, err)

	require.Len(t, pairs, 2)
	assert.Contains(t, pairs["P001"], datatypes.FieldPair{Eye: "OD", FieldIndex: "1"})
	assert.Contains(t, pairs["P002"], datatypes.FieldPair{Eye: "OS", FieldIndex: "2"})
	assert.NotContains(t, pairs, "P003")
}

func TestLabeledPairsWithUnderscoredPatientID(t *testing.T) {
	store := newTestStore(t, nil)
	require.NoError(t, store.Save(context.Background(), testRecord(t, "site_a_004", "OD", "3")))

	pairs, err := store.LabeledPairs(context.Background(), "drsmith")
	require.NoError(t, err)
	assert.Contains(t, pairs, "site_a_004")
}
