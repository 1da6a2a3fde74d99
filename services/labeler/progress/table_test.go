// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSheet is an in-memory three-column progress sheet with a header
// row.
type fakeSheet struct {
	rows [][]string
	err  error
}

func newFakeSheet() *fakeSheet {
	return &fakeSheet{rows: [][]string{{"username", "completed_patients", "last_patient"}}}
}

func (f *fakeSheet) ReadRange(_ context.Context, _ string) ([][]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeSheet) AppendRow(_ context.Context, _ string, row []interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, toStrings(row))
	return nil
}

func (f *fakeSheet) UpdateRange(_ context.Context, rangeA1 string, rows [][]interface{}) error {
	if f.err != nil {
		return f.err
	}
	var n int
	if _, err := fmt.Sscanf(rangeA1, "progress_tracking!A%d:", &n); err != nil || n < 1 || n > len(f.rows) {
		return fmt.Errorf("bad range %q", rangeA1)
	}
	f.rows[n-1] = toStrings(rows[0])
	return nil
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = fmt.Sprintf("%v", c)
	}
	return out
}

func TestSheetTableUpsertAppendsThenUpdates(t *testing.T) {
	sheet := newFakeSheet()
	table := NewSheetTable(sheet, "progress_tracking")
	ctx := context.Background()

	require.NoError(t, table.Upsert(ctx, Row{
		Specialist: "drsmith",
		Completed:  []string{"P002", "P001"},
	}))
	require.Len(t, sheet.rows, 2)
	assert.Equal(t, "P001;P002", sheet.rows[1][1], "completed list must be sorted and joined")

	require.NoError(t, table.Upsert(ctx, Row{
		Specialist:  "drsmith",
		Completed:   []string{"P001", "P002", "P003"},
		LastPatient: "P003",
	}))
	require.Len(t, sheet.rows, 2, "second upsert must overwrite in place")
	assert.Equal(t, "P001;P002;P003", sheet.rows[1][1])
	assert.Equal(t, "P003", sheet.rows[1][2])
}

func TestSheetTableRowsDecoding(t *testing.T) {
	sheet := newFakeSheet()
	sheet.rows = append(sheet.rows,
		[]string{"drsmith", "P002;P001", "P002"},
		[]string{"drjones", "", ""},
		[]string{"", "", ""}, // cleared row
		[]string{"drlee"},    // short row from the values API
	)

	rows, err := NewSheetTable(sheet, "progress_tracking").Rows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"P001", "P002"}, rows[0].Completed)
	assert.Equal(t, "P002", rows[0].LastPatient)
	assert.Empty(t, rows[1].Completed)
	assert.Equal(t, "drlee", rows[2].Specialist)
}

func TestSheetTableDeleteClearsRow(t *testing.T) {
	sheet := newFakeSheet()
	table := NewSheetTable(sheet, "progress_tracking")
	ctx := context.Background()

	require.NoError(t, table.Upsert(ctx, Row{Specialist: "drsmith", Completed: []string{"P001"}}))
	require.NoError(t, table.Delete(ctx, "drsmith"))

	rows, err := table.Rows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Deleting again is a no-op.
	require.NoError(t, table.Delete(ctx, "drsmith"))
}

func TestRowAddIdempotentAndSorted(t *testing.T) {
	row := Row{}
	row.Add("P002")
	row.Add("P001")
	row.Add("P002")
	assert.Equal(t, []string{"P001", "P002"}, row.Completed)
	assert.True(t, row.Contains("P001"))
	assert.False(t, row.Contains("P003"))
}

func TestBadgerTableRoundTrip(t *testing.T) {
	table, err := OpenInMemoryBadgerTable()
	require.NoError(t, err)
	defer table.Close()
	ctx := context.Background()

	require.NoError(t, table.Upsert(ctx, Row{
		Specialist:  "drsmith",
		Completed:   []string{"P002", "P001"},
		LastPatient: "P002",
	}))
	require.NoError(t, table.Upsert(ctx, Row{Specialist: "drjones"}))

	rows, err := table.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "drjones", rows[0].Specialist)
	assert.Equal(t, []string{"P001", "P002"}, rows[1].Completed)

	require.NoError(t, table.Delete(ctx, "drjones"))
	require.NoError(t, table.Delete(ctx, "drjones"))

	rows, err = table.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
