// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package progress tracks which roster patients each specialist has
// finished labeling. Completion state lives in a small three-column
// table (specialist, completed patients, last patient) with
// interchangeable backends: the shared remote sheet or a local BadgerDB.
package progress

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/glaucomalab/progression/services/labeler/sheets"
)

// CompletedSeparator joins the completed-patient list into a single
// cell in the sheet backend.
const CompletedSeparator = ";"

// Row is one specialist's completion state. Completed is kept sorted;
// mutate it only through the Tracker.
type Row struct {
	Specialist  string   `json:"specialist"`
	Completed   []string `json:"completed"`
	LastPatient string   `json:"last_patient"`
}

// Contains reports whether patient is already in the completed set.
func (r *Row) Contains(patient string) bool {
	i := sort.SearchStrings(r.Completed, patient)
	return i < len(r.Completed) && r.Completed[i] == patient
}

// Add inserts patient into the completed set, keeping it sorted.
// Adding an existing patient is a no-op.
func (r *Row) Add(patient string) {
	if r.Contains(patient) {
		return
	}
	r.Completed = append(r.Completed, patient)
	sort.Strings(r.Completed)
}

// Table is a completion-state backend.
type Table interface {
	// Rows returns every specialist's row.
	Rows(ctx context.Context) ([]Row, error)
	// Upsert overwrites the row for row.Specialist, creating it if absent.
	Upsert(ctx context.Context, row Row) error
	// Delete removes the row for specialist. Deleting a missing row is
	// not an error.
	Delete(ctx context.Context, specialist string) error
}

// remoteTable is the slice of the sheet client this backend needs.
type remoteTable interface {
	ReadRange(ctx context.Context, rangeA1 string) ([][]string, error)
	AppendRow(ctx context.Context, rangeA1 string, row []interface{}) error
	UpdateRange(ctx context.Context, rangeA1 string, rows [][]interface{}) error
}

// SheetTable stores completion state in the progress sheet: column A is
// the specialist, column B the separator-joined completed list, column C
// the last patient worked on.
type SheetTable struct {
	remote    remoteTable
	sheetName string
}

// NewSheetTable creates a sheet-backed Table.
func NewSheetTable(remote remoteTable, sheetName string) *SheetTable {
	return &SheetTable{remote: remote, sheetName: sheetName}
}

func (t *SheetTable) dataRange() string {
	return fmt.Sprintf("%s!A:C", t.sheetName)
}

func (t *SheetTable) rowRange(row int) string {
	return fmt.Sprintf("%s!A%d:C%d", t.sheetName, row, row)
}

// Rows reads the whole progress sheet. The header row and cleared rows
// (blank specialist) are skipped.
func (t *SheetTable) Rows(ctx context.Context) ([]Row, error) {
	cells, err := t.remote.ReadRange(ctx, t.dataRange())
	if err != nil {
		return nil, err
	}

	var rows []Row
	for i, c := range cells {
		if i == 0 || len(c) == 0 || c[0] == "" {
			continue
		}
		rows = append(rows, decodeSheetRow(c))
	}
	return rows, nil
}

func decodeSheetRow(c []string) Row {
	row := Row{Specialist: c[0]}
	if len(c) > 1 && c[1] != "" {
		for _, p := range strings.Split(c[1], CompletedSeparator) {
			if p = strings.TrimSpace(p); p != "" {
				row.Completed = append(row.Completed, p)
			}
		}
		sort.Strings(row.Completed)
	}
	if len(c) > 2 {
		row.LastPatient = c[2]
	}
	return row
}

func encodeSheetRow(row Row) []interface{} {
	return []interface{}{
		row.Specialist,
		strings.Join(row.Completed, CompletedSeparator),
		row.LastPatient,
	}
}

// Upsert overwrites the whole row in place, appending when the
// specialist has no row yet.
func (t *SheetTable) Upsert(ctx context.Context, row Row) error {
	n, found, err := t.find(ctx, row.Specialist)
	if err != nil {
		return err
	}

	sort.Strings(row.Completed)
	if found {
		return t.remote.UpdateRange(ctx, t.rowRange(n), [][]interface{}{encodeSheetRow(row)})
	}
	return t.remote.AppendRow(ctx, sheets.AppendRange(t.sheetName), encodeSheetRow(row))
}

// Delete clears the specialist's row. The Sheets values surface cannot
// remove a row outright, so the cells are blanked and Rows skips them.
func (t *SheetTable) Delete(ctx context.Context, specialist string) error {
	n, found, err := t.find(ctx, specialist)
	if err != nil || !found {
		return err
	}
	return t.remote.UpdateRange(ctx, t.rowRange(n), [][]interface{}{{"", "", ""}})
}

func (t *SheetTable) find(ctx context.Context, specialist string) (int, bool, error) {
	cells, err := t.remote.ReadRange(ctx, t.dataRange())
	if err != nil {
		return 0, false, err
	}
	for i, c := range cells {
		if i == 0 || len(c) == 0 {
			continue
		}
		if c[0] == specialist {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}
