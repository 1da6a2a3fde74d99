// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sheets

import (
	"context"
	"fmt"

	"github.com/glaucomalab/progression/pkg/validation"
	"github.com/glaucomalab/progression/services/labeler/datatypes"
)

// RangeReader is the read half of the tabular store, satisfied by
// *Client and by test fakes.
type RangeReader interface {
	ReadRange(ctx context.Context, rangeA1 string) ([][]string, error)
}

// ColumnLetter converts a 1-indexed column number to its A1 letter
// ("A", ..., "Z", "AA", "AB").
func ColumnLetter(n int) string {
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+n%26)) + s
		n /= 26
	}
	return s
}

// RowRange returns the A1 range covering one full record row, e.g.
// "labels_spreadsheet!A7:AB7".
func RowRange(sheetName string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", sheetName, row, ColumnLetter(datatypes.SheetColumnCount), row)
}

// IdentityRange returns the A1 range covering the four identity columns
// of every row in the sheet.
func IdentityRange(sheetName string) string {
	return fmt.Sprintf("%s!A:D", sheetName)
}

// AppendRange returns the table range the append call anchors to.
func AppendRange(sheetName string) string {
	return fmt.Sprintf("%s!A1", sheetName)
}

// FindRow scans the identity columns for the row matching key and
// returns its 1-indexed row number.
//
// Cells are compared after the same normalization the key constructor
// applies, so "R" matches "OD" and "3.0" matches "3". The header row is
// never matched. Returns found=false when no row matches.
func FindRow(ctx context.Context, r RangeReader, sheetName string, key datatypes.RecordKey) (row int, found bool, err error) {
	rows, err := r.ReadRange(ctx, IdentityRange(sheetName))
	if err != nil {
		return 0, false, err
	}

	for i, cells := range rows {
		if i == 0 || len(cells) < 4 {
			continue
		}
		if cells[0] != key.Specialist || cells[1] != key.Patient {
			continue
		}
		eye, err := validation.NormalizeEye(cells[2])
		if err != nil || eye != key.Eye {
			continue
		}
		idx, err := validation.CanonicalFieldIndex(cells[3])
		if err != nil || idx != key.FieldIndex {
			continue
		}
		return i + 1, true, nil
	}
	return 0, false, nil
}
