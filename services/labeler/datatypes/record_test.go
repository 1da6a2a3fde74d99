// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordKeyNormalizes(t *testing.T) {
	key, err := NewRecordKey("117", "P001", "r", "3.0")
	require.NoError(t, err)
	assert.Equal(t, "OD", key.Eye)
	assert.Equal(t, "3", key.FieldIndex)
	assert.Equal(t, "117_P001_OD_3.json", key.FileName())
}

func TestNewRecordKeyRejectsBadIdentity(t *testing.T) {
	tests := []struct {
		name                               string
		specialist, patient, eye, fieldIdx string
	}{
		{"empty specialist", "", "P001", "OD", "1"},
		{"path traversal patient", "117", "../P001", "OD", "1"},
		{"bad eye", "117", "P001", "X", "1"},
		{"zero field index", "117", "P001", "OD", "0"},
		{"non-numeric field index", "117", "P001", "OD", "first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecordKey(tt.specialist, tt.patient, tt.eye, tt.fieldIdx)
			assert.Error(t, err)
		})
	}
}

func TestSheetRowRoundTrip(t *testing.T) {
	key, err := NewRecordKey("117", "P001", "OD", "1")
	require.NoError(t, err)

	rec := &AnnotationRecord{
		Key: key,
		Labels: LabelSet{
			Normality:   "Abnormal",
			Reliability: "Reliable",
			GDefect1:    "Nasal Step",
			GPosition1:  "Superior",
			Artifact1:   "Lens Rim",
		},
		Source: SourceMeta{
			PDFFilename:   "VF_P001_OD_1.pdf",
			OPVFilename:   "opv_24-2.csv",
			ExamDateShift: "2021-03-14",
			Age:           "67",
		},
		Comment:        "early superior nasal step",
		SpecialistName: "Dr. Example",
		DataSource:     "drive",
	}
	rec.Touch(time.Date(2025, 9, 1, 10, 30, 0, 0, time.UTC))

	row := rec.SheetRow()
	require.Len(t, row, SheetColumnCount)

	strRow := make([]string, len(row))
	for i, v := range row {
		strRow[i] = v.(string)
	}

	decoded, err := RecordFromSheetRow(strRow)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, decoded.Key)
	assert.Equal(t, rec.Labels, decoded.Labels)
	assert.Equal(t, rec.Source, decoded.Source)
	assert.Equal(t, rec.Comment, decoded.Comment)
	assert.Equal(t, "2025-09-01, 10:30:00", decoded.LastUpdated)
	assert.Equal(t, "Dr. Example", decoded.SpecialistName)
}

func TestRecordFromSheetRowShortRow(t *testing.T) {
	// Sheets drop trailing empty cells; identity-only rows must decode.
	rec, err := RecordFromSheetRow([]string{"117", "P001", "OS", "2"})
	require.NoError(t, err)
	assert.Equal(t, "OS", rec.Key.Eye)
	assert.Empty(t, rec.Labels.Normality)

	_, err = RecordFromSheetRow([]string{"117", "P001"})
	assert.Error(t, err)

	_, err = RecordFromSheetRow([]string{"117", "P001", "OD", "not-a-number"})
	assert.Error(t, err)
}

func TestSheetRowDefaultsSpecialistName(t *testing.T) {
	key, err := NewRecordKey("117", "P001", "OD", "1")
	require.NoError(t, err)

	rec := &AnnotationRecord{Key: key}
	row := rec.SheetRow()
	assert.Equal(t, "117", row[26], "specialist_name column defaults to the specialist id")
}

func TestSheetHeaderMatchesWidth(t *testing.T) {
	assert.Len(t, SheetHeader(), SheetColumnCount)
	assert.Equal(t, "username", SheetHeader()[0])
	assert.Equal(t, "data_source", SheetHeader()[SheetColumnCount-1])
}
