// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the core data model shared by the labeling
// service: annotation records, their composite identity, and the fixed
// label vocabularies specialists choose from.
package datatypes

import (
	"fmt"
	"time"

	"github.com/glaucomalab/progression/pkg/validation"
)

// Timestamp layout used in record metadata and exports.
const (
	TimestampFormat = "2006-01-02, 15:04:05"
	DateFormat      = "2006-01-02"
)

// RecordKey is the composite identity of an annotation record.
//
// At most one live record exists per key; a later save with the same key
// replaces the earlier one. All four components are canonical strings:
// eye is OD/OS and FieldIndex is the base-10 rendering of the 1-based
// visual-field number. Construct keys with NewRecordKey so the
// normalization cannot be skipped.
type RecordKey struct {
	Specialist string `json:"specialist_id"`
	Patient    string `json:"patient_id"`
	Eye        string `json:"eye"`
	FieldIndex string `json:"field_index"`
}

// NewRecordKey validates and normalizes the identity components.
//
// Eye accepts R/L or OD/OS (any case); fieldIndex accepts int, float, or
// string renderings of a positive integer.
func NewRecordKey(specialist, patient, eye, fieldIndex string) (RecordKey, error) {
	if err := validation.ValidateID(specialist); err != nil {
		return RecordKey{}, fmt.Errorf("specialist: %w", err)
	}
	if err := validation.ValidateID(patient); err != nil {
		return RecordKey{}, fmt.Errorf("patient: %w", err)
	}
	normEye, err := validation.NormalizeEye(eye)
	if err != nil {
		return RecordKey{}, err
	}
	normIdx, err := validation.CanonicalFieldIndex(fieldIndex)
	if err != nil {
		return RecordKey{}, err
	}
	return RecordKey{
		Specialist: specialist,
		Patient:    patient,
		Eye:        normEye,
		FieldIndex: normIdx,
	}, nil
}

// FileName returns the local storage file name for this key:
// {specialist}_{patient}_{eye}_{fieldIndex}.json
func (k RecordKey) FileName() string {
	return fmt.Sprintf("%s_%s_%s_%s.json", k.Specialist, k.Patient, k.Eye, k.FieldIndex)
}

// PatientPrefix returns the file-name prefix shared by all of a
// specialist's records for one patient: {specialist}_{patient}_
func PatientPrefix(specialist, patient string) string {
	return fmt.Sprintf("%s_%s_", specialist, patient)
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Specialist, k.Patient, k.Eye, k.FieldIndex)
}

// FieldPair is one expected or found (eye, field index) combination for a
// patient, both components canonical. Completion checking reduces rosters
// and record sets to sets of FieldPairs and tests subset containment.
type FieldPair struct {
	Eye        string `json:"eye"`
	FieldIndex string `json:"field_index"`
}

// LabelSet is the structured defect annotation for a single visual-field
// acquisition. Every value is drawn from the fixed vocabulary for its
// field (see vocab.go); empty string means "not assessed".
type LabelSet struct {
	Normality   string `json:"normality"`
	Reliability string `json:"reliability"`
	GDefect1    string `json:"gdefect1"`
	GPosition1  string `json:"gposition1"`
	GDefect2    string `json:"gdefect2"`
	GPosition2  string `json:"gposition2"`
	GDefect3    string `json:"gdefect3"`
	GPosition3  string `json:"gposition3"`
	NGDefect1   string `json:"ngdefect1"`
	NGPosition1 string `json:"ngposition1"`
	NGDefect2   string `json:"ngdefect2"`
	NGPosition2 string `json:"ngposition2"`
	NGDefect3   string `json:"ngdefect3"`
	NGPosition3 string `json:"ngposition3"`
	Artifact1   string `json:"artifact1"`
	Artifact2   string `json:"artifact2"`
}

// SourceMeta is dataset metadata copied onto the record at annotation
// time so the stored row remains interpretable without the roster.
type SourceMeta struct {
	PDFFilename   string `json:"pdf_filename"`
	OPVFilename   string `json:"opv_filename"`
	ExamDateShift string `json:"aeexamdate_shift"`
	Age           string `json:"age"`
}

// AnnotationRecord is one row of specialist judgment for a single
// visual-field acquisition.
type AnnotationRecord struct {
	Key    RecordKey  `json:"key"`
	Labels LabelSet   `json:"labels"`
	Source SourceMeta `json:"source"`

	Comment        string `json:"comment"`
	LastUpdated    string `json:"last_updated"`
	SpecialistName string `json:"specialist_name"`
	DataSource     string `json:"data_source"`
}

// Touch stamps the record with the current time in TimestampFormat.
func (r *AnnotationRecord) Touch(now time.Time) {
	r.LastUpdated = now.Format(TimestampFormat)
}

// sheetColumns is the fixed remote column order, A through AB.
// Identity occupies the first four columns; the find-row scan depends
// on that.
var sheetColumns = []string{
	"username", "maskedid", "eye", "vf_number",
	"pdf_filename", "opv_filename", "aeexamdate_shift", "age",
	"normality", "reliability",
	"gdefect1", "gposition1", "gdefect2", "gposition2", "gdefect3", "gposition3",
	"ngdefect1", "ngposition1", "ngdefect2", "ngposition2", "ngdefect3", "ngposition3",
	"artifact1", "artifact2", "comment", "last_updated", "specialist_name", "data_source",
}

// SheetColumnCount is the width of an annotation row in the remote sheet.
const SheetColumnCount = 28

// SheetHeader returns the remote sheet header row.
func SheetHeader() []string {
	header := make([]string, len(sheetColumns))
	copy(header, sheetColumns)
	return header
}

// SheetRow serializes the record into the fixed 28-column layout.
func (r *AnnotationRecord) SheetRow() []interface{} {
	name := r.SpecialistName
	if name == "" {
		name = r.Key.Specialist
	}
	return []interface{}{
		r.Key.Specialist, r.Key.Patient, r.Key.Eye, r.Key.FieldIndex,
		r.Source.PDFFilename, r.Source.OPVFilename, r.Source.ExamDateShift, r.Source.Age,
		r.Labels.Normality, r.Labels.Reliability,
		r.Labels.GDefect1, r.Labels.GPosition1, r.Labels.GDefect2, r.Labels.GPosition2,
		r.Labels.GDefect3, r.Labels.GPosition3,
		r.Labels.NGDefect1, r.Labels.NGPosition1, r.Labels.NGDefect2, r.Labels.NGPosition2,
		r.Labels.NGDefect3, r.Labels.NGPosition3,
		r.Labels.Artifact1, r.Labels.Artifact2, r.Comment, r.LastUpdated, name, r.DataSource,
	}
}

// RecordFromSheetRow decodes a remote row back into a record.
//
// Rows shorter than the full width are tolerated (trailing empty cells
// are dropped by the sheet API); rows without a parseable identity are
// rejected.
func RecordFromSheetRow(row []string) (*AnnotationRecord, error) {
	if len(row) < 4 {
		return nil, fmt.Errorf("sheet row has %d columns, need at least 4 identity columns", len(row))
	}

	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	key, err := NewRecordKey(cell(0), cell(1), cell(2), cell(3))
	if err != nil {
		return nil, fmt.Errorf("sheet row identity: %w", err)
	}

	return &AnnotationRecord{
		Key: key,
		Source: SourceMeta{
			PDFFilename:   cell(4),
			OPVFilename:   cell(5),
			ExamDateShift: cell(6),
			Age:           cell(7),
		},
		Labels: LabelSet{
			Normality:   cell(8),
			Reliability: cell(9),
			GDefect1:    cell(10),
			GPosition1:  cell(11),
			GDefect2:    cell(12),
			GPosition2:  cell(13),
			GDefect3:    cell(14),
			GPosition3:  cell(15),
			NGDefect1:   cell(16),
			NGPosition1: cell(17),
			NGDefect2:   cell(18),
			NGPosition2: cell(19),
			NGDefect3:   cell(20),
			NGPosition3: cell(21),
			Artifact1:   cell(22),
			Artifact2:   cell(23),
		},
		Comment:        cell(24),
		LastUpdated:    cell(25),
		SpecialistName: cell(26),
		DataSource:     cell(27),
	}, nil
}
