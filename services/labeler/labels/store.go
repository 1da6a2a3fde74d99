// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package labels persists annotation records to two sinks at once: a
// local JSON file per record and a row in the shared remote sheet. The
// local sink is authoritative for reads; the remote sink is best-effort
// and the store keeps working when it is unreachable.
package labels

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glaucomalab/progression/pkg/logging"
	"github.com/glaucomalab/progression/services/labeler/datatypes"
	"github.com/glaucomalab/progression/services/labeler/sheets"
)

// RemoteTable is the slice of the sheet client the store uses. Nil means
// local-only operation.
type RemoteTable interface {
	ReadRange(ctx context.Context, rangeA1 string) ([][]string, error)
	AppendRow(ctx context.Context, rangeA1 string, row []interface{}) error
	UpdateRange(ctx context.Context, rangeA1 string, rows [][]interface{}) error
}

// Store reconciles the local JSON directory with the remote sheet.
type Store struct {
	dir       string
	remote    RemoteTable
	sheetName string
	log       *logging.Logger

	now func() time.Time
}

// New creates a Store writing local files under dir. remote may be nil.
func New(dir string, remote RemoteTable, sheetName string, log *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create labels directory %s: %w", dir, err)
	}
	if log == nil {
		log = logging.Default()
	}
	return &Store{
		dir:       dir,
		remote:    remote,
		sheetName: sheetName,
		log:       log,
		now:       time.Now,
	}, nil
}

// Save persists the record to both sinks and stamps its LastUpdated
// time.
//
// The save counts as successful when at least one sink accepted it; an
// error is returned only when both failed. The remote write is an upsert
// keyed on the four identity columns: an existing row is overwritten in
// place, otherwise a new row is appended.
func (s *Store) Save(ctx context.Context, rec *datatypes.AnnotationRecord) error {
	rec.Touch(s.now())

	localErr := s.saveLocal(rec)
	if localErr != nil {
		s.log.Error("local label write failed", "key", rec.Key.String(), "error", localErr)
	}

	remoteErr := s.saveRemote(ctx, rec)
	if remoteErr != nil {
		s.log.Warn("remote label write failed, record kept locally",
			"key", rec.Key.String(), "error", remoteErr)
	}

	if localErr != nil && remoteErr != nil {
		return fmt.Errorf("save failed on both sinks: local: %v; remote: %v", localErr, remoteErr)
	}
	return nil
}

func (s *Store) saveLocal(rec *datatypes.AnnotationRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	path := filepath.Join(s.dir, rec.Key.FileName())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) saveRemote(ctx context.Context, rec *datatypes.AnnotationRecord) error {
	if s.remote == nil {
		return nil
	}

	row, found, err := sheets.FindRow(ctx, s.remote, s.sheetName, rec.Key)
	if err != nil {
		return err
	}
	if found {
		return s.remote.UpdateRange(ctx, sheets.RowRange(s.sheetName, row),
			[][]interface{}{rec.SheetRow()})
	}
	return s.remote.AppendRow(ctx, sheets.AppendRange(s.sheetName), rec.SheetRow())
}

// Load returns the record for key, preferring the local file.
//
// A missing or unparseable local file falls through to the remote sheet;
// a corrupt file is logged and treated as absent. A remote failure is
// also treated as absent, so Load reports not-found rather than erroring
// while the sheet is down.
func (s *Store) Load(ctx context.Context, key datatypes.RecordKey) (*datatypes.AnnotationRecord, bool, error) {
	if rec, ok := s.loadLocal(key); ok {
		return rec, true, nil
	}
	return s.loadRemote(ctx, key)
}

func (s *Store) loadLocal(key datatypes.RecordKey) (*datatypes.AnnotationRecord, bool) {
	path := filepath.Join(s.dir, key.FileName())
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("local label read failed", "path", path, "error", err)
		}
		return nil, false
	}

	var rec datatypes.AnnotationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("corrupt local label file treated as absent", "path", path, "error", err)
		return nil, false
	}
	return &rec, true
}

func (s *Store) loadRemote(ctx context.Context, key datatypes.RecordKey) (*datatypes.AnnotationRecord, bool, error) {
	if s.remote == nil {
		return nil, false, nil
	}

	row, found, err := sheets.FindRow(ctx, s.remote, s.sheetName, key)
	if err != nil {
		s.log.Warn("remote label lookup unavailable", "key", key.String(), "error", err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}

	cells, err := s.remote.ReadRange(ctx, sheets.RowRange(s.sheetName, row))
	if err != nil || len(cells) == 0 {
		s.log.Warn("remote label row read failed", "key", key.String(), "error", err)
		return nil, false, nil
	}

	rec, err := datatypes.RecordFromSheetRow(cells[0])
	if err != nil {
		s.log.Warn("remote label row rejected", "key", key.String(), "error", err)
		return nil, false, nil
	}
	return rec, true, nil
}

// ListForPatient returns the keys of every locally stored record for one
// specialist and patient, in file-name order.
func (s *Store) ListForPatient(specialist, patient string) ([]datatypes.RecordKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels directory: %w", err)
	}

	prefix := datatypes.PatientPrefix(specialist, patient)
	var keys []datatypes.RecordKey
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := parseFileName(specialist, patient, prefix, entry.Name())
		if !ok {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// DeleteForPatient removes every local record file for one specialist
// and patient. Deleting when nothing exists is not an error; the count
// of removed files is returned. Remote rows are intentionally left in
// place as the durable audit copy.
func (s *Store) DeleteForPatient(specialist, patient string) (int, error) {
	keys, err := s.ListForPatient(specialist, patient)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		path := filepath.Join(s.dir, key.FileName())
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}

// LabeledPairs returns, per patient, the set of (eye, field) pairs the
// specialist has a record for, merging the local directory with a single
// bulk read of the remote identity columns. Completion checks call this
// once instead of probing the sheet per roster row.
func (s *Store) LabeledPairs(ctx context.Context, specialist string) (map[string]map[datatypes.FieldPair]struct{}, error) {
	pairs := make(map[string]map[datatypes.FieldPair]struct{})
	add := func(key datatypes.RecordKey) {
		set, ok := pairs[key.Patient]
		if !ok {
			set = make(map[datatypes.FieldPair]struct{})
			pairs[key.Patient] = set
		}
		set[datatypes.FieldPair{Eye: key.Eye, FieldIndex: key.FieldIndex}] = struct{}{}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := parseAnyFileName(specialist, entry.Name())
		if !ok {
			continue
		}
		add(key)
	}

	if s.remote != nil {
		rows, err := s.remote.ReadRange(ctx, sheets.IdentityRange(s.sheetName))
		if err != nil {
			s.log.Warn("remote identity scan unavailable, using local records only",
				"specialist", specialist, "error", err)
		} else {
			for i, cells := range rows {
				if i == 0 || len(cells) < 4 || cells[0] != specialist {
					continue
				}
				key, err := datatypes.NewRecordKey(cells[0], cells[1], cells[2], cells[3])
				if err != nil {
					continue
				}
				add(key)
			}
		}
	}
	return pairs, nil
}

// parseFileName decodes {specialist}_{patient}_{eye}_{idx}.json when the
// specialist and patient are already known, so underscores inside either
// identifier cannot confuse the split.
func parseFileName(specialist, patient, prefix, name string) (datatypes.RecordKey, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return datatypes.RecordKey{}, false
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok {
		return datatypes.RecordKey{}, false
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 2 {
		return datatypes.RecordKey{}, false
	}
	key, err := datatypes.NewRecordKey(specialist, patient, parts[0], parts[1])
	if err != nil {
		return datatypes.RecordKey{}, false
	}
	return key, true
}

// parseAnyFileName decodes a record file name when only the specialist is
// known. The eye and field index are the last two underscore segments;
// everything between the specialist prefix and those is the patient id.
func parseAnyFileName(specialist, name string) (datatypes.RecordKey, bool) {
	rest, ok := strings.CutPrefix(name, specialist+"_")
	if !ok {
		return datatypes.RecordKey{}, false
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok {
		return datatypes.RecordKey{}, false
	}

	idxSep := strings.LastIndex(rest, "_")
	if idxSep < 0 {
		return datatypes.RecordKey{}, false
	}
	eyeSep := strings.LastIndex(rest[:idxSep], "_")
	if eyeSep < 0 {
		return datatypes.RecordKey{}, false
	}

	patient := rest[:eyeSep]
	eye := rest[eyeSep+1 : idxSep]
	idx := rest[idxSep+1:]
	key, err := datatypes.NewRecordKey(specialist, patient, eye, idx)
	if err != nil {
		return datatypes.RecordKey{}, false
	}
	return key, true
}
