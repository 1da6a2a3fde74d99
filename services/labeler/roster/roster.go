// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package roster loads the study dataset: one CSV row per visual-field
// acquisition, keyed by patient, eye, and field number. The roster
// defines which patients exist and which (eye, field) pairs each one
// must have labeled.
package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/glaucomalab/progression/pkg/logging"
	"github.com/glaucomalab/progression/pkg/validation"
	"github.com/glaucomalab/progression/services/labeler/datatypes"
)

// Required CSV columns. Header matching is case-insensitive.
const (
	colPatient    = "maskedid"
	colEye        = "eye"
	colFieldIndex = "visual_field_number"
)

// Optional columns carried onto entries when present.
const (
	colAge           = "age"
	colSex           = "sex"
	colPDFFilename   = "pdf_filename"
	colOPVFilename   = "opv_filename"
	colExamDateShift = "aeexamdate_shift"
)

// Entry is one acquisition row of the roster, identity canonicalized.
type Entry struct {
	Patient       string
	Eye           string
	FieldIndex    string
	Age           string
	Sex           string
	PDFFilename   string
	OPVFilename   string
	ExamDateShift string
}

// Roster is the loaded dataset. All accessors are safe for concurrent
// use; Reload swaps the whole snapshot atomically under the lock.
type Roster struct {
	path string
	log  *logging.Logger

	mu        sync.RWMutex
	entries   []Entry
	byPatient map[string][]Entry

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Load reads the roster CSV at path.
//
// Rows whose identity columns fail validation are skipped with a
// warning rather than failing the whole load; a study CSV routinely
// carries a few hand-edited stragglers.
func Load(path string, log *logging.Logger) (*Roster, error) {
	if log == nil {
		log = logging.Default()
	}
	r := &Roster{path: path, log: log}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the CSV and swaps in the new snapshot.
func (r *Roster) Reload() error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open roster %s: %w", r.path, err)
	}
	defer f.Close()

	entries, err := parse(f, r.log)
	if err != nil {
		return fmt.Errorf("failed to parse roster %s: %w", r.path, err)
	}

	byPatient := make(map[string][]Entry)
	for _, e := range entries {
		byPatient[e.Patient] = append(byPatient[e.Patient], e)
	}

	r.mu.Lock()
	r.entries = entries
	r.byPatient = byPatient
	r.mu.Unlock()

	r.log.Info("roster loaded", "path", r.path, "rows", len(entries), "patients", len(byPatient))
	return nil
}

func parse(f io.Reader, log *logging.Logger) ([]Entry, error) {
	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colPatient, colEye, colFieldIndex} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("roster is missing required column %q", required)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var entries []Entry
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		patient := cell(row, colPatient)
		if err := validation.ValidateID(patient); err != nil {
			log.Warn("roster row skipped", "row", line, "error", err)
			continue
		}
		eye, err := validation.NormalizeEye(cell(row, colEye))
		if err != nil {
			log.Warn("roster row skipped", "row", line, "patient", patient, "error", err)
			continue
		}
		idx, err := validation.CanonicalFieldIndex(cell(row, colFieldIndex))
		if err != nil {
			log.Warn("roster row skipped", "row", line, "patient", patient, "error", err)
			continue
		}

		entries = append(entries, Entry{
			Patient:       patient,
			Eye:           eye,
			FieldIndex:    idx,
			Age:           cell(row, colAge),
			Sex:           cell(row, colSex),
			PDFFilename:   cell(row, colPDFFilename),
			OPVFilename:   cell(row, colOPVFilename),
			ExamDateShift: cell(row, colExamDateShift),
		})
	}
	return entries, nil
}

// Patients returns every distinct patient id, sorted ascending.
func (r *Roster) Patients() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byPatient))
	for p := range r.byPatient {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ExpectedPairs returns the (eye, field) pairs a patient must have
// labeled, one per roster row, deduplicated. Unknown patients return
// nil.
func (r *Roster) ExpectedPairs(patient string) []datatypes.FieldPair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[datatypes.FieldPair]struct{})
	var pairs []datatypes.FieldPair
	for _, e := range r.byPatient[patient] {
		p := datatypes.FieldPair{Eye: e.Eye, FieldIndex: e.FieldIndex}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	return pairs
}

// Entries returns the patient's roster rows in file order.
func (r *Roster) Entries(patient string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.byPatient[patient]...)
}

// Entry returns the row for one acquisition. Eye and fieldIndex may be
// any accepted rendering.
func (r *Roster) Entry(patient, eye, fieldIndex string) (Entry, bool) {
	normEye, err := validation.NormalizeEye(eye)
	if err != nil {
		return Entry{}, false
	}
	idx, err := validation.CanonicalFieldIndex(fieldIndex)
	if err != nil {
		return Entry{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.byPatient[patient] {
		if e.Eye == normEye && e.FieldIndex == idx {
			return e, true
		}
	}
	return Entry{}, false
}

// Demographics returns the patient's age and sex from their first row.
func (r *Roster) Demographics(patient string) (age, sex string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := r.byPatient[patient]
	if len(rows) == 0 {
		return "", "", false
	}
	return rows[0].Age, rows[0].Sex, true
}

// Watch reloads the roster whenever the CSV changes on disk. Close
// stops the watcher.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file (write temp, rename over) keep
// triggering reloads.
func (r *Roster) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create roster watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch roster directory: %w", err)
	}

	r.watcher = watcher
	r.done = make(chan struct{})

	go func() {
		target := filepath.Clean(r.path)
		for {
			select {
			case <-r.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := r.Reload(); err != nil {
					r.log.Error("roster reload failed", "path", r.path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Warn("roster watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one is running.
func (r *Roster) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	err := r.watcher.Close()
	r.watcher = nil
	return err
}
