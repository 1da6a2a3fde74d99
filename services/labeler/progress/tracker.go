// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glaucomalab/progression/pkg/logging"
	"github.com/glaucomalab/progression/services/labeler/datatypes"
)

// RosterView is the slice of the roster the tracker consults.
type RosterView interface {
	// Patients returns every roster patient id.
	Patients() []string
	// ExpectedPairs returns the (eye, field) pairs a patient must have
	// labeled to count as complete. Unknown patients return nil.
	ExpectedPairs(patient string) []datatypes.FieldPair
}

// LabelIndex reports which pairs a specialist has stored labels for,
// keyed by patient.
type LabelIndex interface {
	LabeledPairs(ctx context.Context, specialist string) (map[string]map[datatypes.FieldPair]struct{}, error)
}

// Stats summarizes one specialist's progress against the roster.
type Stats struct {
	Specialist     string  `json:"specialist"`
	CompletedCount int     `json:"completed_count"`
	RemainingCount int     `json:"remaining_count"`
	TotalPatients  int     `json:"total_patients"`
	Percent        float64 `json:"percent"`
	LastPatient    string  `json:"last_patient"`
}

// Tracker is the completion-state service. Reads of the backing table
// are cached briefly so page loads do not hammer the sheet; every write
// drops the cache.
type Tracker struct {
	table  Table
	roster RosterView
	labels LabelIndex
	log    *logging.Logger

	staleness time.Duration
	now       func() time.Time

	mu        sync.Mutex
	cached    []Row
	fetchedAt time.Time
}

// NewTracker wires the tracker to its table, roster, and label index.
// staleness bounds how long a table read is reused; zero disables the
// cache.
func NewTracker(table Table, roster RosterView, labels LabelIndex, staleness time.Duration, log *logging.Logger) *Tracker {
	if log == nil {
		log = logging.Default()
	}
	return &Tracker{
		table:     table,
		roster:    roster,
		labels:    labels,
		log:       log,
		staleness: staleness,
		now:       time.Now,
	}
}

func (t *Tracker) rows(ctx context.Context) ([]Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cached != nil && t.staleness > 0 && t.now().Sub(t.fetchedAt) < t.staleness {
		return t.cached, nil
	}

	rows, err := t.table.Rows(ctx)
	if err != nil {
		return nil, err
	}
	t.cached = rows
	t.fetchedAt = t.now()
	return rows, nil
}

func (t *Tracker) invalidate() {
	t.mu.Lock()
	t.cached = nil
	t.mu.Unlock()
}

func (t *Tracker) row(ctx context.Context, specialist string) (Row, error) {
	rows, err := t.rows(ctx)
	if err != nil {
		return Row{}, err
	}
	for _, row := range rows {
		if row.Specialist == specialist {
			// Copy so callers cannot mutate the cached snapshot.
			out := row
			out.Completed = append([]string(nil), row.Completed...)
			return out, nil
		}
	}
	return Row{Specialist: specialist}, nil
}

// Completed returns the sorted list of patients the specialist has
// finished. A specialist with no row yet gets an empty list.
func (t *Tracker) Completed(ctx context.Context, specialist string) ([]string, error) {
	row, err := t.row(ctx, specialist)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(row.Completed))
	copy(out, row.Completed)
	return out, nil
}

// MarkCompleted records patient as finished for the specialist and
// remembers it as the last patient worked on. Marking an
// already-completed patient only refreshes the last-patient marker.
func (t *Tracker) MarkCompleted(ctx context.Context, specialist, patient string) error {
	row, err := t.row(ctx, specialist)
	if err != nil {
		return err
	}

	row.Add(patient)
	row.LastPatient = patient
	if err := t.table.Upsert(ctx, row); err != nil {
		return fmt.Errorf("failed to record completion of %s for %s: %w", patient, specialist, err)
	}
	t.invalidate()

	t.log.Info("patient marked completed", "specialist", specialist, "patient", patient,
		"completed", len(row.Completed))
	return nil
}

// Available returns roster patients the specialist has not completed,
// sorted ascending.
func (t *Tracker) Available(ctx context.Context, specialist string) ([]string, error) {
	completed, err := t.Completed(ctx, specialist)
	if err != nil {
		return nil, err
	}

	done := make(map[string]struct{}, len(completed))
	for _, p := range completed {
		done[p] = struct{}{}
	}

	var avail []string
	for _, p := range t.roster.Patients() {
		if _, ok := done[p]; !ok {
			avail = append(avail, p)
		}
	}
	sort.Strings(avail)
	return avail, nil
}

// CheckPatientCompletion reports whether the specialist has a stored
// label for every (eye, field) pair the roster expects of the patient.
// A patient the roster knows nothing about is never complete.
func (t *Tracker) CheckPatientCompletion(ctx context.Context, specialist, patient string) (bool, error) {
	expected := t.roster.ExpectedPairs(patient)
	if len(expected) == 0 {
		return false, nil
	}

	labeled, err := t.labels.LabeledPairs(ctx, specialist)
	if err != nil {
		return false, err
	}
	return coversExpected(labeled[patient], expected), nil
}

func coversExpected(have map[datatypes.FieldPair]struct{}, expected []datatypes.FieldPair) bool {
	for _, pair := range expected {
		if _, ok := have[pair]; !ok {
			return false
		}
	}
	return true
}

// AutoMarkCompleted sweeps the specialist's available patients, marks
// every one whose expected pairs are all labeled, and returns the newly
// completed patients sorted ascending. Label state is fetched once for
// the whole sweep.
func (t *Tracker) AutoMarkCompleted(ctx context.Context, specialist string) ([]string, error) {
	avail, err := t.Available(ctx, specialist)
	if err != nil {
		return nil, err
	}
	if len(avail) == 0 {
		return nil, nil
	}

	labeled, err := t.labels.LabeledPairs(ctx, specialist)
	if err != nil {
		return nil, err
	}

	var newly []string
	for _, patient := range avail {
		expected := t.roster.ExpectedPairs(patient)
		if len(expected) == 0 || !coversExpected(labeled[patient], expected) {
			continue
		}
		if err := t.MarkCompleted(ctx, specialist, patient); err != nil {
			return newly, err
		}
		newly = append(newly, patient)
	}
	return newly, nil
}

// Stats returns the specialist's completion summary.
func (t *Tracker) Stats(ctx context.Context, specialist string) (Stats, error) {
	row, err := t.row(ctx, specialist)
	if err != nil {
		return Stats{}, err
	}
	return t.statsFromRow(row), nil
}

func (t *Tracker) statsFromRow(row Row) Stats {
	total := len(t.roster.Patients())
	s := Stats{
		Specialist:     row.Specialist,
		CompletedCount: len(row.Completed),
		TotalPatients:  total,
		LastPatient:    row.LastPatient,
	}
	if s.RemainingCount = total - s.CompletedCount; s.RemainingCount < 0 {
		s.RemainingCount = 0
	}
	if total > 0 {
		s.Percent = 100 * float64(s.CompletedCount) / float64(total)
	}
	return s
}

// AllStats returns every specialist's summary, most complete first,
// ties broken by specialist id.
func (t *Tracker) AllStats(ctx context.Context) ([]Stats, error) {
	rows, err := t.rows(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]Stats, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, t.statsFromRow(row))
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].CompletedCount != stats[j].CompletedCount {
			return stats[i].CompletedCount > stats[j].CompletedCount
		}
		return stats[i].Specialist < stats[j].Specialist
	})
	return stats, nil
}

// Reset removes the specialist's completion row entirely.
func (t *Tracker) Reset(ctx context.Context, specialist string) error {
	if err := t.table.Delete(ctx, specialist); err != nil {
		return fmt.Errorf("failed to reset progress for %s: %w", specialist, err)
	}
	t.invalidate()
	t.log.Info("progress reset", "specialist", specialist)
	return nil
}

// ExportReport writes a CSV completion report for every specialist.
func (t *Tracker) ExportReport(ctx context.Context, w io.Writer) error {
	rows, err := t.rows(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"specialist", "completed_count", "total_patients", "percent",
		"last_patient", "completed_patients"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	for _, row := range rows {
		s := t.statsFromRow(row)
		record := []string{
			s.Specialist,
			strconv.Itoa(s.CompletedCount),
			strconv.Itoa(s.TotalPatients),
			strconv.FormatFloat(s.Percent, 'f', 1, 64),
			s.LastPatient,
			strings.Join(row.Completed, CompletedSeparator),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write report row for %s: %w", s.Specialist, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Report is the JSON form of the completion report.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Specialists []ReportEntry `json:"specialists"`
}

// ReportEntry extends Stats with the full completed-patient list.
type ReportEntry struct {
	Stats
	CompletedPatients []string `json:"completed_patients"`
}

// Report builds the study report, most complete specialist first.
func (t *Tracker) Report(ctx context.Context) (Report, error) {
	rows, err := t.rows(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		GeneratedAt: t.now(),
		Specialists: make([]ReportEntry, 0, len(rows)),
	}
	for _, row := range rows {
		report.Specialists = append(report.Specialists, ReportEntry{
			Stats:             t.statsFromRow(row),
			CompletedPatients: append([]string(nil), row.Completed...),
		})
	}
	sort.Slice(report.Specialists, func(i, j int) bool {
		a, b := report.Specialists[i], report.Specialists[j]
		if a.CompletedCount != b.CompletedCount {
			return a.CompletedCount > b.CompletedCount
		}
		return a.Specialist < b.Specialist
	})
	return report, nil
}

// ExportJSON writes the timestamped report as indented JSON.
func (t *Tracker) ExportJSON(ctx context.Context, w io.Writer) error {
	report, err := t.Report(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
