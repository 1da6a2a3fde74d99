// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assets

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/glaucomalab/progression/pkg/validation"
	"github.com/glaucomalab/progression/services/labeler/roster"
)

// DocumentFetcher materializes a named study document locally and
// returns its path. DriveFetcher is the production implementation.
type DocumentFetcher interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// RosterResolver resolves assets from the roster's filename columns:
// the visual-field printout (pdf_filename) for VF and the OPV export
// (opv_filename) for OCT, joined onto a base images directory.
type RosterResolver struct {
	roster *roster.Roster
	dir    string
	fetch  DocumentFetcher
}

// NewRosterResolver creates a resolver reading file names from r and
// resolving them under dir.
func NewRosterResolver(r *roster.Roster, dir string) *RosterResolver {
	return &RosterResolver{roster: r, dir: dir}
}

// WithFetcher makes the resolver pull roster-listed files that are not
// readable under dir through f. Returns the resolver for chaining.
func (r *RosterResolver) WithFetcher(f DocumentFetcher) *RosterResolver {
	r.fetch = f
	return r
}

// Resolve returns the roster-listed files for the patient's rows
// matching eye and, when given, timepoint. Rows with an empty filename
// column contribute nothing.
func (r *RosterResolver) Resolve(ctx context.Context, patient, modality, eye, timepoint string) ([]string, error) {
	normEye, err := validation.NormalizeEye(eye)
	if err != nil {
		return nil, err
	}
	wantIdx := ""
	if timepoint != "" {
		if wantIdx, err = validation.CanonicalFieldIndex(timepoint); err != nil {
			return nil, err
		}
	}

	var paths []string
	for _, entry := range r.roster.Entries(patient) {
		if entry.Eye != normEye {
			continue
		}
		if wantIdx != "" && entry.FieldIndex != wantIdx {
			continue
		}

		var name string
		switch strings.ToUpper(modality) {
		case "VF":
			name = entry.PDFFilename
		case "OCT":
			name = entry.OPVFilename
		}
		if name == "" {
			continue
		}

		local := filepath.Join(r.dir, name)
		if r.fetch != nil && !Readable(local) {
			// Missing locally: one fetch materializes it, after which
			// the cached copy answers without a network call. A failed
			// fetch keeps the local path; the caller drops unreadable
			// entries.
			if fetched, err := r.fetch.Fetch(ctx, name); err == nil {
				local = fetched
			}
		}
		paths = append(paths, local)
	}
	return paths, nil
}
