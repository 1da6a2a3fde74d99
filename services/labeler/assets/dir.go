// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultExtensions are the file types a directory resolver accepts.
var defaultExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".pdf",
}

// DirResolver resolves assets from a directory tree laid out one folder
// per patient: the folder name contains the patient id and files inside
// are named {modality}_{patient}_{eye}_{timepoint}... All matching is
// case-insensitive; results come back sorted by file name.
type DirResolver struct {
	root string
	exts map[string]struct{}
}

// NewDirResolver creates a resolver over root. extensions overrides the
// accepted file types when non-empty; entries are normalized to a
// leading dot and lower case.
func NewDirResolver(root string, extensions []string) (*DirResolver, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("assets root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("assets root %s is not a directory", root)
	}

	if len(extensions) == 0 {
		extensions = defaultExtensions
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &DirResolver{root: root, exts: exts}, nil
}

// Resolve scans the patient's folder for files named
// {modality}_{patient}_{eye}_* with an accepted extension.
func (r *DirResolver) Resolve(_ context.Context, patient, modality, eye, timepoint string) ([]string, error) {
	dir, ok, err := r.patientDir(patient)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read patient directory %s: %w", dir, err)
	}

	prefix := strings.ToLower(fmt.Sprintf("%s_%s_%s_", modality, patient, eye))
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := r.exts[filepath.Ext(name)]; !ok {
			continue
		}
		if timepoint != "" && !timepointMatches(name[len(prefix):], timepoint) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// timepointMatches checks that rest begins with the timepoint followed
// by a separator or the extension, so timepoint "1" never matches file
// suffix "10_...".
func timepointMatches(rest, timepoint string) bool {
	if !strings.HasPrefix(rest, timepoint) {
		return false
	}
	next := rest[len(timepoint):]
	return next == "" || next[0] == '_' || next[0] == '.'
}

// patientDir finds the folder whose name contains the patient id.
func (r *DirResolver) patientDir(patient string) (string, bool, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return "", false, fmt.Errorf("failed to read assets root %s: %w", r.root, err)
	}

	needle := strings.ToLower(patient)
	containing := ""
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if name == needle {
			return filepath.Join(r.root, entry.Name()), true, nil
		}
		if containing == "" && strings.Contains(name, needle) {
			containing = entry.Name()
		}
	}
	if containing != "" {
		return filepath.Join(r.root, containing), true, nil
	}
	return "", false, nil
}
