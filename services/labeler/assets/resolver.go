// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assets locates the image and document files backing a
// patient's acquisitions. Resolvers answer "where are the files for
// this patient, modality, and eye" without the caller knowing whether
// the answer comes from a local directory, the roster's filename
// columns, or a storage bucket.
package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Resolver maps an acquisition to its ordered file paths.
//
// timepoint narrows the result to one field number; empty means all.
// A patient with no matching files resolves to an empty list, not an
// error.
type Resolver interface {
	Resolve(ctx context.Context, patient, modality, eye, timepoint string) ([]string, error)
}

// ImageKey addresses one of the four per-patient asset lists.
type ImageKey struct {
	Modality string `json:"modality"`
	Eye      string `json:"eye"`
}

// MarshalText renders the key as "MODALITY_EYE" so ImageSet maps
// serialize as plain JSON objects.
func (k ImageKey) MarshalText() ([]byte, error) {
	return []byte(k.Modality + "_" + k.Eye), nil
}

// UnmarshalText parses the "MODALITY_EYE" rendering.
func (k *ImageKey) UnmarshalText(text []byte) error {
	modality, eye, ok := strings.Cut(string(text), "_")
	if !ok {
		return fmt.Errorf("invalid image key %q", text)
	}
	k.Modality = modality
	k.Eye = eye
	return nil
}

// ImageSet is the resolved asset view of one patient (optionally one
// timepoint), as the cache stores it.
type ImageSet struct {
	Patient   string                `json:"patient"`
	Timepoint string                `json:"timepoint,omitempty"`
	Images    map[ImageKey][]string `json:"images"`
	LoadedAt  time.Time             `json:"loaded_at"`
}

// Count returns the total number of resolved paths across all lists.
func (s *ImageSet) Count() int {
	n := 0
	for _, paths := range s.Images {
		n += len(paths)
	}
	return n
}

// Readable reports whether path can be opened and yields at least one
// byte. Zero-length or permission-broken files fail the check; display
// code never sees them.
func Readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 1)
	n, err := f.Read(buf)
	return n == 1 && (err == nil || err == io.EOF)
}
