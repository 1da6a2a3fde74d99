// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prefetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaucomalab/progression/services/labeler/cache"
	"github.com/glaucomalab/progression/services/labeler/datatypes"
	"github.com/glaucomalab/progression/services/labeler/roster"
)

type stubResolver struct{ dir string }

func (s stubResolver) Resolve(_ context.Context, patient, modality, eye, timepoint string) ([]string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s_%s_%s.png", modality, patient, eye, timepoint))
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

type stubRecords struct{}

func (stubRecords) Load(context.Context, datatypes.RecordKey) (*datatypes.AnnotationRecord, bool, error) {
	return nil, false, nil
}

type stubRoster struct{}

func (stubRoster) Entries(string) []roster.Entry              { return nil }
func (stubRoster) Demographics(string) (string, string, bool) { return "", "", false }

func TestWarmPopulatesCache(t *testing.T) {
	c := cache.New(5, stubResolver{dir: t.TempDir()}, stubRecords{}, stubRoster{}, nil)
	p := New(c, nil)

	p.Warm("P001", "1")
	p.Wait()

	assert.True(t, c.IsCached("P001"))
	set, err := c.ImageSet(context.Background(), "P001", "1")
	require.NoError(t, err)
	assert.Equal(t, 4, set.Count())
}

func TestWarmSupersedes(t *testing.T) {
	c := cache.New(5, stubResolver{dir: t.TempDir()}, stubRecords{}, stubRoster{}, nil)
	p := New(c, nil)

	p.Warm("P001", "")
	p.Warm("P002", "")
	p.Wait()

	// The superseding warm must always land; the first may or may not
	// have finished before cancellation.
	assert.True(t, c.IsCached("P002"))
}

func TestStopIsSafeWithoutWarm(t *testing.T) {
	c := cache.New(5, stubResolver{dir: t.TempDir()}, stubRecords{}, stubRoster{}, nil)
	p := New(c, nil)
	p.Stop()
}

func TestWarmReportsOutcome(t *testing.T) {
	c := cache.New(5, stubResolver{dir: t.TempDir()}, stubRecords{}, stubRoster{}, nil)
	p := New(c, nil)

	outcomes := make(chan string, 4)
	p.SetObserver(func(outcome string) { outcomes <- outcome })

	p.Warm("P001", "1")
	p.Wait()

	assert.Equal(t, "complete", <-outcomes)
}

func TestWarmReportsError(t *testing.T) {
	// A resolver pointed at an unwritable directory makes the warm fail.
	c := cache.New(5, stubResolver{dir: filepath.Join(t.TempDir(), "missing")}, stubRecords{}, stubRoster{}, nil)
	p := New(c, nil)

	outcomes := make(chan string, 4)
	p.SetObserver(func(outcome string) { outcomes <- outcome })

	p.Warm("P001", "1")
	p.Wait()

	assert.Equal(t, "error", <-outcomes)
}
