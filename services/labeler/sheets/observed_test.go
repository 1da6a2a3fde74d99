// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sheets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTable struct {
	err error
}

func (s *stubTable) ReadRange(_ context.Context, _ string) ([][]string, error) {
	return [][]string{{"a"}}, s.err
}

func (s *stubTable) AppendRow(_ context.Context, _ string, _ []interface{}) error {
	return s.err
}

func (s *stubTable) UpdateRange(_ context.Context, _ string, _ [][]interface{}) error {
	return s.err
}

func TestWithObserverReportsEachOperation(t *testing.T) {
	type call struct {
		op string
		ok bool
	}
	var calls []call
	table := WithObserver(&stubTable{}, func(op string, success bool) {
		calls = append(calls, call{op, success})
	})
	ctx := context.Background()

	rows, err := table.ReadRange(ctx, "labels!A:D")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}}, rows)
	require.NoError(t, table.AppendRow(ctx, "labels!A1", []interface{}{"x"}))
	require.NoError(t, table.UpdateRange(ctx, "labels!A7:AB7", nil))

	assert.Equal(t, []call{{"read", true}, {"append", true}, {"update", true}}, calls)
}

func TestWithObserverReportsFailures(t *testing.T) {
	var ops []string
	var outcomes []bool
	table := WithObserver(&stubTable{err: ErrUnavailable}, func(op string, success bool) {
		ops = append(ops, op)
		outcomes = append(outcomes, success)
	})

	err := table.AppendRow(context.Background(), "labels!A1", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, []string{"append"}, ops)
	assert.Equal(t, []bool{false}, outcomes)
}
