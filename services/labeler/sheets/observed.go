// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sheets

import "context"

// Table is the tabular surface Client exposes. Stores depend on this
// so instrumentation can wrap the client without them noticing.
type Table interface {
	ReadRange(ctx context.Context, rangeA1 string) ([][]string, error)
	AppendRow(ctx context.Context, rangeA1 string, row []interface{}) error
	UpdateRange(ctx context.Context, rangeA1 string, rows [][]interface{}) error
}

// WithObserver wraps t so every operation reports its name ("read",
// "append", "update") and outcome to observe.
func WithObserver(t Table, observe func(operation string, success bool)) Table {
	return &observedTable{next: t, observe: observe}
}

type observedTable struct {
	next    Table
	observe func(operation string, success bool)
}

func (o *observedTable) ReadRange(ctx context.Context, rangeA1 string) ([][]string, error) {
	rows, err := o.next.ReadRange(ctx, rangeA1)
	o.observe("read", err == nil)
	return rows, err
}

func (o *observedTable) AppendRow(ctx context.Context, rangeA1 string, row []interface{}) error {
	err := o.next.AppendRow(ctx, rangeA1, row)
	o.observe("append", err == nil)
	return err
}

func (o *observedTable) UpdateRange(ctx context.Context, rangeA1 string, rows [][]interface{}) error {
	err := o.next.UpdateRange(ctx, rangeA1, rows)
	o.observe("update", err == nil)
	return err
}
