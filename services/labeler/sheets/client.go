// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sheets adapts the shared Google spreadsheet to the narrow
// tabular-store surface the labeling core needs: read a range, append a
// row, overwrite a range.
//
// # Failure Boundary
//
// Every network error crossing this package is wrapped in
// ErrUnavailable. Callers test with errors.Is and degrade to local-only
// behavior; nothing above this package retries or inspects Google API
// error details.
//
// # Quota
//
// The Sheets API enforces per-minute quotas that a labeling session can
// exhaust when completion checks fan out. All calls go through a shared
// rate limiter; bulk readers should additionally fetch-all-then-filter
// rather than issuing one call per roster row.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// ErrUnavailable marks any remote-service failure. The store is treated
// as absent until a later call succeeds.
var ErrUnavailable = errors.New("remote sheet unavailable")

// Client is a thin adapter over the Sheets API for a single spreadsheet.
type Client struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	limiter       *rate.Limiter
}

// New creates a Client using a service-account key file.
//
// ratePerSecond caps outgoing API calls; values <= 0 disable limiting.
func New(ctx context.Context, credentialsFile, spreadsheetID string, ratePerSecond float64) (*Client, error) {
	if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
	}
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id must not be empty")
	}

	svc, err := sheetsapi.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheetsapi.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		limiter:       limiter,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}
	return nil
}

// ReadRange returns the cell values of an A1 range as strings.
//
// Trailing empty cells are dropped by the API; rows may be shorter than
// the requested width.
func (c *Client) ReadRange(ctx context.Context, rangeA1 string) ([][]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rangeA1).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, rangeA1, err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, len(raw))
		for i, cell := range raw {
			row[i] = fmt.Sprintf("%v", cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendRow appends one row after the last data row of the range.
func (c *Client) AppendRow(ctx context.Context, rangeA1 string, row []interface{}) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	body := &sheetsapi.ValueRange{
		Values:         [][]interface{}{row},
		MajorDimension: "ROWS",
	}
	_, err := c.svc.Spreadsheets.Values.
		Append(c.spreadsheetID, rangeA1, body).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: append to %s: %v", ErrUnavailable, rangeA1, err)
	}
	return nil
}

// UpdateRange overwrites an A1 range with the given rows.
func (c *Client) UpdateRange(ctx context.Context, rangeA1 string, rows [][]interface{}) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	body := &sheetsapi.ValueRange{
		Values:         rows,
		MajorDimension: "ROWS",
	}
	_, err := c.svc.Spreadsheets.Values.
		Update(c.spreadsheetID, rangeA1, body).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: update %s: %v", ErrUnavailable, rangeA1, err)
	}
	return nil
}
