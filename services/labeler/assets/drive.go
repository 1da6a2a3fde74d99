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
	"io"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/glaucomalab/progression/pkg/logging"
)

// DriveFetcher downloads study documents from a shared Drive folder and
// caches them on disk. A cached copy is returned without touching the
// network, so the same printout opened across sessions costs one
// download total.
type DriveFetcher struct {
	svc      *drive.Service
	folderID string
	cacheDir string
	log      *logging.Logger
}

// NewDriveFetcher creates a fetcher over one Drive folder, caching
// downloads under cacheDir.
func NewDriveFetcher(ctx context.Context, credentialsFile, folderID, cacheDir string, log *logging.Logger) (*DriveFetcher, error) {
	if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document cache directory %s: %w", cacheDir, err)
	}
	if log == nil {
		log = logging.Default()
	}

	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &DriveFetcher{
		svc:      svc,
		folderID: folderID,
		cacheDir: cacheDir,
		log:      log,
	}, nil
}

// Fetch returns a local path for the named document, downloading it on
// first use. The name must be a bare file name; anything with a path
// separator is rejected so a crafted name cannot escape the cache dir.
func (f *DriveFetcher) Fetch(ctx context.Context, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid document name %q", name)
	}

	local := filepath.Join(f.cacheDir, name)
	if Readable(local) {
		return local, nil
	}

	id, err := f.findFile(ctx, name)
	if err != nil {
		return "", err
	}

	resp, err := f.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", name, err)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(f.cacheDir, name+".partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write cache file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close cache file for %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", fmt.Errorf("failed to finalize cache file for %s: %w", name, err)
	}

	f.log.Info("document cached", "name", name, "path", local)
	return local, nil
}

func (f *DriveFetcher) findFile(ctx context.Context, name string) (string, error) {
	// Drive query strings escape single quotes with a backslash.
	escaped := strings.ReplaceAll(name, `'`, `\'`)
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escaped, f.folderID)

	list, err := f.svc.Files.List().
		Q(query).
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to search drive folder for %s: %w", name, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("document %s not found in drive folder", name)
	}
	return list.Files[0].Id, nil
}
