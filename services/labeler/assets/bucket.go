// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BucketResolver resolves assets staged in a GCS bucket using the same
// {modality}_{patient}_{eye}_ object naming the directory resolver
// expects on disk. Matched objects are downloaded into a local cache
// directory and resolved to those local paths.
type BucketResolver struct {
	client   *storage.Client
	bucket   string
	cacheDir string
}

// NewBucketResolver creates a resolver over one bucket, caching
// downloads under cacheDir.
func NewBucketResolver(ctx context.Context, credentialsFile, bucket, cacheDir string) (*BucketResolver, error) {
	if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bucket cache directory %s: %w", cacheDir, err)
	}

	client, err := storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &BucketResolver{client: client, bucket: bucket, cacheDir: cacheDir}, nil
}

// Close releases the storage client.
func (r *BucketResolver) Close() error {
	return r.client.Close()
}

// Resolve lists objects under the {modality}_{patient}_{eye}_ prefix,
// downloads any not yet cached, and returns the local paths sorted.
func (r *BucketResolver) Resolve(ctx context.Context, patient, modality, eye, timepoint string) ([]string, error) {
	prefix := strings.ToLower(fmt.Sprintf("%s_%s_%s_", modality, patient, eye))

	it := r.client.Bucket(r.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var paths []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s prefix %s: %w", r.bucket, prefix, err)
		}
		if timepoint != "" && !timepointMatches(attrs.Name[len(prefix):], timepoint) {
			continue
		}

		local, err := r.download(ctx, attrs.Name)
		if err != nil {
			return nil, err
		}
		paths = append(paths, local)
	}
	sort.Strings(paths)
	return paths, nil
}

func (r *BucketResolver) download(ctx context.Context, object string) (string, error) {
	local := filepath.Join(r.cacheDir, filepath.Base(object))
	if Readable(local) {
		return local, nil
	}

	reader, err := r.client.Bucket(r.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open bucket object %s: %w", object, err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(r.cacheDir, filepath.Base(object)+".partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file for %s: %w", object, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write cache file for %s: %w", object, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close cache file for %s: %w", object, err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", fmt.Errorf("failed to finalize cache file for %s: %w", object, err)
	}
	return local, nil
}
