// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache bounds how much patient state the service holds in
// memory. Three parallel LRU maps (patient bundles, image sets, label
// records) share one capacity, keyed by patient id with an optional
// "@timepoint" suffix. Concurrent loads of the same key collapse into
// one via singleflight.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/glaucomalab/progression/pkg/logging"
	"github.com/glaucomalab/progression/services/labeler/assets"
	"github.com/glaucomalab/progression/services/labeler/datatypes"
	"github.com/glaucomalab/progression/services/labeler/roster"
)

// KeyDelimiter separates the patient id from the rest of a cache key.
// Invalidation matches whole patient ids only at this boundary.
const KeyDelimiter = "@"

// DefaultCapacity bounds each map when the config does not say
// otherwise. Five patients of rasterized printouts is what a typical
// reviewer machine holds comfortably.
const DefaultCapacity = 5

// RecordSource loads a single annotation record on a cache miss.
type RecordSource interface {
	Load(ctx context.Context, key datatypes.RecordKey) (*datatypes.AnnotationRecord, bool, error)
}

// RosterSource provides the patient bundle data.
type RosterSource interface {
	Entries(patient string) []roster.Entry
	Demographics(patient string) (age, sex string, ok bool)
}

// PatientBundle is the cached per-patient roster view.
type PatientBundle struct {
	Patient  string         `json:"patient"`
	Age      string         `json:"age"`
	Sex      string         `json:"sex"`
	Entries  []roster.Entry `json:"entries"`
	LoadedAt time.Time      `json:"loaded_at"`
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Capacity  int   `json:"capacity"`
	Patients  int   `json:"patients"`
	Images    int   `json:"images"`
	Labels    int   `json:"labels"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache is the bounded in-memory layer in front of the roster, the
// asset resolver, and the label store.
//
// Thread safety: all methods are safe for concurrent use. The three
// maps share one mutex; loads happen outside it under singleflight.
type Cache struct {
	capacity int
	resolver assets.Resolver
	records  RecordSource
	roster   RosterSource
	log      *logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	patients *lruMap
	images   *lruMap
	labels   *lruMap

	flight singleflight.Group

	hits      int64
	misses    int64
	evictions int64
}

// New creates a Cache. capacity <= 0 falls back to DefaultCapacity.
func New(capacity int, resolver assets.Resolver, records RecordSource, rosterSrc RosterSource, log *logging.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logging.Default()
	}
	return &Cache{
		capacity: capacity,
		resolver: resolver,
		records:  records,
		roster:   rosterSrc,
		log:      log,
		now:      time.Now,
		patients: newLRUMap(capacity),
		images:   newLRUMap(capacity),
		labels:   newLRUMap(capacity),
	}
}

// ImageKeyOf builds the images-map key for a patient and optional
// timepoint.
func ImageKeyOf(patient, timepoint string) string {
	if timepoint == "" {
		return patient
	}
	return patient + KeyDelimiter + timepoint
}

func labelKeyOf(key datatypes.RecordKey) string {
	return key.Patient + KeyDelimiter + key.Specialist +
		KeyDelimiter + key.Eye + KeyDelimiter + key.FieldIndex
}

func (c *Cache) lookup(m *lruMap, key string) (any, bool) {
	c.mu.Lock()
	value, ok := m.get(key)
	c.mu.Unlock()
	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return value, ok
}

func (c *Cache) store(m *lruMap, key string, value any) {
	c.mu.Lock()
	evicted := m.put(key, value)
	c.mu.Unlock()
	if evicted > 0 {
		atomic.AddInt64(&c.evictions, int64(evicted))
		c.log.Debug("cache evicted", "count", evicted, "key", key)
	}
}

// ImageSet returns the patient's resolved asset lists, loading them on
// first use. Unreadable files are dropped at load time.
func (c *Cache) ImageSet(ctx context.Context, patient, timepoint string) (*assets.ImageSet, error) {
	key := ImageKeyOf(patient, timepoint)
	if value, ok := c.lookup(c.images, key); ok {
		return value.(*assets.ImageSet), nil
	}

	flightKey := "images" + KeyDelimiter + key
	load := func() (interface{}, error) {
		set, err := c.loadImageSet(ctx, patient, timepoint)
		if err != nil {
			return nil, err
		}
		c.store(c.images, key, set)
		return set, nil
	}
	result, err, _ := c.flight.Do(flightKey, load)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// A canceled companion (a superseded background warm) owned the
		// flight. Its abort must not fail this caller: drop the flight
		// and redo the load under this caller's context.
		c.flight.Forget(flightKey)
		result, err = load()
	}
	if err != nil {
		return nil, err
	}
	return result.(*assets.ImageSet), nil
}

// loadImageSet resolves the four (modality, eye) lists in parallel.
func (c *Cache) loadImageSet(ctx context.Context, patient, timepoint string) (*assets.ImageSet, error) {
	set := &assets.ImageSet{
		Patient:   patient,
		Timepoint: timepoint,
		Images:    make(map[assets.ImageKey][]string),
		LoadedAt:  c.now(),
	}

	g, gctx := errgroup.WithContext(ctx)
	var setMu sync.Mutex
	for _, modality := range datatypes.Modalities {
		for _, eye := range datatypes.Eyes {
			modality, eye := modality, eye
			g.Go(func() error {
				paths, err := c.resolver.Resolve(gctx, patient, modality, eye, timepoint)
				if err != nil {
					return fmt.Errorf("failed to resolve %s/%s assets for %s: %w",
						modality, eye, patient, err)
				}

				readable := paths[:0]
				for _, p := range paths {
					if assets.Readable(p) {
						readable = append(readable, p)
					} else {
						c.log.Warn("unreadable asset dropped", "patient", patient, "path", p)
					}
				}

				setMu.Lock()
				set.Images[assets.ImageKey{Modality: modality, Eye: eye}] = readable
				setMu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

// Patient returns the cached roster bundle for a patient.
func (c *Cache) Patient(ctx context.Context, patient string) (*PatientBundle, error) {
	if value, ok := c.lookup(c.patients, patient); ok {
		return value.(*PatientBundle), nil
	}

	result, err, _ := c.flight.Do("patient"+KeyDelimiter+patient, func() (interface{}, error) {
		age, sex, _ := c.roster.Demographics(patient)
		bundle := &PatientBundle{
			Patient:  patient,
			Age:      age,
			Sex:      sex,
			Entries:  c.roster.Entries(patient),
			LoadedAt: c.now(),
		}
		c.store(c.patients, patient, bundle)
		return bundle, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*PatientBundle), nil
}

// Labels returns the annotation record for key, loading it from the
// label store on first use. Only found records are cached; absence is
// re-checked every call so a save on another machine shows up.
func (c *Cache) Labels(ctx context.Context, key datatypes.RecordKey) (*datatypes.AnnotationRecord, bool, error) {
	cacheKey := labelKeyOf(key)
	if value, ok := c.lookup(c.labels, cacheKey); ok {
		return value.(*datatypes.AnnotationRecord), true, nil
	}

	type loaded struct {
		rec   *datatypes.AnnotationRecord
		found bool
	}
	flightKey := "labels" + KeyDelimiter + cacheKey
	load := func() (interface{}, error) {
		rec, found, err := c.records.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			c.store(c.labels, cacheKey, rec)
		}
		return loaded{rec: rec, found: found}, nil
	}
	result, err, _ := c.flight.Do(flightKey, load)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		c.flight.Forget(flightKey)
		result, err = load()
	}
	if err != nil {
		return nil, false, err
	}
	l := result.(loaded)
	return l.rec, l.found, nil
}

// UpdateLabels replaces the cached record after a save so the next read
// sees the new values without a store round trip.
func (c *Cache) UpdateLabels(rec *datatypes.AnnotationRecord) {
	c.store(c.labels, labelKeyOf(rec.Key), rec)
}

// Invalidate drops every cached entry for the patient across all three
// maps and returns how many entries were removed. Matching stops at the
// key delimiter, so invalidating "12" leaves "120" alone.
func (c *Cache) Invalidate(patient string) int {
	c.mu.Lock()
	removed := c.patients.removePatient(patient, KeyDelimiter) +
		c.images.removePatient(patient, KeyDelimiter) +
		c.labels.removePatient(patient, KeyDelimiter)
	c.mu.Unlock()

	if removed > 0 {
		c.log.Debug("cache invalidated", "patient", patient, "removed", removed)
	}
	return removed
}

// Clear empties all three maps. Counters keep their values.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.patients.clear()
	c.images.clear()
	c.labels.clear()
	c.mu.Unlock()
	c.log.Info("cache cleared")
}

// IsCached reports whether any entry for the patient is resident.
func (c *Cache) IsCached(patient string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.patients.hasPatient(patient, KeyDelimiter) ||
		c.images.hasPatient(patient, KeyDelimiter) ||
		c.labels.hasPatient(patient, KeyDelimiter)
}

// Recent returns up to limit distinct patients in most-recently-used
// order, combining all three maps.
func (c *Cache) Recent(limit int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, m := range []*lruMap{c.patients, c.images, c.labels} {
		for _, key := range m.keysMRU() {
			patient := key
			if i := strings.Index(key, KeyDelimiter); i >= 0 {
				patient = key[:i]
			}
			if _, ok := seen[patient]; ok {
				continue
			}
			seen[patient] = struct{}{}
			out = append(out, patient)
			if limit > 0 && len(out) == limit {
				return out
			}
		}
	}
	return out
}

// Stats returns current sizes and lifetime counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	patients, images, labels := c.patients.len(), c.images.len(), c.labels.len()
	c.mu.Unlock()

	return Stats{
		Capacity:  c.capacity,
		Patients:  patients,
		Images:    images,
		Labels:    labels,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}
