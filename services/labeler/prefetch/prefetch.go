// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prefetch warms the cache for the patient a specialist is
// likely to open next. Warms are fire-and-forget: requesting a new
// patient cancels the previous in-flight warm, and a warm that finishes
// after it was superseded is discarded silently.
package prefetch

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/glaucomalab/progression/pkg/logging"
	"github.com/glaucomalab/progression/services/labeler/cache"
)

// Prefetcher serializes warm requests against a shared cache.
type Prefetcher struct {
	cache   *cache.Cache
	log     *logging.Logger
	observe func(outcome string)

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Prefetcher over the given cache.
func New(c *cache.Cache, log *logging.Logger) *Prefetcher {
	if log == nil {
		log = logging.Default()
	}
	return &Prefetcher{cache: c, log: log, observe: func(string) {}}
}

// SetObserver registers a callback receiving each warm's outcome:
// "complete", "superseded", or "error". Call before the first Warm.
func (p *Prefetcher) SetObserver(fn func(outcome string)) {
	if fn != nil {
		p.observe = fn
	}
}

// Warm starts loading the patient's bundle and image set in the
// background and returns immediately. A later Warm supersedes an
// earlier unfinished one.
func (p *Prefetcher) Warm(patient, timepoint string) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			_, err := p.cache.ImageSet(gctx, patient, timepoint)
			return err
		})
		g.Go(func() error {
			_, err := p.cache.Patient(gctx, patient)
			return err
		})
		err := g.Wait()

		if p.stale(gen) || errors.Is(err, context.Canceled) {
			p.observe("superseded")
			p.log.Debug("prefetch superseded", "patient", patient)
			return
		}
		if err != nil {
			p.observe("error")
			p.log.Warn("prefetch failed", "patient", patient, "error", err)
			return
		}
		p.observe("complete")
		p.log.Debug("prefetch complete", "patient", patient, "timepoint", timepoint)
	}()
}

func (p *Prefetcher) stale(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen != p.gen
}

// Wait blocks until every started warm has finished. Tests and shutdown
// use it; request handlers never should.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

// Stop cancels any in-flight warm and waits for it to unwind.
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}
