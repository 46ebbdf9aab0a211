// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache implements the shared key/value store backing the
// Fingerprint & Cache Index (spec.md §4.1): job registry and pub/sub
// message broker. Two backends are provided behind a common Backend
// interface, in the style of other_examples/flyingrobots-go-redis-work-queue's
// QueueBackend: a Redis backend for production, and a badger backend
// (the teacher's own dependency) for local development when no REDIS_URL
// is configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bambooforest/qiengine/pkg/ttl"
	"github.com/bambooforest/qiengine/services/engine/datatypes"
	"github.com/bambooforest/qiengine/services/engine/fingerprint"
)

// ErrNotFound is returned when a lookup misses, the CacheMiss condition of
// spec.md §7's error taxonomy — normal control flow, not a fault.
var ErrNotFound = errors.New("cache: not found")

// Backend is the narrow storage contract both the Redis and badger
// implementations satisfy. All operations are namespaced by the caller
// (job:<fingerprint>, msg:<uuid>, app_config, timebytes) per spec.md §6's
// key layout; this package does not prefix keys itself.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Expire refreshes an existing key's TTL without rewriting its value
	// (spec.md §4.1's "TTL refreshed on every cache hit").
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
	Close() error
}

// Index is the Fingerprint & Cache Index (spec.md §4.1): it stores Jobs
// keyed by their fingerprint and implements lease-by-lookup cache replay.
type Index struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	clock   ttl.ClockChecker
}

// New wraps a Backend as a job Index. prefix namespaces all job keys
// (e.g. "job:") and ttl is the default entry lifetime, refreshed on hit.
func New(backend Backend, prefix string, ttl time.Duration) *Index {
	return &Index{backend: backend, prefix: prefix, ttl: ttl}
}

// WithClock attaches a clock sanity guard to the index's TTL-refresh-on-hit
// path (Lookup). Nil (the default) means unguarded, matching prior
// behavior. Returns idx for chaining at construction time.
func (idx *Index) WithClock(c ttl.ClockChecker) *Index {
	idx.clock = c
	return idx
}

func (idx *Index) key(fp fingerprint.Fingerprint) string {
	return idx.prefix + string(fp)
}

// Lookup implements lease-by-lookup: fetch by fingerprint and, if the
// stored job is terminal-finished, report a cache hit and refresh its TTL
// to keep it warm (spec.md §4.1).
func (idx *Index) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (datatypes.Job, bool, error) {
	raw, err := idx.backend.Get(ctx, idx.key(fp))
	if errors.Is(err, ErrNotFound) {
		return datatypes.Job{}, false, nil
	}
	if err != nil {
		return datatypes.Job{}, false, fmt.Errorf("cache: lookup %s: %w", fp, err)
	}

	var job datatypes.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return datatypes.Job{}, false, fmt.Errorf("cache: decode job %s: %w", fp, err)
	}

	if job.Meta.Status != datatypes.StatusFinished {
		return job, false, nil
	}

	if idx.clock != nil {
		if err := idx.clock.CheckClockSanity(); err != nil {
			slog.Warn("cache: skipping TTL refresh, clock sanity check failed",
				"fingerprint", string(fp),
				"error", err,
			)
			return job, true, nil
		}
	}

	if err := idx.backend.Expire(ctx, idx.key(fp), idx.ttl); err != nil {
		return job, false, fmt.Errorf("cache: refresh TTL for %s: %w", fp, err)
	}
	return job, true, nil
}

// Store persists a job under its fingerprint with the index's default TTL.
func (idx *Index) Store(ctx context.Context, fp fingerprint.Fingerprint, job datatypes.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("cache: encode job %s: %w", fp, err)
	}
	return idx.backend.Set(ctx, idx.key(fp), raw, idx.ttl)
}

// Touch refreshes a stored job's TTL without re-reading or rewriting it.
func (idx *Index) Touch(ctx context.Context, fp fingerprint.Fingerprint) error {
	return idx.backend.Expire(ctx, idx.key(fp), idx.ttl)
}

// Forget removes a job from the index (used on cancellation).
func (idx *Index) Forget(ctx context.Context, fp fingerprint.Fingerprint) error {
	return idx.backend.Delete(ctx, idx.key(fp))
}
