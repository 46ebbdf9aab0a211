// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package timestats maintains the `timebytes` rolling duration sample
// (spec.md §6's persisted cache layout already names the key but assigns
// it no writer). Ported from utils.py's _push_stats, which appends each
// finished iteration's duration to a capped list stored under the same
// key, for UI-facing ETA telemetry.
package timestats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bambooforest/qiengine/services/engine/cache"
)

// Key is the cache key the rolling sample lives under.
const Key = "timebytes"

// MaxSamples bounds the sample so the list never grows unbounded,
// mirroring _push_stats's own capped-list behavior.
const MaxSamples = 500

// Backend is the narrow storage contract Store needs; cache.Backend
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Store persists the rolling sample of iteration durations.
type Store struct {
	backend Backend
	ttl     time.Duration
}

// New builds a Store. ttl bounds how long the sample survives without a
// fresh append (the same TTL discipline every other cache entry follows).
func New(backend Backend, ttl time.Duration) *Store {
	return &Store{backend: backend, ttl: ttl}
}

// Record appends seconds to the rolling sample, dropping the oldest entry
// once the sample reaches MaxSamples. Read-modify-write, not atomic across
// concurrent callers; a lost update only costs one sample out of
// MaxSamples, acceptable for an ETA estimate rather than an exact count.
func (s *Store) Record(ctx context.Context, seconds float64) error {
	samples, err := s.Samples(ctx)
	if err != nil {
		return err
	}

	samples = append(samples, seconds)
	if len(samples) > MaxSamples {
		samples = samples[len(samples)-MaxSamples:]
	}

	raw, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("timestats: encode sample: %w", err)
	}
	if err := s.backend.Set(ctx, Key, raw, s.ttl); err != nil {
		return fmt.Errorf("timestats: store sample: %w", err)
	}
	return nil
}

// Samples returns the current rolling sample, or an empty slice if none
// has been recorded yet.
func (s *Store) Samples(ctx context.Context) ([]float64, error) {
	raw, err := s.backend.Get(ctx, Key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("timestats: load sample: %w", err)
	}

	var samples []float64
	if err := json.Unmarshal(raw, &samples); err != nil {
		return nil, fmt.Errorf("timestats: decode sample: %w", err)
	}
	return samples, nil
}

// Mean returns the rolling sample's average duration, or 0 if empty —
// the single number a UI's ETA projection actually needs.
func (s *Store) Mean(ctx context.Context) (float64, error) {
	samples, err := s.Samples(ctx)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, nil
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples)), nil
}
