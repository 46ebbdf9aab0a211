// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Generic periodic sweep scheduler
// =============================================================================

// SweepResult summarises one sweep cycle. It is intentionally domain-neutral
// so the same scheduler serves cache-entry expiry, stale pub/sub connection
// reaping, and any other periodic maintenance task.
type SweepResult struct {
	Found     int
	Removed   int
	Errors    []error
	StartTime time.Time
	EndTime   time.Time
}

// DurationMs returns the sweep's wall-clock duration in milliseconds.
func (r SweepResult) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// SweepFunc performs one sweep cycle and reports what it found/removed.
type SweepFunc func(ctx context.Context) (SweepResult, error)

// SchedulerConfig holds configuration for a periodic sweep scheduler.
//
// # Fields
//
//   - Interval: How often to run sweep cycles.
//   - Name: Used only in log lines, to distinguish multiple schedulers.
//   - Clock: Optional clock sanity guard. When set, a sweep cycle is
//     skipped (rather than run against a possibly-manipulated clock) if
//     CheckClockSanity reports an anomaly. Nil disables the guard.
type SchedulerConfig struct {
	Interval time.Duration
	Name     string
	Clock    ClockChecker
}

// DefaultSchedulerConfig returns a once-an-hour scheduler config.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Interval: 1 * time.Hour, Name: "sweep"}
}

// Scheduler runs a SweepFunc on a fixed interval using the ticker + done
// channel pattern, until Stop or context cancellation.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RunNow(ctx context.Context) (SweepResult, error)
}

type scheduler struct {
	sweep  SweepFunc
	config SchedulerConfig
	done   chan struct{}
	mu     sync.Mutex
	running bool
}

// NewScheduler creates a scheduler that periodically invokes sweep.
func NewScheduler(sweep SweepFunc, config SchedulerConfig) Scheduler {
	return &scheduler{
		sweep:  sweep,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start begins the background sweep goroutine.
func (s *scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("%s scheduler is already running", s.config.Name)
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	slog.Info("sweep scheduler starting", "name", s.config.Name, "interval", s.config.Interval.String())

	go s.runLoop(ctx)
	return nil
}

// Stop signals the scheduler to stop. Safe to call multiple times.
func (s *scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	slog.Info("sweep scheduler stopping", "name", s.config.Name)
	close(s.done)
	s.running = false
	return nil
}

// RunNow triggers an immediate sweep cycle, bypassing the ticker.
func (s *scheduler) RunNow(ctx context.Context) (SweepResult, error) {
	return s.sweep(ctx)
}

func (s *scheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep scheduler stopped (context cancelled)", "name", s.config.Name)
			return
		case <-s.done:
			slog.Info("sweep scheduler stopped (stop requested)", "name", s.config.Name)
			return
		case <-ticker.C:
			s.executeSweep(ctx)
		}
	}
}

func (s *scheduler) executeSweep(ctx context.Context) {
	if s.config.Clock != nil {
		if err := s.config.Clock.CheckClockSanity(); err != nil {
			slog.Warn("sweep cycle skipped: clock sanity check failed",
				"name", s.config.Name,
				"error", err,
			)
			return
		}
	}

	result, err := s.sweep(ctx)
	if err != nil {
		slog.Error("sweep cycle failed", "name", s.config.Name, "error", err)
		return
	}

	if result.Found > 0 || result.Removed > 0 {
		slog.Info("sweep cycle completed",
			"name", s.config.Name,
			"found", result.Found,
			"removed", result.Removed,
			"duration_ms", result.DurationMs(),
		)
	} else {
		slog.Debug("sweep cycle completed (nothing to do)", "name", s.config.Name)
	}
}
