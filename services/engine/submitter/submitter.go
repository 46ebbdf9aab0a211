// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package submitter implements the Job Submitter (spec.md §4.4): fingerprint,
// attempt cache replay, else enqueue, for each of the three job kinds.
// Ported from lcpvian/query_service.py's `query()` and `sentences()`.
// Each fingerprint's lookup-then-enqueue sequence runs behind a
// golang.org/x/sync/singleflight.Group, so concurrent callers racing the
// same fingerprint (e.g. two browser tabs submitting an identical query)
// share one actual lookup/enqueue instead of racing duplicate ones.
package submitter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bambooforest/qiengine/pkg/adapters"
	"github.com/bambooforest/qiengine/services/engine/cache"
	"github.com/bambooforest/qiengine/services/engine/datatypes"
	"github.com/bambooforest/qiengine/services/engine/fingerprint"
)

// Timeouts holds the configurable per-kind timeout selection (spec.md §4.4:
// "one value for quota-bounded queries and a much larger value for
// full-corpus queries"), grounded on query_service.py's QUERY_TIMEOUT /
// QUERY_TTL / full-corpus timeout env vars.
type Timeouts struct {
	Default    time.Duration
	FullCorpus time.Duration
	ResultTTL  time.Duration
}

// Submitter wires the Cache Index and the WorkerRuntime/SQLGenerator
// adapters together to satisfy spec.md §4.4's three operations.
type Submitter struct {
	index    *cache.Index
	runtime  adapters.WorkerRuntime
	audit    adapters.AuditLogger
	timeouts Timeouts
	useCache bool

	// sf de-duplicates concurrent identical-fingerprint submissions
	// inside this process: two goroutines racing the same lookup-then-
	// enqueue sequence for the same fingerprint collapse into one actual
	// lookup/enqueue, with both callers sharing its result (SPEC_FULL.md
	// §11/§13's golang.org/x/sync/singleflight wiring).
	sf singleflight.Group
}

// New builds a Submitter. Setting useCache false disables replay entirely
// (spec.md §4.4: "unless caching is disabled by configuration").
func New(index *cache.Index, runtime adapters.WorkerRuntime, audit adapters.AuditLogger, timeouts Timeouts, useCache bool) *Submitter {
	if audit == nil {
		audit = &adapters.NopAuditLogger{}
	}
	return &Submitter{index: index, runtime: runtime, audit: audit, timeouts: timeouts, useCache: useCache}
}

func (s *Submitter) timeoutFor(full bool) time.Duration {
	if full {
		return s.timeouts.FullCorpus
	}
	return s.timeouts.Default
}

// Outcome reports whether a submission was served from cache (a replay)
// or freshly enqueued.
type Outcome struct {
	JobID    string
	Replayed bool
	Job      datatypes.Job
}

// SubmitPrimary submits (or replays) the primary job of one iteration.
// Sentence and metadata jobs of the *same* iteration depend on it; it
// never depends on the previous iteration's primary (spec.md §4.4).
func (s *Submitter) SubmitPrimary(ctx context.Context, sql datatypes.SQLTemplate, queue string, kwargs []byte, full bool) (Outcome, error) {
	fp := fingerprint.Primary(sql)

	v, err, _ := s.sf.Do(string(fp), func() (any, error) {
		if s.useCache {
			if job, hit, err := s.index.Lookup(ctx, fp); err != nil {
				return Outcome{}, err
			} else if hit {
				s.logEvent(ctx, "job.replayed", string(fp), string(datatypes.JobPrimary))
				return Outcome{JobID: string(fp), Replayed: true, Job: job}, nil
			}
		}

		timeout := s.timeoutFor(full)
		jobID, err := s.runtime.Enqueue(ctx, adapters.EnqueueSpec{
			JobID:     string(fp),
			Kind:      string(datatypes.JobPrimary),
			Kwargs:    kwargs,
			Queue:     queue,
			TimeoutMs: timeout.Milliseconds(),
			ResultTTL: s.timeouts.ResultTTL.Milliseconds(),
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("submitter: enqueue primary: %w", err)
		}
		s.logEvent(ctx, "job.submitted", jobID, string(datatypes.JobPrimary))
		return Outcome{JobID: jobID, Replayed: false}, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return v.(Outcome), nil
}

// DependentSpec is the shared shape of a sentence/metadata submission.
type DependentSpec struct {
	Kind       datatypes.JobKind
	SQL        datatypes.SQLTemplate
	DependsOn  []fingerprint.Fingerprint
	Offset     int
	Needed     datatypes.Needed
	Full       bool
	Queue      string
	Kwargs     []byte
}

// SubmitDependent submits (or replays) a sentence or metadata job. Per
// spec.md §4.1's table, its fingerprint folds in the dependency
// fingerprint(s), offset, needed and the full-corpus flag so that two
// pagination calls over the same batch with different offsets never
// collide.
func (s *Submitter) SubmitDependent(ctx context.Context, spec DependentSpec) (Outcome, error) {
	fp := fingerprint.Dependent(spec.Kind, spec.SQL, spec.DependsOn, spec.Offset, spec.Needed, spec.Full)

	v, err, _ := s.sf.Do(string(fp), func() (any, error) {
		if s.useCache {
			if job, hit, err := s.index.Lookup(ctx, fp); err != nil {
				return Outcome{}, err
			} else if hit {
				s.logEvent(ctx, "job.replayed", string(fp), string(spec.Kind))
				return Outcome{JobID: string(fp), Replayed: true, Job: job}, nil
			}
		}

		deps := make([]string, len(spec.DependsOn))
		for i, d := range spec.DependsOn {
			deps[i] = string(d)
		}

		timeout := s.timeoutFor(spec.Full)
		jobID, err := s.runtime.Enqueue(ctx, adapters.EnqueueSpec{
			JobID:     string(fp),
			Kind:      string(spec.Kind),
			Kwargs:    spec.Kwargs,
			Queue:     spec.Queue,
			DependsOn: deps,
			TimeoutMs: timeout.Milliseconds(),
			ResultTTL: s.timeouts.ResultTTL.Milliseconds(),
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("submitter: enqueue %s: %w", spec.Kind, err)
		}
		s.logEvent(ctx, "job.submitted", jobID, string(spec.Kind))
		return Outcome{JobID: jobID, Replayed: false}, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return v.(Outcome), nil
}

func (s *Submitter) logEvent(ctx context.Context, eventType, jobID, kind string) {
	_ = s.audit.Log(ctx, adapters.JobEvent{
		EventType: eventType,
		Timestamp: time.Now(),
		JobID:     jobID,
		Kind:      kind,
		Outcome:   "success",
	})
}
