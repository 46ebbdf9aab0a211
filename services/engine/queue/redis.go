// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package queue implements a Redis-backed adapters.WorkerRuntime: the
// Job Submitter's enqueue/fetch/cancel contract (spec.md §4.8), fronting
// the three named queues spec.md §5 requires (query, background,
// internal). Grounded on go-redis/v9 list operations and
// other_examples/flyingrobots-go-redis-work-queue's QueueBackend shape
// (Enqueue/Dequeue/Ack/Nack, BackendCapabilities, HealthStatus), narrowed
// to the three operations adapters.WorkerRuntime actually declares: the
// execution of a dequeued job by a worker process is the out-of-scope
// boundary spec.md §4.8 draws, so this package only ever produces onto a
// queue and reads/cancels by job id — it never itself runs a job.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bambooforest/qiengine/pkg/adapters"
)

// jobRecord is the JSON-encoded state stored per job id, mirroring
// adapters.JobSnapshot plus the bookkeeping (queue, dependencies,
// enqueued-at) a worker process would need to actually run it.
type jobRecord struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Queue      string            `json:"queue"`
	Kwargs     []byte            `json:"kwargs"`
	DependsOn  []string          `json:"depends_on,omitempty"`
	Status     string            `json:"status"`
	Result     []adapters.Row    `json:"result,omitempty"`
	Meta       map[string]any    `json:"meta,omitempty"`
	ErrKind    string            `json:"err_kind,omitempty"`
	ErrValue   string            `json:"err_value,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

const (
	statusQueued    = "queued"
	statusCanceled  = "canceled"
	keyPrefix       = "qiengine:job:"
	queueKeyPrefix  = "qiengine:queue:"
)

// Runtime is a Redis-backed adapters.WorkerRuntime. It pushes job
// descriptors onto a per-queue-name Redis list (LPUSH) for a separate
// worker process to BRPOP, and tracks each job's lifecycle in a Redis
// string keyed by job id so Fetch/Cancel never need to scan the queue.
type Runtime struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Runtime against an already-connected redis.Client. ttl is
// the expiry set on a job's record when it is enqueued, unless the
// EnqueueSpec carries its own ResultTTL (spec.md §6's `job:<fingerprint>`
// entries carry a TTL like any other cache key).
func New(client *redis.Client, ttl time.Duration) *Runtime {
	return &Runtime{client: client, ttl: ttl}
}

func jobKey(id string) string   { return keyPrefix + id }
func queueKey(name string) string { return queueKeyPrefix + name }

// Enqueue records the job's descriptor and pushes its id onto the named
// queue's list. Jobs are identified by the caller-supplied JobID (the
// Job Submitter passes the fingerprint, per spec.md §4.4), so re-enqueuing
// the same id overwrites its prior record — callers are expected to check
// the cache index before calling Enqueue, not rely on this for
// dedup (spec.md §4.4: "attempt cache replay, else enqueue").
func (r *Runtime) Enqueue(ctx context.Context, spec adapters.EnqueueSpec) (string, error) {
	if spec.JobID == "" {
		return "", errors.New("queue: enqueue: empty job id")
	}

	rec := jobRecord{
		ID:         spec.JobID,
		Kind:       spec.Kind,
		Queue:      spec.Queue,
		Kwargs:     spec.Kwargs,
		DependsOn:  spec.DependsOn,
		Status:     statusQueued,
		EnqueuedAt: time.Now(),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("queue: encode job %s: %w", spec.JobID, err)
	}

	pipe := r.client.TxPipeline()
	ttl := r.ttl
	if spec.ResultTTL > 0 {
		ttl = time.Duration(spec.ResultTTL) * time.Millisecond
	}
	pipe.Set(ctx, jobKey(spec.JobID), raw, ttl)
	pipe.LPush(ctx, queueKey(spec.Queue), spec.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue: enqueue job %s: %w", spec.JobID, err)
	}

	return spec.JobID, nil
}

// Fetch reads back a job's current state. A job never written by Enqueue
// (or already expired) reports a not-found error, distinct from a job
// that is merely still queued or running.
func (r *Runtime) Fetch(ctx context.Context, jobID string) (adapters.JobSnapshot, error) {
	raw, err := r.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return adapters.JobSnapshot{}, fmt.Errorf("queue: job %s not found", jobID)
	}
	if err != nil {
		return adapters.JobSnapshot{}, fmt.Errorf("queue: fetch job %s: %w", jobID, err)
	}

	var rec jobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return adapters.JobSnapshot{}, fmt.Errorf("queue: decode job %s: %w", jobID, err)
	}

	return adapters.JobSnapshot{
		ID:       rec.ID,
		Status:   rec.Status,
		Result:   rec.Result,
		Meta:     rec.Meta,
		ErrKind:  rec.ErrKind,
		ErrValue: rec.ErrValue,
	}, nil
}

// Cancel marks a job canceled and best-effort removes its id from the
// queue list it was pushed onto, so a worker that has not yet picked it
// up will never dequeue it (spec.md §5: "a client-initiated cancel
// targets all non-terminal jobs of a Logical Query"). Cancel is
// idempotent: canceling an already-canceled or already-terminal job is
// not an error.
func (r *Runtime) Cancel(ctx context.Context, jobID string) error {
	raw, err := r.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("queue: cancel: fetch job %s: %w", jobID, err)
	}

	var rec jobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("queue: cancel: decode job %s: %w", jobID, err)
	}

	rec.Status = statusCanceled
	updated, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("queue: cancel: encode job %s: %w", jobID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, jobKey(jobID), updated, redis.KeepTTL)
	pipe.LRem(ctx, queueKey(rec.Queue), 0, jobID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: cancel job %s: %w", jobID, err)
	}
	return nil
}

var _ adapters.WorkerRuntime = (*Runtime)(nil)
