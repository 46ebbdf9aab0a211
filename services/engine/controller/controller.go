// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package controller implements the Query Iteration Controller (spec.md
// §4.6): the state machine that owns a Logical Query's lifecycle across
// submission, continuation, cache replay, cancellation and completion.
// Ported from lcpvian/qi.py's QueryIteration dataclass and its
// from_request/from_manual/submit_query/submit_sents methods, restructured
// as an explicit state machine since there is no coroutine call stack to
// lean on in Go.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/bambooforest/qiengine/pkg/adapters"
	"github.com/bambooforest/qiengine/services/engine/callbacks"
	"github.com/bambooforest/qiengine/services/engine/datatypes"
	"github.com/bambooforest/qiengine/services/engine/fingerprint"
	"github.com/bambooforest/qiengine/services/engine/selector"
	"github.com/bambooforest/qiengine/services/engine/submitter"
)

// DurationRecorder records a finished iteration's wall-clock duration
// into the `timebytes` rolling sample (spec.md §6). Satisfied by
// *timestats.Store; kept as a narrow interface here to avoid a package
// dependency on timestats for Controllers that don't wire one.
type DurationRecorder interface {
	Record(ctx context.Context, seconds float64) error
}

// Controller wires the Batch Selector, Job Submitter and Callback Layer
// together behind the state transitions spec.md §4.6 draws. It holds no
// per-query state itself; every method takes the LogicalQuery/Iteration
// being acted on explicitly, so a Controller is safe to share across
// concurrently-running Logical Queries (spec.md §5: "no global lock").
type Controller struct {
	Runtime   adapters.WorkerRuntime
	Submitter *submitter.Submitter
	Callbacks *callbacks.Handlers
	Audit     adapters.AuditLogger

	// Stats records each completed iteration's duration for UI-facing ETA
	// telemetry (SPEC_FULL.md §12's timebytes supplement). Optional: nil
	// disables recording without affecting the state machine.
	Stats DurationRecorder
}

// New builds a Controller, defaulting Audit to a no-op logger.
func New(runtime adapters.WorkerRuntime, sub *submitter.Submitter, cb *callbacks.Handlers, audit adapters.AuditLogger) *Controller {
	if audit == nil {
		audit = &adapters.NopAuditLogger{}
	}
	return &Controller{Runtime: runtime, Submitter: sub, Callbacks: cb, Audit: audit}
}

// NewQueryRequest is the normalised shape of a POST /query body (spec.md
// §6), mirroring qi.py's from_request.
type NewQueryRequest struct {
	User                  string
	Room                  string
	CorpusIDs             []int
	Query                 map[string]any
	Languages             []string
	TotalResultsRequested int
	PageSize              int
	Sentences             bool
	Full                  bool
	Previous              string // job id of the iteration being resumed/paginated
	ToExport              string
	CurrentKWICLines      int
}

// FromRequest builds a fresh LogicalQuery and its first Iteration from an
// HTTP request, or resumes a previous one when Previous is set (pagination,
// qi.py: "previous = request_data.get('previous', '')"). allBatches is
// computed by the caller (corpus config + batch listing are out of the
// Controller's scope, per spec.md §4.8's adapter boundary); the caller also
// retains the corpus word count to pass into callbacks.PrimarySuccessInput
// at aggregation time.
func (c *Controller) FromRequest(ctx context.Context, req NewQueryRequest, allBatches []datatypes.Batch) (*datatypes.LogicalQuery, *datatypes.Iteration, error) {
	firstJobID := ""
	totalSoFar := 0
	needed := req.TotalResultsRequested

	if req.Previous != "" {
		prev, err := c.Runtime.Fetch(ctx, req.Previous)
		if err != nil {
			return nil, nil, fmt.Errorf("controller: fetch previous job %q: %w", req.Previous, err)
		}
		// qi.py reads `first_job` out of the previous job's kwargs; the
		// engine treats kwargs as opaque, so absent a decoded first_job we
		// fall back to the previous job's own id, same as the Python
		// default (`prev.kwargs.get("first_job") or previous`).
		firstJobID = req.Previous
		totalSoFar = intFromMeta(prev.Meta, "total_found")
		needed = datatypes.Unlimited
	}

	lq := &datatypes.LogicalQuery{
		FirstJobID:            firstJobID,
		User:                  req.User,
		Room:                  req.Room,
		CorpusIDs:             req.CorpusIDs,
		AllBatches:            allBatches,
		TotalResultsSoFar:     totalSoFar,
		ToExport:              req.ToExport,
		State:                 datatypes.StateCreated,
		PageSize:              req.PageSize,
		TotalResultsRequested: req.TotalResultsRequested,
		Full:                  req.Full,
		Sentences:             req.Sentences,
	}

	// When resuming, `needed` is already Unlimited (qi.py's literal "to be
	// figured out later" comment); otherwise derive it from the fresh quota.
	iterNeeded := needed
	if req.Previous == "" {
		iterNeeded = datatypes.NeededFor(req.TotalResultsRequested, totalSoFar, req.Full)
	}

	it := &datatypes.Iteration{
		Index:             0,
		Query:             req.Query,
		Languages:         req.Languages,
		Needed:            iterNeeded,
		Full:              req.Full,
		TotalResultsSoFar: totalSoFar,
		Quota:             req.TotalResultsRequested,
	}

	return lq, it, nil
}

// ManualContinuation is the descriptor the Pub/Sub Listener (spec.md §4.7)
// synthesises from a `partial` message and hands back to the Controller,
// mirroring qi.py's from_manual.
type ManualContinuation struct {
	FirstJobID            string
	User                  string
	Room                  string
	CorpusIDs             []int
	AllBatches            []datatypes.Batch
	DoneBatches           []datatypes.Batch
	CurrentBatch          datatypes.Batch
	TotalResultsRequested int
	TotalResultsSoFar     int
	TotalRowsProcessed    int64
	TotalDuration         float64
	WordCount             int64
	Full                  bool
	Sentences             bool
	PageSize              int
	Languages             []string
	ResultMap             datatypes.ResultMap
	ToExport              string
}

// FromManual builds the continuation LogicalQuery/Iteration, re-entering
// CREATED as the state diagram requires (spec.md §4.6: "back to CREATED").
func (c *Controller) FromManual(m ManualContinuation) (*datatypes.LogicalQuery, *datatypes.Iteration) {
	done := make([]datatypes.Batch, len(m.DoneBatches))
	copy(done, m.DoneBatches)
	if m.CurrentBatch.BatchName != "" {
		found := false
		for _, b := range done {
			if b.Key() == m.CurrentBatch.Key() {
				found = true
				break
			}
		}
		if !found {
			done = append(done, m.CurrentBatch)
		}
	}

	needed := datatypes.NeededFor(m.TotalResultsRequested, m.TotalResultsSoFar, m.Full)

	lq := &datatypes.LogicalQuery{
		FirstJobID:            m.FirstJobID,
		User:                  m.User,
		Room:                  m.Room,
		CorpusIDs:             m.CorpusIDs,
		AllBatches:            m.AllBatches,
		DoneBatches:           done,
		TotalResultsSoFar:     m.TotalResultsSoFar,
		TotalRowsProcessed:    m.TotalRowsProcessed,
		TotalDuration:         m.TotalDuration,
		ToExport:              m.ToExport,
		State:                 datatypes.StateCreated,
		PageSize:              m.PageSize,
		TotalResultsRequested: m.TotalResultsRequested,
		Full:                  m.Full,
		Sentences:             m.Sentences,
		CurrentResultMap:      m.ResultMap,
	}

	it := &datatypes.Iteration{
		Index:              len(done),
		Languages:          m.Languages,
		Needed:             needed,
		Full:               m.Full,
		TotalResultsSoFar:  m.TotalResultsSoFar,
		TotalRowsProcessed: m.TotalRowsProcessed,
		Quota:              m.TotalResultsRequested,
	}

	return lq, it
}

// ChooseBatch runs the Batch Selector against the Logical Query's
// accumulated state and records the verdict on it, advancing the state
// machine to SUBMITTING (spec.md §4.6: "make_sql, choose_batch"). isResumption
// marks a pagination call (offset > 0) against an already-running query.
func (c *Controller) ChooseBatch(lq *datatypes.LogicalQuery, it *datatypes.Iteration, isResumption bool) selector.Result {
	res := selector.Decide(selector.Input{
		AllBatches:         lq.AllBatches,
		DoneBatches:        lq.DoneBatches,
		TotalResultsSoFar:  lq.TotalResultsSoFar,
		TotalRowsProcessed: lq.TotalRowsProcessed,
		Needed:             it.Needed,
		Full:               it.Full,
		PageSize:           lq.PageSize,
		IsSingleBatch:      len(lq.AllBatches) == 1,
		IsResumption:       isResumption,
		IsFirstIteration:   it.Index == 0 && !isResumption,
	})

	if res.NoMoreData {
		lq.State = datatypes.StateTerminal
		return res
	}

	it.Batch = res.Batch
	lq.State = datatypes.StateSubmitting
	return res
}

// SubmissionSpec bundles the opaque SQL text the caller obtained from the
// SQL generator adapter (spec.md §4.8) for the three job kinds of one
// iteration.
type SubmissionSpec struct {
	Queue      string
	Kwargs     []byte
	SentKwargs []byte
	MetaKwargs []byte
}

// Submission reports the job ids (and cache-replay status) of one
// iteration's submitted jobs.
type Submission struct {
	Primary  submitter.Outcome
	Sentence *submitter.Outcome
	Metadata *submitter.Outcome
}

// Submit enqueues (or replays) the primary job of it, then its sentence and
// metadata jobs when requested, advancing the state machine to RUNNING or,
// on a primary cache hit, REPLAYING (spec.md §4.6). Sentence/metadata jobs
// always depend on *this* iteration's primary, never the previous
// iteration's (spec.md §4.4).
func (c *Controller) Submit(ctx context.Context, lq *datatypes.LogicalQuery, it *datatypes.Iteration, spec SubmissionSpec) (Submission, error) {
	it.StartedAt = time.Now()

	primary, err := c.Submitter.SubmitPrimary(ctx, it.SQL, spec.Queue, spec.Kwargs, it.Full)
	if err != nil {
		return Submission{}, fmt.Errorf("controller: submit primary: %w", err)
	}
	it.PrimaryJobID = primary.JobID
	if lq.FirstJobID == "" {
		lq.FirstJobID = primary.JobID
	}

	if primary.Replayed {
		lq.State = datatypes.StateReplaying
	} else {
		lq.State = datatypes.StateRunning
	}

	out := Submission{Primary: primary}

	if lq.Sentences && it.SentSQL != "" {
		sentOut, err := c.Submitter.SubmitDependent(ctx, submitter.DependentSpec{
			Kind:      datatypes.JobSentence,
			SQL:       it.SentSQL,
			DependsOn: primaryDependency(it),
			Offset:    it.Offset,
			Needed:    it.Needed,
			Full:      it.Full,
			Queue:     spec.Queue,
			Kwargs:    spec.SentKwargs,
		})
		if err != nil {
			return out, fmt.Errorf("controller: submit sentences: %w", err)
		}
		it.SentJobID = sentOut.JobID
		lq.SentJobIDs = append(lq.SentJobIDs, sentOut.JobID)
		out.Sentence = &sentOut
	}

	if it.MetaSQL != "" {
		metaOut, err := c.Submitter.SubmitDependent(ctx, submitter.DependentSpec{
			Kind:      datatypes.JobMetadata,
			SQL:       it.MetaSQL,
			DependsOn: primaryDependency(it),
			Offset:    it.Offset,
			Needed:    it.Needed,
			Full:      it.Full,
			Queue:     spec.Queue,
			Kwargs:    spec.MetaKwargs,
		})
		if err != nil {
			return out, fmt.Errorf("controller: submit metadata: %w", err)
		}
		it.MetaJobID = metaOut.JobID
		lq.MetaJobIDs = append(lq.MetaJobIDs, metaOut.JobID)
		out.Metadata = &metaOut
	}

	return out, nil
}

// primaryDependency wraps the current iteration's primary job id as the
// single dependency of its sentence/metadata jobs (spec.md §4.4: "never
// depends on the previous iteration's primary").
func primaryDependency(it *datatypes.Iteration) []fingerprint.Fingerprint {
	return []fingerprint.Fingerprint{fingerprint.Fingerprint(it.PrimaryJobID)}
}

// Complete folds a primary job's aggregated result into the Logical Query,
// classifies the next state per spec.md §4.6's "status?" branch, and,
// when the query is now finished with export intent, schedules the export
// hand-off.
func (c *Controller) Complete(ctx context.Context, lq *datatypes.LogicalQuery, it *datatypes.Iteration, result callbacks.PrimaryResult) (datatypes.LogicalQueryStatus, error) {
	lq.State = datatypes.StateAggregated
	lq.TotalResultsSoFar = result.TotalFound
	lq.CurrentResultMap = result.ResultMap
	if it.Batch.BatchName != "" {
		lq.MarkDone(it.Batch)
	}

	if !it.StartedAt.IsZero() {
		seconds := time.Since(it.StartedAt).Seconds()
		lq.TotalDuration += seconds
		if c.Stats != nil {
			if err := c.Stats.Record(ctx, seconds); err != nil {
				c.logEvent(ctx, "timebytes.record_failed", lq.FirstJobID, "")
			}
		}
	}

	if lq.Canceled {
		lq.State = datatypes.StateCanceled
		return lq.State, nil
	}

	switch result.Status {
	case datatypes.CBFinished, datatypes.CBSatisfied:
		lq.State = datatypes.StateTerminal
		if lq.ToExport != "" {
			if _, err := c.scheduleExport(ctx, lq); err != nil {
				return lq.State, fmt.Errorf("controller: schedule export: %w", err)
			}
		}
	case datatypes.CBFailed:
		lq.State = datatypes.StateCanceled
	default: // CBPartial: more batches remain or the quota is still open.
		lq.State = datatypes.StateContinue
	}

	return lq.State, nil
}

// scheduleExport submits an export job depending on the union of every
// sentence and metadata job id gathered across all iterations (spec.md
// §4.6: "depend on the union of all sentence+metadata job ids gathered
// across iterations").
func (c *Controller) scheduleExport(ctx context.Context, lq *datatypes.LogicalQuery) (string, error) {
	deps := make([]string, 0, len(lq.SentJobIDs)+len(lq.MetaJobIDs))
	deps = append(deps, lq.SentJobIDs...)
	deps = append(deps, lq.MetaJobIDs...)

	jobID, err := c.Runtime.Enqueue(ctx, adapters.EnqueueSpec{
		JobID:     lq.FirstJobID + ":export",
		Kind:      "export",
		Kwargs:    []byte(lq.ToExport),
		Queue:     "background",
		DependsOn: deps,
	})
	if err != nil {
		return "", err
	}
	c.logEvent(ctx, "export.scheduled", jobID, "export")
	return jobID, nil
}

// Cancel marks lq canceled and sends a stop command for every job id in
// nonTerminal (spec.md §4.6, §5). Repeated calls are no-ops because the
// lq.Canceled flag is checked first; no per-job canceled-set is kept, so
// the stopped job ids are not recorded. nonTerminal is supplied by the
// caller, which tracks live job ids per Logical Query.
func (c *Controller) Cancel(ctx context.Context, lq *datatypes.LogicalQuery, nonTerminal []string) error {
	if lq.Canceled {
		return nil
	}
	lq.Canceled = true
	lq.State = datatypes.StateCanceled

	var firstErr error
	for _, jobID := range nonTerminal {
		if jobID == "" {
			continue
		}
		if err := c.Runtime.Cancel(ctx, jobID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("controller: cancel job %q: %w", jobID, err)
		}
	}
	c.logEvent(ctx, "query.canceled", lq.FirstJobID, "")
	return firstErr
}

// intFromMeta reads an int-shaped field out of a worker runtime's opaque
// job meta map, tolerating the JSON-decoded float64 shape as well as a
// native int (spec.md §4.8: WorkerRuntime.Fetch returns meta as an untyped
// map since the engine must not assume a concrete queue library's types).
func intFromMeta(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (c *Controller) logEvent(ctx context.Context, eventType, jobID, kind string) {
	_ = c.Audit.Log(ctx, adapters.JobEvent{
		EventType: eventType,
		Timestamp: time.Now(),
		JobID:     jobID,
		Kind:      kind,
		Outcome:   "success",
	})
}
