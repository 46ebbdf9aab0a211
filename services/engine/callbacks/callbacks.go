// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package callbacks implements the Callback Layer (spec.md §4.5): the
// handlers invoked by the worker runtime when a job reaches a terminal
// state. Ported from backend/callbacks.py's _query, _sentences and
// _general_failure.
package callbacks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bambooforest/qiengine/pkg/adapters"
	"github.com/bambooforest/qiengine/services/engine/aggregator"
	"github.com/bambooforest/qiengine/services/engine/datatypes"
)

func marshalEnvelope(payload map[string]any) ([]byte, error) {
	return json.Marshal(payload)
}

// Publisher is the narrow pub/sub-publish contract callbacks need; it is
// satisfied by cache.Backend (Publish) without importing the whole cache
// package here.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Handlers bundles the three terminal-state handlers with their shared
// dependencies.
type Handlers struct {
	Publisher Publisher
	Channel   string
	Audit     adapters.AuditLogger
}

// New builds a Handlers, defaulting Audit to a no-op logger.
func New(pub Publisher, channel string, audit adapters.AuditLogger) *Handlers {
	if audit == nil {
		audit = &adapters.NopAuditLogger{}
	}
	return &Handlers{Publisher: pub, Channel: channel, Audit: audit}
}

// PrimaryResult is what PrimarySuccess reports back to the Controller so
// it can update the Logical Query and decide on continuation.
type PrimaryResult struct {
	Status            datatypes.CallbackStatus
	TotalFound         int
	Limited            bool
	ProjectedResults   int
	PercWords          float64
	PercMatches        float64
	ResultMap          datatypes.ResultMap
}

// PrimarySuccessInput carries everything the handler needs, replacing the
// Python version's job.kwargs/job.meta side-channel with explicit
// parameters.
type PrimarySuccessInput struct {
	JobID             string
	User              string
	Room              string
	Raw               []datatypes.Row
	Previous          datatypes.ResultMap
	TotalResultsSoFar int
	AllBatches        []datatypes.Batch
	DoneBatchesAfter  []datatypes.Batch
	TotalRowsAfter    int64
	WordCount         int64
	Needed            datatypes.Needed
	TotalRequested    int
	PostProc          datatypes.PostProcessingDescriptor
}

// PrimarySuccess implements spec.md §4.5's primary-success handler:
// aggregate with hydrating=false, classify the status, compute UI-facing
// projections, and publish.
func (h *Handlers) PrimarySuccess(ctx context.Context, in PrimarySuccessInput) (PrimaryResult, error) {
	agg, err := aggregator.Aggregate(aggregator.Input{
		Raw:            in.Raw,
		Previous:       in.Previous,
		Needed:         in.Needed,
		Full:           in.Needed == datatypes.Unlimited,
		KWIC:           false,
		TotalRequested: in.TotalRequested,
		PostProc:       in.PostProc,
	})
	if err != nil {
		return PrimaryResult{}, fmt.Errorf("callbacks: aggregate primary result: %w", err)
	}

	totalFound := in.TotalResultsSoFar + agg.Counted
	status := Status(totalFound, in.TotalRequested, len(in.DoneBatchesAfter), len(in.AllBatches))
	limited := in.Needed != datatypes.Unlimited && totalFound > in.Needed

	var projected int
	var percWords, percMatches float64
	switch status {
	case datatypes.CBFinished:
		projected = totalFound
		percWords, percMatches = 100, 100
	default:
		if in.WordCount > 0 {
			var totalWordsProcessed int64
			for _, b := range in.DoneBatchesAfter {
				totalWordsProcessed += b.ApproximateRowCount
			}
			proportion := float64(totalFound) / float64(totalWordsProcessed)
			projected = int(float64(in.WordCount) * proportion)
			percWords = float64(totalWordsProcessed) * 100 / float64(in.WordCount)
		}
		if in.TotalRequested > 0 {
			capped := totalFound
			if capped > in.TotalRequested {
				capped = in.TotalRequested
			}
			percMatches = float64(capped) * 100 / float64(in.TotalRequested)
		}
	}

	result := PrimaryResult{
		Status:           status,
		TotalFound:       totalFound,
		Limited:          limited,
		ProjectedResults: projected,
		PercWords:        percWords,
		PercMatches:      percMatches,
		ResultMap:        agg.Merged,
	}

	if err := h.publish(ctx, map[string]any{
		"action":            "query",
		"user":              in.User,
		"room":              in.Room,
		"job":               in.JobID,
		"status":            string(status),
		"result":            agg.Merged,
		"total_results_so_far": totalFound,
		"projected_results":  projected,
		"percentage_words_done": percWords,
		"percentage_done":    percMatches,
	}); err != nil {
		return result, err
	}

	h.logEvent(ctx, "job.finished", in.JobID, "primary")
	return result, nil
}

// Status implements backend/callbacks.py's _get_status exactly, per
// spec.md §4.5's three-way classification.
func Status(totalFound, totalRequested, doneBatches, allBatches int) datatypes.CallbackStatus {
	if doneBatches == allBatches {
		return datatypes.CBFinished
	}
	if totalRequested <= 0 {
		return datatypes.CBPartial
	}
	if totalFound >= totalRequested {
		return datatypes.CBSatisfied
	}
	return datatypes.CBPartial
}

// DependentKind distinguishes sentence-success from metadata-success,
// which are structurally identical (spec.md §4.5: "Metadata-success [is
// a] twin of sentence-success") and differ only in the message action
// and the base-job meta key they merge into.
type DependentKind string

const (
	DependentSentence DependentKind = "sentences"
	DependentMetadata DependentKind = "meta"
)

// DependentSuccessInput carries a sentence or metadata job's hydration
// result, to be merged into the base primary job's accumulated bucket.
type DependentSuccessInput struct {
	Kind           DependentKind
	JobID          string
	BaseJobID      string
	User           string
	Room           string
	BaseStatus     datatypes.CallbackStatus
	Previous       map[string]datatypes.Row // keyed by segment id
	New            []datatypes.Row          // this job's rows, keyed by segment id at index 0
	PercentageDone float64
}

// DependentSuccess merges a sentence/metadata job's rows into the base
// job's per-segment bucket (keyed by segment id, so merges across
// concurrently-running jobs commute per spec.md §5) and publishes a
// sentences|meta message referencing the base job (spec.md §4.5).
func (h *Handlers) DependentSuccess(ctx context.Context, in DependentSuccessInput) (map[string]datatypes.Row, error) {
	merged := make(map[string]datatypes.Row, len(in.Previous)+len(in.New))
	for k, v := range in.Previous {
		merged[k] = v
	}
	for _, row := range in.New {
		if len(row) == 0 {
			continue
		}
		merged[fmt.Sprint(row[0])] = row
	}

	if err := h.publish(ctx, map[string]any{
		"action":          string(in.Kind),
		"user":            in.User,
		"room":            in.Room,
		"job":             in.JobID,
		"base":            in.BaseJobID,
		"status":          string(in.BaseStatus),
		"percentage_done": in.PercentageDone,
	}); err != nil {
		return merged, err
	}

	h.logEvent(ctx, "job.finished", in.JobID, string(in.Kind))
	return merged, nil
}

// FailureInput describes a job that reached a terminal non-finished
// state.
type FailureInput struct {
	JobID     string
	User      string
	Room      string
	Kind      string // classified per spec.md §7
	Value     string
	Suppress  bool // true for user-initiated Interrupted (spec.md §4.5)
}

// GeneralFailure implements spec.md §4.5's general-failure handler:
// suppress interrupts, otherwise publish a failed/timeout message.
func (h *Handlers) GeneralFailure(ctx context.Context, in FailureInput) error {
	if in.Suppress {
		h.logEvent(ctx, "job.canceled", in.JobID, "")
		return nil
	}

	status := "failed"
	action := ""
	if in.Kind == "BackendTimeout" {
		status = "timeout"
		action = "timeout"
	}

	err := h.publish(ctx, map[string]any{
		"status": status,
		"action": action,
		"kind":   in.Kind,
		"value":  in.Value,
		"job":    in.JobID,
		"user":   in.User,
		"room":   in.Room,
	})
	h.logEvent(ctx, "job.failed", in.JobID, "")
	return err
}

func (h *Handlers) publish(ctx context.Context, payload map[string]any) error {
	raw, err := marshalEnvelope(payload)
	if err != nil {
		return fmt.Errorf("callbacks: encode envelope: %w", err)
	}
	if err := h.Publisher.Publish(ctx, h.Channel, raw); err != nil {
		return fmt.Errorf("callbacks: publish: %w", err)
	}
	return nil
}

func (h *Handlers) logEvent(ctx context.Context, eventType, jobID, kind string) {
	_ = h.Audit.Log(ctx, adapters.JobEvent{
		EventType: eventType,
		Timestamp: time.Now(),
		JobID:     jobID,
		Kind:      kind,
		Outcome:   "success",
	})
}
