// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package selector implements the Batch Selector (spec.md §4.3): a pure
// function choosing the next batch to query given the Logical Query's
// accumulated state. Ported from lcpvian/qi.py's decide_batch().
package selector

import "github.com/bambooforest/qiengine/services/engine/datatypes"

// bufferFactor is the safety margin applied to the density prediction
// (qi.py: `expected >= needed * 1.1`).
const bufferFactor = 1.1

// quickWinThreshold caps the "get something to the user fast" heuristic
// at min(page_size, 25) results produced so far (qi.py: hardcoded 25).
const quickWinThreshold = 25

// Input bundles everything the selector needs; it holds no state of its own
// and depends on nothing beyond these fields, so it is trivially testable
// with scenario tables (spec.md §4.3's closing requirement).
type Input struct {
	AllBatches        []datatypes.Batch
	DoneBatches       []datatypes.Batch
	TotalResultsSoFar int
	// TotalRowsProcessed is the sum of ApproximateRowCount across done
	// batches, used for the density prediction.
	TotalRowsProcessed int64
	Needed             datatypes.Needed
	Full               bool
	PageSize           int
	IsSingleBatch      bool
	// IsResumption marks a pagination call against an existing Logical
	// Query (as opposed to its first iteration).
	IsResumption bool
	// IsFirstIteration marks the very first iteration of a fresh Logical
	// Query.
	IsFirstIteration bool
}

// Result is the selector's verdict.
type Result struct {
	Batch      datatypes.Batch
	Found      bool
	NoMoreData bool
}

// Decide chooses the next batch per spec.md §4.3's policy, in priority
// order. It never mutates its input and holds no hidden state.
func Decide(in Input) Result {
	sorted := datatypes.SortBatches(in.AllBatches)
	done := make(map[string]bool, len(in.DoneBatches))
	for _, b := range in.DoneBatches {
		done[b.Key()] = true
	}

	notDone := func() []datatypes.Batch {
		out := make([]datatypes.Batch, 0, len(sorted))
		for _, b := range sorted {
			if !done[b.Key()] {
				out = append(out, b)
			}
		}
		return out
	}

	// 1. Every batch done.
	remaining := notDone()
	if len(remaining) == 0 {
		return Result{NoMoreData: true}
	}

	// 2. Resumption: re-enter the last done batch to hydrate more
	// sentences/metadata, never to re-run the primary.
	if in.IsResumption {
		if len(in.DoneBatches) == 0 {
			return Result{NoMoreData: true}
		}
		last := in.DoneBatches[len(in.DoneBatches)-1]
		return Result{Batch: last, Found: true}
	}

	// 3. Single-batch corpora always return that one batch.
	if in.IsSingleBatch {
		return Result{Batch: sorted[0], Found: true}
	}

	// 4. First iteration: prefer the "rest" batch, else the smallest.
	if in.IsFirstIteration {
		for _, b := range remaining {
			if b.IsRest() {
				return Result{Batch: b, Found: true}
			}
		}
		return Result{Batch: remaining[0], Found: true}
	}

	// 5. Full-corpus mode: smallest not-yet-done.
	if in.Full || in.Needed == datatypes.Unlimited {
		return Result{Batch: remaining[0], Found: true}
	}

	// 6. Under quota.
	quickWin := in.PageSize
	if quickWin > quickWinThreshold || quickWin <= 0 {
		quickWin = quickWinThreshold
	}
	if in.TotalResultsSoFar < quickWin {
		return Result{Batch: remaining[0], Found: true}
	}

	if in.TotalRowsProcessed > 0 {
		density := float64(in.TotalResultsSoFar) / float64(in.TotalRowsProcessed)
		for _, b := range remaining {
			expected := float64(b.ApproximateRowCount) * density
			if expected >= float64(in.Needed)*bufferFactor {
				return Result{Batch: b, Found: true}
			}
		}
	}

	// Safety fallback.
	return Result{Batch: remaining[0], Found: true}
}
