// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the core value types of the Query Iteration Engine:
// Batch, Job, Iteration, LogicalQuery and ResultMap, plus the invariants that
// hold across them.
package datatypes

import "sort"

// Batch is one physical shard of a corpus token table: an immutable
// (corpus_id, schema_name, batch_name, approximate_row_count) tuple.
type Batch struct {
	CorpusID            int    `json:"corpus_id" yaml:"corpus_id"`
	SchemaName          string `json:"schema_name" yaml:"schema_name"`
	BatchName           string `json:"batch_name" yaml:"batch_name"`
	ApproximateRowCount int64  `json:"approximate_row_count" yaml:"approximate_row_count"`
}

// restSuffix is the literal suffix that marks a batch as the catch-all "rest"
// shard: it sorts last in size order but is preferred first by the selector's
// "first iteration" heuristic (qi.py's _get_query_batches).
const restSuffix = "rest"

// IsRest reports whether b is the distinguished "rest" batch.
func (b Batch) IsRest() bool {
	n := len(b.BatchName)
	return n >= len(restSuffix) && b.BatchName[n-len(restSuffix):] == restSuffix
}

// SortBatches orders batches ascending by ApproximateRowCount, with any "rest"
// batch always sorted last regardless of its row count. Ties break
// lexicographically on BatchName for a stable, reproducible order (spec.md §9
// leaves the tie-break unspecified; this pins it down).
func SortBatches(batches []Batch) []Batch {
	out := make([]Batch, len(batches))
	copy(out, batches)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsRest() != b.IsRest() {
			return b.IsRest()
		}
		if a.ApproximateRowCount != b.ApproximateRowCount {
			return a.ApproximateRowCount < b.ApproximateRowCount
		}
		return a.BatchName < b.BatchName
	})
	return out
}

// Key returns a stable identifier for a batch, suitable for use in
// done-batch sets and as a map key.
func (b Batch) Key() string {
	return b.SchemaName + "." + b.BatchName
}
