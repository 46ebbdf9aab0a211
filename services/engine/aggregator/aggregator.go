// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package aggregator implements the Result Aggregator (spec.md §4.2): it
// folds one primary job's raw rows into a Logical Query's cumulative result
// map, applying offset, quota and post-processing. Ported from
// backend/utils.py's _add_results / _union_results / _make_kwic_line.
package aggregator

import (
	"fmt"
	"strconv"

	"github.com/bambooforest/qiengine/services/engine/datatypes"
)

// Sentences maps a sentence id (the first element of a KWIC row, stringified)
// to the full sentence row fetched by a dependent sentence job.
type Sentences map[string]datatypes.Row

// Input bundles one primary job's raw output plus the iteration context
// needed to fold it into the running result map.
type Input struct {
	// Raw holds the primary job's rows exactly as produced: index 0 of
	// each row is the result-set index (as a string-or-int; qi.py reads
	// `int(line[0])`), index 1 is the payload.
	Raw []datatypes.Row

	Previous       datatypes.ResultMap
	Offset         int
	Needed         datatypes.Needed
	Full           bool
	KWIC           bool
	Sentences      Sentences
	TotalRequested int
	PostProc       datatypes.PostProcessingDescriptor
}

// Output is the fold's result: the updated cumulative map and the count of
// plain rows this input's Raw carried for the first plain index (qi.py's
// n_results), before offset, needed and truncation are applied.
type Output struct {
	Merged  datatypes.ResultMap
	Counted int
}

// Aggregate folds one primary job's raw rows into the cumulative result map
// per spec.md §4.2's five numbered steps.
func Aggregate(in Input) (Output, error) {
	fresh, counted, err := extract(in)
	if err != nil {
		return Output{}, err
	}

	merged := union(in.Previous, fresh)
	merged = truncate(merged, in.TotalRequested)
	merged = applyPostProc(merged, in.PostProc)

	return Output{Merged: merged, Counted: counted}, nil
}

// extract implements steps 1-2: split Raw into the descriptor-keyed plain
// index set and a per-index bucket, applying offset/needed/hydration rules.
func extract(in Input) (datatypes.ResultMap, int, error) {
	bundle := datatypes.ResultMap{}
	counts := map[int]int{}
	plain := map[int]bool{}

	for _, line := range in.Raw {
		idx, err := rowIndex(line)
		if err != nil {
			return nil, 0, err
		}
		if idx == datatypes.DescriptorKey {
			payload, ok := line[1].(map[string]any)
			if !ok {
				continue
			}
			bundle[datatypes.DescriptorKey] = []datatypes.Row{{payload}}
			sets, _ := payload["result_sets"].([]any)
			for i, s := range sets {
				m, ok := s.(map[string]any)
				if ok && m["type"] == string(datatypes.KindPlain) {
					plain[i+1] = true
				}
			}
			break
		}
	}

	var firstPlain = -1
	for _, line := range in.Raw {
		idx, err := rowIndex(line)
		if err != nil {
			return nil, 0, err
		}
		if idx == datatypes.DescriptorKey {
			continue
		}
		rest := line[1]

		if !plain[idx] {
			// Non-plain: append unconditionally (step 2, non-plain case).
			bundle[idx] = append(bundle[idx], datatypes.Row{rest})
			continue
		}

		if firstPlain == -1 {
			firstPlain = idx
		}

		if !in.KWIC {
			// Plain, not hydrating: count only, do not emit.
			counts[idx]++
			continue
		}

		counts[idx]++
		if !in.Full && in.Needed != datatypes.Unlimited && in.Offset > 0 && counts[idx] <= in.Offset {
			continue
		}
		if !in.Full && in.Needed != datatypes.Unlimited && len(bundle[idx]) >= in.Needed {
			continue
		}

		rowSlice, ok := rest.(datatypes.Row)
		if !ok {
			return nil, 0, fmt.Errorf("aggregator: plain row payload at index %d is not a Row", idx)
		}
		kwic, err := makeKWICLine(rowSlice, in.Sentences)
		if err != nil {
			return nil, 0, err
		}
		bundle[idx] = append(bundle[idx], kwic)
	}

	n := 0
	if firstPlain != -1 {
		n = counts[firstPlain]
	}
	return bundle, n, nil
}

// rowIndex extracts and normalises the leading result-set index of a raw
// row, which the SQL generator may emit as an int or a numeric string.
func rowIndex(line datatypes.Row) (int, error) {
	if len(line) < 2 {
		return 0, fmt.Errorf("aggregator: row has fewer than 2 elements: %v", line)
	}
	switch v := line[0].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("aggregator: non-numeric row index %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("aggregator: unrecognised row index type %T", line[0])
	}
}

// makeKWICLine splices a sentence's full row onto the original match tuple's
// id, per utils.py's _make_kwic_line: the sentence whose id matches the
// match row's leading id is spliced in; any unmatched original is an error.
func makeKWICLine(original datatypes.Row, sents Sentences) (datatypes.Row, error) {
	if len(original) == 0 {
		return nil, fmt.Errorf("aggregator: empty match row")
	}
	id := fmt.Sprint(original[0])
	sent, ok := sents[id]
	if !ok {
		return nil, fmt.Errorf("aggregator: matching sentence not found for id %s", id)
	}
	out := make(datatypes.Row, 0, len(sent)+len(original))
	out = append(out, original[0])
	out = append(out, sent...)
	out = append(out, original[1:]...)
	return out, nil
}

// union joins a fresh bucket into the running cumulative map per step 3:
// plain indices extend, non-plain indices (and the descriptor) replace.
func union(soFar, incoming datatypes.ResultMap) datatypes.ResultMap {
	out := datatypes.ResultMap{}
	for k, v := range soFar {
		out[k] = append([]datatypes.Row{}, v...)
	}

	plain := incoming.PlainIndices()
	if len(plain) == 0 {
		// No fresh descriptor this round; fall back to what we already know.
		plain = out.PlainIndices()
	}

	for k, v := range incoming {
		if k == datatypes.DescriptorKey {
			if _, exists := out[k]; exists {
				continue
			}
			out[k] = v
			continue
		}
		if plain[k] {
			out[k] = append(out[k], v...)
		} else {
			out[k] = v
		}
	}
	return out
}

// truncate implements step 4: cap every plain index's length at
// totalRequested once it is known and positive.
func truncate(m datatypes.ResultMap, totalRequested int) datatypes.ResultMap {
	if totalRequested <= 0 {
		return m
	}
	for idx := range m.PlainIndices() {
		if rows, ok := m[idx]; ok && len(rows) > totalRequested {
			m[idx] = rows[:totalRequested]
		}
	}
	return m
}

// PostProcFilter is a per-result-set predicate+projection applied to rows
// after union; it is supplied by the (out-of-scope) SQL generator and
// applied here as an opaque callback so the aggregator package does not
// need to understand its shape.
type PostProcFilter func(resultSetIndex int, row datatypes.Row) (datatypes.Row, bool)

// applyPostProc implements step 5 using the caller-supplied descriptor
// when it carries a "filters" entry of type PostProcFilter; anything else
// is treated as a no-op, since the descriptor's exact shape is owned by the
// SQL generator adapter, not this package.
func applyPostProc(m datatypes.ResultMap, desc datatypes.PostProcessingDescriptor) datatypes.ResultMap {
	if desc == nil {
		return m
	}
	filters, ok := desc["filters"].(map[int]PostProcFilter)
	if !ok {
		return m
	}
	for idx, filter := range filters {
		rows, ok := m[idx]
		if !ok {
			continue
		}
		kept := make([]datatypes.Row, 0, len(rows))
		for _, r := range rows {
			if out, ok := filter(idx, r); ok {
				kept = append(kept, out)
			}
		}
		m[idx] = kept
	}
	return m
}
