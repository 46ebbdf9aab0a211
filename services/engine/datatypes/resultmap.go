package datatypes

// ResultMap is the mapping from result-set index to either a list of plain
// match tuples or a list of aggregated tuples, keyed by the SQL generator's
// 1-based result-set index (spec.md §3). The mixed key meaning is carried by
// the int keys alone: DescriptorKey and DiagnosticsKey are sentinel
// constants and every other key is a data bucket. The type is a plain map,
// not a tagged sum, so the type system does not tell the three kinds of
// entry apart.
type ResultMap map[int][]Row

// Row is one tuple in a result bucket. The engine never interprets its
// shape beyond splicing a sentence prefix onto plain rows during hydration
// (aggregator.Aggregate); its contents are opaque, generator-defined JSON
// values.
type Row []any

const (
	// DescriptorKey is the sentinel result-map index naming and typing every
	// result set produced by this Logical Query.
	DescriptorKey = 0
	// DiagnosticsKey is the sentinel result-map index carrying diagnostics,
	// when present.
	DiagnosticsKey = -1
)

// ResultSetKind classifies a result-set index via the descriptor entry.
type ResultSetKind string

const (
	// KindPlain marks a row-per-match KWIC-style result set.
	KindPlain ResultSetKind = "plain"
	// KindAggregate marks a statistical/aggregate result set, re-computed
	// from scratch each iteration rather than paginated.
	KindAggregate ResultSetKind = "aggregate"
)

// ResultSetDescriptor names and types one result set; it is one element of
// the descriptor entry stored at ResultMap[DescriptorKey].
type ResultSetDescriptor struct {
	Name string        `json:"name"`
	Type ResultSetKind `json:"type"`
}

// Descriptor reads the descriptor entry out of a result map, if present.
// Per spec.md §3's invariant, plain-index -> type assignments are stable
// across all iterations of one Logical Query, so it is safe for callers to
// cache the returned slice for the lifetime of the query.
func (r ResultMap) Descriptor() []ResultSetDescriptor {
	row, ok := r[DescriptorKey]
	if !ok || len(row) == 0 || len(row[0]) == 0 {
		return nil
	}
	raw, ok := row[0][0].(map[string]any)
	if !ok {
		return nil
	}
	sets, _ := raw["result_sets"].([]any)
	out := make([]ResultSetDescriptor, 0, len(sets))
	for _, s := range sets {
		m, ok := s.(map[string]any)
		if !ok {
			continue
		}
		d := ResultSetDescriptor{}
		if name, ok := m["name"].(string); ok {
			d.Name = name
		}
		if typ, ok := m["type"].(string); ok {
			d.Type = ResultSetKind(typ)
		}
		out = append(out, d)
	}
	return out
}

// PlainIndices returns the set of 1-based result-set indices whose type is
// "plain" according to the descriptor entry.
func (r ResultMap) PlainIndices() map[int]bool {
	out := map[int]bool{}
	for i, d := range r.Descriptor() {
		if d.Type == KindPlain {
			out[i+1] = true
		}
	}
	return out
}
