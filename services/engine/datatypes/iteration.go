package datatypes

import "time"

// Needed is the "results still wanted" counter: quota minus produced-so-far,
// or Unlimited when the caller placed no cap (full-corpus mode, or an
// explicit unlimited page request).
type Needed = int

// Unlimited marks an iteration as having no result cap (qi.py's `needed =
// -1` convention).
const Unlimited Needed = -1

// SQLTemplate is a SQL string as produced by the (out-of-scope) SQL
// generator. Sentence and metadata templates carry a literal `:ids` bind
// placeholder that the worker runtime fills in at execution time from the
// dependency's result (spec.md §4.4); the engine never rewrites it.
type SQLTemplate string

// PostProcessingDescriptor is the opaque per-result-set filter/projection
// list returned alongside generated SQL. The Result Aggregator applies it
// idempotently after every union (spec.md §4.2 step 5).
type PostProcessingDescriptor map[string]any

// Iteration is one pass of the engine over exactly one batch.
type Iteration struct {
	LogicalQueryID string
	Index          int
	Batch          Batch

	Query      map[string]any // the structured query, opaque to the engine
	SQL        SQLTemplate
	PostProc   PostProcessingDescriptor
	SentSQL    SQLTemplate
	MetaSQL    SQLTemplate
	Languages  []string

	ResultMap          ResultMap
	TotalResultsSoFar  int
	TotalRowsProcessed int64

	Offset  int
	Quota   int
	Needed  Needed
	Full    bool
	KWIC    bool

	PrimaryJobID  string
	SentJobID     string
	MetaJobID     string

	// StartedAt marks when the primary job was submitted, so Controller.Complete
	// can derive this iteration's wall-clock duration for the timebytes
	// rolling sample (spec.md §6's `timebytes` cache key).
	StartedAt time.Time
}

// NeededFor computes the `needed` value for a fresh iteration given a quota
// and the count already produced, per qi.py's make_query: unlimited stays
// unlimited, otherwise needed = quota - so_far (never negative).
func NeededFor(quota, soFar int, full bool) Needed {
	if full || quota <= 0 {
		return Unlimited
	}
	n := quota - soFar
	if n < 0 {
		return 0
	}
	return n
}

// LogicalQueryStatus mirrors spec.md §4.6's Controller state machine.
type LogicalQueryStatus string

const (
	StateCreated    LogicalQueryStatus = "created"
	StateSubmitting LogicalQueryStatus = "submitting"
	StateReplaying  LogicalQueryStatus = "replaying"
	StateRunning    LogicalQueryStatus = "running"
	StateAggregated LogicalQueryStatus = "aggregated"
	StateContinue   LogicalQueryStatus = "continue"
	StateTerminal   LogicalQueryStatus = "terminal"
	StateCanceled   LogicalQueryStatus = "canceled"
)

// CallbackStatus is the three-way primary-success outcome spec.md §4.5
// writes to job meta and publishes to clients.
type CallbackStatus string

const (
	CBFinished CallbackStatus = "finished"
	CBSatisfied CallbackStatus = "satisfied"
	CBPartial  CallbackStatus = "partial"
	CBFailed   CallbackStatus = "failed"
)

// LogicalQuery is the user-facing query identity, surviving across
// iterations.
type LogicalQuery struct {
	FirstJobID string
	User       string
	Room       string
	CorpusIDs  []int

	AllBatches  []Batch
	DoneBatches []Batch

	TotalResultsSoFar  int
	TotalRowsProcessed int64
	TotalDuration      float64

	SentJobIDs []string
	MetaJobIDs []string

	LatestStatsMessageID string
	ToExport             string

	State    LogicalQueryStatus
	Canceled bool

	Page int

	PageSize              int
	TotalResultsRequested int
	Full                  bool
	Sentences             bool

	CurrentResultMap ResultMap
}

// DoneBatchKeys returns the set of done batch keys, for membership tests.
func (lq *LogicalQuery) DoneBatchKeys() map[string]bool {
	out := make(map[string]bool, len(lq.DoneBatches))
	for _, b := range lq.DoneBatches {
		out[b.Key()] = true
	}
	return out
}

// MarkDone appends b to DoneBatches unless already present, preserving the
// spec.md §3 invariant that done_batches is a set.
func (lq *LogicalQuery) MarkDone(b Batch) {
	key := b.Key()
	for _, d := range lq.DoneBatches {
		if d.Key() == key {
			return
		}
	}
	lq.DoneBatches = append(lq.DoneBatches, b)
}
