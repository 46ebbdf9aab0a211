package controller

import (
	"context"
	"testing"

	"github.com/bambooforest/qiengine/pkg/adapters"
	"github.com/bambooforest/qiengine/services/engine/callbacks"
	"github.com/bambooforest/qiengine/services/engine/cache"
	"github.com/bambooforest/qiengine/services/engine/datatypes"
	"github.com/bambooforest/qiengine/services/engine/submitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	enqueued  []adapters.EnqueueSpec
	canceled  []string
	snapshots map[string]adapters.JobSnapshot
	nextID    string
}

func (f *fakeRuntime) Enqueue(ctx context.Context, spec adapters.EnqueueSpec) (string, error) {
	f.enqueued = append(f.enqueued, spec)
	if f.nextID != "" {
		return f.nextID, nil
	}
	return spec.JobID, nil
}

func (f *fakeRuntime) Fetch(ctx context.Context, jobID string) (adapters.JobSnapshot, error) {
	return f.snapshots[jobID], nil
}

func (f *fakeRuntime) Cancel(ctx context.Context, jobID string) error {
	f.canceled = append(f.canceled, jobID)
	return nil
}

type fakePublisher struct{}

func (fakePublisher) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func newTestController(t *testing.T) (*Controller, *fakeRuntime) {
	t.Helper()
	backend, err := cache.NewBadgerBackend(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	rt := &fakeRuntime{snapshots: map[string]adapters.JobSnapshot{}}
	sub := submitter.New(cache.New(backend, "job:", 0), rt, nil, submitter.Timeouts{}, false)
	cb := callbacks.New(fakePublisher{}, "chan", nil)
	return New(rt, sub, cb, nil), rt
}

func TestFromRequest_FreshQuery(t *testing.T) {
	c, _ := newTestController(t)
	batches := []datatypes.Batch{{SchemaName: "s", BatchName: "b1", ApproximateRowCount: 10}}

	lq, it, err := c.FromRequest(context.Background(), NewQueryRequest{
		User: "u", Room: "r", CorpusIDs: []int{1},
		TotalResultsRequested: 50, PageSize: 20, Sentences: true,
	}, batches)

	require.NoError(t, err)
	assert.Equal(t, datatypes.StateCreated, lq.State)
	assert.Equal(t, 0, it.Index)
	assert.Equal(t, 50, it.Needed)
}

func TestFromRequest_ResumePullsPreviousTotals(t *testing.T) {
	c, rt := newTestController(t)
	rt.snapshots["prev-job"] = adapters.JobSnapshot{
		ID:   "prev-job",
		Meta: map[string]any{"total_found": float64(7)},
	}

	lq, it, err := c.FromRequest(context.Background(), NewQueryRequest{
		Previous: "prev-job", TotalResultsRequested: 50,
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 7, lq.TotalResultsSoFar)
	assert.Equal(t, datatypes.Unlimited, it.Needed)
}

func TestFromManual_AppendsCurrentBatchToDone(t *testing.T) {
	c, _ := newTestController(t)
	current := datatypes.Batch{SchemaName: "s", BatchName: "b1"}

	lq, it := c.FromManual(ManualContinuation{
		FirstJobID:   "job1",
		AllBatches:   []datatypes.Batch{current, {SchemaName: "s", BatchName: "b2"}},
		CurrentBatch: current,
	})

	assert.Equal(t, datatypes.StateCreated, lq.State)
	assert.Len(t, lq.DoneBatches, 1)
	assert.Equal(t, 1, it.Index)
}

func TestChooseBatch_NoMoreDataTransitionsToTerminal(t *testing.T) {
	c, _ := newTestController(t)
	b := datatypes.Batch{SchemaName: "s", BatchName: "b1"}
	lq := &datatypes.LogicalQuery{AllBatches: []datatypes.Batch{b}, DoneBatches: []datatypes.Batch{b}}
	it := &datatypes.Iteration{}

	res := c.ChooseBatch(lq, it, false)

	assert.True(t, res.NoMoreData)
	assert.Equal(t, datatypes.StateTerminal, lq.State)
}

func TestChooseBatch_PicksBatchAndTransitionsToSubmitting(t *testing.T) {
	c, _ := newTestController(t)
	lq := &datatypes.LogicalQuery{AllBatches: []datatypes.Batch{{SchemaName: "s", BatchName: "b1"}}}
	it := &datatypes.Iteration{Needed: datatypes.Unlimited, Full: true}

	res := c.ChooseBatch(lq, it, false)

	require.True(t, res.Found)
	assert.Equal(t, datatypes.StateSubmitting, lq.State)
	assert.Equal(t, res.Batch, it.Batch)
}

func TestSubmit_TransitionsToRunningAndWiresSentDependency(t *testing.T) {
	c, rt := newTestController(t)
	lq := &datatypes.LogicalQuery{Sentences: true}
	it := &datatypes.Iteration{SQL: "select 1", SentSQL: "select sent"}

	out, err := c.Submit(context.Background(), lq, it, SubmissionSpec{Queue: "query"})

	require.NoError(t, err)
	assert.Equal(t, datatypes.StateRunning, lq.State)
	assert.NotEmpty(t, it.PrimaryJobID)
	assert.Equal(t, it.PrimaryJobID, lq.FirstJobID)
	require.NotNil(t, out.Sentence)
	require.Len(t, rt.enqueued, 2)
	assert.Equal(t, []string{it.PrimaryJobID}, rt.enqueued[1].DependsOn)
}

func TestComplete_FinishedGoesTerminal(t *testing.T) {
	c, _ := newTestController(t)
	lq := &datatypes.LogicalQuery{}
	it := &datatypes.Iteration{Batch: datatypes.Batch{SchemaName: "s", BatchName: "b1"}}

	state, err := c.Complete(context.Background(), lq, it, callbacks.PrimaryResult{
		Status: datatypes.CBFinished, TotalFound: 5,
	})

	require.NoError(t, err)
	assert.Equal(t, datatypes.StateTerminal, state)
	assert.Len(t, lq.DoneBatches, 1)
}

type fakeDurationRecorder struct {
	recorded []float64
}

func (f *fakeDurationRecorder) Record(ctx context.Context, seconds float64) error {
	f.recorded = append(f.recorded, seconds)
	return nil
}

func TestComplete_RecordsDurationWhenIterationWasSubmitted(t *testing.T) {
	c, _ := newTestController(t)
	stats := &fakeDurationRecorder{}
	c.Stats = stats

	lq := &datatypes.LogicalQuery{}
	it := &datatypes.Iteration{SQL: "select 1"}

	_, err := c.Submit(context.Background(), lq, it, SubmissionSpec{Queue: "query"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), lq, it, callbacks.PrimaryResult{Status: datatypes.CBPartial})

	require.NoError(t, err)
	require.Len(t, stats.recorded, 1)
	assert.GreaterOrEqual(t, stats.recorded[0], 0.0)
	assert.GreaterOrEqual(t, lq.TotalDuration, 0.0)
}

func TestComplete_SkipsDurationWhenIterationNeverSubmitted(t *testing.T) {
	c, _ := newTestController(t)
	stats := &fakeDurationRecorder{}
	c.Stats = stats

	lq := &datatypes.LogicalQuery{}
	it := &datatypes.Iteration{}

	_, err := c.Complete(context.Background(), lq, it, callbacks.PrimaryResult{Status: datatypes.CBPartial})

	require.NoError(t, err)
	assert.Empty(t, stats.recorded)
}

func TestComplete_PartialGoesContinue(t *testing.T) {
	c, _ := newTestController(t)
	lq := &datatypes.LogicalQuery{}
	it := &datatypes.Iteration{Batch: datatypes.Batch{SchemaName: "s", BatchName: "b1"}}

	state, err := c.Complete(context.Background(), lq, it, callbacks.PrimaryResult{
		Status: datatypes.CBPartial, TotalFound: 5,
	})

	require.NoError(t, err)
	assert.Equal(t, datatypes.StateContinue, state)
}

func TestComplete_CanceledOverridesStatus(t *testing.T) {
	c, _ := newTestController(t)
	lq := &datatypes.LogicalQuery{Canceled: true}
	it := &datatypes.Iteration{}

	state, err := c.Complete(context.Background(), lq, it, callbacks.PrimaryResult{Status: datatypes.CBFinished})

	require.NoError(t, err)
	assert.Equal(t, datatypes.StateCanceled, state)
}

func TestComplete_SchedulesExportOnTerminalWithExportIntent(t *testing.T) {
	c, rt := newTestController(t)
	lq := &datatypes.LogicalQuery{FirstJobID: "first", ToExport: "csv", SentJobIDs: []string{"s1"}, MetaJobIDs: []string{"m1"}}
	it := &datatypes.Iteration{}

	_, err := c.Complete(context.Background(), lq, it, callbacks.PrimaryResult{Status: datatypes.CBFinished})

	require.NoError(t, err)
	require.Len(t, rt.enqueued, 1)
	assert.Equal(t, "export", rt.enqueued[0].Kind)
	assert.ElementsMatch(t, []string{"s1", "m1"}, rt.enqueued[0].DependsOn)
}

func TestCancel_IsIdempotentAndCancelsNonTerminalJobs(t *testing.T) {
	c, rt := newTestController(t)
	lq := &datatypes.LogicalQuery{FirstJobID: "first"}

	err := c.Cancel(context.Background(), lq, []string{"j1", "j2"})
	require.NoError(t, err)
	assert.True(t, lq.Canceled)
	assert.Equal(t, datatypes.StateCanceled, lq.State)
	assert.Len(t, rt.canceled, 2)

	err = c.Cancel(context.Background(), lq, []string{"j1", "j2"})
	require.NoError(t, err)
	assert.Len(t, rt.canceled, 2, "a second cancel must not re-cancel already-canceled jobs")
}
