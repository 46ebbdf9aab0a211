package selector

import (
	"testing"

	"github.com/bambooforest/qiengine/services/engine/datatypes"
	"github.com/stretchr/testify/assert"
)

func batches() []datatypes.Batch {
	return []datatypes.Batch{
		{SchemaName: "s", BatchName: "batch1", ApproximateRowCount: 1000},
		{SchemaName: "s", BatchName: "batch2", ApproximateRowCount: 500},
		{SchemaName: "s", BatchName: "zzzrest", ApproximateRowCount: 10},
	}
}

func TestDecide_AllDone(t *testing.T) {
	all := batches()
	res := Decide(Input{AllBatches: all, DoneBatches: all})
	assert.True(t, res.NoMoreData)
	assert.False(t, res.Found)
}

func TestDecide_Resumption_ReturnsLastDone(t *testing.T) {
	all := batches()
	last := all[1]
	res := Decide(Input{
		AllBatches:   all,
		DoneBatches:  []datatypes.Batch{all[2], last},
		IsResumption: true,
	})
	assert.True(t, res.Found)
	assert.Equal(t, last.Key(), res.Batch.Key())
}

func TestDecide_SingleBatch(t *testing.T) {
	all := []datatypes.Batch{{SchemaName: "s", BatchName: "only", ApproximateRowCount: 42}}
	res := Decide(Input{AllBatches: all, IsSingleBatch: true})
	assert.True(t, res.Found)
	assert.Equal(t, "only", res.Batch.BatchName)
}

// S1: first iteration of a multi-batch corpus prefers the "rest" batch
// over smaller-by-count batches, per qi.py's _get_query_batches.
func TestDecide_FirstIteration_PrefersRest(t *testing.T) {
	all := batches()
	res := Decide(Input{AllBatches: all, IsFirstIteration: true})
	assert.True(t, res.Found)
	assert.True(t, res.Batch.IsRest())
}

func TestDecide_FirstIteration_NoRest_PicksSmallest(t *testing.T) {
	all := []datatypes.Batch{
		{SchemaName: "s", BatchName: "big", ApproximateRowCount: 1000},
		{SchemaName: "s", BatchName: "small", ApproximateRowCount: 10},
	}
	res := Decide(Input{AllBatches: all, IsFirstIteration: true})
	assert.True(t, res.Found)
	assert.Equal(t, "small", res.Batch.BatchName)
}

// S2: full-corpus mode always picks the smallest not-yet-done batch,
// ignoring the "rest" preference and the density heuristic.
func TestDecide_FullCorpus_SmallestNotDone(t *testing.T) {
	all := batches()
	res := Decide(Input{
		AllBatches:  all,
		DoneBatches: []datatypes.Batch{all[2]}, // rest already done
		Full:        true,
	})
	assert.True(t, res.Found)
	assert.Equal(t, "batch2", res.Batch.BatchName)
}

func TestDecide_Unlimited_SmallestNotDone(t *testing.T) {
	all := batches()
	res := Decide(Input{AllBatches: all, Needed: datatypes.Unlimited})
	assert.True(t, res.Found)
	assert.Equal(t, "batch2", res.Batch.BatchName) // rest sorts last regardless of its row count
}

// S3: quick-win heuristic — under min(page_size, 25) results so far, take
// the smallest remaining batch regardless of density prediction.
func TestDecide_QuickWin_BelowThreshold(t *testing.T) {
	all := batches()
	res := Decide(Input{
		AllBatches:        all,
		TotalResultsSoFar: 5,
		PageSize:          20,
		Needed:            100,
	})
	assert.True(t, res.Found)
	assert.Equal(t, "batch2", res.Batch.BatchName)
}

func TestDecide_DensityPrediction_PicksExpectedToSatisfy(t *testing.T) {
	all := []datatypes.Batch{
		{SchemaName: "s", BatchName: "tiny", ApproximateRowCount: 100},
		{SchemaName: "s", BatchName: "huge", ApproximateRowCount: 100000},
	}
	// so_far=30 over 1000 rows processed -> density 0.03.
	// tiny: expected = 100*0.03 = 3, needed*1.1 = 11 -> not enough.
	// huge: expected = 100000*0.03=3000 >= 11 -> satisfies.
	res := Decide(Input{
		AllBatches:         all,
		TotalResultsSoFar:  30,
		TotalRowsProcessed: 1000,
		PageSize:           5, // forces past quick-win threshold
		Needed:             10,
	})
	assert.True(t, res.Found)
	assert.Equal(t, "huge", res.Batch.BatchName)
}

func TestDecide_Fallback_FirstNotDone(t *testing.T) {
	all := []datatypes.Batch{
		{SchemaName: "s", BatchName: "tiny", ApproximateRowCount: 100},
		{SchemaName: "s", BatchName: "small", ApproximateRowCount: 200},
	}
	res := Decide(Input{
		AllBatches:         all,
		TotalResultsSoFar:  30,
		TotalRowsProcessed: 1000,
		PageSize:           5,
		Needed:             100000, // unsatisfiable by any batch's density
	})
	assert.True(t, res.Found)
	assert.Equal(t, "tiny", res.Batch.BatchName)
}
