package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReduceWorkersComputesElapsedAndBandwidth(t *testing.T) {
	workers := []WorkerPassStats{
		{WorkerNumber: 0, ReadOps: 10, ReadBytes: 40960, EarliestStart: 1000, LatestEnd: 2000, SumOpLatencyNs: 5000, OpCount: 10},
		{WorkerNumber: 1, WriteOps: 5, WriteBytes: 20480, EarliestStart: 500, LatestEnd: 1800, SumOpLatencyNs: 3000, OpCount: 5},
	}

	row := ReduceWorkers("t0", 0, workers)
	assert.Equal(t, int64(10), row.ReadOps)
	assert.Equal(t, int64(5), row.WriteOps)
	assert.Equal(t, int64(40960+20480), row.ReadBytes+row.WriteBytes)
	assert.Equal(t, uint64(500), row.EarliestNs)
	assert.Equal(t, uint64(2000), row.LatestNs)
	assert.Equal(t, uint64(1500), row.ElapsedNs)
	assert.InDelta(t, float64(8000)/15.0, row.MeanLatencyNs, 0.001)
	assert.Greater(t, row.BandwidthBPS, 0.0)
}

func TestReduceWorkersEmptyReturnsZeroRow(t *testing.T) {
	row := ReduceWorkers("t0", 0, nil)
	assert.Zero(t, row.ReadOps)
	assert.Zero(t, row.ElapsedNs)
}

func TestReduceTargetsUnionsTimesAndSumsBytes(t *testing.T) {
	targets := []TargetRow{
		{TargetName: "t0", ReadBytes: 1000, EarliestNs: 100, LatestNs: 900},
		{TargetName: "t1", WriteBytes: 2000, EarliestNs: 50, LatestNs: 700},
	}

	row := ReduceTargets(0, targets)
	assert.Equal(t, int64(3000), row.TotalBytes)
	assert.Equal(t, uint64(50), row.EarliestNs)
	assert.Equal(t, uint64(900), row.LatestNs)
	assert.Equal(t, uint64(850), row.ElapsedNs)
}

type recordingCallback struct {
	targetRows []TargetRow
	runRows    []RunRow
}

func (c *recordingCallback) TargetRow(row TargetRow) { c.targetRows = append(c.targetRows, row) }
func (c *recordingCallback) RunRow(row RunRow)       { c.runRows = append(c.runRows, row) }

func TestAggregatorRunPassInvokesCallbackPerTargetAndRun(t *testing.T) {
	cb := &recordingCallback{}
	agg := New(cb)

	perTarget := map[string][]WorkerPassStats{
		"t0": {{ReadOps: 1, ReadBytes: 4096, EarliestStart: 0, LatestEnd: 100, OpCount: 1}},
		"t1": {{WriteOps: 1, WriteBytes: 4096, EarliestStart: 0, LatestEnd: 200, OpCount: 1}},
	}

	runRow := agg.RunPass(0, perTarget)
	assert.Len(t, cb.targetRows, 2)
	assert.Len(t, cb.runRows, 1)
	assert.Equal(t, runRow, cb.runRows[0])
	assert.Equal(t, int64(8192), runRow.TotalBytes)
}
