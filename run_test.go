package xdd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdd-io/xdd/internal/results"
)

type captureCallback struct {
	targetRows []results.TargetRow
	runRows    []results.RunRow
}

func (c *captureCallback) TargetRow(row results.TargetRow) { c.targetRows = append(c.targetRows, row) }
func (c *captureCallback) RunRow(row results.RunRow)       { c.runRows = append(c.runRows, row) }

func smallTargetConfig(name string, backend *MockBackend) TargetConfig {
	tc := DefaultTargetConfig(name, backend)
	tc.QueueDepth = 2
	tc.ReqSize = 8
	tc.BlockSize = 512
	tc.TotalBytes = 64 * 1024
	return tc
}

func TestRunExecutesSinglePassSingleTarget(t *testing.T) {
	backend := NewMockBackend(1 << 20)
	cb := &captureCallback{}

	run, err := NewRun(DefaultRunConfig(), []TargetConfig{smallTargetConfig("disk0", backend)}, cb)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, run.Execute(ctx))

	require.Len(t, cb.targetRows, 1)
	assert.Equal(t, "disk0", cb.targetRows[0].TargetName)
	assert.Greater(t, cb.targetRows[0].ReadOps+cb.targetRows[0].WriteOps, int64(0))
	require.Len(t, cb.runRows, 1)
	assert.Equal(t, cb.targetRows[0].ReadBytes+cb.targetRows[0].WriteBytes, cb.runRows[0].TotalBytes)
}

func TestRunExecutesMultiplePasses(t *testing.T) {
	backend := NewMockBackend(1 << 20)
	cb := &captureCallback{}

	runCfg := DefaultRunConfig()
	runCfg.Passes = 3

	run, err := NewRun(runCfg, []TargetConfig{smallTargetConfig("disk0", backend)}, cb)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, run.Execute(ctx))

	assert.Len(t, cb.runRows, 3)
	for i, row := range cb.runRows {
		assert.Equal(t, int64(i), row.PassNumber)
	}
}

func TestRunMultipleTargetsAggregateBytes(t *testing.T) {
	b1 := NewMockBackend(1 << 20)
	b2 := NewMockBackend(1 << 20)
	cb := &captureCallback{}

	run, err := NewRun(DefaultRunConfig(), []TargetConfig{
		smallTargetConfig("disk0", b1),
		smallTargetConfig("disk1", b2),
	}, cb)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, run.Execute(ctx))

	require.Len(t, cb.targetRows, 2)
	require.Len(t, cb.runRows, 1)

	var sumBytes int64
	for _, row := range cb.targetRows {
		sumBytes += row.ReadBytes + row.WriteBytes
	}
	assert.Equal(t, sumBytes, cb.runRows[0].TotalBytes)
}

func TestNewRunRequiresAtLeastOneTarget(t *testing.T) {
	_, err := NewRun(DefaultRunConfig(), nil, &captureCallback{})
	assert.Error(t, err)
}

func TestNewRunRequiresTargetOpsOrTotalBytes(t *testing.T) {
	backend := NewMockBackend(4096)
	tc := DefaultTargetConfig("disk0", backend)
	_, err := NewRun(DefaultRunConfig(), []TargetConfig{tc}, &captureCallback{})
	assert.Error(t, err)
}

func TestRunVerifyWritesSurfacesCorruption(t *testing.T) {
	backend := NewMockBackend(1 << 20)
	tc := smallTargetConfig("disk0", backend)
	tc.RWRatio = 0 // every op a write
	tc.VerifyWrites = true

	cb := &captureCallback{}
	run, err := NewRun(DefaultRunConfig(), []TargetConfig{tc}, cb)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, run.Execute(ctx))

	require.Len(t, cb.targetRows, 1)
	assert.Equal(t, int64(0), cb.targetRows[0].ReadOps)
	assert.Greater(t, cb.targetRows[0].WriteOps, int64(0))
}
