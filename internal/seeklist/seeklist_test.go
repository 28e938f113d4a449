package seeklist

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseGeometry() Geometry {
	return Geometry{
		StartOffset: 0,
		IOSize:      4096,
		BlockSize:   512,
		TargetOps:   16,
		RWRatio:     1.0,
		Pattern:     PatternSequential,
	}
}

func TestSequentialLayout(t *testing.T) {
	g := baseGeometry()
	entries := Generate(g)

	require.Len(t, entries, 16)
	for i, e := range entries {
		assert.Equal(t, int64(i)*4096, e.ByteLocation)
		assert.Equal(t, OpRead, e.OpType)
	}
}

func TestSequentialShortensFinalEntryToRemainder(t *testing.T) {
	g := baseGeometry()
	g.TargetOps = 5
	g.TotalBytes = 4*4096 + 100 // last op only carries 100 bytes

	entries := Generate(g)
	require.Len(t, entries, 5)
	for _, e := range entries[:4] {
		assert.Equal(t, int64(4096), e.ByteLength)
	}
	last := entries[4]
	assert.Equal(t, int64(100), last.ByteLength)
	assert.Equal(t, int64(100)/g.BlockSize, last.BlockCount)
}

func TestRandomShortensFinalEntryToRemainder(t *testing.T) {
	g := baseGeometry()
	g.Pattern = PatternRandom
	g.TargetOps = 5
	g.TotalBytes = 4*4096 + 100

	entries := Generate(g)
	require.Len(t, entries, 5)
	for _, e := range entries[:4] {
		assert.Equal(t, int64(4096), e.ByteLength)
	}
	assert.Equal(t, int64(100), entries[4].ByteLength)
}

func TestExactMultipleTotalBytesLeavesEntriesUnshortened(t *testing.T) {
	g := baseGeometry()
	g.TotalBytes = g.TargetOps * g.IOSize

	entries := Generate(g)
	for _, e := range entries {
		assert.Equal(t, g.IOSize, e.ByteLength)
	}
}

func TestSequentialWraps(t *testing.T) {
	g := baseGeometry()
	g.RangeBytes = 8192 // only 2 slots
	entries := Generate(g)

	for _, e := range entries {
		assert.Less(t, e.ByteLocation, int64(8192))
	}
}

func TestRandomDeterministicGivenSeed(t *testing.T) {
	g := baseGeometry()
	g.Pattern = PatternRandom
	g.Seed = 42
	g.RangeBytes = 1 << 20

	a := Generate(g)
	b := Generate(g)

	assert.Equal(t, a, b)
}

func TestRandomDifferentSeedsDiffer(t *testing.T) {
	g := baseGeometry()
	g.Pattern = PatternRandom
	g.RangeBytes = 1 << 20

	g.Seed = 1
	a := Generate(g)
	g.Seed = 2
	b := Generate(g)

	assert.NotEqual(t, a, b)
}

func TestRWRatioConverges(t *testing.T) {
	g := baseGeometry()
	g.TargetOps = 1000
	g.RWRatio = 0.25

	entries := Generate(g)
	reads := 0
	for _, e := range entries {
		if e.OpType == OpRead {
			reads++
		}
	}
	assert.InDelta(t, 250, reads, 2)
}

func TestRWRatioPureReadAndWrite(t *testing.T) {
	g := baseGeometry()
	g.RWRatio = 1.0
	for _, e := range Generate(g) {
		assert.Equal(t, OpRead, e.OpType)
	}

	g.RWRatio = 0.0
	for _, e := range Generate(g) {
		assert.Equal(t, OpWrite, e.OpType)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := baseGeometry()
	g.RWRatio = 0.5
	original := Generate(g)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, original))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}
