package tsring

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimSequential(t *testing.T) {
	r := New(4, PolicyWrap)
	for i := 0; i < 4; i++ {
		assert.Equal(t, int64(i), r.Claim())
	}
}

func TestOneshotStopsWhenFull(t *testing.T) {
	r := New(2, PolicyOneshot)
	assert.Equal(t, int64(0), r.Claim())
	assert.Equal(t, int64(1), r.Claim())
	assert.Equal(t, int64(-1), r.Claim())
	assert.Equal(t, int64(-1), r.Claim())
}

func TestWrapOverwritesOldest(t *testing.T) {
	r := New(2, PolicyWrap)
	assert.Equal(t, int64(0), r.Claim())
	assert.Equal(t, int64(1), r.Claim())
	assert.Equal(t, int64(0), r.Claim())
	assert.Equal(t, int64(1), r.Claim())
}

func TestClaimConcurrentNeverDoubleAssigns(t *testing.T) {
	r := New(1000, PolicyOneshot)
	seen := make([]int32, 1000)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				slot := r.Claim()
				if slot < 0 {
					continue
				}
				mu.Lock()
				seen[slot]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, count := range seen {
		assert.LessOrEqual(t, count, int32(1))
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	r := New(4, PolicyWrap)
	slot := r.Claim()
	entry := Entry{OpNumber: 7, ByteLocation: 4096, BytesXferred: 4096}
	r.Write(slot, entry)

	assert.Equal(t, entry, r.Read(slot))
}

func TestSnapshotBeforeWrap(t *testing.T) {
	r := New(4, PolicyWrap)
	for i := 0; i < 3; i++ {
		slot := r.Claim()
		r.Write(slot, Entry{OpNumber: uint64(i)})
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	for i, e := range snap {
		assert.Equal(t, uint64(i), e.OpNumber)
	}
}

func TestDumpRoundTrip(t *testing.T) {
	entries := []Entry{
		{PassNumber: 0, WorkerNumber: 1, OpNumber: 2, ByteLocation: 4096, BytesXferred: 4096, DiskStartNs: 10, DiskEndNs: 20},
		{PassNumber: 0, WorkerNumber: 2, OpNumber: 3, ByteLocation: 8192, BytesXferred: 4096, DiskStartNs: 30, DiskEndNs: 40},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteDump(&buf, 0xDEADBEEF, entries))

	magic, readBack, err := ReadDump(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), magic)
	assert.Equal(t, entries, readBack)
}
