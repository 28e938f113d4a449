package restart

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := Record{
		SourceHost:                "host-a",
		SourcePath:                "/data/src",
		DestinationHost:           "host-b",
		DestinationPath:           "/data/dst",
		LowByteOffset:             0,
		HighByteOffset:            1 << 30,
		LastCommittedByteLocation: 1 << 20,
		LastCommittedLength:       4096,
		LastUpdateTime:            1234567,
		Flags:                     FlagIsSource | FlagResumeCopy,
	}

	decoded, err := Decode(Encode(r))
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestDecodeMissingRequiredKeyErrors(t *testing.T) {
	_, err := Decode([]byte("source_host=a\n"))
	assert.Error(t, err)
}

func TestWriteReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "restart.state")

	r := Record{
		SourceHost:                "a",
		SourcePath:                "/a",
		DestinationHost:           "b",
		DestinationPath:           "/b",
		LastCommittedByteLocation: 8192,
		Flags:                     FlagIsSource,
	}

	require.NoError(t, WriteFile(path, r))
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, r.LastCommittedByteLocation, got.LastCommittedByteLocation)
}

func TestCommitTrackerMergesContiguousInOrder(t *testing.T) {
	ct := NewCommitTracker(0)
	ct.Report(0, 100)
	assert.Equal(t, int64(100), ct.Frontier())
	ct.Report(100, 100)
	assert.Equal(t, int64(200), ct.Frontier())
}

func TestCommitTrackerMergesOutOfOrder(t *testing.T) {
	ct := NewCommitTracker(0)
	ct.Report(200, 100) // arrives before its predecessor
	assert.Equal(t, int64(0), ct.Frontier())
	assert.Len(t, ct.pendingOffsets(), 1)

	ct.Report(100, 100)
	assert.Equal(t, int64(0), ct.Frontier())

	ct.Report(0, 100)
	assert.Equal(t, int64(300), ct.Frontier())
	assert.Empty(t, ct.pendingOffsets())
}

func TestCommitTrackerStartsFromResumeOffset(t *testing.T) {
	ct := NewCommitTracker(4096)
	ct.Report(4096, 4096)
	assert.Equal(t, int64(8192), ct.Frontier())
}

func TestMonitorPersistsPeriodically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "restart.state")
	ct := NewCommitTracker(0)
	ct.Report(0, 4096)

	mon := NewMonitor(path, Record{SourceHost: "a", SourcePath: "/a", DestinationHost: "b", DestinationPath: "/b"}, ct, 20*time.Millisecond)
	go mon.Run()

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, mon.Stop(true))

	rec, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), rec.LastCommittedByteLocation)
	assert.True(t, rec.Flags.has(FlagSuccessfulCompletion))
}

func TestResumeGeometryComputesStartOffsetAndRemaining(t *testing.T) {
	r := Record{LastCommittedByteLocation: 512 * 1024 * 1024}
	startBlocks, remaining := ResumeGeometry(r, 4096, 1024*1024*1024)
	assert.Equal(t, int64(512*1024*1024/4096), startBlocks)
	assert.Equal(t, int64(512*1024*1024), remaining)
}
