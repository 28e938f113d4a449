package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdd-io/xdd/internal/clock"
	"github.com/xdd-io/xdd/internal/seeklist"
	"github.com/xdd-io/xdd/internal/tot"
	"github.com/xdd-io/xdd/internal/tsring"
)

type fakeBackend struct {
	data []byte
}

func (b *fakeBackend) ReadAt(p []byte, off int64) (int, error)  { return copy(p, b.data[off:]), nil }
func (b *fakeBackend) WriteAt(p []byte, off int64) (int, error) { return copy(b.data[off:], p), nil }
func (b *fakeBackend) Size() int64                              { return int64(len(b.data)) }
func (b *fakeBackend) Close() error                             { return nil }
func (b *fakeBackend) Sync() error                              { return nil }

func newTestWorker(t *testing.T) (*Worker, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{data: make([]byte, 1<<20)}
	w := New(Config{
		Index:   0,
		Backend: backend,
		Buffer:  make([]byte, 4096),
		Clock:   clock.New(),
		Ring:    tsring.New(16, tsring.PolicyWrap),
		ToT:     tot.New(tot.DisciplineNone, 4, 4),
	})
	return w, backend
}

func TestWorkerRunWriteThenRead(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Assign(Task{Kind: TaskIO, OpType: seeklist.OpWrite, ByteLocation: 0, Length: 4096, OpNumber: 0, TSSlot: 0})
	res := <-w.Results()
	require.NoError(t, res.Err)

	w.Assign(Task{Kind: TaskIO, OpType: seeklist.OpRead, ByteLocation: 0, Length: 4096, OpNumber: 1, TSSlot: 1})
	res = <-w.Results()
	require.NoError(t, res.Err)
}

func TestWorkerStopEndsRun(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.Assign(Task{Kind: TaskStop})
	<-w.Results()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after TaskStop")
	}
}

func TestWorkerEndOfPassMarksPassDone(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Assign(Task{Kind: TaskEndOfPass, OpNumber: 5})
	res := <-w.Results()
	assert.True(t, res.PassDone)
	assert.Equal(t, int64(5), res.OpNumber)
}

func TestWorkerBusyStateDuringIO(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Assign(Task{Kind: TaskIO, OpType: seeklist.OpWrite, ByteLocation: 0, Length: 4096, OpNumber: 0, TSSlot: 0})
	assert.NotZero(t, w.State()&StateBusy)

	<-w.Results()
	assert.Zero(t, w.State()&StateBusy)
}

func TestWorkerWriteFillsDeterministicPattern(t *testing.T) {
	w, backend := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Assign(Task{Kind: TaskIO, OpType: seeklist.OpWrite, ByteLocation: 0, Length: 8, OpNumber: 3, TSSlot: 0})
	res := <-w.Results()
	require.NoError(t, res.Err)

	for i := 0; i < 8; i++ {
		assert.Equal(t, byte(3)+byte(i), backend.data[i])
	}
}

func TestWorkerVerifyWritesPassesOnMatchingData(t *testing.T) {
	backend := &fakeBackend{data: make([]byte, 1<<20)}
	w := New(Config{
		Index:        0,
		Backend:      backend,
		Buffer:       make([]byte, 4096),
		Clock:        clock.New(),
		Ring:         tsring.New(16, tsring.PolicyWrap),
		ToT:          tot.New(tot.DisciplineNone, 4, 4),
		VerifyWrites: true,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Assign(Task{Kind: TaskIO, OpType: seeklist.OpWrite, ByteLocation: 0, Length: 16, OpNumber: 7, TSSlot: 0})
	res := <-w.Results()
	assert.NoError(t, res.Err)
}

// corruptingBackend flips byte 3 of every read while corrupt is set, so
// a read-after-write check sees data other than what was written.
type corruptingBackend struct {
	fakeBackend
	corrupt bool
}

func (b *corruptingBackend) ReadAt(p []byte, off int64) (int, error) {
	n, err := b.fakeBackend.ReadAt(p, off)
	if b.corrupt && n > 3 {
		p[3] ^= 0xFF
	}
	return n, err
}

func TestWorkerVerifyWritesCatchesCorruption(t *testing.T) {
	backend := &corruptingBackend{fakeBackend: fakeBackend{data: make([]byte, 1<<20)}}
	w := New(Config{
		Index:        0,
		Backend:      backend,
		Buffer:       make([]byte, 4096),
		Clock:        clock.New(),
		Ring:         tsring.New(16, tsring.PolicyWrap),
		ToT:          tot.New(tot.DisciplineNone, 4, 4),
		VerifyWrites: true,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Assign(Task{Kind: TaskIO, OpType: seeklist.OpWrite, ByteLocation: 0, Length: 16, OpNumber: 7, TSSlot: 0})
	res := <-w.Results()
	require.NoError(t, res.Err)

	backend.corrupt = true // the read-back now differs from what was written

	w.Assign(Task{Kind: TaskIO, OpType: seeklist.OpWrite, ByteLocation: 0, Length: 16, OpNumber: 7, TSSlot: 1})
	res = <-w.Results()
	assert.Error(t, res.Err)
	backend.corrupt = false
	assert.Equal(t, byte(7), backend.data[0])
}

func TestWorkerStampsPassNumberOnTimestampEntry(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Assign(Task{Kind: TaskIO, OpType: seeklist.OpWrite, ByteLocation: 0, Length: 16, OpNumber: 0, PassNumber: 3, TSSlot: 2})
	res := <-w.Results()
	require.NoError(t, res.Err)

	entry := w.cfg.Ring.Read(2)
	assert.Equal(t, uint32(3), entry.PassNumber)
}

func TestWorkerUnknownTaskKindErrors(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Assign(Task{Kind: TaskKind(99)})
	res := <-w.Results()
	assert.Error(t, res.Err)
}
