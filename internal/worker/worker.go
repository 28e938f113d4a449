// Package worker implements the per-target I/O worker (C7): a loop
// that executes exactly one task at a time, dispatches by task kind,
// and reports completion back to its target controller.
//
// The state-flag/dispatch-loop shape is adapted from the teacher's
// internal/queue/runner.go ioLoop, which dispatches ublk FETCH/COMMIT
// completions by tag under a per-tag mutex. Here the "tag" is a worker
// slot and the dispatched unit is a Task rather than a kernel
// completion, but the one-in-flight-per-slot discipline is the same
// idea generalized from a fixed ublk queue depth to a configurable
// per-target worker pool.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/xdd-io/xdd/internal/clock"
	"github.com/xdd-io/xdd/internal/interfaces"
	"github.com/xdd-io/xdd/internal/ioengine"
	"github.com/xdd-io/xdd/internal/seeklist"
	"github.com/xdd-io/xdd/internal/tot"
	"github.com/xdd-io/xdd/internal/tsring"
)

// TaskKind tags the union in Task, per §3 ("Tagged union of...").
type TaskKind int

const (
	TaskIO TaskKind = iota
	TaskReopen
	TaskEOFSend
	TaskEndOfPass
	TaskStop
)

// State is a bitmask of what a worker is currently doing, surfaced for
// diagnostics. The target controller does not read it: it tracks idle
// and EOF workers with its own free-worker pool and EOF flags.
type State uint32

const (
	StateBusy State = 1 << iota
	StateEOFReceived
	StateInBarrier
	StateInRecv
	StateInSend
	StateInIO
)

// Task is what a Target hands a Worker, per §3.
type Task struct {
	Kind         TaskKind
	OpType       seeklist.OpType
	ByteLocation int64
	Length       int64
	OpNumber     int64
	PassNumber   int64
	TSSlot       int64
	IsSend       bool // E2E source: this IO task also transmits its buffer
}

// Sender is implemented by the E2E transport when this worker is a
// source: it hands the worker's just-read buffer to the peer.
type Sender interface {
	Send(ctx context.Context, buf []byte, byteLocation int64, opNumber int64) (netStart, netEnd uint64, err error)
	SendEOF(ctx context.Context) error
}

// Receiver is implemented by the E2E transport when this worker is a
// destination: it fills buf from the peer and reports whether the
// frame was the terminal EOF.
type Receiver interface {
	Receive(ctx context.Context, buf []byte, opNumber int64) (n int, isEOF bool, netStart, netEnd uint64, err error)
}

// Config configures one Worker.
type Config struct {
	Index       int
	Backend     interfaces.Backend
	Engine      ioengine.Engine
	Buffer      []byte
	Clock       *clock.Clock
	Ring        *tsring.Ring
	ToT         *tot.Table
	Observer    interfaces.Observer
	Logger      interfaces.Logger
	DirectIO    bool
	PageSize    int
	Sender      Sender   // non-nil only for E2E source workers
	Receiver    Receiver // non-nil only for E2E destination workers
	MaxRetries  int
	VerifyWrites bool // read-after-write verification (supplemented feature)
}

// Result is posted back after a task completes.
type Result struct {
	OpNumber   int64
	Err        error
	PassDone   bool
	EOFSeen    bool
}

// Worker executes exactly one task at a time on behalf of a target.
type Worker struct {
	cfg   Config
	state atomic.Uint32

	tasks   chan Task
	results chan Result
}

// New creates a Worker. Run must be started in its own goroutine to
// begin consuming tasks.
func New(cfg Config) *Worker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}
	return &Worker{
		cfg:     cfg,
		tasks:   make(chan Task, 1),
		results: make(chan Result, 1),
	}
}

// Assign hands the worker its next task. The caller must not Assign
// again until the corresponding Result has been received.
func (w *Worker) Assign(t Task) {
	w.state.Or(uint32(StateBusy))
	w.tasks <- t
}

// Results returns the channel Run posts completions to.
func (w *Worker) Results() <-chan Result {
	return w.results
}

// State returns the worker's current state flags.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run is the worker's dispatch loop (§4.6). It blocks on its task
// channel, dispatches by kind, and posts a Result before waiting again.
// Run returns when it processes a TaskStop task.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case task := <-w.tasks:
			if task.Kind == TaskStop {
				w.clearBusy()
				w.results <- Result{}
				return
			}
			res := w.dispatch(ctx, task)
			w.clearBusy()
			w.results <- res
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) clearBusy() {
	w.state.And(^uint32(StateBusy))
}

func (w *Worker) setFlag(f State) {
	w.state.Or(uint32(f))
}

func (w *Worker) clearFlag(f State) {
	w.state.And(^uint32(f))
}

func (w *Worker) dispatch(ctx context.Context, task Task) Result {
	switch task.Kind {
	case TaskIO:
		return w.dispatchIO(ctx, task)
	case TaskReopen:
		return w.dispatchReopen()
	case TaskEOFSend:
		return w.dispatchEOFSend(ctx)
	case TaskEndOfPass:
		return Result{OpNumber: task.OpNumber, PassDone: true}
	default:
		return Result{OpNumber: task.OpNumber, Err: fmt.Errorf("worker: unknown task kind %d", task.Kind)}
	}
}

func (w *Worker) dispatchIO(ctx context.Context, task Task) Result {
	if err := w.cfg.ToT.Wait(task.OpNumber); err != nil {
		return Result{OpNumber: task.OpNumber, Err: fmt.Errorf("worker: ordering wait: %w", err)}
	}

	length := task.Length
	buf := w.cfg.Buffer[:length]

	if w.cfg.DirectIO && w.cfg.PageSize > 0 {
		if task.ByteLocation%int64(w.cfg.PageSize) != 0 || length%int64(w.cfg.PageSize) != 0 {
			return w.dispatchReopenThenRetry(ctx, task)
		}
	}

	w.setFlag(StateInIO)
	diskStart := w.cfg.Clock.Now()

	var err error
	switch task.OpType {
	case seeklist.OpRead:
		err = w.readWithRetry(ctx, buf, task.ByteLocation)
	case seeklist.OpWrite:
		fillPattern(buf, task.OpNumber)
		err = w.writeWithRetry(ctx, buf, task.ByteLocation)
		if err == nil && w.cfg.VerifyWrites {
			err = w.verifyWrite(ctx, buf, task.ByteLocation, task.OpNumber)
		}
	case seeklist.OpNoop:
		time.Sleep(0)
	}

	diskEnd := w.cfg.Clock.Now()
	w.clearFlag(StateInIO)

	var netStart, netEnd uint64
	eofSeen := false

	if err == nil && task.IsSend && w.cfg.Sender != nil {
		w.setFlag(StateInSend)
		netStart, netEnd, err = w.cfg.Sender.Send(ctx, buf, task.ByteLocation, task.OpNumber)
		w.clearFlag(StateInSend)
	}

	if err == nil && w.cfg.Receiver != nil {
		w.setFlag(StateInRecv)
		var n int
		var isEOF bool
		n, isEOF, netStart, netEnd, err = w.cfg.Receiver.Receive(ctx, buf, task.OpNumber)
		w.clearFlag(StateInRecv)
		if err == nil && isEOF {
			w.setFlag(StateEOFReceived)
			eofSeen = true
		} else if err == nil {
			err = w.writeWithRetry(ctx, buf[:n], task.ByteLocation)
		}
	}

	if w.cfg.Observer != nil {
		latency := diskEnd - diskStart
		switch task.OpType {
		case seeklist.OpRead:
			w.cfg.Observer.ObserveRead(uint64(length), latency, err == nil)
		case seeklist.OpWrite:
			w.cfg.Observer.ObserveWrite(uint64(length), latency, err == nil)
		case seeklist.OpNoop:
			w.cfg.Observer.ObserveNoop(latency)
		}
	}

	if task.TSSlot >= 0 {
		slot := task.TSSlot % int64(w.cfg.Ring.Len())
		w.cfg.Ring.Write(slot, tsring.Entry{
			PassNumber:   uint32(task.PassNumber),
			WorkerNumber: uint32(w.cfg.Index),
			OpNumber:     uint64(task.OpNumber),
			OpType:       uint32(task.OpType),
			ByteLocation: uint64(task.ByteLocation),
			BytesXferred: uint64(length),
			DiskStartNs:  diskStart,
			DiskEndNs:    diskEnd,
			NetStartNs:   netStart,
			NetEndNs:     netEnd,
		})
	}

	w.cfg.ToT.Signal(task.OpNumber, task.ByteLocation, length)

	return Result{OpNumber: task.OpNumber, Err: err, EOFSeen: eofSeen}
}

// dispatchReopenThenRetry performs the DIO-fallback reopen inline
// (§4.6: "if DirectIO and (offset%page || len%page): reopen without
// DIO") then retries the IO task once without the alignment guard,
// since a misaligned op can never become aligned by retrying as-is.
func (w *Worker) dispatchReopenThenRetry(ctx context.Context, task Task) Result {
	if res := w.dispatchReopen(); res.Err != nil {
		return res
	}
	w.cfg.DirectIO = false
	return w.dispatchIO(ctx, task)
}

func (w *Worker) dispatchReopen() Result {
	reopenable, ok := w.cfg.Backend.(interfaces.ReopenableBackend)
	if !ok {
		return Result{Err: fmt.Errorf("worker: backend does not support reopen")}
	}
	if err := reopenable.Reopen(false); err != nil {
		return Result{Err: fmt.Errorf("worker: reopen: %w", err)}
	}
	return Result{}
}

func (w *Worker) dispatchEOFSend(ctx context.Context) Result {
	if w.cfg.Sender == nil {
		return Result{Err: fmt.Errorf("worker: EOF_SEND task on non-source worker")}
	}
	w.setFlag(StateInSend)
	err := w.cfg.Sender.SendEOF(ctx)
	w.clearFlag(StateInSend)
	return Result{Err: err}
}

// ioRead performs one read through the configured Engine, falling back
// to a direct Backend.ReadAt when no Engine is set (the zero-value
// Config case most unit tests exercise).
func (w *Worker) ioRead(ctx context.Context, buf []byte, offset int64) (int, error) {
	if w.cfg.Engine == nil {
		return w.cfg.Backend.ReadAt(buf, offset)
	}
	if err := w.cfg.Engine.SubmitRead(ctx, w.cfg.Backend, buf, offset, uint64(offset)); err != nil {
		return 0, err
	}
	c, err := w.cfg.Engine.Wait(ctx)
	if err != nil {
		return 0, err
	}
	return c.BytesDone, c.Err
}

// ioWrite is ioRead's write-side counterpart.
func (w *Worker) ioWrite(ctx context.Context, buf []byte, offset int64) (int, error) {
	if w.cfg.Engine == nil {
		return w.cfg.Backend.WriteAt(buf, offset)
	}
	if err := w.cfg.Engine.SubmitWrite(ctx, w.cfg.Backend, buf, offset, uint64(offset)); err != nil {
		return 0, err
	}
	c, err := w.cfg.Engine.Wait(ctx)
	if err != nil {
		return 0, err
	}
	return c.BytesDone, c.Err
}

func (w *Worker) readWithRetry(ctx context.Context, buf []byte, offset int64) error {
	total := 0
	for attempt := 0; total < len(buf) && attempt < w.cfg.MaxRetries; attempt++ {
		n, err := w.ioRead(ctx, buf[total:], offset+int64(total))
		total += n
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	return nil
}

func (w *Worker) writeWithRetry(ctx context.Context, buf []byte, offset int64) error {
	total := 0
	for attempt := 0; total < len(buf) && attempt < w.cfg.MaxRetries; attempt++ {
		n, err := w.ioWrite(ctx, buf[total:], offset+int64(total))
		total += n
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("worker: zero-length write at offset %d", offset+int64(total))
		}
	}
	return nil
}

// verifyWrite reads back the just-written range and compares it against
// the pattern that should be on disk, per the read-after-write
// supplemented feature. A mismatch is reported as a per-op error, the
// same as any other failed operation.
func (w *Worker) verifyWrite(ctx context.Context, written []byte, offset int64, opNumber int64) error {
	readback := make([]byte, len(written))
	if err := w.readWithRetry(ctx, readback, offset); err != nil {
		return fmt.Errorf("worker: read-after-write: %w", err)
	}
	for i := range written {
		if readback[i] != written[i] {
			return fmt.Errorf("worker: read-after-write mismatch at op %d offset %d", opNumber, offset+int64(i))
		}
	}
	return nil
}

// fillPattern writes a deterministic, seeded-by-op-number byte pattern
// into buf so a write's content is reproducible for verification reads
// (the VerifyWrites supplemented feature).
func fillPattern(buf []byte, opNumber int64) {
	seed := byte(opNumber)
	for i := range buf {
		buf[i] = seed + byte(i)
	}
}
