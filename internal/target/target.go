// Package target implements the per-target controller (C8): drives
// seek-list consumption pass by pass, assigns tasks to workers under
// the configured ordering discipline, and folds per-pass counters into
// the target's run-lifetime totals.
//
// Grounded on the teacher's runner/device split in
// internal/queue/runner.go (one Runner owns a fixed worker set and
// drains completions into device-lifetime counters) generalized from a
// single ublk queue to an arbitrary target with E2E source/destination
// roles.
package target

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xdd-io/xdd/internal/barrier"
	"github.com/xdd-io/xdd/internal/seeklist"
	"github.com/xdd-io/xdd/internal/tsring"
	"github.com/xdd-io/xdd/internal/worker"
)

// Ordering selects how acquire_worker picks the next worker, per §4.7.
type Ordering int

const (
	OrderingNone Ordering = iota
	OrderingStrict
	OrderingLoose
)

// Role distinguishes an E2E target's side, or NotE2E for a plain
// local target.
type Role int

const (
	RoleNotE2E Role = iota
	RoleSource
	RoleDestination
)

// Config configures a Target controller.
type Config struct {
	Name       string
	QueueDepth int
	Ordering   Ordering
	Role       Role
	Geometry   seeklist.Geometry

	// Ring is the shared timestamp ring every worker of this target
	// writes into. Claiming a slot here (rather than handing workers a
	// raw op number) is what lets Ring.Snapshot reconstruct a pass's
	// entries afterward; tests that only check op counts may leave this
	// nil, in which case the op number is used directly.
	Ring *tsring.Ring
}

// Counters accumulates a target's run-lifetime totals across passes.
type Counters struct {
	OpsCompleted atomic.Int64
	BytesMoved   atomic.Int64
	Errors       atomic.Int64
}

// Target drives one named file/device's workers through its passes.
type Target struct {
	cfg      Config
	workers  []*worker.Worker
	busy     []atomic.Bool
	eof      []atomic.Bool
	counters Counters

	// freeWorkers is a counting semaphore of idle worker indices for
	// OrderingNone: acquireWorker blocks receiving from it instead of
	// spin-scanning busy[], which is what lets RunPass keep QueueDepth
	// workers genuinely in flight at once (§4.7's acquire_worker, §5's
	// up-to-queue_depth concurrent workers) rather than serializing one
	// op at a time.
	freeWorkers chan int

	passBarrier *barrier.Barrier
}

// New creates a Target controller over an already-constructed worker
// pool (the caller wires each Worker's backend/engine/buffer; Target
// only sequences task assignment).
func New(cfg Config, workers []*worker.Worker) *Target {
	free := make(chan int, len(workers))
	for i := range workers {
		free <- i
	}
	return &Target{
		cfg:         cfg,
		workers:     workers,
		busy:        make([]atomic.Bool, len(workers)),
		eof:         make([]atomic.Bool, len(workers)),
		freeWorkers: free,
		// Each worker's END_OF_PASS completion is already rendezvoused
		// through its Result channel in RunPass, so the barrier here has
		// a single occupant (the controller) and exists purely to
		// register a named "pass complete" checkpoint that barrier.Lookup
		// can find by name.
		passBarrier: barrier.New(cfg.Name+"-pass-complete", 1),
	}
}

// acquireWorker implements §4.7's acquire_worker. For OrderingNone it
// blocks for the next idle, non-EOF worker off freeWorkers — with up to
// QueueDepth callers waiting concurrently, whichever worker finishes
// first is hunted for immediately rather than while every other worker
// sits idle. For Strict/Loose the worker is fixed by op number, so
// callers compute it directly instead of going through here.
func (t *Target) acquireWorker(ctx context.Context) (int, error) {
	if len(t.workers) == 0 {
		return -1, fmt.Errorf("target %s: no workers configured", t.cfg.Name)
	}

	for {
		if t.allWorkersEOF() {
			return -1, errAllEOF
		}
		select {
		case idx := <-t.freeWorkers:
			if t.eof[idx].Load() {
				// Retired worker's token surfaced; drop it and keep
				// waiting instead of handing out an EOF'd worker.
				continue
			}
			return idx, nil
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
}

// releaseWorker returns idx to the free pool unless it has since seen
// EOF, in which case it's retired rather than recycled.
func (t *Target) releaseWorker(idx int) {
	if !t.eof[idx].Load() {
		t.freeWorkers <- idx
	}
}

func (t *Target) allWorkersEOF() bool {
	for i := range t.eof {
		if !t.eof[i].Load() {
			return false
		}
	}
	return true
}

var errAllEOF = fmt.Errorf("target: all workers have received EOF")

// RunPass drives one full pass over the target's seek list. Per
// §4.7/§5, up to QueueDepth ops run concurrently: for OrderingNone, one
// dispatcher goroutine per worker pulls the next op number off a shared
// counter and claims whichever worker frees up first; for Strict/Loose
// each dispatcher owns a fixed worker (op n always belongs to worker
// n%QueueDepth) so the C6 ToT discipline actually gates a concurrent
// predecessor instead of always finding it already signaled. Every
// dispatcher folds its own completions into the running counters, then
// the controller waits at the pass-complete barrier.
func (t *Target) RunPass(ctx context.Context, passNumber int64) error {
	entries := seeklist.Generate(t.withPass(passNumber))
	n := len(t.workers)
	if n == 0 {
		return fmt.Errorf("target %s: no workers configured", t.cfg.Name)
	}

	var stopped atomic.Bool
	var errMu sync.Mutex
	var firstErr error
	recordErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		stopped.Store(true)
	}

	var wg sync.WaitGroup

	if t.cfg.Ordering == OrderingNone {
		var opCounter atomic.Int64
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					if stopped.Load() {
						return
					}
					if t.cfg.Role == RoleDestination {
						if t.allWorkersEOF() {
							return
						}
					}
					opNumber := opCounter.Add(1) - 1
					if t.cfg.Role != RoleDestination && opNumber >= int64(len(entries)) {
						return
					}
					idx, err := t.acquireWorker(ctx)
					if err != nil {
						if err == errAllEOF {
							return
						}
						recordErr(err)
						return
					}
					err = t.runOp(ctx, idx, entries, opNumber, passNumber)
					t.releaseWorker(idx)
					if err != nil {
						recordErr(err)
						return
					}
				}
			}()
		}
	} else {
		for start := 0; start < n; start++ {
			start := start
			wg.Add(1)
			go func() {
				defer wg.Done()
				stride := int64(n)
				for opNumber := int64(start); ; opNumber += stride {
					if stopped.Load() {
						return
					}
					if t.cfg.Role == RoleDestination {
						if t.allWorkersEOF() {
							return
						}
					} else if opNumber >= int64(len(entries)) {
						return
					}
					if err := t.runOp(ctx, start, entries, opNumber, passNumber); err != nil {
						recordErr(err)
						return
					}
				}
			}()
		}
	}

	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	if t.cfg.Role == RoleSource {
		for _, w := range t.workers {
			w.Assign(worker.Task{Kind: worker.TaskEOFSend})
			if res := <-w.Results(); res.Err != nil {
				return fmt.Errorf("target %s: EOF_SEND: %w", t.cfg.Name, res.Err)
			}
		}
	}

	for _, w := range t.workers {
		w.Assign(worker.Task{Kind: worker.TaskEndOfPass, PassNumber: passNumber})
		<-w.Results()
	}

	if err := t.passBarrier.Enter(ctx, t.cfg.Name+"-controller", barrier.OccupantTarget); err != nil {
		return fmt.Errorf("target %s: pass-complete barrier: %w", t.cfg.Name, err)
	}

	return nil
}

func (t *Target) withPass(passNumber int64) seeklist.Geometry {
	g := t.cfg.Geometry
	g.PassNumber = passNumber
	return g
}

// runOp dispatches the op at opNumber to worker idx and waits for its
// completion. It's safe to call concurrently across different idx
// values: OrderingNone's free-token channel and Strict/Loose's fixed
// op-number partition both guarantee a given worker index is only ever
// driven by one goroutine at a time, so worker.Results() is never read
// by two callers at once.
func (t *Target) runOp(ctx context.Context, idx int, entries []seeklist.Entry, opNumber, passNumber int64) error {
	e := entries[int(opNumber)%len(entries)]
	t.busy[idx].Store(true)
	defer t.busy[idx].Store(false)

	slot := opNumber
	if t.cfg.Ring != nil {
		slot = t.cfg.Ring.Claim()
	}

	task := worker.Task{
		Kind:         worker.TaskIO,
		OpType:       e.OpType,
		ByteLocation: e.ByteLocation,
		Length:       e.ByteLength,
		OpNumber:     opNumber,
		PassNumber:   passNumber,
		TSSlot:       slot,
		IsSend:       t.cfg.Role == RoleSource,
	}

	w := t.workers[idx]
	w.Assign(task)
	res := <-w.Results()

	if res.EOFSeen {
		t.eof[idx].Store(true)
	}
	if res.Err != nil {
		t.counters.Errors.Add(1)
		return fmt.Errorf("target %s op %d: %w", t.cfg.Name, opNumber, res.Err)
	}

	t.counters.OpsCompleted.Add(1)
	t.counters.BytesMoved.Add(e.ByteLength)
	return nil
}

// Counters returns the target's run-lifetime counters.
func (t *Target) Counters() *Counters {
	return &t.counters
}
