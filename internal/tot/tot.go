// Package tot implements the Target Offset Table (C6): a sliding
// window of queue_depth*K slots used to enforce strict/loose ordering
// between a target's workers.
//
// The per-slot mutex-guarded state machine here is adapted from the
// teacher's per-tag state machine in internal/queue/runner.go
// (TagStateInFlightFetch/Owned/InFlightCommit guarded by a per-tag
// sync.Mutex): that code serializes a ublk tag between kernel and
// userspace ownership; this package serializes a byte range between a
// predecessor op and the worker waiting to issue its successor.
package tot

import (
	"fmt"
	"sync"
)

// Discipline selects how strictly op n must wait for an earlier op.
type Discipline int

const (
	// DisciplineNone performs no waits; the table is still updated so
	// observers can diagnose ordering after the fact.
	DisciplineNone Discipline = iota
	// DisciplineLoose makes op n wait for op n-queue_depth.
	DisciplineLoose
	// DisciplineStrict makes op n wait for op n-1.
	DisciplineStrict
)

// slot holds one entry of the table: the predecessor op's byte
// location and a ready signal a successor can wait on. cond guards the
// whole slot; opNumber identifies which generation is currently
// recorded, so a waiter for a generation other than the one signalled
// can detect a mismatch instead of hanging or racing on slot reuse.
type slot struct {
	mu           sync.Mutex
	cond         *sync.Cond
	byteLocation int64
	ioSize       int64
	opNumber     int64 // -1 until first Signal
}

func newSlot() *slot {
	s := &slot{opNumber: -1}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Table is the Target Offset Table for one target.
type Table struct {
	discipline Discipline
	queueDepth int64
	slots      []*slot
}

// New creates a Table with entries = factor*queueDepth slots, per §3
// ("entries = K × queue_depth, K small, e.g. 4").
func New(discipline Discipline, queueDepth int, factor int) *Table {
	n := queueDepth * factor
	if n < 1 {
		n = 1
	}
	slots := make([]*slot, n)
	for i := range slots {
		slots[i] = newSlot()
	}
	return &Table{
		discipline: discipline,
		queueDepth: int64(queueDepth),
		slots:      slots,
	}
}

func (t *Table) slotFor(opNumber int64) *slot {
	return t.slots[opNumber%int64(len(t.slots))]
}

// predecessor returns the op number this op must wait on, or -1 if
// there is no predecessor to wait on (no discipline, or op is within
// the first window).
func (t *Table) predecessor(opNumber int64) int64 {
	switch t.discipline {
	case DisciplineStrict:
		return opNumber - 1
	case DisciplineLoose:
		return opNumber - t.queueDepth
	default:
		return -1
	}
}

// Wait blocks until the ordering discipline allows op opNumber to
// begin, i.e. until its predecessor has been Signal'd. Returns an
// error if the slot ends up recording a different op number than the
// one waited for, which means the table wrapped under this waiter
// (queue depth configured too small for the discipline in use).
func (t *Table) Wait(opNumber int64) error {
	pred := t.predecessor(opNumber)
	if pred < 0 {
		return nil
	}

	s := t.slotFor(pred)
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.opNumber < pred {
		s.cond.Wait()
	}

	if s.opNumber != pred {
		return fmt.Errorf("tot: ordering violation: waited on slot for op %d, found op %d", pred, s.opNumber)
	}
	return nil
}

// Signal records this op's completion in its slot and wakes any
// successor waiting on it. Must be called after the op's disk I/O and
// before the worker is released back to the available pool.
func (t *Table) Signal(opNumber, byteLocation, ioSize int64) {
	s := t.slotFor(opNumber)

	s.mu.Lock()
	s.byteLocation = byteLocation
	s.ioSize = ioSize
	s.opNumber = opNumber
	s.mu.Unlock()

	s.cond.Broadcast()
}

// Peek returns the recorded byte location for opNumber's slot and
// whether it has been signalled yet, for diagnostics/tests.
func (t *Table) Peek(opNumber int64) (byteLocation int64, signalled bool) {
	s := t.slotFor(opNumber)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byteLocation, s.opNumber == opNumber
}

// Discipline returns the table's ordering discipline.
func (t *Table) Discipline() Discipline {
	return t.discipline
}

// Len returns the number of slots in the table.
func (t *Table) Len() int {
	return len(t.slots)
}
