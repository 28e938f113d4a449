// Package barrier implements the N-way rendezvous fabric (C2) used for
// init, pass-start, pass-complete, and final-shutdown synchronization.
//
// The source's cyclic barrier chain (an intrusive doubly-linked list of
// barriers, each threaded onto a global chain for diagnostics) becomes a
// plain registry here: a Barrier is an ordinary Go value owned by the
// Run, and all live barriers are tracked in a package-level registry so
// a watchdog can walk them without every owner needing a reference back
// to the run.
package barrier

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// OccupantType classifies a participant entering a Barrier, mirroring
// the TARGET/WORKER/SUPPORT/MAIN roles used for watchdog diagnostics.
type OccupantType int

const (
	OccupantTarget OccupantType = iota
	OccupantWorker
	OccupantSupport
	OccupantMain
)

func (t OccupantType) String() string {
	switch t {
	case OccupantTarget:
		return "TARGET"
	case OccupantWorker:
		return "WORKER"
	case OccupantSupport:
		return "SUPPORT"
	case OccupantMain:
		return "MAIN"
	default:
		return "UNKNOWN"
	}
}

// occupantRecord tracks one entry/exit for a named occupant, kept for
// watchdog diagnostics of a barrier that fails to release.
type occupantRecord struct {
	name      string
	kind      OccupantType
	enteredAt time.Time
	exitedAt  time.Time
}

// Barrier is a named, reusable N-way rendezvous point. Enter blocks the
// calling goroutine until N occupants have called Enter, then releases
// all of them atomically. A Barrier can be entered for multiple
// generations (e.g. once per pass).
type Barrier struct {
	name         string
	participants int

	mu          sync.Mutex
	count       int
	generation  uint64
	releaseCh   chan struct{}
	occupants   []occupantRecord
	abortedFlag bool
}

// registry is the global chain of live barriers, consulted by a
// watchdog to diagnose a stuck rendezvous. Destruction after a user
// abort removes the barrier so unfinished occupants are never reported
// as errors once the run is tearing down.
var (
	registryMu sync.Mutex
	registry   = map[string]*Barrier{}
)

// New creates and registers a Barrier with the given name and
// participant count. Participants must be known up front; xdd's run
// orchestrator computes N_workers + N_supports (+1 for itself) before
// building any barrier.
func New(name string, participants int) *Barrier {
	b := &Barrier{
		name:         name,
		participants: participants,
		releaseCh:    make(chan struct{}),
	}
	registryMu.Lock()
	registry[name] = b
	registryMu.Unlock()
	return b
}

// Enter blocks until all participants for the current generation have
// called Enter, then returns nil. If ctx is cancelled before release,
// Enter returns ctx.Err() without consuming a slot for this generation,
// letting an aborting run unblock every waiter.
func (b *Barrier) Enter(ctx context.Context, occupant string, kind OccupantType) error {
	b.mu.Lock()
	if b.abortedFlag {
		b.mu.Unlock()
		return fmt.Errorf("barrier %q destroyed", b.name)
	}

	ch := b.releaseCh
	b.count++
	b.occupants = append(b.occupants, occupantRecord{name: occupant, kind: kind, enteredAt: time.Now()})

	if b.count == b.participants {
		// Last occupant: release this generation and start the next.
		b.count = 0
		b.generation++
		b.releaseCh = make(chan struct{})
		for i := range b.occupants {
			if b.occupants[i].exitedAt.IsZero() {
				b.occupants[i].exitedAt = time.Now()
			}
		}
		b.occupants = nil
		b.mu.Unlock()
		close(ch)
		return nil
	}
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		if b.releaseCh == ch && !b.abortedFlag {
			// Still waiting in this generation: give the slot back.
			b.count--
			for i := len(b.occupants) - 1; i >= 0; i-- {
				if b.occupants[i].name == occupant && b.occupants[i].kind == kind {
					b.occupants = append(b.occupants[:i], b.occupants[i+1:]...)
					break
				}
			}
		}
		b.mu.Unlock()
		return ctx.Err()
	}
}

// Destroy marks the barrier aborted, releasing any current waiters and
// preventing future Enter calls from blocking. Destruction after a user
// abort must not diagnose in-flight occupants as an error; callers that
// want that diagnosis should inspect Occupants before calling Destroy.
func (b *Barrier) Destroy() {
	b.mu.Lock()
	if b.abortedFlag {
		b.mu.Unlock()
		return
	}
	b.abortedFlag = true
	ch := b.releaseCh
	b.mu.Unlock()
	close(ch)

	registryMu.Lock()
	delete(registry, b.name)
	registryMu.Unlock()
}

// Occupants returns a snapshot of the occupants currently waiting in
// the barrier's active generation, for watchdog diagnostics.
func (b *Barrier) Occupants() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.occupants))
	for _, o := range b.occupants {
		names = append(names, fmt.Sprintf("%s(%s)", o.name, o.kind))
	}
	return names
}

// Name returns the barrier's registered name.
func (b *Barrier) Name() string {
	return b.name
}

// Lookup returns a registered barrier by name, for a watchdog that
// doesn't hold a direct reference.
func Lookup(name string) (*Barrier, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	b, ok := registry[name]
	return b, ok
}

// DestroyAll tears down every registered barrier, in no particular
// order, unblocking any goroutine still waiting. Used by the run
// orchestrator's abort path.
func DestroyAll() {
	registryMu.Lock()
	barriers := make([]*Barrier, 0, len(registry))
	for _, b := range registry {
		barriers = append(barriers, b)
	}
	registryMu.Unlock()

	for _, b := range barriers {
		b.Destroy()
	}
}
