// Package iobuf provides the per-worker I/O buffer arena (C4):
// page-aligned memory, optionally mlock'd, optionally shared across
// workers of one target. It generalizes the teacher's sync.Pool
// size-bucketed buffer pool (internal/queue/pool.go) from hot-path
// allocation avoidance to the stronger guarantees a benchmarking core
// needs: a fixed, page-aligned address per worker so O_DIRECT I/O is
// legal, and an explicit release path instead of GC-driven pooling,
// since a buffer may be jointly owned by several workers in shared mode.
package iobuf

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Options configures arena allocation.
type Options struct {
	Size    int  // buffer size in bytes; rounded up to a page multiple
	Lock    bool // mlock the pages so they can't be swapped out
	Shared  bool // MAP_SHARED instead of MAP_PRIVATE (for jointly-owned buffers)
	PageLen int  // page size override for tests; 0 uses os-reported size
}

// Buffer is a page-aligned memory region backing one worker's I/O.
// Buffers are owned by the Worker except when allocated with
// Options.Shared, in which case ownership is joint and Release must be
// called exactly once for the whole group at target teardown.
type Buffer struct {
	data   []byte
	locked bool
}

// Bytes returns the underlying byte slice.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Release unmaps (and unlocks, if locked) the buffer's memory. Calling
// Release more than once on a buffer obtained with Options.Shared is a
// caller bug; the arena does not reference-count shared buffers.
func (b *Buffer) Release() error {
	if b.data == nil {
		return nil
	}
	if b.locked {
		if err := unix.Munlock(b.data); err != nil {
			return fmt.Errorf("munlock: %w", err)
		}
	}
	if err := unix.Munmap(b.data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	b.data = nil
	return nil
}

// Allocate reserves one page-aligned buffer per opts.Size, rounded up
// to a whole number of pages, using anonymous mmap so the region is
// always page-aligned (a prerequisite for O_DIRECT I/O against an
// offset/length that is itself page-aligned, per §4.6).
func Allocate(opts Options) (*Buffer, error) {
	pageSize := opts.PageLen
	if pageSize <= 0 {
		pageSize = unix.Getpagesize()
	}

	size := opts.Size
	if rem := size % pageSize; rem != 0 {
		size += pageSize - rem
	}
	if size == 0 {
		size = pageSize
	}

	flags := unix.MAP_ANONYMOUS
	if opts.Shared {
		flags |= unix.MAP_SHARED
	} else {
		flags |= unix.MAP_PRIVATE
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return nil, fmt.Errorf("mmap arena buffer: %w", err)
	}

	buf := &Buffer{data: data}

	if opts.Lock {
		if err := unix.Mlock(data); err != nil {
			_ = unix.Munmap(data)
			return nil, fmt.Errorf("mlock arena buffer: %w", err)
		}
		buf.locked = true
	}

	return buf, nil
}

// Arena allocates and tracks one buffer per worker of a target, so the
// target can release them all together at teardown (the joint-ownership
// case for shared buffers from §3's ownership rules).
type Arena struct {
	opts    Options
	buffers []*Buffer
}

// NewArena creates an empty arena that will allocate count buffers of
// the given options on demand via Get.
func NewArena(opts Options, count int) *Arena {
	return &Arena{opts: opts, buffers: make([]*Buffer, count)}
}

// Get returns the buffer for worker index i, allocating it on first
// use.
func (a *Arena) Get(i int) (*Buffer, error) {
	if a.buffers[i] != nil {
		return a.buffers[i], nil
	}
	buf, err := Allocate(a.opts)
	if err != nil {
		return nil, err
	}
	a.buffers[i] = buf
	return buf, nil
}

// ReleaseAll releases every buffer the arena has allocated. Safe to
// call once at target teardown regardless of how many Get calls were
// made, and is the single release point required for shared buffers.
func (a *Arena) ReleaseAll() error {
	var firstErr error
	for i, buf := range a.buffers {
		if buf == nil {
			continue
		}
		if err := buf.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.buffers[i] = nil
	}
	return firstErr
}
