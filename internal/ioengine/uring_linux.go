//go:build linux

// Package ioengine: the real io_uring backend, using giouring directly
// instead of leaving it unwired in go.mod as the teacher's uring.go
// does (there it names giouring as a dependency but actually imports a
// different module, iceber/iouring-go, behind the same build tag).
package ioengine

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pawelgaczynski/giouring"
)

// uringEngine submits reads and writes through an io_uring instance
// shared by every worker of one target. One SQE per submission, one
// CQE per completion; fd-backed only (io.ReaderAt/WriterAt that expose
// an underlying *os.File are required, since giouring operates on raw
// file descriptors, not the Go I/O interfaces).
type uringEngine struct {
	mu   sync.Mutex
	ring *giouring.Ring
}

// FileDescriptor is implemented by the backend's ReaderAt/WriterAt when
// it can hand the engine a raw fd for io_uring submission.
type FileDescriptor interface {
	Fd() uintptr
}

// NewURingEngine creates an Engine backed by a fresh io_uring instance
// with the given submission queue depth.
func NewURingEngine(entries uint32) (Engine, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("ioengine: create ring: %w", err)
	}
	return &uringEngine{ring: ring}, nil
}

func (e *uringEngine) submit(kind OpKind, rw io.ReaderAt, wr io.WriterAt, buf []byte, offset int64, userData uint64) error {
	fdHolder, ok := rwFd(kind, rw, wr)
	if !ok {
		return fmt.Errorf("ioengine: backend does not expose a file descriptor for io_uring")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sqe := e.ring.GetSQE()
	if sqe == nil {
		return ErrSubmissionQueueFull
	}

	switch kind {
	case OpRead:
		sqe.PrepRead(int(fdHolder.Fd()), buf, uint64(offset))
	case OpWrite:
		sqe.PrepWrite(int(fdHolder.Fd()), buf, uint64(offset))
	}
	sqe.UserData = userData

	if _, err := e.ring.Submit(); err != nil {
		return fmt.Errorf("ioengine: submit: %w", err)
	}
	return nil
}

func rwFd(kind OpKind, r io.ReaderAt, w io.WriterAt) (FileDescriptor, bool) {
	if kind == OpRead {
		fd, ok := r.(FileDescriptor)
		return fd, ok
	}
	fd, ok := w.(FileDescriptor)
	return fd, ok
}

func (e *uringEngine) SubmitRead(ctx context.Context, r io.ReaderAt, buf []byte, offset int64, userData uint64) error {
	return e.submit(OpRead, r, nil, buf, offset, userData)
}

func (e *uringEngine) SubmitWrite(ctx context.Context, w io.WriterAt, buf []byte, offset int64, userData uint64) error {
	return e.submit(OpWrite, nil, w, buf, offset, userData)
}

func (e *uringEngine) Wait(ctx context.Context) (Completion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var cqe *giouring.CompletionQueueEvent
	if err := e.ring.WaitCQE(&cqe); err != nil {
		return Completion{}, fmt.Errorf("ioengine: wait cqe: %w", err)
	}

	c := Completion{UserData: cqe.UserData}
	if cqe.Res < 0 {
		c.Err = fmt.Errorf("ioengine: cqe error: res=%d", cqe.Res)
	} else {
		c.BytesDone = int(cqe.Res)
	}
	e.ring.CQESeen(cqe)
	return c, nil
}

func (e *uringEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ring != nil {
		e.ring.QueueExit()
		e.ring = nil
	}
	return nil
}

// ErrSubmissionQueueFull mirrors the teacher's ErrRingFull: in normal
// operation the worker state machine never has more than queue_depth
// submissions outstanding, so this should not occur.
var ErrSubmissionQueueFull = fmt.Errorf("ioengine: submission queue full")
