// Package ioengine provides the pluggable I/O submission backend a
// Worker uses to issue its reads and writes (part of C7). The teacher
// ships this split as internal/uring: a Ring interface with a
// synchronous reference implementation and a real io_uring
// implementation behind a build tag. This package keeps that shape but
// actually wires the giouring dependency the teacher's go.mod lists
// but never imports (internal/uring/iouring.go is gated behind the
// giouring tag yet imports a different module, iceber/iouring-go).
package ioengine

import (
	"context"
	"io"
)

// OpKind distinguishes the two data operations an Engine can submit. A
// no-op task never reaches an Engine; Target/Worker handle it directly.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
)

// Completion is the result of one submitted operation.
type Completion struct {
	UserData  uint64
	BytesDone int
	Err       error
}

// Engine submits reads and writes against a backend and reports their
// completions. Implementations may be purely synchronous (SubmitX
// blocks and Wait drains a local channel) or asynchronous (SubmitX
// enqueues an SQE and Wait polls the completion queue), so callers
// must always go through Wait to learn the outcome.
type Engine interface {
	// SubmitRead queues a read of len(buf) bytes at offset, tagged with
	// userData so the matching Completion can be correlated by a caller
	// that may have several operations in flight.
	SubmitRead(ctx context.Context, r io.ReaderAt, buf []byte, offset int64, userData uint64) error

	// SubmitWrite queues a write of buf at offset.
	SubmitWrite(ctx context.Context, w io.WriterAt, buf []byte, offset int64, userData uint64) error

	// Wait blocks for the next completion. Engines with no queued
	// operations block until one is submitted or ctx is done.
	Wait(ctx context.Context) (Completion, error)

	// Close releases engine resources. Submitting after Close is a
	// caller bug.
	Close() error
}
