package ioengine

import (
	"context"
	"io"
)

// syncEngine issues each operation inline on the calling goroutine and
// buffers its Completion for Wait to pick up. It is the reference
// implementation used by the RAM backend, tests, and any platform
// without io_uring, matching the teacher's split between a minimal
// synchronous ring and a real one behind a build tag.
type syncEngine struct {
	completions chan Completion
}

// NewSyncEngine creates an Engine that performs I/O synchronously
// within SubmitRead/SubmitWrite and hands the result to the next Wait.
func NewSyncEngine(depth int) Engine {
	if depth < 1 {
		depth = 1
	}
	return &syncEngine{completions: make(chan Completion, depth)}
}

func (e *syncEngine) SubmitRead(ctx context.Context, r io.ReaderAt, buf []byte, offset int64, userData uint64) error {
	n, err := r.ReadAt(buf, offset)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return e.push(ctx, Completion{UserData: userData, BytesDone: n, Err: err})
}

func (e *syncEngine) SubmitWrite(ctx context.Context, w io.WriterAt, buf []byte, offset int64, userData uint64) error {
	n, err := w.WriteAt(buf, offset)
	return e.push(ctx, Completion{UserData: userData, BytesDone: n, Err: err})
}

func (e *syncEngine) push(ctx context.Context, c Completion) error {
	select {
	case e.completions <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *syncEngine) Wait(ctx context.Context) (Completion, error) {
	select {
	case c := <-e.completions:
		return c, nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

func (e *syncEngine) Close() error {
	return nil
}
