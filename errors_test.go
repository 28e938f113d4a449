package xdd

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredError(t *testing.T) {
	err := NewError("OPEN_TARGET", ErrCodeConfig, "invalid queue depth")

	assert.Equal(t, "OPEN_TARGET", err.Op)
	assert.Equal(t, ErrCodeConfig, err.Code)
	assert.Equal(t, "xdd: invalid queue depth (op=OPEN_TARGET)", err.Error())
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("DISPATCH", ErrCodePerOp, syscall.EIO)

	assert.Equal(t, syscall.EIO, err.Errno)
	assert.Equal(t, ErrCodePerOp, err.Code)
}

func TestTargetError(t *testing.T) {
	err := NewTargetError("PASS_START", "disk0", ErrCodeFatal, "barrier init failed")

	assert.Equal(t, "disk0", err.Target)
	assert.Equal(t, "xdd: barrier init failed (op=PASS_START)", err.Error())
}

func TestWorkerError(t *testing.T) {
	err := NewWorkerError("IO", "disk0", 3, ErrCodePerOp, "short write")

	assert.Equal(t, "disk0", err.Target)
	assert.Equal(t, 3, err.Worker)
}

func TestWrapError(t *testing.T) {
	inner := syscall.ECONNRESET
	err := WrapError("E2E_RECV", inner)

	assert.Equal(t, ErrCodeE2E, err.Code)
	assert.Equal(t, syscall.ECONNRESET, err.Errno)
	assert.True(t, errors.Is(err, syscall.ECONNRESET))
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	original := NewTargetError("DISPATCH", "disk0", ErrCodePerOp, "short read")
	wrapped := WrapError("RETRY", original)

	assert.Equal(t, "RETRY", wrapped.Op)
	assert.Equal(t, "disk0", wrapped.Target)
	assert.Equal(t, ErrCodePerOp, wrapped.Code)
}

func TestIsCode(t *testing.T) {
	err := NewError("TEST", ErrCodeE2E, "sequence gap")

	assert.True(t, IsCode(err, ErrCodeE2E))
	assert.False(t, IsCode(err, ErrCodeFatal))
	assert.False(t, IsCode(nil, ErrCodeE2E))
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("TEST", ErrCodePerOp, syscall.EIO)

	assert.True(t, IsErrno(err, syscall.EIO))
	assert.False(t, IsErrno(err, syscall.EPERM))
	assert.False(t, IsErrno(nil, syscall.EIO))
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.EINTR, ErrCodeTransientIO},
		{syscall.EINVAL, ErrCodeConfig},
		{syscall.ENOMEM, ErrCodeFatal},
		{syscall.ECONNRESET, ErrCodeE2E},
		{syscall.EIO, ErrCodePerOp},
	}

	for _, tc := range testCases {
		code := mapErrnoToCode(tc.errno)
		assert.Equal(t, tc.expected, code, "errno %v", tc.errno)
	}
}
