// Package constants holds default configuration values shared across xdd's
// target, worker, and protocol packages.
package constants

import "time"

// Default configuration constants
const (
	// DefaultQueueDepth is the default number of workers per target.
	DefaultQueueDepth = 4

	// DefaultBlockSize is the default block size in bytes.
	DefaultBlockSize = 512

	// DefaultReqSize is the default request size in blocks.
	DefaultReqSize = 128 // 128 * 512 = 64KiB default iosize

	// DefaultMaxErrors is the number of per-op errors tolerated before a
	// target aborts the run.
	DefaultMaxErrors = 1

	// DefaultWorkerMaxRetries is the default number of transient I/O
	// retries a single worker tolerates on one op before giving up on
	// it, independent of DefaultMaxErrors (the run-lifetime abort
	// threshold).
	DefaultWorkerMaxRetries = 8

	// DefaultRWRatio is pure read (1.0 = all reads, 0.0 = all writes).
	DefaultRWRatio = 1.0

	// AutoAssignDeviceID indicates no specific target id was requested.
	AutoAssignDeviceID = -1

	// TargetOffsetTableFactor (K) is the ToT size multiplier: entries = K * queue_depth.
	TargetOffsetTableFactor = 4
)

// Timing constants for pass and barrier coordination.
//
// These account for the same kind of kernel/OS scheduling slop the original
// engine had to absorb around device setup, just applied to goroutine
// rendezvous instead of udev device nodes:
//   1. Workers spawn and each enters the run's init barrier.
//   2. The init barrier releases once every worker and support thread,
//      plus the run orchestrator itself, has entered.
//   3. Passes proceed only after the pass-start barrier releases.
const (
	// BarrierPollInterval is a poll interval for barrier diagnostics.
	// Nothing in this module reads it; the barrier package runs no
	// watchdog goroutine.
	BarrierPollInterval = 50 * time.Millisecond

	// DefaultRestartFrequency is how often the restart monitor persists the
	// highest contiguous committed offset, absent an explicit override.
	DefaultRestartFrequency = 5 * time.Second

	// DefaultPassDelay is the sleep between passes when none is configured.
	DefaultPassDelay = 0
)

// Memory allocation constants
const (
	// DefaultArenaAlignment is the page alignment used for the I/O buffer
	// arena (C4); O_DIRECT requires both offset and buffer address aligned
	// to this boundary.
	DefaultArenaAlignment = 4096
)

// E2E wire protocol constants (C9).
const (
	// MagicData marks a frame carrying a payload.
	MagicData uint32 = 0xDEADBEEF

	// MagicEOF marks the final frame from a source worker.
	MagicEOF uint32 = 0xDEADBEEE

	// TrailerSize is the fixed size in bytes of the E2E message trailer,
	// appended immediately after the iosize payload in every frame.
	TrailerSize = 48

	// DefaultBasePort is the default listen port for destination worker 0;
	// worker N listens on DefaultBasePort+N.
	DefaultBasePort = 40000
)

// Timestamp dump file constants (C5 / §6).
const (
	// TSDumpMagic identifies a binary timestamp dump file.
	TSDumpMagic uint32 = 0xDEADBEEF
)
