package xdd

import "github.com/xdd-io/xdd/internal/constants"

// Re-exported defaults for the public API, mirroring the teacher's
// DefaultParams/constants split: internal/constants holds the values,
// this file surfaces the ones a caller building a RunConfig needs.
const (
	DefaultQueueDepth       = constants.DefaultQueueDepth
	DefaultBlockSize        = constants.DefaultBlockSize
	DefaultReqSize          = constants.DefaultReqSize
	DefaultMaxErrors        = constants.DefaultMaxErrors
	DefaultWorkerMaxRetries = constants.DefaultWorkerMaxRetries
	DefaultRWRatio          = constants.DefaultRWRatio
	TargetOffsetTableFactor = constants.TargetOffsetTableFactor
	DefaultRestartFrequency = constants.DefaultRestartFrequency
	DefaultPassDelay        = constants.DefaultPassDelay
	DefaultArenaAlignment   = constants.DefaultArenaAlignment
)
