// Package clock provides the monotonic nanosecond clock used across xdd
// (C1). It is deliberately thin: the global time server handshake that
// produces a cross-host skew correction is a collaborator (§1/§6); this
// package only stores and applies the resulting delta.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic nanosecond source with an optional signed delta
// added to project local time into a shared run clock. The zero value
// is ready to use with a zero delta.
type Clock struct {
	deltaNs atomic.Int64
}

// New returns a ready-to-use Clock with zero delta.
func New() *Clock {
	return &Clock{}
}

// Now returns the current monotonic time in nanoseconds, adjusted by the
// configured delta. Overflow of the signed 64-bit nanosecond value is not
// a concern at any realistic run duration.
func (c *Clock) Now() uint64 {
	return uint64(int64(monotonicNs()) + c.deltaNs.Load())
}

// SetDelta installs the signed nanosecond correction supplied by a global
// time server collaborator. Safe to call concurrently with Now.
func (c *Clock) SetDelta(deltaNs int64) {
	c.deltaNs.Store(deltaNs)
}

// Delta returns the currently configured correction.
func (c *Clock) Delta() int64 {
	return c.deltaNs.Load()
}

// monotonicNs reads the runtime monotonic clock as nanoseconds since
// process start. time.Now() on all supported platforms carries a
// monotonic reading and time.Since measures with it, so the result never
// observes wall-clock adjustments.
var processStart = time.Now()

func monotonicNs() uint64 {
	return uint64(time.Since(processStart).Nanoseconds())
}
