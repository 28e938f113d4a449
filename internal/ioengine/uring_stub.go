//go:build !linux

package ioengine

import "fmt"

// NewURingEngine is unavailable off Linux; callers should fall back to
// NewSyncEngine, matching the teacher's iouring_stub.go pattern of a
// build-tag-gated no-op so the rest of the tree still compiles.
func NewURingEngine(entries uint32) (Engine, error) {
	return nil, fmt.Errorf("ioengine: io_uring is only available on linux")
}
