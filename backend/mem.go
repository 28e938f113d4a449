// Package backend provides standard xdd target backend implementations:
// a RAM-backed backend for tests and benchmarks (this file) and a real
// file/block-device backend (file.go).
package backend

import (
	"fmt"
	"sync"

	"github.com/xdd-io/xdd/internal/interfaces"
)

// ShardSize is the size of each memory shard (64KB). This provides good
// parallelism for 4K random I/O while keeping lock overhead reasonable.
// With 64KB shards, a 256MB target has 4096 shards.
const ShardSize = 64 * 1024

// Memory is a RAM-backed Backend, sharded-locked so concurrent workers
// on the same target can issue non-overlapping ReadAt/WriteAt without
// serializing on a single mutex. Used by tests and by the in-memory
// integration harness in place of a real file or block device.
type Memory struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// NewMemory creates a new memory backend of the specified size.
func NewMemory(size int64) *Memory {
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards < 1 {
		numShards = 1
	}
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

// shardRange returns the range of shards that cover [off, off+len).
func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// ReadAt implements interfaces.Backend.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, nil
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}

	n := copy(p, m.data[off:off+int64(len(p))])

	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}

	return n, nil
}

// WriteAt implements interfaces.Backend.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, fmt.Errorf("backend: write beyond end of target (off=%d size=%d)", off, m.size)
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}

	n := copy(m.data[off:off+int64(len(p))], p)

	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}

	return n, nil
}

// Size implements interfaces.Backend.
func (m *Memory) Size() int64 {
	return m.size
}

// Close implements interfaces.Backend.
func (m *Memory) Close() error {
	m.data = nil
	return nil
}

// Sync implements interfaces.Backend. Memory has nothing to durably
// commit, so this is a no-op.
func (m *Memory) Sync() error {
	return nil
}

// Discard zeroes a byte range, clamped to the backend's size; a range
// starting at or past the end is a no-op.
func (m *Memory) Discard(offset, length int64) error {
	if offset >= m.size {
		return nil
	}

	end := offset + length
	if end > m.size {
		end = m.size
	}
	actualLen := end - offset

	startShard, endShard := m.shardRange(offset, actualLen)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}

	for i := offset; i < end; i++ {
		m.data[i] = 0
	}

	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}

	return nil
}

// Stats returns point-in-time backend statistics, useful for debugging
// tests without a full Metrics snapshot.
func (m *Memory) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":       "memory",
		"size":       m.size,
		"allocated":  len(m.data),
		"num_shards": len(m.shards),
		"shard_size": ShardSize,
	}
}

var _ interfaces.Backend = (*Memory)(nil)
