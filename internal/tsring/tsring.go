// Package tsring implements the per-target timestamp ring (C5): a
// bounded buffer of per-operation records claimed lock-free by workers
// and drained by the results aggregator.
package tsring

import (
	"encoding/binary"
	"io"
	"sync/atomic"
)

// WrapPolicy controls what happens when the ring fills up.
type WrapPolicy int

const (
	// PolicyOneshot stops recording once the ring is full; Claim
	// returns -1 thereafter.
	PolicyOneshot WrapPolicy = iota
	// PolicyWrap overwrites the oldest entry.
	PolicyWrap
	// PolicyUnbounded never wraps; the ring must be pre-sized to
	// passes * target_ops by the caller.
	PolicyUnbounded
)

// Entry is one per-operation timestamp record, matching §3's field set.
type Entry struct {
	PassNumber    uint32
	WorkerNumber  uint32
	OpNumber      uint64
	OpType        uint32
	ByteLocation  uint64
	BytesXferred  uint64
	DiskStartNs   uint64
	DiskEndNs     uint64
	NetStartNs    uint64
	NetEndNs      uint64
	CPUUserNs     uint64 // not filled in by the worker; always zero in ring entries
	CPUSystemNs   uint64 // not filled in by the worker; always zero in ring entries
}

const entryWireSize = 4 + 4 + 8 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 // 84 bytes

// Ring is a fixed-capacity, lock-free-claim buffer of Entry records.
// Claim is safe for concurrent callers (one per worker); the slot body
// must be fully populated by the claiming worker before it surfaces its
// task completion, per §4.4.
type Ring struct {
	entries []Entry
	cursor  atomic.Uint64 // total claims ever made
	policy  WrapPolicy
	full    atomic.Bool
}

// New creates a Ring with capacity slots and the given wrap policy.
func New(capacity int, policy WrapPolicy) *Ring {
	return &Ring{
		entries: make([]Entry, capacity),
		policy:  policy,
	}
}

// Claim reserves the next slot and returns its index, or -1 if the
// ring uses PolicyOneshot and is already full.
func (r *Ring) Claim() int64 {
	if r.policy == PolicyOneshot && r.full.Load() {
		return -1
	}

	n := r.cursor.Add(1) - 1
	cap64 := uint64(len(r.entries))

	if n >= cap64 {
		if r.policy == PolicyOneshot {
			r.full.Store(true)
			return -1
		}
		// PolicyWrap and PolicyUnbounded (caller is responsible for
		// pre-sizing PolicyUnbounded so this branch is unreachable there).
	}

	return int64(n % cap64)
}

// Write populates the slot obtained from Claim. The caller must have
// finished writing before any dependent completion signal is posted.
func (r *Ring) Write(slot int64, e Entry) {
	r.entries[slot] = e
}

// Read returns a copy of the entry at slot.
func (r *Ring) Read(slot int64) Entry {
	return r.entries[slot]
}

// Len returns the ring's fixed capacity.
func (r *Ring) Len() int {
	return len(r.entries)
}

// Snapshot returns an atomic copy of the written range: [0, cursor) if
// the ring has never wrapped, or the full ring (in claim order starting
// from the oldest surviving entry) if it has.
func (r *Ring) Snapshot() []Entry {
	cursor := r.cursor.Load()
	cap64 := uint64(len(r.entries))

	if r.policy == PolicyOneshot && cursor > cap64 {
		// A oneshot ring never wraps; claims past capacity were refused.
		cursor = cap64
	}

	if cursor <= cap64 {
		out := make([]Entry, cursor)
		copy(out, r.entries[:cursor])
		return out
	}

	// Wrapped: oldest entry is at cursor % cap, walk forward cap times.
	out := make([]Entry, cap64)
	start := cursor % cap64
	for i := uint64(0); i < cap64; i++ {
		out[i] = r.entries[(start+i)%cap64]
	}
	return out
}

// WriteDump serializes the ring's header and entries to w using the
// little-endian native layout from §6 ("Timestamp dump file").
func WriteDump(w io.Writer, magic uint32, entries []Entry) error {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(entries)))
	if _, err := w.Write(header); err != nil {
		return err
	}

	buf := make([]byte, entryWireSize)
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[0:4], e.PassNumber)
		binary.LittleEndian.PutUint32(buf[4:8], e.WorkerNumber)
		binary.LittleEndian.PutUint64(buf[8:16], e.OpNumber)
		binary.LittleEndian.PutUint32(buf[16:20], e.OpType)
		binary.LittleEndian.PutUint64(buf[20:28], e.ByteLocation)
		binary.LittleEndian.PutUint64(buf[28:36], e.BytesXferred)
		binary.LittleEndian.PutUint64(buf[36:44], e.DiskStartNs)
		binary.LittleEndian.PutUint64(buf[44:52], e.DiskEndNs)
		binary.LittleEndian.PutUint64(buf[52:60], e.NetStartNs)
		binary.LittleEndian.PutUint64(buf[60:68], e.NetEndNs)
		binary.LittleEndian.PutUint64(buf[68:76], e.CPUUserNs)
		binary.LittleEndian.PutUint64(buf[76:84], e.CPUSystemNs)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ReadDump reads back a dump written by WriteDump, returning the magic
// and the entries.
func ReadDump(r io.Reader) (uint32, []Entry, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	magic := binary.LittleEndian.Uint32(header[0:4])
	count := binary.LittleEndian.Uint32(header[4:8])

	entries := make([]Entry, count)
	buf := make([]byte, entryWireSize)
	for i := range entries {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, nil, err
		}
		entries[i] = Entry{
			PassNumber:   binary.LittleEndian.Uint32(buf[0:4]),
			WorkerNumber: binary.LittleEndian.Uint32(buf[4:8]),
			OpNumber:     binary.LittleEndian.Uint64(buf[8:16]),
			OpType:       binary.LittleEndian.Uint32(buf[16:20]),
			ByteLocation: binary.LittleEndian.Uint64(buf[20:28]),
			BytesXferred: binary.LittleEndian.Uint64(buf[28:36]),
			DiskStartNs:  binary.LittleEndian.Uint64(buf[36:44]),
			DiskEndNs:    binary.LittleEndian.Uint64(buf[44:52]),
			NetStartNs:   binary.LittleEndian.Uint64(buf[52:60]),
			NetEndNs:     binary.LittleEndian.Uint64(buf[60:68]),
			CPUUserNs:    binary.LittleEndian.Uint64(buf[68:76]),
			CPUSystemNs:  binary.LittleEndian.Uint64(buf[76:84]),
		}
	}
	return magic, entries, nil
}
