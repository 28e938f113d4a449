// Package seeklist generates the pass-scoped, deterministic access
// schedule for a target (C3): a finite sequence of (offset, length,
// op-type) tuples derived from target geometry and randomization
// parameters. Two runs with identical parameters produce an identical
// sequence, satisfying the seed-determinism testable property in §8.
package seeklist

import (
	"encoding/binary"
	"io"
	"math/rand"
	"os"
)

// OpType is the kind of operation a seek entry describes.
type OpType int

const (
	OpRead OpType = iota
	OpWrite
	OpNoop
)

// Pattern selects how byte offsets are chosen across a pass.
type Pattern int

const (
	PatternSequential Pattern = iota
	PatternRandom
)

// Entry is one scheduled operation: {op_type, byte_location, block_count}
// per §3. ByteLength is the exact number of bytes this op transfers —
// equal to the geometry's IOSize for every op except a target's final
// op when TotalBytes isn't an exact multiple of IOSize, per invariant 4
// ("minus at most one short final op"). ScheduledTime is left as a
// relative offset from pass start in nanoseconds; the target
// controller's throttle logic turns it into an absolute wall-clock
// deadline.
type Entry struct {
	OpType        OpType
	ByteLocation  int64
	BlockCount    int64
	ByteLength    int64
	ScheduledTime int64
}

// Geometry captures the parameters that fix a target's access schedule.
type Geometry struct {
	StartOffset int64 // byte offset where pass 0 begins
	PassOffset  int64 // byte offset added per pass (sequential stepping between passes)
	IOSize      int64 // reqsize * block_size
	BlockSize   int64
	TargetOps   int64 // number of ops in one pass
	RangeBytes  int64 // wrap boundary for sequential, bound for random (0 = unbounded)
	Pattern     Pattern
	Seed        int64
	Interleave  int64 // random-mode quantization in multiples of BlockSize; 0/1 = unique positions
	RWRatio     float64
	PassNumber  int64

	// TotalBytes, when set, is the exact byte count this pass must move.
	// When it isn't a multiple of IOSize, the last entry is shortened to
	// the remainder instead of overrunning it.
	TotalBytes int64
}

// Generate produces the deterministic seek list for one pass. The same
// Geometry (same seed, same pass number) always yields a byte-identical
// sequence, independent of process, host, or prior calls.
func Generate(g Geometry) []Entry {
	entries := make([]Entry, g.TargetOps)

	switch g.Pattern {
	case PatternSequential:
		generateSequential(g, entries)
	default:
		generateRandom(g, entries)
	}

	for i := range entries {
		entries[i].ByteLength = g.IOSize
	}
	clampFinalEntry(g, entries)

	assignOpTypes(g, entries)
	return entries
}

// clampFinalEntry shortens the last entry's ByteLength (and the
// BlockCount it implies) to TotalBytes' remainder when the target's
// total byte count isn't an exact multiple of IOSize, per §8's
// boundary case.
func clampFinalEntry(g Geometry, entries []Entry) {
	if g.TotalBytes <= 0 || len(entries) == 0 || g.IOSize <= 0 {
		return
	}
	remainder := g.TotalBytes - (int64(len(entries))-1)*g.IOSize
	if remainder <= 0 || remainder >= g.IOSize {
		return
	}
	last := len(entries) - 1
	entries[last].ByteLength = remainder
	if g.BlockSize > 0 {
		entries[last].BlockCount = remainder / g.BlockSize
	}
}

func generateSequential(g Geometry, entries []Entry) {
	base := g.StartOffset + g.PassOffset*g.PassNumber
	for n := range entries {
		loc := base + int64(n)*g.IOSize
		if g.RangeBytes > 0 {
			loc = g.StartOffset + (loc-g.StartOffset)%g.RangeBytes
		}
		entries[n] = Entry{ByteLocation: loc, BlockCount: g.IOSize / g.BlockSize}
	}
}

func generateRandom(g Geometry, entries []Entry) {
	// Deterministic per (seed, pass_number): fold the pass number into
	// the seed so every pass of a run draws from an independent but
	// reproducible stream.
	rng := rand.New(rand.NewSource(g.Seed + g.PassNumber*1_000_003))

	rangeBytes := g.RangeBytes
	if rangeBytes <= 0 {
		rangeBytes = g.TargetOps * g.IOSize
	}

	quantum := g.BlockSize
	if g.Interleave > 1 {
		quantum = g.Interleave * g.BlockSize
	}
	numSlots := rangeBytes / quantum
	if numSlots < 1 {
		numSlots = 1
	}

	unique := g.Interleave <= 1
	var perm []int64
	if unique && int64(len(entries)) <= numSlots {
		perm = rng.Perm(int(numSlots))[:len(entries)]
	}

	for n := range entries {
		var slot int64
		if perm != nil {
			slot = int64(perm[n])
		} else {
			slot = rng.Int63n(numSlots)
		}
		loc := g.StartOffset + slot*quantum
		entries[n] = Entry{ByteLocation: loc, BlockCount: g.IOSize / g.BlockSize}
	}
}

// assignOpTypes walks the generated entries and tags each with an
// OpType so the running ratio of reads to total ops converges to
// RWRatio. Assignment order is deterministic given the seed: a simple
// Bresenham-style accumulator rather than a second PRNG draw, so the
// read/write pattern does not depend on draw order of the PRNG used
// for offsets.
func assignOpTypes(g Geometry, entries []Entry) {
	if g.RWRatio >= 1.0 {
		for i := range entries {
			entries[i].OpType = OpRead
		}
		return
	}
	if g.RWRatio <= 0.0 {
		for i := range entries {
			entries[i].OpType = OpWrite
		}
		return
	}

	acc := 0.0
	for i := range entries {
		acc += g.RWRatio
		if acc >= 1.0 {
			entries[i].OpType = OpRead
			acc -= 1.0
		} else {
			entries[i].OpType = OpWrite
		}
	}
}

// Save writes the seek list to w in a simple fixed-width binary layout
// so a run can be replayed exactly (§4.3 "save-to-file / load-from-file
// for exact replay").
func Save(w io.Writer, entries []Entry) error {
	buf := make([]byte, 40)
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(e.OpType))
		binary.LittleEndian.PutUint64(buf[4:12], uint64(e.ByteLocation))
		binary.LittleEndian.PutUint64(buf[12:20], uint64(e.BlockCount))
		binary.LittleEndian.PutUint64(buf[20:28], uint64(e.ScheduledTime))
		binary.LittleEndian.PutUint64(buf[28:36], uint64(e.ByteLength))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// Load reads back a seek list written by Save, reproducing the exact
// dispatch sequence.
func Load(r io.Reader) ([]Entry, error) {
	var entries []Entry
	buf := make([]byte, 40)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		entries = append(entries, Entry{
			OpType:        OpType(binary.LittleEndian.Uint32(buf[0:4])),
			ByteLocation:  int64(binary.LittleEndian.Uint64(buf[4:12])),
			BlockCount:    int64(binary.LittleEndian.Uint64(buf[12:20])),
			ScheduledTime: int64(binary.LittleEndian.Uint64(buf[20:28])),
			ByteLength:    int64(binary.LittleEndian.Uint64(buf[28:36])),
		})
	}
	return entries, nil
}

// SaveFile is a convenience wrapper around Save for a path on disk.
func SaveFile(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Save(f, entries)
}

// LoadFile is a convenience wrapper around Load for a path on disk.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
