// Package wire implements the manual, field-by-field binary encodings
// used on the E2E socket and in on-disk records (C9/C10 wire formats).
// The encode/decode style here is adapted from the teacher's
// internal/uapi/marshal.go, which marshals kernel-facing structs field
// by field into fixed-offset buffers rather than leaning on reflection
// or unsafe casts for anything with a stability requirement (a wire
// format that must survive process restarts and cross-host transfer).
package wire

import (
	"encoding/binary"
	"fmt"
)

// Magic values for the E2E frame trailer, per §6.
const (
	MagicData uint32 = 0xDEADBEEF
	MagicEOF  uint32 = 0xDEADBEEE
)

// HeaderSize is the fixed size of the trailer appended after every
// frame's payload.
const HeaderSize = 48

// Header is the E2E message trailer: magic, sequence, sendqnum,
// send_time, recv_time, byte_location, length. The wire format is
// big-endian, per §6 ("Big-endian 64-bit fields").
type Header struct {
	Magic        uint32
	Sequence     uint64
	SendQNum     uint32
	SendTimeNs   uint64
	RecvTimeNs   uint64
	ByteLocation uint64
	Length       uint64
}

// IsEOF reports whether this header marks the last frame on a
// connection.
func (h Header) IsEOF() bool {
	return h.Magic == MagicEOF
}

// MarshalHeader encodes h into a fixed 48-byte big-endian buffer.
func MarshalHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint64(buf[4:12], h.Sequence)
	binary.BigEndian.PutUint32(buf[12:16], h.SendQNum)
	binary.BigEndian.PutUint64(buf[16:24], h.SendTimeNs)
	binary.BigEndian.PutUint64(buf[24:32], h.RecvTimeNs)
	binary.BigEndian.PutUint64(buf[32:40], h.ByteLocation)
	binary.BigEndian.PutUint64(buf[40:48], h.Length)
	return buf
}

// UnmarshalHeader decodes a 48-byte big-endian buffer into a Header.
func UnmarshalHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("wire: header too short: got %d bytes, want %d", len(data), HeaderSize)
	}
	return Header{
		Magic:        binary.BigEndian.Uint32(data[0:4]),
		Sequence:     binary.BigEndian.Uint64(data[4:12]),
		SendQNum:     binary.BigEndian.Uint32(data[12:16]),
		SendTimeNs:   binary.BigEndian.Uint64(data[16:24]),
		RecvTimeNs:   binary.BigEndian.Uint64(data[24:32]),
		ByteLocation: binary.BigEndian.Uint64(data[32:40]),
		Length:       binary.BigEndian.Uint64(data[40:48]),
	}, nil
}

// DumpHeader is the header of a timestamp dump file: geometry, clock
// resolution, gts_delta, op count and table size, per §6.
type DumpHeader struct {
	Magic           uint32
	ClockResNs      uint64
	GTSDeltaNs      int64
	OpCount         uint64
	TableSize       uint64
	RunID           uint64
	IOSize          uint64
	QueueDepth      uint32
}

const dumpHeaderWireSize = 4 + 8 + 8 + 8 + 8 + 8 + 8 + 4 // 56 bytes

// MarshalDumpHeader encodes a DumpHeader using the same little-endian
// native layout as the entry records that follow it in the dump file.
func MarshalDumpHeader(h DumpHeader) []byte {
	buf := make([]byte, dumpHeaderWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint64(buf[4:12], h.ClockResNs)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(h.GTSDeltaNs))
	binary.LittleEndian.PutUint64(buf[20:28], h.OpCount)
	binary.LittleEndian.PutUint64(buf[28:36], h.TableSize)
	binary.LittleEndian.PutUint64(buf[36:44], h.RunID)
	binary.LittleEndian.PutUint64(buf[44:52], h.IOSize)
	binary.LittleEndian.PutUint32(buf[52:56], h.QueueDepth)
	return buf
}

// UnmarshalDumpHeader decodes a buffer produced by MarshalDumpHeader.
func UnmarshalDumpHeader(data []byte) (DumpHeader, error) {
	if len(data) < dumpHeaderWireSize {
		return DumpHeader{}, fmt.Errorf("wire: dump header too short: got %d bytes, want %d", len(data), dumpHeaderWireSize)
	}
	return DumpHeader{
		Magic:      binary.LittleEndian.Uint32(data[0:4]),
		ClockResNs: binary.LittleEndian.Uint64(data[4:12]),
		GTSDeltaNs: int64(binary.LittleEndian.Uint64(data[12:20])),
		OpCount:    binary.LittleEndian.Uint64(data[20:28]),
		TableSize:  binary.LittleEndian.Uint64(data[28:36]),
		RunID:      binary.LittleEndian.Uint64(data[36:44]),
		IOSize:     binary.LittleEndian.Uint64(data[44:52]),
		QueueDepth: binary.LittleEndian.Uint32(data[52:56]),
	}, nil
}
