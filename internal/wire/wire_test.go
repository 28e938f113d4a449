package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Magic:        MagicData,
		Sequence:     42,
		SendQNum:     3,
		SendTimeNs:   1000,
		RecvTimeNs:   2000,
		ByteLocation: 65536,
		Length:       4096,
	}

	buf := MarshalHeader(h)
	require.Len(t, buf, HeaderSize)

	got, err := UnmarshalHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestHeaderIsBigEndian(t *testing.T) {
	h := Header{Magic: MagicData, Sequence: 1}
	buf := MarshalHeader(h)
	// Big-endian: MagicData's high byte (0xDE) comes first.
	assert.Equal(t, byte(0xDE), buf[0])
	assert.Equal(t, byte(0xEF), buf[3])
}

func TestHeaderEOFMagic(t *testing.T) {
	h := Header{Magic: MagicEOF}
	assert.True(t, h.IsEOF())

	h.Magic = MagicData
	assert.False(t, h.IsEOF())
}

func TestUnmarshalHeaderTooShort(t *testing.T) {
	_, err := UnmarshalHeader(make([]byte, HeaderSize-1))
	assert.Error(t, err)
}

func TestDumpHeaderRoundTrip(t *testing.T) {
	h := DumpHeader{
		Magic:      0xDEADBEEF,
		ClockResNs: 100,
		GTSDeltaNs: -500,
		OpCount:    1000,
		TableSize:  64,
		RunID:      7,
		IOSize:     4096,
		QueueDepth: 8,
	}

	buf := MarshalDumpHeader(h)
	got, err := UnmarshalDumpHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestUnmarshalDumpHeaderTooShort(t *testing.T) {
	_, err := UnmarshalDumpHeader(make([]byte, 10))
	assert.Error(t, err)
}
