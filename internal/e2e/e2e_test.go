package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdd-io/xdd/internal/wire"
)

func headerFor(byteLocation, length uint64) wire.Header {
	return wire.Header{ByteLocation: byteLocation, Length: length}
}

const testIOSize = 64

func listenOnEphemeralPort(t *testing.T) (*Listener, int) {
	t.Helper()
	for port := 20000; port < 20050; port++ {
		ln, err := Listen("127.0.0.1", port, 0)
		if err == nil {
			return ln, port
		}
	}
	t.Fatal("could not find a free port for test listener")
	return nil, 0
}

func TestSendReceiveDataFrameRoundTrip(t *testing.T) {
	ln, port := listenOnEphemeralPort(t)
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(testIOSize)
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	source, err := DialSource(context.Background(), "127.0.0.1", port, 0, testIOSize)
	require.NoError(t, err)
	defer source.Close()

	var dest *Conn
	select {
	case dest = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("accept timed out")
	}
	defer dest.Close()

	payload := make([]byte, testIOSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, source.SendData(payload, 4096, 1000))

	buf := make([]byte, testIOSize)
	frame, err := dest.Receive(buf)
	require.NoError(t, err)
	assert.False(t, frame.IsEOF)
	assert.Equal(t, uint64(4096), frame.Header.ByteLocation)
	assert.Equal(t, uint64(testIOSize), frame.Header.Length)
	assert.Equal(t, payload, buf)
}

func TestSendReceiveEOFFrame(t *testing.T) {
	ln, port := listenOnEphemeralPort(t)
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		conn, _ := ln.Accept(testIOSize)
		accepted <- conn
	}()

	source, err := DialSource(context.Background(), "127.0.0.1", port, 0, testIOSize)
	require.NoError(t, err)
	defer source.Close()

	dest := <-accepted
	require.NotNil(t, dest)
	defer dest.Close()

	require.NoError(t, source.SendEOF(2000))

	buf := make([]byte, testIOSize)
	frame, err := dest.Receive(buf)
	require.NoError(t, err)
	assert.True(t, frame.IsEOF)
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	ln, port := listenOnEphemeralPort(t)
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		conn, _ := ln.Accept(testIOSize)
		accepted <- conn
	}()

	source, err := DialSource(context.Background(), "127.0.0.1", port, 0, testIOSize)
	require.NoError(t, err)
	defer source.Close()

	dest := <-accepted
	require.NotNil(t, dest)
	defer dest.Close()

	payload := make([]byte, testIOSize)
	require.NoError(t, source.SendData(payload, 0, 10))
	require.NoError(t, source.SendData(payload, testIOSize, 20))

	buf := make([]byte, testIOSize)
	f1, err := dest.Receive(buf)
	require.NoError(t, err)
	f2, err := dest.Receive(buf)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), f1.Header.Sequence)
	assert.Equal(t, uint64(1), f2.Header.Sequence)
}

func TestValidateDestinationDetectsMismatch(t *testing.T) {
	h := headerFor(4096, 4096)
	assert.NoError(t, ValidateDestination(h, 1, 4096, false))

	bad := headerFor(8192, 4096)
	assert.Error(t, ValidateDestination(bad, 1, 4096, false))
}

func TestValidateDestinationAllowsFinalShortOp(t *testing.T) {
	h := headerFor(4096, 100)
	assert.NoError(t, ValidateDestination(h, 1, 4096, true))
}
