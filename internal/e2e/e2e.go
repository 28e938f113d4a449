// Package e2e implements the end-to-end wire protocol (C9): TCP
// framing between a source worker and its paired destination worker,
// connection setup, and the sequence/magic validation rules in §4.8.
//
// The teacher has no networking code of its own (a ublk server talks
// to the kernel, not a peer host), so the connection-lifecycle shape
// here — one TCP connection per worker pair, socket options set right
// after dial/accept, a framed read loop that treats a short read as
// connection loss — follows the streaming-session pattern in the
// retrieved aistore transport code and the standard library's own
// idioms (net.TCPConn, golang.org/x/sys/unix for socket options the
// net package doesn't expose directly, like SO_REUSEADDR at listen
// time).
package e2e

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/xdd-io/xdd/internal/wire"
)

// Conn wraps one TCP connection between a source and destination
// worker, tracking the monotonic per-connection sequence number
// required by §4.8.
type Conn struct {
	tcp      *net.TCPConn
	iosize   int64
	sequence atomic.Uint64
}

// DialSource connects to a destination worker at base_port+workerIndex,
// per §4.8's connection setup rule.
func DialSource(ctx context.Context, host string, basePort, workerIndex int, iosize int64) (*Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, basePort+workerIndex)
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("e2e: dial %s: %w", addr, err)
	}
	tcpConn := conn.(*net.TCPConn)
	if err := tuneSocket(tcpConn); err != nil {
		tcpConn.Close()
		return nil, err
	}
	return &Conn{tcp: tcpConn, iosize: iosize}, nil
}

// Listener accepts exactly one destination connection per worker port.
type Listener struct {
	ln net.Listener
}

// Listen opens a listening socket on base_port+workerIndex with
// SO_REUSEADDR set before bind, per §4.8.
func Listen(host string, basePort, workerIndex int) (*Listener, error) {
	addr := fmt.Sprintf("%s:%d", host, basePort+workerIndex)
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("e2e: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the source's single connection on this worker's port.
func (l *Listener) Accept(iosize int64) (*Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("e2e: accept: %w", err)
	}
	tcpConn := conn.(*net.TCPConn)
	if err := tuneSocket(tcpConn); err != nil {
		tcpConn.Close()
		return nil, err
	}
	return &Conn{tcp: tcpConn, iosize: iosize}, nil
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return l.ln.Close()
}

const (
	sendBufBytes = 1 << 20
	recvBufBytes = 1 << 20
)

func tuneSocket(conn *net.TCPConn) error {
	if err := conn.SetNoDelay(true); err != nil {
		return fmt.Errorf("e2e: set TCP_NODELAY: %w", err)
	}
	if err := conn.SetWriteBuffer(sendBufBytes); err != nil {
		return fmt.Errorf("e2e: set SO_SNDBUF: %w", err)
	}
	if err := conn.SetReadBuffer(recvBufBytes); err != nil {
		return fmt.Errorf("e2e: set SO_RCVBUF: %w", err)
	}
	return nil
}

// SendData sends one DATA frame: payload followed by the trailer
// header, per §4.8's framing. Sequence numbers are assigned by the Conn.
func (c *Conn) SendData(payload []byte, byteLocation int64, sendTimeNs uint64) error {
	return c.send(wire.MagicData, payload, byteLocation, sendTimeNs)
}

// SendEOF sends the terminal EOF frame: an iosize-byte zero payload
// followed by the trailer, so the frame has the same size as a full
// DATA frame. It does not change the Conn's state; the caller is still
// responsible for Close.
func (c *Conn) SendEOF(sendTimeNs uint64) error {
	return c.send(wire.MagicEOF, make([]byte, c.iosize), 0, sendTimeNs)
}

func (c *Conn) send(magic uint32, payload []byte, byteLocation int64, sendTimeNs uint64) error {
	seq := c.sequence.Add(1) - 1
	h := wire.Header{
		Magic:        magic,
		Sequence:     seq,
		SendTimeNs:   sendTimeNs,
		ByteLocation: uint64(byteLocation),
		Length:       uint64(len(payload)),
	}

	if len(payload) > 0 {
		if _, err := c.tcp.Write(payload); err != nil {
			return fmt.Errorf("e2e: write payload: %w", err)
		}
	}
	if _, err := c.tcp.Write(wire.MarshalHeader(h)); err != nil {
		return fmt.Errorf("e2e: write header: %w", err)
	}
	return nil
}

// Frame is one received DATA or EOF frame.
type Frame struct {
	Header wire.Header
	IsEOF  bool
}

// Receive reads len(buf)+header bytes with MSG_WAITALL semantics (loop
// to completion or error), per §4.8. The caller sizes buf to the op's
// expected payload length — iosize for every op except a target's
// short final op, which both the source and destination derive
// identically from the same geometry, so the two sides' frame sizes
// always agree without the wire needing a length prefix. A short read
// before the frame completes is a connection loss, not a partial frame.
func (c *Conn) Receive(buf []byte) (Frame, error) {
	full := make([]byte, int64(len(buf))+wire.HeaderSize)
	if _, err := io.ReadFull(c.tcp, full); err != nil {
		return Frame{}, fmt.Errorf("e2e: short read (connection loss): %w", err)
	}

	h, err := wire.UnmarshalHeader(full[len(buf):])
	if err != nil {
		return Frame{}, err
	}
	copy(buf, full[:len(buf)])

	return Frame{Header: h, IsEOF: h.IsEOF()}, nil
}

// ValidateDestination checks a received DATA frame's header against
// the receiver's local expectation, per §4.8: length must match iosize
// (except a final short op) and byte_location must match opNumber*iosize.
func ValidateDestination(h wire.Header, opNumber int64, iosize int64, isFinalShortOp bool) error {
	expectedLoc := uint64(opNumber * iosize)
	if h.ByteLocation != expectedLoc {
		return fmt.Errorf("e2e: byte_location mismatch: got %d, want %d", h.ByteLocation, expectedLoc)
	}
	if !isFinalShortOp && h.Length != uint64(iosize) {
		return fmt.Errorf("e2e: length mismatch: got %d, want %d", h.Length, iosize)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.tcp.Close()
}
