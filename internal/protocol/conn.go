package protocol

import (
	"net"
	"sync"
)

// Conn abstracts a framed bidirectional connection so the session handler
// does not care whether frames travel over raw TCP or a websocket.
type Conn interface {
	// ReadFrame reads a single frame payload. It blocks until a full frame
	// arrives or returns ErrConnectionClosed once the peer is gone.
	ReadFrame() ([]byte, error)

	// WriteFrame sends a single frame payload.
	WriteFrame(payload []byte) error

	// Close closes the underlying connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

type tcpConn struct {
	conn     net.Conn
	maxFrame int64
	writeMu  sync.Mutex
}

// NewTCPConn wraps a stream connection with the length-prefixed framing.
// maxFrame <= 0 applies DefaultMaxFrameBytes.
func NewTCPConn(conn net.Conn, maxFrame int64) Conn {
	return &tcpConn{conn: conn, maxFrame: maxFrame}
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	return ReadFrame(c.conn, c.maxFrame)
}

func (c *tcpConn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.conn, payload)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
