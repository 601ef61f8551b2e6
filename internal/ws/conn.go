// Package ws exposes the chat protocol over websocket transport. Each
// websocket message carries exactly one frame payload; the 4-byte length
// prefix is a raw-TCP concern and is not used here.
package ws

import (
	"errors"
	"net"
	"sync"

	"github.com/gorilla/websocket"

	"roomchat/internal/protocol"
)

type frameConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewFrameConn adapts a websocket connection to the framed-connection
// interface used by the session handler.
func NewFrameConn(conn *websocket.Conn) protocol.Conn {
	return &frameConn{conn: conn}
}

func (c *frameConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) ||
				errors.Is(err, net.ErrClosed) {
				return nil, protocol.ErrConnectionClosed
			}
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *frameConn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *frameConn) Close() error {
	return c.conn.Close()
}

func (c *frameConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
