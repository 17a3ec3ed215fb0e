package stream

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsSink is the send half of an accepted websocket connection. Writers are
// serialized by the Slot. Close does not wait for an in-flight write: it
// drops the transport, which fails the write immediately.
type wsSink struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	closed atomic.Bool
}

func newWSSink(id string, conn *websocket.Conn, writeTimeout time.Duration) *wsSink {
	return &wsSink{id: id, conn: conn, writeTimeout: writeTimeout}
}

func (s *wsSink) ID() string { return s.id }

func (s *wsSink) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// WriteText sends payload as one text frame.
func (s *wsSink) WriteText(payload []byte) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close drops the underlying transport without a close handshake. It is safe
// to call while a write is blocked.
func (s *wsSink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}
