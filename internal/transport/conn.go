// Package transport connects filter chains to real I/O: TCP sockets,
// WebSocket connections and subprocess pipes.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one bidirectional byte transport.
type Conn interface {
	// Receive blocks until the next chunk of data arrives. It returns
	// io.EOF once the peer has finished sending.
	Receive() ([]byte, error)

	// Send writes p to the peer. It is safe for concurrent use.
	Send(p []byte) error

	RemoteAddr() string
	Close() error
}

// StreamConn adapts a byte stream, such as a net.Conn or a pair of pipes,
// to Conn. Each Receive returns whatever a single Read produced.
type StreamConn struct {
	r      io.Reader
	w      io.Writer
	c      io.Closer
	remote string
	buf    []byte

	wmu sync.Mutex
}

// NewStreamConn creates a StreamConn reading from r and writing to w. c is
// closed by Close; it may be nil.
func NewStreamConn(r io.Reader, w io.Writer, c io.Closer, remote string, bufSize int) *StreamConn {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &StreamConn{r: r, w: w, c: c, remote: remote, buf: make([]byte, bufSize)}
}

// NewNetConn wraps a network connection.
func NewNetConn(nc net.Conn, bufSize int) *StreamConn {
	return NewStreamConn(nc, nc, nc, nc.RemoteAddr().String(), bufSize)
}

func (s *StreamConn) Receive() ([]byte, error) {
	for {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			// The caller owns the returned slice; the buffer is reused.
			p := make([]byte, n)
			copy(p, s.buf[:n])
			return p, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *StreamConn) Send(p []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.w.Write(p)
	return err
}

func (s *StreamConn) RemoteAddr() string { return s.remote }

func (s *StreamConn) Close() error {
	if s.c == nil {
		return nil
	}
	err := s.c.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

const wsWriteTimeout = 10 * time.Second

// WebSocketConn adapts a gorilla WebSocket connection to Conn. Each Receive
// returns one text or binary message.
type WebSocketConn struct {
	ws          *websocket.Conn
	messageType int

	wmu       sync.Mutex
	closeOnce sync.Once
}

// NewWebSocketConn wraps ws. Outgoing data is sent as messageType,
// websocket.TextMessage or websocket.BinaryMessage.
func NewWebSocketConn(ws *websocket.Conn, messageType int) *WebSocketConn {
	return &WebSocketConn{ws: ws, messageType: messageType}
}

func (c *WebSocketConn) Receive() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		switch mt {
		case websocket.TextMessage, websocket.BinaryMessage:
			return data, nil
		}
	}
}

func (c *WebSocketConn) Send(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(c.messageType, p)
}

func (c *WebSocketConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// Close sends a close frame, best effort, and closes the connection.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// payloadBytes converts an egress payload to the bytes a Conn sends.
func payloadBytes(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	case string:
		return []byte(p), nil
	case fmt.Stringer:
		return []byte(p.String()), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("cannot send %T payload; add an encoding filter", payload)
	}
}
