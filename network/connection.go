package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/protocol"
)

// ErrConnectionClosed indicates use of a Conn after Close.
var ErrConnectionClosed = errors.New("network: connection closed")

// Conn is the client side of one TCP session. Requests are strictly
// sequential: each RoundTrip writes one request and reads its response.
type Conn struct {
	conn           net.Conn
	ioTimeout      time.Duration
	maxPayloadSize uint32

	mu        sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func newConn(conn net.Conn, ioTimeout time.Duration, maxPayloadSize uint32) *Conn {
	return &Conn{
		conn:           conn,
		ioTimeout:      ioTimeout,
		maxPayloadSize: maxPayloadSize,
	}
}

// RoundTrip sends req and waits for the matching response. Any transport
// error leaves the connection unusable; the caller should close it.
func (c *Conn) RoundTrip(req protocol.Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return protocol.Response{}, ErrConnectionClosed
	}

	if c.ioTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioTimeout)); err != nil {
			return protocol.Response{}, fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := protocol.WriteRequest(c.conn, req); err != nil {
		return protocol.Response{}, err
	}

	resp, err := protocol.ReadResponseWithTimeout(c.conn, c.ioTimeout, c.maxPayloadSize)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read response to %s: %w", req.Header.Code, err)
	}
	return resp, nil
}

// RemoteAddr returns the server address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying socket. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}
