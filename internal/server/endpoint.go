package server

import (
	"net"
	"time"
)

// connEndpoint adapts a stream connection to match.Endpoint. Writes are
// bounded by a deadline so a stalled peer cannot block the loop.
type connEndpoint struct {
	conn         net.Conn
	writeTimeout time.Duration
	remote       string
}

func newConnEndpoint(conn net.Conn, writeTimeout time.Duration) *connEndpoint {
	return &connEndpoint{
		conn:         conn,
		writeTimeout: writeTimeout,
		remote:       conn.RemoteAddr().String(),
	}
}

func (c *connEndpoint) Send(b []byte) error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *connEndpoint) Close() error {
	return c.conn.Close()
}

func (c *connEndpoint) RemoteAddr() string {
	return c.remote
}
