package ipveil

import (
	"net"
	"sync/atomic"
)

// CountedConn wraps a net.Conn and accounts transferred bytes into the given
// counters: Read adds to in, Write adds to out. Counters may be shared with
// the session that owns the connection.
type CountedConn struct {
	net.Conn
	in  *atomic.Uint64
	out *atomic.Uint64
}

func NewCountedConn(conn net.Conn, in, out *atomic.Uint64) *CountedConn {
	return &CountedConn{Conn: conn, in: in, out: out}
}

func (c *CountedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 && c.in != nil {
		c.in.Add(uint64(n))
	}

	return n, err
}

func (c *CountedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 && c.out != nil {
		c.out.Add(uint64(n))
	}

	return n, err
}

// CloseWrite half-closes the underlying connection when supported, so the
// peer sees EOF while the read side stays open.
func (c *CountedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}

	return nil
}
