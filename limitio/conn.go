package limitio

import "net"

// Conn limits the download bandwidth of a network connection
type Conn struct {
	net.Conn
	reader *Reader
}

// NewConn wraps the connection. A rate of zero returns the connection unchanged.
func NewConn(conn net.Conn, bytesPerSec float64) net.Conn {
	if bytesPerSec <= 0 {
		return conn
	}
	reader := NewReader(conn)
	reader.SetRateLimit(bytesPerSec, 0)
	return &Conn{
		Conn:   conn,
		reader: reader,
	}
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}
