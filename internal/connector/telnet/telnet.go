// Package telnet provides a connector over the telnet protocol.
//
// Option negotiation and IAC escaping are done by github.com/ziutek/telnet;
// this package adapts its connection to connector.Conn with deadline reads.
package telnet

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ziutek/telnet"

	"github.com/eugenetaranov/rtbolt/internal/connector"
)

// Conn is a telnet connection.
type Conn struct {
	tc   *telnet.Conn
	addr string

	// cr is set when the last data byte returned was a carriage return, so
	// a NUL arriving in the next read can be dropped.
	cr bool
}

// Dialer opens telnet connections over TCP.
type Dialer struct{}

// Dial connects to host:port.
func (Dialer) Dial(ctx context.Context, host string, port int, timeout time.Duration) (connector.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &connector.ConnectError{Addr: addr, Err: err}
	}
	c, err := NewConn(nc)
	if err != nil {
		nc.Close()
		return nil, &connector.ConnectError{Addr: addr, Err: err}
	}
	return c, nil
}

// NewConn wraps an established network connection. Newlines written to the
// connection are sent as CR LF, so callers write bare "\n".
func NewConn(nc net.Conn) (*Conn, error) {
	tc, err := telnet.NewConn(nc)
	if err != nil {
		return nil, err
	}
	tc.SetUnixWriteMode(true)
	return &Conn{tc: tc, addr: nc.RemoteAddr().String()}, nil
}

// Write sends p, translating newlines to CR LF and escaping IAC.
func (c *Conn) Write(p []byte) (int, error) {
	if _, err := c.tc.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadDeadline reads data bytes, answering negotiation along the way.
func (c *Conn) ReadDeadline(p []byte, deadline time.Time) (int, error) {
	if err := c.tc.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	for {
		n, err := c.tc.Read(p)
		n = c.dropNUL(p[:n])
		if n > 0 || err != nil {
			return n, err
		}
	}
}

// dropNUL removes the NUL of each CR NUL pair in place, RFC 854.
func (c *Conn) dropNUL(b []byte) int {
	n := 0
	for _, x := range b {
		if x == 0 && c.cr {
			c.cr = false
			continue
		}
		c.cr = x == '\r'
		b[n] = x
		n++
	}
	return n
}

// Close closes the TCP connection.
func (c *Conn) Close() error {
	return c.tc.Close()
}

// String returns a description of the connection.
func (c *Conn) String() string {
	return fmt.Sprintf("telnet://%s", c.addr)
}

// Ensure Conn implements the connector.Conn interface.
var _ connector.Conn = (*Conn)(nil)

var _ connector.Dialer = Dialer{}
