// Package connectortest provides a scripted connector.Conn for tests.
package connectortest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/eugenetaranov/rtbolt/internal/connector"
)

type stepKind int

const (
	stepEmit stepKind = iota
	stepAwait
	stepEOF
)

// Step is one entry of a conversation script.
type Step struct {
	kind stepKind
	data []byte
}

// Emit makes data readable by the client.
func Emit(data string) Step { return Step{kind: stepEmit, data: []byte(data)} }

// Await blocks the script until the client has written data.
func Await(data string) Step { return Step{kind: stepAwait, data: []byte(data)} }

// EOF ends the conversation with the remote side hanging up.
func EOF() Step { return Step{kind: stepEOF} }

// Conn plays a fixed conversation. Once the script is exhausted (or blocked
// on an Await the client never satisfies) reads stall until their deadline.
type Conn struct {
	mu      sync.Mutex
	steps   []Step
	pos     int
	pending []byte
	unseen  []byte
	writes  []string
	closes  int
	closed  bool
	eof     bool

	// ChunkSize limits how many bytes a single read returns. Zero means no limit.
	ChunkSize int
}

// NewConn creates a scripted connection.
func NewConn(steps ...Step) *Conn {
	return &Conn{steps: steps}
}

// Write records data sent by the client.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, io.ErrClosedPipe
	}
	c.writes = append(c.writes, string(p))
	c.unseen = append(c.unseen, p...)
	return len(p), nil
}

// ReadDeadline returns scripted output, or stalls until deadline.
func (c *Conn) ReadDeadline(p []byte, deadline time.Time) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	c.advance()

	if len(c.pending) > 0 {
		n := len(c.pending)
		if c.ChunkSize > 0 && n > c.ChunkSize {
			n = c.ChunkSize
		}
		n = copy(p, c.pending[:n])
		c.pending = c.pending[n:]
		c.mu.Unlock()
		return n, nil
	}
	if c.eof {
		c.mu.Unlock()
		return 0, io.EOF
	}
	c.mu.Unlock()

	// Nothing can arrive while the single client goroutine is blocked here.
	time.Sleep(time.Until(deadline))
	return 0, os.ErrDeadlineExceeded
}

func (c *Conn) advance() {
	for c.pos < len(c.steps) {
		st := c.steps[c.pos]
		switch st.kind {
		case stepEmit:
			c.pending = append(c.pending, st.data...)
		case stepAwait:
			idx := bytes.Index(c.unseen, st.data)
			if idx < 0 {
				return
			}
			c.unseen = c.unseen[idx+len(st.data):]
		case stepEOF:
			c.eof = true
		}
		c.pos++
	}
}

// Close marks the connection closed. It counts calls.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.closed = true
	return nil
}

// String describes the connection.
func (c *Conn) String() string { return "script://test" }

// Writes returns every client write in order.
func (c *Conn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

// Closes returns how many times Close was called.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Done reports whether every step has been played.
func (c *Conn) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance()
	return c.pos == len(c.steps)
}

// Dialer hands out a prepared Conn and counts dials.
type Dialer struct {
	Conn *Conn
	Err  error

	mu    sync.Mutex
	dials int
}

// Dial returns the scripted connection, or Err as a ConnectError.
func (d *Dialer) Dial(ctx context.Context, host string, port int, timeout time.Duration) (connector.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.Err != nil {
		return nil, &connector.ConnectError{Addr: fmt.Sprintf("%s:%d", host, port), Err: d.Err}
	}
	return d.Conn, nil
}

// Dials returns how many times Dial was called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

var _ connector.Conn = (*Conn)(nil)
var _ connector.Dialer = (*Dialer)(nil)
