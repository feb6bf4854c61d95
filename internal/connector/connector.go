// Package connector defines the byte channel to a target's interactive shell
// and the buffered stream that reads it against expect rules.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eugenetaranov/rtbolt/internal/expect"
)

// Conn is a raw, established connection to a remote shell.
type Conn interface {
	// Write sends bytes to the remote side.
	Write(p []byte) (int, error)

	// ReadDeadline reads available bytes, blocking no later than deadline.
	// On expiry it returns an error matching os.ErrDeadlineExceeded.
	ReadDeadline(p []byte, deadline time.Time) (int, error)

	// Close terminates the connection.
	Close() error

	// String returns a human-readable description of the connection.
	String() string
}

// Dialer opens connections to a target.
type Dialer interface {
	// Dial connects to host:port, giving up after timeout.
	Dial(ctx context.Context, host string, port int, timeout time.Duration) (Conn, error)
}

// ConnectError reports a failure to establish the transport.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError reports a broken connection during send or receive.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports that no rule matched before the deadline.
type TimeoutError struct {
	// Rules lists the rule names that were being waited for.
	Rules []string

	// Timeout is the wait budget that elapsed.
	Timeout time.Duration

	// Received holds the unmatched bytes buffered when the wait gave up.
	Received []byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no match for [%s] within %s", strings.Join(e.Rules, ", "), e.Timeout)
}

// Unwrap makes errors.Is(err, expect.ErrTimeout) hold.
func (e *TimeoutError) Unwrap() error { return expect.ErrTimeout }

const readChunk = 4096

// Stream wraps a Conn with an accumulating receive buffer.
// It is not safe for concurrent use.
type Stream struct {
	conn  Conn
	buf   []byte
	trace io.Writer

	closeOnce sync.Once
	closeErr  error
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithTrace mirrors every byte read and written to w.
func WithTrace(w io.Writer) StreamOption {
	return func(s *Stream) {
		s.trace = w
	}
}

// NewStream creates a stream over an established connection.
func NewStream(conn Conn, opts ...StreamOption) *Stream {
	s := &Stream{conn: conn}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send writes p to the connection.
func (s *Stream) Send(p []byte) error {
	return s.send(p, p)
}

// SendLine writes line followed by a newline.
func (s *Stream) SendLine(line string) error {
	b := []byte(line + "\n")
	return s.send(b, b)
}

// SendSecret writes line followed by a newline, masking it in the trace.
func (s *Stream) SendSecret(line string) error {
	return s.send([]byte(line+"\n"), []byte("********\n"))
}

func (s *Stream) send(p, traced []byte) error {
	if _, err := s.conn.Write(p); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	s.mirror(traced)
	return nil
}

// ReadUntil reads until one of rules matches the buffered input or timeout
// elapses. A deadline on ctx shortens the wait; ctx is not otherwise watched
// while a read is blocked.
//
// On a match, the buffer keeps only the bytes after the match. On timeout the
// buffer is left intact and a *TimeoutError carrying it is returned.
func (s *Stream) ReadUntil(ctx context.Context, rules expect.Rules, timeout time.Duration) (expect.Result, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	chunk := make([]byte, readChunk)
	for {
		if res, ok := expect.Match(s.buf, rules); ok {
			return s.consume(res), nil
		}

		if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return expect.Result{}, err
		}
		if !time.Now().Before(deadline) {
			return expect.Result{}, s.timeout(rules, timeout)
		}

		n, err := s.conn.ReadDeadline(chunk, deadline)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
			s.mirror(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// A final check: the last read may have completed the match.
				if res, ok := expect.Match(s.buf, rules); ok {
					return s.consume(res), nil
				}
				return expect.Result{}, s.timeout(rules, timeout)
			}
			if res, ok := expect.Match(s.buf, rules); ok {
				return s.consume(res), nil
			}
			return expect.Result{}, &TransportError{Op: "read", Err: err}
		}
	}
}

// WaitEOF reads and discards input until the remote side hangs up or
// timeout elapses.
func (s *Stream) WaitEOF(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, readChunk)
	for {
		n, err := s.conn.ReadDeadline(chunk, deadline)
		if n > 0 {
			s.mirror(chunk[:n])
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, os.ErrDeadlineExceeded):
			return &TimeoutError{Rules: []string{"eof"}, Timeout: timeout}
		default:
			return &TransportError{Op: "read", Err: err}
		}
	}
}

// Pending returns a copy of the buffered, unconsumed bytes.
func (s *Stream) Pending() []byte {
	return append([]byte(nil), s.buf...)
}

// Discard drops buffered bytes and returns how many were dropped.
func (s *Stream) Discard() int {
	n := len(s.buf)
	s.buf = nil
	return n
}

// Close closes the underlying connection. Only the first call has an effect.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// String describes the underlying connection.
func (s *Stream) String() string {
	return s.conn.String()
}

func (s *Stream) consume(res expect.Result) expect.Result {
	out := expect.Result{
		Index:    res.Index,
		Name:     res.Name,
		Before:   append([]byte(nil), res.Before...),
		Matched:  append([]byte(nil), res.Matched...),
		Consumed: res.Consumed,
	}
	rest := s.buf[res.Consumed:]
	if len(rest) == 0 {
		s.buf = nil
	} else {
		s.buf = append([]byte(nil), rest...)
	}
	return out
}

func (s *Stream) timeout(rules expect.Rules, timeout time.Duration) error {
	return &TimeoutError{
		Rules:    rules.Names(),
		Timeout:  timeout,
		Received: s.Pending(),
	}
}

func (s *Stream) mirror(p []byte) {
	if s.trace != nil && len(p) > 0 {
		_, _ = s.trace.Write(p)
	}
}
