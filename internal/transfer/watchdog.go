package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// Watchdog bounds the network I/O of a backend's connections.
//
// While an operation is running, every read or write on a wrapped
// connection must make progress within the stall timeout, and cancelling
// the operation's context closes the connections so blocked calls return.
// Between operations the connections carry no deadline, so an idle
// connection is never torn down.
type Watchdog struct {
	stall time.Duration

	mu     sync.Mutex
	conns  map[*watchedConn]struct{}
	active bool
}

// NewWatchdog creates a watchdog. A stall of zero disables the progress
// deadline; cancellation is still honoured.
func NewWatchdog(stall time.Duration) *Watchdog {
	return &Watchdog{
		stall: stall,
		conns: make(map[*watchedConn]struct{}),
	}
}

// Wrap registers conn with the watchdog. The returned connection
// unregisters itself on Close.
func (w *Watchdog) Wrap(conn net.Conn) net.Conn {
	wc := &watchedConn{Conn: conn, w: w}
	w.mu.Lock()
	w.conns[wc] = struct{}{}
	if w.active {
		wc.extend()
	}
	w.mu.Unlock()
	return wc
}

// Begin starts an operation bound to ctx. The returned function ends it and
// translates err: an aborted operation reports the context error and a
// stalled one names the stall timeout.
func (w *Watchdog) Begin(ctx context.Context) (end func(err error) error) {
	w.mu.Lock()
	w.active = true
	for c := range w.conns {
		c.extend()
	}
	w.mu.Unlock()

	stop := context.AfterFunc(ctx, w.abort)

	return func(err error) error {
		stop()
		w.mu.Lock()
		w.active = false
		for c := range w.conns {
			_ = c.Conn.SetDeadline(time.Time{})
		}
		w.mu.Unlock()

		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		case errors.Is(err, os.ErrDeadlineExceeded):
			return &StallError{After: w.stall, Err: err}
		}
		return err
	}
}

// abort closes every registered connection.
func (w *Watchdog) abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.conns {
		_ = c.Conn.Close()
	}
}

func (w *Watchdog) touch(c *watchedConn) {
	if w.stall <= 0 {
		return
	}
	w.mu.Lock()
	if w.active {
		c.extend()
	}
	w.mu.Unlock()
}

func (w *Watchdog) remove(c *watchedConn) {
	w.mu.Lock()
	delete(w.conns, c)
	w.mu.Unlock()
}

// StallError reports a transfer that made no progress for too long.
type StallError struct {
	After time.Duration
	Err   error
}

func (e *StallError) Error() string {
	return fmt.Sprintf("transfer stalled: no progress for %s: %v", e.After, e.Err)
}

func (e *StallError) Unwrap() error { return e.Err }

type watchedConn struct {
	net.Conn
	w *Watchdog
}

// extend pushes the deadline one stall period out. Callers hold w.mu.
func (c *watchedConn) extend() {
	if c.w.stall > 0 {
		_ = c.Conn.SetDeadline(time.Now().Add(c.w.stall))
	}
}

func (c *watchedConn) Read(p []byte) (int, error) {
	c.w.touch(c)
	return c.Conn.Read(p)
}

func (c *watchedConn) Write(p []byte) (int, error) {
	c.w.touch(c)
	return c.Conn.Write(p)
}

func (c *watchedConn) Close() error {
	c.w.remove(c)
	return c.Conn.Close()
}
