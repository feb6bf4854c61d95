package transfer_test

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/rtbolt/internal/transfer"
)

func pipe(t *testing.T, w *transfer.Watchdog) (watched, peer net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return w.Wrap(a), b
}

func TestWatchdogStall(t *testing.T) {
	w := transfer.NewWatchdog(100 * time.Millisecond)
	conn, _ := pipe(t, w)

	end := w.Begin(context.Background())
	_, err := conn.Read(make([]byte, 1))
	require.True(t, errors.Is(err, os.ErrDeadlineExceeded))

	err = end(err)
	var stall *transfer.StallError
	require.True(t, errors.As(err, &stall))
	assert.Equal(t, 100*time.Millisecond, stall.After)
	assert.ErrorContains(t, err, "no progress for 100ms")
}

func TestWatchdogProgressExtendsDeadline(t *testing.T) {
	w := transfer.NewWatchdog(150 * time.Millisecond)
	conn, peer := pipe(t, w)

	go func() {
		for i := 0; i < 5; i++ {
			time.Sleep(50 * time.Millisecond)
			if _, err := peer.Write([]byte{byte(i)}); err != nil {
				return
			}
		}
	}()

	end := w.Begin(context.Background())
	buf := make([]byte, 1)
	for i := 0; i < 5; i++ {
		_, err := conn.Read(buf)
		require.NoError(t, err, "read %d", i)
	}
	assert.NoError(t, end(nil))
}

func TestWatchdogIdleBetweenOperations(t *testing.T) {
	w := transfer.NewWatchdog(50 * time.Millisecond)
	conn, peer := pipe(t, w)

	end := w.Begin(context.Background())
	require.NoError(t, end(nil))

	go func() {
		time.Sleep(200 * time.Millisecond)
		_, _ = peer.Write([]byte("x"))
	}()

	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf[:n]))
}

func TestWatchdogCancelAborts(t *testing.T) {
	w := transfer.NewWatchdog(time.Minute)
	conn, _ := pipe(t, w)

	ctx, cancel := context.WithCancel(context.Background())
	end := w.Begin(ctx)
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)

	err = end(err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWatchdogPassesOtherErrors(t *testing.T) {
	w := transfer.NewWatchdog(time.Second)
	end := w.Begin(context.Background())

	refused := errors.New("550 permission denied")
	assert.Equal(t, refused, end(refused))
}
