package connector_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/rtbolt/internal/connector"
	"github.com/eugenetaranov/rtbolt/internal/connector/connectortest"
	"github.com/eugenetaranov/rtbolt/internal/expect"
)

var promptRules = expect.NewRules([]expect.Rule{expect.MustCompile("prompt", `rtlinux# `)})

func TestReadUntilMatchesAcrossPartialReads(t *testing.T) {
	conn := connectortest.NewConn(connectortest.Emit("Welcome\r\nrtlinux# left"))
	conn.ChunkSize = 3
	s := connector.NewStream(conn)

	res, err := s.ReadUntil(context.Background(), promptRules, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "prompt", res.Name)
	assert.Equal(t, "Welcome\r\n", string(res.Before))

	// Bytes past the match stay buffered for the next wait.
	assert.Equal(t, "left", string(s.Pending()))
}

func TestReadUntilTimeoutKeepsReceivedBytes(t *testing.T) {
	conn := connectortest.NewConn(connectortest.Emit("partial output\n"))
	s := connector.NewStream(conn)

	start := time.Now()
	_, err := s.ReadUntil(context.Background(), promptRules, 100*time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	var te *connector.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.True(t, errors.Is(err, expect.ErrTimeout))
	assert.Equal(t, "partial output\n", string(te.Received))
	assert.Equal(t, []string{"prompt"}, te.Rules)
}

func TestReadUntilHonorsContextDeadline(t *testing.T) {
	conn := connectortest.NewConn()
	s := connector.NewStream(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.ReadUntil(ctx, promptRules, 10*time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, errors.Is(err, expect.ErrTimeout))
}

func TestReadUntilEOF(t *testing.T) {
	conn := connectortest.NewConn(connectortest.Emit("bye\r\n"), connectortest.EOF())
	s := connector.NewStream(conn)

	_, err := s.ReadUntil(context.Background(), promptRules, time.Second)
	var te *connector.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "read", te.Op)
}

func TestSendAndTrace(t *testing.T) {
	conn := connectortest.NewConn(connectortest.Emit("Password: "))
	var trace bytes.Buffer
	s := connector.NewStream(conn, connector.WithTrace(&trace))

	require.NoError(t, s.SendLine("alice"))
	require.NoError(t, s.SendSecret("secret"))
	_, err := s.ReadUntil(context.Background(),
		expect.NewRules([]expect.Rule{expect.MustCompile("password", `Password: `)}), time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice\n", "secret\n"}, conn.Writes())
	assert.Equal(t, "alice\n********\nPassword: ", trace.String())
	assert.NotContains(t, trace.String(), "secret")
}

func TestSendOnClosedConn(t *testing.T) {
	conn := connectortest.NewConn()
	s := connector.NewStream(conn)
	require.NoError(t, s.Close())

	err := s.SendLine("ls")
	var te *connector.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "send", te.Op)
}

func TestCloseIdempotent(t *testing.T) {
	conn := connectortest.NewConn()
	s := connector.NewStream(conn)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, 1, conn.Closes())
}

func TestDiscard(t *testing.T) {
	conn := connectortest.NewConn(connectortest.Emit("rtlinux# stale"))
	s := connector.NewStream(conn)

	_, err := s.ReadUntil(context.Background(), promptRules, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Discard())
	assert.Empty(t, s.Pending())
}

func TestErrorMessages(t *testing.T) {
	ce := &connector.ConnectError{Addr: "10.0.0.1:23", Err: errors.New("refused")}
	assert.Contains(t, ce.Error(), "10.0.0.1:23")
	assert.Equal(t, "refused", errors.Unwrap(ce).Error())

	te := &connector.TimeoutError{Rules: []string{"login", "login"}, Timeout: time.Second}
	assert.Contains(t, te.Error(), "login, login")
}

func TestWaitEOF(t *testing.T) {
	conn := connectortest.NewConn(connectortest.Await("exit\n"), connectortest.Emit("logout\r\n"), connectortest.EOF())
	s := connector.NewStream(conn)

	require.NoError(t, s.SendLine("exit"))
	assert.NoError(t, s.WaitEOF(time.Second))
}

func TestWaitEOFTimeout(t *testing.T) {
	conn := connectortest.NewConn()
	s := connector.NewStream(conn)

	err := s.WaitEOF(30 * time.Millisecond)
	assert.True(t, errors.Is(err, expect.ErrTimeout))
}
