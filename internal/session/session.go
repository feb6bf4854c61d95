// Package session drives an interactive remote shell: it logs in, runs
// commands against a prompt pattern and closes the connection, tracking the
// session's lifecycle state throughout.
package session

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/eugenetaranov/rtbolt/internal/connector"
	"github.com/eugenetaranov/rtbolt/internal/connector/telnet"
	"github.com/eugenetaranov/rtbolt/internal/expect"
	"github.com/eugenetaranov/rtbolt/internal/log"
)

// Rule names used in the login and command conversations.
const (
	ruleLogin    = "login"
	rulePassword = "password"
	ruleReject   = "reject"
	rulePrompt   = "prompt"
	ruleStatus   = "status"
)

// Session is a single-use interactive shell session. It is not safe for
// concurrent use.
type Session struct {
	cfg    Config
	dialer connector.Dialer
	trace  io.Writer
	logger zerolog.Logger

	prompt       *regexp.Regexp
	loginRules   expect.Rules
	passwordWait expect.Rules
	shellWait    expect.Rules

	stream      *connector.Stream
	state       State
	closeCalled bool
}

// Option configures a Session.
type Option func(*Session)

// WithDialer sets the transport used to reach the target.
// The default is a telnet dialer.
func WithDialer(d connector.Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithTrace mirrors the raw conversation to w.
func WithTrace(w io.Writer) Option {
	return func(s *Session) {
		s.trace = w
	}
}

// WithLogger sets the logger for session events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// New validates cfg, compiles its patterns and returns a disconnected
// session. It performs no network activity.
func New(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	prompt, err := expect.Compile(rulePrompt, cfg.PromptPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	login, err := expect.CompileAll(ruleLogin, cfg.LoginPrompts)
	if err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	password, err := expect.CompileAll(rulePassword, cfg.PasswordPrompts)
	if err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	relogin, err := linePrompts(ruleLogin, cfg.LoginPrompts)
	if err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	var reject []expect.Rule
	if len(cfg.RejectPatterns) > 0 {
		if reject, err = expect.CompileAll(ruleReject, cfg.RejectPatterns); err != nil {
			return nil, fmt.Errorf("invalid session config: %w", err)
		}
	}

	s := &Session{
		cfg:    cfg,
		dialer: telnet.Dialer{},
		logger: log.WithComponent("session"),
		prompt: prompt.Re,

		loginRules: expect.NewRules(login),
		// A rejection message outranks a password prompt that might also
		// match it.
		passwordWait: expect.NewRules(reject, password),
		// A repeated login prompt after the password means rejection. It
		// must stand on a line of its own, so a "Last login:" banner does
		// not count.
		shellWait: expect.NewRules(reject, []expect.Rule{prompt}, relogin),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// linePrompts compiles patterns anchored to a whole line.
func linePrompts(name string, patterns []string) ([]expect.Rule, error) {
	anchored := make([]string, len(patterns))
	for i, p := range patterns {
		anchored[i] = `(?m)^[ \t]*(?:` + p + `)[ \t]*$`
	}
	return expect.CompileAll(name, anchored)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Connect establishes the transport. On success the session awaits login.
func (s *Session) Connect(ctx context.Context) error {
	if s.state != Disconnected {
		return &StateError{Op: "connect", State: s.state}
	}
	s.setState(Connecting)

	timeout := clip(ctx, s.cfg.LoginTimeout)
	s.logger.Debug().
		Str("host", s.cfg.Host).
		Int("port", s.cfg.Port).
		Dur("timeout", timeout).
		Msg("connecting")

	conn, err := s.dialer.Dial(ctx, s.cfg.Host, s.cfg.Port, timeout)
	if err != nil {
		s.setState(Failed)
		return err
	}

	var opts []connector.StreamOption
	if s.trace != nil {
		opts = append(opts, connector.WithTrace(s.trace))
	}
	s.stream = connector.NewStream(conn, opts...)
	s.setState(AwaitingLogin)
	s.logger.Info().Str("conn", conn.String()).Msg("connected")
	return nil
}

// Close ends the session exactly once. An authenticated session logs out
// with "exit" and waits for the remote side to hang up; any other session is
// closed immediately. Later calls return nil.
func (s *Session) Close(ctx context.Context) error {
	if s.closeCalled {
		return nil
	}
	s.closeCalled = true

	if s.stream == nil {
		if !s.state.Terminal() {
			s.setState(Closed)
		}
		return nil
	}

	graceful := s.state == Authenticated
	s.setState(Closing)

	var err error
	if graceful {
		if err = s.stream.SendLine("exit"); err == nil {
			if err = s.stream.WaitEOF(clip(ctx, s.cfg.CloseTimeout)); err != nil {
				err = fmt.Errorf("graceful logout: %w", err)
			}
		}
	} else {
		s.logger.Debug().Str("state", s.state.String()).Msg("forcing close")
	}

	if cerr := s.stream.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("closing connection: %w", cerr)
	}
	s.setState(Closed)

	if err != nil {
		s.logger.Warn().Err(err).Msg("session closed uncleanly")
	} else {
		s.logger.Debug().Msg("session closed")
	}
	return err
}

// setState applies a legal transition and ignores an illegal one.
func (s *Session) setState(to State) {
	if !canTransition(s.state, to) {
		return
	}
	s.logger.Debug().
		Str("from", s.state.String()).
		Str("to", to.String()).
		Msg("state change")
	s.state = to
}

// clip shortens d so that it ends no later than ctx's deadline.
func clip(ctx context.Context, d time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return d
	}
	if left := time.Until(deadline); left < d {
		if left < 0 {
			return 0
		}
		return left
	}
	return d
}
