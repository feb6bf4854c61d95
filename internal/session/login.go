package session

import (
	"context"
	"errors"

	"github.com/eugenetaranov/rtbolt/internal/expect"
)

// Login performs the username and password exchange. No username is sent
// before a login prompt matches, no password before a password prompt
// matches, and the session is Authenticated only once the shell prompt
// appears. Any failure leaves the session Failed.
func (s *Session) Login(ctx context.Context) error {
	if s.state != AwaitingLogin {
		return &StateError{Op: "login", State: s.state}
	}

	if _, err := s.wait(ctx, StepLoginPrompt, s.loginRules); err != nil {
		return s.fail(err)
	}
	if err := s.stream.SendLine(s.cfg.Username); err != nil {
		return s.fail(&LoginError{Step: StepLoginPrompt, Err: err})
	}
	s.setState(AwaitingPassword)

	res, err := s.wait(ctx, StepPasswordPrompt, s.passwordWait)
	if err != nil {
		return s.fail(err)
	}
	if res.Name == ruleReject {
		return s.fail(&AuthRejectedError{Step: StepPasswordPrompt, Evidence: string(res.Matched)})
	}
	if err := s.stream.SendSecret(s.cfg.Password); err != nil {
		return s.fail(&LoginError{Step: StepPasswordPrompt, Err: err})
	}

	res, err = s.wait(ctx, StepShellPrompt, s.shellWait)
	if err != nil {
		return s.fail(err)
	}
	switch res.Name {
	case ruleReject, ruleLogin:
		return s.fail(&AuthRejectedError{Step: StepShellPrompt, Evidence: string(res.Matched)})
	}

	s.setState(Authenticated)
	s.logger.Info().Str("user", s.cfg.Username).Msg("logged in")
	return nil
}

func (s *Session) wait(ctx context.Context, step string, rules expect.Rules) (expect.Result, error) {
	timeout := clip(ctx, s.cfg.LoginTimeout)
	s.logger.Debug().Str("step", step).Str("rules", rules.String()).Msg("waiting")

	res, err := s.stream.ReadUntil(ctx, rules, timeout)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, expect.ErrTimeout) {
		return res, &LoginTimeoutError{Step: step, Timeout: timeout, Err: err}
	}
	return res, &LoginError{Step: step, Err: err}
}

func (s *Session) fail(err error) error {
	s.setState(Failed)
	s.logger.Error().Err(err).Msg("login failed")
	return err
}
