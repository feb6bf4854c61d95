package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/eugenetaranov/rtbolt/internal/expect"
)

const statusMarker = "__RTBOLT_RC="

// statusPattern matches the exit status echoed after a preparation command.
// The echoed command line itself carries "$?" rather than digits, so it
// cannot match.
var statusPattern = regexp.MustCompile(statusMarker + `(\d+)`)

// ExecutionResult is the captured outcome of one command.
type ExecutionResult struct {
	// Command is the command line as sent, without the line terminator.
	Command string `json:"command"`

	// Output holds everything received before the completion pattern, or
	// everything received since the send when the command timed out. It is
	// raw: terminal echo and carriage returns are kept.
	Output string `json:"output"`

	Completed bool          `json:"completed"`
	TimedOut  bool          `json:"timed_out"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Body returns Output with line endings normalized and the echoed command
// line removed.
func (r *ExecutionResult) Body() string {
	out := strings.ReplaceAll(r.Output, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "")
	if first, rest, ok := strings.Cut(out, "\n"); ok && strings.TrimSpace(first) == strings.TrimSpace(r.Command) {
		return rest
	}
	return out
}

// Execute sends command and reads until completion matches or timeout
// elapses. A nil completion waits for the shell prompt. On timeout the result
// holds exactly the bytes received since the send and the error is a
// *CommandTimeoutError; the session then stays ExecutingCommand until closed.
func (s *Session) Execute(ctx context.Context, command string, completion *regexp.Regexp, timeout time.Duration) (*ExecutionResult, error) {
	if completion == nil {
		completion = s.prompt
	}
	rules := expect.Rules{{Name: rulePrompt, Re: completion}}

	res, _, err := s.execute(ctx, command, rules, timeout)
	if err != nil {
		return res, err
	}
	s.setState(Authenticated)
	return res, nil
}

func (s *Session) execute(ctx context.Context, command string, rules expect.Rules, timeout time.Duration) (*ExecutionResult, expect.Result, error) {
	if s.state != Authenticated {
		return nil, expect.Result{}, &StateError{Op: "execute", State: s.state}
	}

	if n := s.stream.Discard(); n > 0 {
		s.logger.Debug().Int("bytes", n).Msg("discarded stale output")
	}
	s.setState(ExecutingCommand)
	res := &ExecutionResult{Command: command}

	timeout = clip(ctx, timeout)
	s.logger.Debug().Str("command", command).Dur("timeout", timeout).Msg("executing")

	start := time.Now()
	if err := s.stream.SendLine(command); err != nil {
		s.setState(Failed)
		return res, expect.Result{}, err
	}

	match, err := s.stream.ReadUntil(ctx, rules, timeout)
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Output = string(s.stream.Pending())
		if errors.Is(err, expect.ErrTimeout) {
			res.TimedOut = true
			s.logger.Warn().
				Str("command", command).
				Dur("elapsed", res.Elapsed).
				Int("partial_bytes", len(res.Output)).
				Msg("command timed out")
			return res, match, &CommandTimeoutError{Command: command, Timeout: timeout, Err: err}
		}
		s.setState(Failed)
		return res, match, err
	}

	res.Output = string(match.Before)
	res.Completed = true
	s.logger.Debug().
		Str("command", command).
		Dur("elapsed", res.Elapsed).
		Int("bytes", len(res.Output)).
		Msg("command completed")
	return res, match, nil
}

// Chdir changes the remote working directory. A non-zero exit status or a
// timeout is reported as a *PrepareError.
func (s *Session) Chdir(ctx context.Context, dir string) error {
	return s.prepare(ctx, "chdir", "cd "+shellQuote(dir))
}

// Chmod marks the given remote files executable. A non-zero exit status or a
// timeout is reported as a *PrepareError.
func (s *Session) Chmod(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = shellQuote(f)
	}
	return s.prepare(ctx, "chmod", "chmod +x "+strings.Join(quoted, " "))
}

func (s *Session) prepare(ctx context.Context, op, command string) error {
	line := command + "; echo " + statusMarker + "$?"
	rules := expect.Rules{{Name: ruleStatus, Re: statusPattern}}

	_, match, err := s.execute(ctx, line, rules, s.cfg.PrepareTimeout)
	if err != nil {
		return &PrepareError{Op: op, Command: command, Err: err}
	}

	// The prompt follows the status line; wait for it so the next command
	// starts from a clean buffer.
	promptRules := expect.Rules{{Name: rulePrompt, Re: s.prompt}}
	if _, err := s.stream.ReadUntil(ctx, promptRules, clip(ctx, s.cfg.PrepareTimeout)); err != nil {
		if !errors.Is(err, expect.ErrTimeout) {
			s.setState(Failed)
		}
		return &PrepareError{Op: op, Command: command, Err: err}
	}
	s.setState(Authenticated)

	code, err := exitStatus(match.Matched)
	if err != nil {
		return &PrepareError{Op: op, Command: command, Err: err}
	}
	if code != 0 {
		return &PrepareError{Op: op, Command: command, Err: fmt.Errorf("exit status %d", code)}
	}
	s.logger.Debug().Str("op", op).Str("command", command).Msg("prepared")
	return nil
}

// Run executes command with the preparation timeout and returns its output
// without the echoed command line.
func (s *Session) Run(ctx context.Context, command string) (string, error) {
	res, err := s.Execute(ctx, command, nil, s.cfg.PrepareTimeout)
	if err != nil {
		return "", err
	}
	return res.Body(), nil
}

func exitStatus(matched []byte) (int, error) {
	m := statusPattern.FindSubmatch(matched)
	if m == nil {
		return 0, fmt.Errorf("no exit status in %q", matched)
	}
	return strconv.Atoi(string(m[1]))
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
