package session

import (
	"fmt"
	"time"
)

// Login steps, named by what the step waits for.
const (
	StepLoginPrompt    = "login-prompt"
	StepPasswordPrompt = "password-prompt"
	StepShellPrompt    = "shell-prompt"
)

// LoginTimeoutError reports a login step whose pattern never matched.
type LoginTimeoutError struct {
	Step    string
	Timeout time.Duration
	Err     error
}

func (e *LoginTimeoutError) Error() string {
	return fmt.Sprintf("login timed out waiting for %s after %s", e.Step, e.Timeout)
}

func (e *LoginTimeoutError) Unwrap() error { return e.Err }

// AuthRejectedError reports that the target refused the credentials.
type AuthRejectedError struct {
	Step string

	// Evidence is the text that identified the rejection.
	Evidence string
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("login rejected at %s: %q", e.Step, e.Evidence)
}

// LoginError wraps a transport failure during a login step.
type LoginError struct {
	Step string
	Err  error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed at %s: %v", e.Step, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

// CommandTimeoutError reports a command whose completion pattern did not
// appear in time. The partial output is kept on the ExecutionResult.
type CommandTimeoutError struct {
	Command string
	Timeout time.Duration
	Err     error
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

func (e *CommandTimeoutError) Unwrap() error { return e.Err }

// PrepareError reports a failed preparation command (directory change or
// permission setting), as opposed to a failure of the script itself.
type PrepareError struct {
	Op      string
	Command string
	Err     error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Command, e.Err)
}

func (e *PrepareError) Unwrap() error { return e.Err }
