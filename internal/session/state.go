package session

import "fmt"

// State is a session's position in its lifecycle.
type State int

// Session states, in lifecycle order.
const (
	Disconnected State = iota
	Connecting
	AwaitingLogin
	AwaitingPassword
	Authenticated
	ExecutingCommand
	Closing
	Closed
	Failed
)

var stateNames = map[State]string{
	Disconnected:     "disconnected",
	Connecting:       "connecting",
	AwaitingLogin:    "awaiting-login",
	AwaitingPassword: "awaiting-password",
	Authenticated:    "authenticated",
	ExecutingCommand: "executing-command",
	Closing:          "closing",
	Closed:           "closed",
	Failed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// canTransition reports whether from -> to is legal. States only move
// forward, except that a completed command returns the session to
// Authenticated, and Failed is reachable from any non-terminal state.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch {
	case to == Failed:
		return true
	case from == ExecutingCommand && to == Authenticated:
		return true
	default:
		return to > from && to != Failed
	}
}

// StateError reports an operation attempted in the wrong state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: session is %s", e.Op, e.State)
}
