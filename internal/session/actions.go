package session

import "time"

// Action is a tagged state transition request. Unknown action types are
// no-ops for every reducer; reducers never fail on unrecognized actions.
type Action interface {
	actionType() string
}

// AuthSuccess records a completed authentication.
type AuthSuccess struct {
	Method   AuthMethod
	Username string
	At       time.Time
}

// AuthFailure records a failed authentication attempt.
type AuthFailure struct {
	Message string
	At      time.Time
}

// AuthLogout clears authentication (explicit logout or reauth).
type AuthLogout struct{}

// ConnectionStart marks the SSH dial beginning.
type ConnectionStart struct {
	Host string
	Port int
}

// ConnectionEstablished marks the SSH connection as live. It is a no-op
// unless the session is authenticated.
type ConnectionEstablished struct {
	ConnectionID string
}

// ConnectionError records a connection-level failure.
type ConnectionError struct {
	Message string
}

// ConnectionClosed marks an orderly connection shutdown.
type ConnectionClosed struct{}

// ConnectionActivity bumps the connection's last-activity timestamp.
type ConnectionActivity struct {
	At time.Time
}

// TerminalInit sets the initial terminal parameters.
type TerminalInit struct {
	Term string
	Rows int
	Cols int
	Cwd  string
	Env  map[string]string
}

// TerminalResize updates terminal geometry.
type TerminalResize struct {
	Rows int
	Cols int
}

// TerminalUpdateEnv merges validated environment variables.
type TerminalUpdateEnv struct {
	Env map[string]string
}

// TerminalDestroy resets the terminal substate on teardown.
type TerminalDestroy struct{}

func (AuthSuccess) actionType() string           { return "AUTH_SUCCESS" }
func (AuthFailure) actionType() string           { return "AUTH_FAILURE" }
func (AuthLogout) actionType() string            { return "AUTH_LOGOUT" }
func (ConnectionStart) actionType() string       { return "CONNECTION_START" }
func (ConnectionEstablished) actionType() string { return "CONNECTION_ESTABLISHED" }
func (ConnectionError) actionType() string       { return "CONNECTION_ERROR" }
func (ConnectionClosed) actionType() string      { return "CONNECTION_CLOSED" }
func (ConnectionActivity) actionType() string    { return "CONNECTION_ACTIVITY" }
func (TerminalInit) actionType() string          { return "TERMINAL_INIT" }
func (TerminalResize) actionType() string        { return "TERMINAL_RESIZE" }
func (TerminalUpdateEnv) actionType() string     { return "TERMINAL_UPDATE_ENV" }
func (TerminalDestroy) actionType() string       { return "TERMINAL_DESTROY" }
