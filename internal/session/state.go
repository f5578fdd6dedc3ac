// Package session holds per-session gateway state and the reducer-driven
// store that is the single source of truth for it.
//
// A session spans one WebSocket connection: authentication progress, SSH
// connection status, terminal geometry, and client metadata. State is only
// mutated through Store.Dispatch; reads return snapshots.
package session

import (
	"time"

	"github.com/google/uuid"
)

// ID is an opaque session identifier.
type ID string

// NewID returns a fresh session identifier.
func NewID() ID { return ID(uuid.NewString()) }

// AuthStatus enumerates authentication progress.
type AuthStatus string

const (
	AuthPending       AuthStatus = "pending"
	AuthAuthenticated AuthStatus = "authenticated"
	AuthFailed        AuthStatus = "failed"
)

// AuthMethod enumerates SSH authentication methods.
type AuthMethod string

const (
	MethodPassword            AuthMethod = "password"
	MethodPublicKey           AuthMethod = "publickey"
	MethodKeyboardInteractive AuthMethod = "keyboard-interactive"
	MethodNone                AuthMethod = "none"
)

// ConnStatus enumerates SSH connection states.
type ConnStatus string

const (
	ConnDisconnected ConnStatus = "disconnected"
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnError        ConnStatus = "error"
	ConnClosed       ConnStatus = "closed"
)

// AuthState is the authentication substate.
type AuthState struct {
	Status       AuthStatus
	Method       AuthMethod
	Username     string
	ErrorMessage string
	Timestamp    time.Time
}

// ConnectionState is the SSH connection substate.
type ConnectionState struct {
	Status       ConnStatus
	ConnectionID string
	Host         string
	Port         int
	ErrorMessage string
	LastActivity time.Time
}

// TerminalState is the terminal substate.
type TerminalState struct {
	Term        string
	Rows        int
	Cols        int
	Environment map[string]string
	Cwd         string
}

// ClientInfo identifies the browser endpoint.
type ClientInfo struct {
	IP        string
	Port      int
	UserAgent string
}

// Metadata carries bookkeeping fields.
type Metadata struct {
	Client    ClientInfo
	CreatedAt time.Time
	UpdatedAt time.Time
}

// State is the complete observable state of one session.
type State struct {
	Auth       AuthState
	Connection ConnectionState
	Terminal   TerminalState
	Metadata   Metadata
}

// NewState returns the initial state for a freshly connected client.
func NewState(client ClientInfo, now time.Time) State {
	return State{
		Auth:       AuthState{Status: AuthPending, Method: MethodNone, Timestamp: now},
		Connection: ConnectionState{Status: ConnDisconnected},
		Terminal:   TerminalState{Rows: 24, Cols: 80},
		Metadata:   Metadata{Client: client, CreatedAt: now, UpdatedAt: now},
	}
}

// Clone returns a deep copy; the environment map is duplicated so snapshots
// never alias the stored cell.
func (s State) Clone() State {
	out := s
	if s.Terminal.Environment != nil {
		env := make(map[string]string, len(s.Terminal.Environment))
		for k, v := range s.Terminal.Environment {
			env[k] = v
		}
		out.Terminal.Environment = env
	}
	return out
}
