package session

import (
	"reflect"
	"testing"
	"time"
)

func authedState() State {
	s := NewState(ClientInfo{IP: "10.0.0.1"}, time.Now().UTC())
	s, _ = Reduce(s, AuthSuccess{Method: MethodPassword, Username: "alice", At: time.Now()})
	return s
}

// ---- purity / identity ---------------------------------------------------

func TestReduce_UnknownStateUnchanged(t *testing.T) {
	s := NewState(ClientInfo{}, time.Now().UTC())
	next, changed := Reduce(s, TerminalUpdateEnv{}) // empty env is a no-op
	if changed {
		t.Fatal("empty env update reported a change")
	}
	if !reflect.DeepEqual(next, s) {
		t.Errorf("state mutated by a no-op: %+v != %+v", next, s)
	}
}

func TestReduce_SameInputSameOutput(t *testing.T) {
	s := NewState(ClientInfo{}, time.Unix(100, 0).UTC())
	a := AuthSuccess{Method: MethodPublicKey, Username: "bob", At: time.Unix(200, 0)}
	first, _ := Reduce(s, a)
	second, _ := Reduce(s, a)
	if first.Auth != second.Auth {
		t.Errorf("reducer not deterministic: %+v vs %+v", first.Auth, second.Auth)
	}
}

func TestReduce_ResizeToSameGeometryIsNoOp(t *testing.T) {
	s := NewState(ClientInfo{}, time.Now().UTC())
	next, changed := Reduce(s, TerminalResize{Rows: 24, Cols: 80})
	if changed {
		t.Fatal("resize to current geometry reported a change")
	}
	if !reflect.DeepEqual(next.Terminal, s.Terminal) {
		t.Errorf("terminal state mutated: %+v", next.Terminal)
	}
}

// ---- auth ----------------------------------------------------------------

func TestReduce_AuthSuccess(t *testing.T) {
	at := time.Unix(500, 0)
	s, changed := Reduce(NewState(ClientInfo{}, time.Now().UTC()),
		AuthSuccess{Method: MethodKeyboardInteractive, Username: "carol", At: at})
	if !changed {
		t.Fatal("auth success reported no change")
	}
	if s.Auth.Status != AuthAuthenticated {
		t.Errorf("status = %q, want %q", s.Auth.Status, AuthAuthenticated)
	}
	if s.Auth.Method != MethodKeyboardInteractive || s.Auth.Username != "carol" {
		t.Errorf("auth fields = %+v", s.Auth)
	}
	if !s.Auth.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", s.Auth.Timestamp, at)
	}
}

func TestReduce_AuthFailureClearsConnection(t *testing.T) {
	s := authedState()
	s, _ = Reduce(s, ConnectionEstablished{ConnectionID: "c1"})

	s, _ = Reduce(s, AuthFailure{Message: "denied", At: time.Now()})
	if s.Auth.Status != AuthFailed || s.Auth.ErrorMessage != "denied" {
		t.Errorf("auth = %+v", s.Auth)
	}
	if s.Connection.Status != ConnDisconnected || s.Connection.ConnectionID != "" {
		t.Errorf("connection survived auth failure: %+v", s.Connection)
	}
}

func TestReduce_LogoutResetsAuthAndConnection(t *testing.T) {
	s := authedState()
	s, _ = Reduce(s, ConnectionEstablished{ConnectionID: "c1"})

	s, changed := Reduce(s, AuthLogout{})
	if !changed {
		t.Fatal("logout reported no change")
	}
	if s.Auth.Status != AuthPending || s.Auth.Method != MethodNone || s.Auth.Username != "" {
		t.Errorf("auth after logout = %+v", s.Auth)
	}
	if s.Connection.Status != ConnDisconnected {
		t.Errorf("connection after logout = %+v", s.Connection)
	}
}

// ---- connection ----------------------------------------------------------

func TestReduce_EstablishedRequiresAuthenticated(t *testing.T) {
	s := NewState(ClientInfo{}, time.Now().UTC())
	next, changed := Reduce(s, ConnectionEstablished{ConnectionID: "c1"})
	if changed {
		t.Fatal("unauthenticated session reached connected")
	}
	if next.Connection.Status != ConnDisconnected {
		t.Errorf("connection = %+v", next.Connection)
	}
}

func TestReduce_ConnectionLifecycle(t *testing.T) {
	s := authedState()

	s, _ = Reduce(s, ConnectionStart{Host: "db.internal", Port: 2222})
	if s.Connection.Status != ConnConnecting || s.Connection.Host != "db.internal" || s.Connection.Port != 2222 {
		t.Fatalf("after start: %+v", s.Connection)
	}

	s, _ = Reduce(s, ConnectionEstablished{ConnectionID: "conn-9"})
	if s.Connection.Status != ConnConnected || s.Connection.ConnectionID != "conn-9" {
		t.Fatalf("after establish: %+v", s.Connection)
	}

	s, _ = Reduce(s, ConnectionClosed{})
	if s.Connection.Status != ConnClosed || s.Connection.ConnectionID != "" {
		t.Errorf("after close: %+v", s.Connection)
	}
	if s.Auth.Status != AuthPending {
		t.Errorf("close did not demote auth: %q", s.Auth.Status)
	}
}

func TestReduce_ConnectionErrorDemotesAuth(t *testing.T) {
	s := authedState()
	s, _ = Reduce(s, ConnectionEstablished{ConnectionID: "c1"})

	s, _ = Reduce(s, ConnectionError{Message: "broken pipe"})
	if s.Connection.Status != ConnError || s.Connection.ErrorMessage != "broken pipe" {
		t.Errorf("connection = %+v", s.Connection)
	}
	if s.Auth.Status != AuthPending {
		t.Errorf("auth after connection error = %q, want pending", s.Auth.Status)
	}
}

// ---- terminal ------------------------------------------------------------

func TestReduce_TerminalInitAndEnvMerge(t *testing.T) {
	s := NewState(ClientInfo{}, time.Now().UTC())
	s, _ = Reduce(s, TerminalInit{Term: "xterm-256color", Rows: 40, Cols: 120,
		Env: map[string]string{"LANG": "C"}})
	if s.Terminal.Term != "xterm-256color" || s.Terminal.Rows != 40 || s.Terminal.Cols != 120 {
		t.Fatalf("terminal = %+v", s.Terminal)
	}

	before := s.Terminal.Environment
	s, _ = Reduce(s, TerminalUpdateEnv{Env: map[string]string{"LANG": "en_US.UTF-8", "EDITOR": "vi"}})
	if s.Terminal.Environment["LANG"] != "en_US.UTF-8" || s.Terminal.Environment["EDITOR"] != "vi" {
		t.Errorf("merged env = %v", s.Terminal.Environment)
	}
	// Prior snapshots must not observe the merge.
	if before["LANG"] != "C" {
		t.Errorf("earlier snapshot mutated: %v", before)
	}
}

func TestReduce_TerminalInitKeepsDefaultsOnZeroValues(t *testing.T) {
	s := NewState(ClientInfo{}, time.Now().UTC())
	s, _ = Reduce(s, TerminalInit{})
	if s.Terminal.Rows != 24 || s.Terminal.Cols != 80 {
		t.Errorf("defaults overwritten: %+v", s.Terminal)
	}
}

func TestReduce_TerminalDestroy(t *testing.T) {
	s := NewState(ClientInfo{}, time.Now().UTC())
	s, _ = Reduce(s, TerminalInit{Cwd: "/home/alice", Env: map[string]string{"A": "1"}})
	s, _ = Reduce(s, TerminalDestroy{})
	if s.Terminal.Environment != nil || s.Terminal.Cwd != "" {
		t.Errorf("terminal after destroy = %+v", s.Terminal)
	}
}
