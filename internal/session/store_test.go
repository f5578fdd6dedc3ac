package session

import (
	"testing"
	"time"
)

func TestStore_CreateIsIdempotent(t *testing.T) {
	s := NewStore(0, nil)
	id := NewID()

	s.Create(id, ClientInfo{IP: "10.0.0.1"})
	s.Dispatch(id, AuthSuccess{Method: MethodPassword, Username: "alice", At: time.Now()})

	// A second Create must not reset the session.
	st := s.Create(id, ClientInfo{IP: "10.0.0.2"})
	if st.Auth.Status != AuthAuthenticated {
		t.Errorf("second Create reset state: %+v", st.Auth)
	}
	if st.Metadata.Client.IP != "10.0.0.1" {
		t.Errorf("client = %q, want original", st.Metadata.Client.IP)
	}
}

func TestStore_DispatchUnknownSession(t *testing.T) {
	s := NewStore(0, nil)
	if _, ok := s.Dispatch("missing", AuthLogout{}); ok {
		t.Fatal("dispatch to unknown session reported ok")
	}
}

func TestStore_SnapshotsDoNotAlias(t *testing.T) {
	s := NewStore(0, nil)
	id := NewID()
	s.Create(id, ClientInfo{})
	s.Dispatch(id, TerminalUpdateEnv{Env: map[string]string{"A": "1"}})

	snap, _ := s.GetState(id)
	snap.Terminal.Environment["A"] = "tampered"

	fresh, _ := s.GetState(id)
	if fresh.Terminal.Environment["A"] != "1" {
		t.Errorf("stored state aliased by snapshot: %v", fresh.Terminal.Environment)
	}
}

func TestStore_DeleteAndLen(t *testing.T) {
	s := NewStore(0, nil)
	a, b := NewID(), NewID()
	s.Create(a, ClientInfo{})
	s.Create(b, ClientInfo{})
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	s.Delete(a)
	if s.Len() != 1 {
		t.Errorf("len after delete = %d, want 1", s.Len())
	}
	if _, ok := s.GetState(a); ok {
		t.Error("deleted session still readable")
	}
}

func TestStore_SweepEvictsIdleSessions(t *testing.T) {
	var expired []ID
	s := NewStore(10*time.Millisecond, func(id ID) { expired = append(expired, id) })
	id := NewID()
	s.Create(id, ClientInfo{})

	time.Sleep(25 * time.Millisecond)
	s.sweep()

	if s.Len() != 0 {
		t.Fatalf("idle session survived sweep, len = %d", s.Len())
	}
	if len(expired) != 1 || expired[0] != id {
		t.Errorf("onExpire calls = %v, want [%s]", expired, id)
	}
}

func TestStore_TouchDefersEviction(t *testing.T) {
	s := NewStore(50*time.Millisecond, nil)
	id := NewID()
	s.Create(id, ClientInfo{})

	time.Sleep(30 * time.Millisecond)
	s.Touch(id)
	time.Sleep(30 * time.Millisecond)
	s.sweep()

	if _, ok := s.GetState(id); !ok {
		t.Error("touched session was evicted")
	}
}

func TestStore_UpdatedAtOnlyOnChange(t *testing.T) {
	s := NewStore(0, nil)
	id := NewID()
	st := s.Create(id, ClientInfo{})
	created := st.Metadata.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	st, _ = s.Dispatch(id, TerminalResize{Rows: 24, Cols: 80}) // same geometry, no change
	if !st.Metadata.UpdatedAt.Equal(created) {
		t.Errorf("no-op dispatch bumped UpdatedAt: %v -> %v", created, st.Metadata.UpdatedAt)
	}

	st, _ = s.Dispatch(id, TerminalResize{Rows: 50, Cols: 132})
	if !st.Metadata.UpdatedAt.After(created) {
		t.Errorf("real change did not bump UpdatedAt")
	}
}
