package session

// Reducers are pure: the same (state, action) input always produces the
// same output, and a no-op returns the input state unchanged with
// changed == false. The store uses the changed flag to decide whether to
// bump Metadata.UpdatedAt.

// Reduce applies action to state, composing the domain reducers and then
// the cross-domain rules:
//
//   - CONNECTION_ERROR / CONNECTION_CLOSED demote authenticated -> pending.
//   - AUTH_FAILURE / AUTH_LOGOUT force the connection to disconnected and
//     clear the connection id.
func Reduce(state State, action Action) (State, bool) {
	next := state
	changed := false

	if auth, ok := authReducer(state.Auth, action); ok {
		next.Auth = auth
		changed = true
	}
	if conn, ok := connectionReducer(state.Connection, action); ok {
		next.Connection = conn
		changed = true
	}
	if term, ok := terminalReducer(state.Terminal, action); ok {
		next.Terminal = term
		changed = true
	}

	switch action.(type) {
	case ConnectionError, ConnectionClosed:
		if next.Auth.Status == AuthAuthenticated {
			next.Auth.Status = AuthPending
			changed = true
		}
	case AuthFailure, AuthLogout:
		if next.Connection.Status != ConnDisconnected || next.Connection.ConnectionID != "" {
			next.Connection.Status = ConnDisconnected
			next.Connection.ConnectionID = ""
			changed = true
		}
	case ConnectionEstablished:
		// Connected is only reachable from an authenticated session.
		if next.Auth.Status != AuthAuthenticated {
			return state, false
		}
	}

	return next, changed
}

func authReducer(s AuthState, action Action) (AuthState, bool) {
	switch a := action.(type) {
	case AuthSuccess:
		s.Status = AuthAuthenticated
		s.Method = a.Method
		s.Username = a.Username
		s.ErrorMessage = ""
		s.Timestamp = a.At
		return s, true
	case AuthFailure:
		s.Status = AuthFailed
		s.ErrorMessage = a.Message
		s.Timestamp = a.At
		return s, true
	case AuthLogout:
		s.Status = AuthPending
		s.Method = MethodNone
		s.Username = ""
		s.ErrorMessage = ""
		return s, true
	}
	return s, false
}

func connectionReducer(s ConnectionState, action Action) (ConnectionState, bool) {
	switch a := action.(type) {
	case ConnectionStart:
		s.Status = ConnConnecting
		s.Host = a.Host
		s.Port = a.Port
		s.ErrorMessage = ""
		return s, true
	case ConnectionEstablished:
		s.Status = ConnConnected
		s.ConnectionID = a.ConnectionID
		s.ErrorMessage = ""
		return s, true
	case ConnectionError:
		s.Status = ConnError
		s.ConnectionID = ""
		s.ErrorMessage = a.Message
		return s, true
	case ConnectionClosed:
		s.Status = ConnClosed
		s.ConnectionID = ""
		return s, true
	case ConnectionActivity:
		s.LastActivity = a.At
		return s, true
	}
	return s, false
}

func terminalReducer(s TerminalState, action Action) (TerminalState, bool) {
	switch a := action.(type) {
	case TerminalInit:
		if a.Term != "" {
			s.Term = a.Term
		}
		if a.Rows > 0 {
			s.Rows = a.Rows
		}
		if a.Cols > 0 {
			s.Cols = a.Cols
		}
		if a.Cwd != "" {
			s.Cwd = a.Cwd
		}
		if len(a.Env) > 0 {
			s.Environment = mergeEnv(s.Environment, a.Env)
		}
		return s, true
	case TerminalResize:
		if a.Rows == s.Rows && a.Cols == s.Cols {
			return s, false
		}
		s.Rows = a.Rows
		s.Cols = a.Cols
		return s, true
	case TerminalUpdateEnv:
		if len(a.Env) == 0 {
			return s, false
		}
		s.Environment = mergeEnv(s.Environment, a.Env)
		return s, true
	case TerminalDestroy:
		s.Environment = nil
		s.Cwd = ""
		return s, true
	}
	return s, false
}

// mergeEnv copies on write so prior snapshots stay untouched.
func mergeEnv(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
