package auth

import (
	"github.com/webssh2/webssh2/internal/gwerrors"
	"github.com/webssh2/webssh2/internal/session"
	"github.com/webssh2/webssh2/internal/sshsvc"
)

// CodeMethodDisabled is the error code for a policy rejection.
const CodeMethodDisabled = "auth_method_disabled"

// PolicyError reports which requested method the policy denied. It is the
// wrapped cause inside the gwerrors auth error so the adapter can emit
// authFailure{error, method}.
type PolicyError struct {
	Method session.AuthMethod
}

func (e *PolicyError) Error() string {
	return "auth method disabled by policy: " + string(e.Method)
}

// ResolveRequestedMethods derives the auth methods a credential set asks
// for from its shape. The result is order-preserving (password, publickey,
// keyboard-interactive) and the function is idempotent.
func ResolveRequestedMethods(creds *sshsvc.Credentials, explicitKeyboardInteractive bool) []session.AuthMethod {
	var requested []session.AuthMethod
	if creds.Password != "" {
		requested = append(requested, session.MethodPassword)
	}
	if creds.PrivateKey != "" && ValidPrivateKey(creds.PrivateKey) {
		requested = append(requested, session.MethodPublicKey)
	}
	if explicitKeyboardInteractive {
		requested = append(requested, session.MethodKeyboardInteractive)
	}
	return requested
}

// CheckPolicy rejects the attempt when any requested method is missing
// from the allow-list. Runs before any SSH connection is made.
func CheckPolicy(requested []session.AuthMethod, allowed []string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, m := range allowed {
		allowedSet[m] = true
	}
	for _, m := range requested {
		if !allowedSet[string(m)] {
			return gwerrors.Wrap(gwerrors.KindAuth, CodeMethodDisabled,
				"authentication method disabled by server policy",
				&PolicyError{Method: m})
		}
	}
	return nil
}
