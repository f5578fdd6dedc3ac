package hostkeys

import (
	"context"
	"encoding/base64"
	"net"
	"strconv"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/webssh2/webssh2/internal/config"
	"github.com/webssh2/webssh2/internal/gwerrors"
)

// PromptSeverity distinguishes first-contact prompts from changed-key
// prompts.
type PromptSeverity string

const (
	SeverityWarning PromptSeverity = "warning" // unknown key (TOFU)
	SeverityError   PromptSeverity = "error"   // key changed
)

// Prompt is the question surfaced to the browser when a key needs a
// decision.
type Prompt struct {
	Severity          PromptSeverity
	Host              string
	Port              int
	Algorithm         string
	Fingerprint       string
	StoredFingerprint string // set for mismatches
}

// PromptFunc asks the client to accept or reject a key. It blocks until
// the user answers, the prompt times out, or ctx is cancelled.
type PromptFunc func(ctx context.Context, p Prompt) (accepted bool, err error)

// Verifier evaluates presented host keys against the configured policy.
type Verifier struct {
	cfg    config.HostKeyConfig
	store  *Store
	prompt PromptFunc
}

// NewVerifier wires a verifier. store may be nil when the server store is
// disabled; prompt may be nil when the mode never prompts.
func NewVerifier(cfg config.HostKeyConfig, store *Store, prompt PromptFunc) *Verifier {
	return &Verifier{cfg: cfg, store: store, prompt: prompt}
}

// Callback returns the ssh.HostKeyCallback enforcing the policy for one
// connection. With verification disabled every key is accepted, matching
// the historical TOFU-less behavior.
func (v *Verifier) Callback(ctx context.Context) cryptossh.HostKeyCallback {
	if !v.cfg.Enabled {
		return cryptossh.InsecureIgnoreHostKey() //nolint:gosec // explicit opt-out via config
	}
	return func(hostname string, remote net.Addr, key cryptossh.PublicKey) error {
		return v.verify(ctx, hostname, key)
	}
}

func (v *Verifier) verify(ctx context.Context, hostport string, key cryptossh.PublicKey) error {
	host, port := splitHostPort(hostport)
	algorithm := key.Type()
	presented := base64.StdEncoding.EncodeToString(key.Marshal())
	fingerprint := cryptossh.FingerprintSHA256(key)

	verdict := VerdictUnknown
	var stored *HostKey
	if v.store != nil && v.cfg.ServerStoreEnabled() {
		var err error
		verdict, stored, err = v.store.Lookup(host, port, algorithm, presented)
		if err != nil {
			return err
		}
	}

	switch verdict {
	case VerdictTrusted:
		return nil
	case VerdictMismatch:
		return v.decide(ctx, Prompt{
			Severity:          SeverityError,
			Host:              host,
			Port:              port,
			Algorithm:         algorithm,
			Fingerprint:       fingerprint,
			StoredFingerprint: storedFingerprint(stored),
		}, presented, false)
	default:
		return v.decide(ctx, Prompt{
			Severity:    SeverityWarning,
			Host:        host,
			Port:        port,
			Algorithm:   algorithm,
			Fingerprint: fingerprint,
		}, presented, true)
	}
}

// decide applies unknown_key_action: prompt asks the client, accept
// proceeds (persisting first-contact keys), reject fails the connection.
func (v *Verifier) decide(ctx context.Context, p Prompt, presented string, persistOnAccept bool) error {
	action := v.cfg.UnknownKeyAction
	switch action {
	case "accept":
		if persistOnAccept {
			return v.persist(p, presented)
		}
		return nil
	case "reject":
		return rejectionError(p)
	default: // prompt
		if v.prompt == nil {
			return rejectionError(p)
		}
		accepted, err := v.prompt(ctx, p)
		if err != nil {
			return err
		}
		if !accepted {
			return rejectionError(p)
		}
		if persistOnAccept {
			return v.persist(p, presented)
		}
		return nil
	}
}

func (v *Verifier) persist(p Prompt, presented string) error {
	if v.store == nil || !v.cfg.ServerStoreEnabled() {
		return nil
	}
	return v.store.Insert(HostKey{
		Host:      p.Host,
		Port:      p.Port,
		Algorithm: p.Algorithm,
		Key:       presented,
		Comment:   "accepted via " + string(p.Severity) + " prompt",
	})
}

func rejectionError(p Prompt) error {
	if p.Severity == SeverityError {
		return gwerrors.Newf(gwerrors.KindSSH, "hostkey_mismatch",
			"host key for %s:%d changed (stored %s, presented %s)",
			p.Host, p.Port, p.StoredFingerprint, p.Fingerprint)
	}
	return gwerrors.Newf(gwerrors.KindSSH, "hostkey_rejected",
		"host key %s for %s:%d was not accepted", p.Fingerprint, p.Host, p.Port)
}

func storedFingerprint(rec *HostKey) string {
	if rec == nil {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(rec.Key)
	if err != nil {
		return ""
	}
	key, err := cryptossh.ParsePublicKey(raw)
	if err != nil {
		return ""
	}
	return cryptossh.FingerprintSHA256(key)
}

func splitHostPort(hostport string) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 22
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 22
	}
	return host, port
}
