package auth

import (
	"context"
	"strings"

	"github.com/webssh2/webssh2/internal/config"
	"github.com/webssh2/webssh2/internal/gwerrors"
	"github.com/webssh2/webssh2/internal/session"
	"github.com/webssh2/webssh2/internal/sshsvc"
	"github.com/webssh2/webssh2/internal/validation"
)

// Source supplies credentials from one location. Sources are consulted in
// priority order until one claims the request.
type Source interface {
	// Name identifies the provider in logs ("basic", "sso", "manual").
	Name() string
	// Credentials returns the provider's credentials, or false when it
	// has none to offer.
	Credentials(ctx context.Context) (*sshsvc.Credentials, bool)
}

// StaticSource adapts a pre-resolved credential set (HTTP Basic or SSO
// values seeded into the HTTP session by the route handlers).
type StaticSource struct {
	Provider string
	Creds    *sshsvc.Credentials
}

func (s *StaticSource) Name() string { return s.Provider }

func (s *StaticSource) Credentials(context.Context) (*sshsvc.Credentials, bool) {
	if s.Creds == nil {
		return nil, false
	}
	return s.Creds, true
}

// Pipeline validates credential shape, enforces the method policy, and
// tracks the attempt budget for one socket.
type Pipeline struct {
	cfg      config.SSHConfig
	sources  []Source
	attempts int
}

// NewPipeline creates a pipeline with the given prefilled sources.
func NewPipeline(cfg config.SSHConfig, sources ...Source) *Pipeline {
	return &Pipeline{cfg: cfg, sources: sources}
}

// Resolve returns the first credentials any source offers, with the
// provider name. Used to auto-authenticate before the client sends an
// explicit authenticate message.
func (p *Pipeline) Resolve(ctx context.Context) (*sshsvc.Credentials, string, bool) {
	for _, src := range p.sources {
		if creds, ok := src.Credentials(ctx); ok {
			return creds, src.Name(), true
		}
	}
	return nil, "", false
}

// AttemptsLeft reports whether another authentication attempt is allowed.
func (p *Pipeline) AttemptsLeft() bool {
	return p.attempts < p.cfg.MaxAuthAttempts
}

// RecordAttempt consumes one attempt from the budget.
func (p *Pipeline) RecordAttempt() { p.attempts++ }

// Prepare validates the credential shape, normalizes it, and enforces the
// method policy. On success it returns the requested method list, with the
// method that will be reported on auth success first.
func (p *Pipeline) Prepare(creds *sshsvc.Credentials, explicitKeyboardInteractive bool) ([]session.AuthMethod, error) {
	if err := normalizeCredentials(creds, p.cfg); err != nil {
		return nil, err
	}

	requested := ResolveRequestedMethods(creds, explicitKeyboardInteractive)
	if len(requested) == 0 {
		return nil, gwerrors.New(gwerrors.KindAuth, "invalid_credentials", "Invalid credentials")
	}
	if err := CheckPolicy(requested, p.cfg.AllowedAuthMethods); err != nil {
		return nil, err
	}
	return requested, nil
}

// normalizeCredentials checks the transport-level credential shape.
func normalizeCredentials(creds *sshsvc.Credentials, cfg config.SSHConfig) error {
	host, err := validation.Host(creds.Host)
	if err != nil {
		return gwerrors.New(gwerrors.KindAuth, "invalid_credentials", "Invalid credentials")
	}
	creds.Host = host

	if creds.Port == 0 {
		creds.Port = cfg.Port
	}
	if err := validation.Port(creds.Port); err != nil {
		return gwerrors.New(gwerrors.KindAuth, "invalid_credentials", "Invalid credentials")
	}

	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" {
		return gwerrors.New(gwerrors.KindAuth, "invalid_credentials", "Invalid credentials")
	}

	if creds.PrivateKey != "" && !ValidPrivateKey(creds.PrivateKey) {
		return gwerrors.New(gwerrors.KindAuth, "invalid_credentials", "Invalid credentials")
	}

	// A passphrase is only meaningful for an encrypted key.
	if creds.Passphrase != "" && (creds.PrivateKey == "" || !IsEncryptedKey(creds.PrivateKey)) {
		creds.Passphrase = ""
	}

	if creds.Password == "" && creds.PrivateKey == "" {
		return gwerrors.New(gwerrors.KindAuth, "invalid_credentials", "Invalid credentials")
	}

	if creds.Term == "" {
		creds.Term = cfg.Term
	}
	return nil
}
