package sshsvc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/webssh2/webssh2/internal/config"
	"github.com/webssh2/webssh2/internal/gwerrors"
)

// Credentials are the transient connection parameters for one attempt.
// They are consumed during Connect and never persisted.
type Credentials struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string // PEM
	Passphrase string
	Term       string
	Cols       int
	Rows       int
}

// ConnectOptions carries per-connection collaborators.
type ConnectOptions struct {
	// HostKeyCallback enforces the host-key policy. Required.
	HostKeyCallback cryptossh.HostKeyCallback
	// KeyboardInteractive answers server prompts. When set, the
	// keyboard-interactive method is offered after password/publickey.
	KeyboardInteractive cryptossh.KeyboardInteractiveChallenge
	// Capture observes algorithm negotiation; may be nil.
	Capture *Capture
}

// Service dials SSH connections using the configured algorithm preset,
// timeouts, and keepalive policy.
type Service struct {
	cfg config.SSHConfig
}

// NewService creates a Service.
func NewService(cfg config.SSHConfig) *Service {
	return &Service{cfg: cfg}
}

// Connect dials the target and completes the SSH handshake. The returned
// Conn owns the TCP connection; callers must End it.
func (s *Service) Connect(ctx context.Context, creds Credentials, opts ConnectOptions) (*Conn, error) {
	if opts.HostKeyCallback == nil {
		return nil, gwerrors.New(gwerrors.KindConfig, "hostkey_callback_required",
			"a host key callback is required")
	}

	algorithms := ResolveAlgorithms(s.cfg.Algorithms)
	if opts.Capture != nil {
		opts.Capture.RecordClient(algorithms)
	}

	authMethods, err := buildAuthMethods(creds, opts.KeyboardInteractive)
	if err != nil {
		return nil, err
	}

	clientCfg := &cryptossh.ClientConfig{
		Config: cryptossh.Config{
			KeyExchanges: algorithms.Kex,
			Ciphers:      algorithms.Cipher,
			MACs:         algorithms.MAC,
		},
		User:              creds.Username,
		Auth:              authMethods,
		HostKeyCallback:   opts.HostKeyCallback,
		HostKeyAlgorithms: algorithms.ServerHostKey,
		Timeout:           s.cfg.ReadyTimeout(),
	}

	addr := net.JoinHostPort(creds.Host, fmt.Sprintf("%d", creds.Port))

	// Respect context cancellation during dial and handshake.
	type dialResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		cl, derr := cryptossh.Dial("tcp", addr, clientCfg)
		ch <- dialResult{cl, derr}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, NormalizeError(ctx.Err(), creds.Host)
	case r := <-ch:
		if r.err != nil {
			observeNegotiationFailure(opts.Capture, r.err)
			return nil, NormalizeError(r.err, creds.Host)
		}
		conn := &Conn{
			id:      uuid.NewString(),
			client:  r.client,
			capture: opts.Capture,
			done:    make(chan struct{}),
		}
		if s.cfg.KeepaliveIntervalMs > 0 {
			go conn.keepalive(s.cfg.KeepaliveInterval(), s.cfg.KeepaliveCountMax)
		}
		return conn, nil
	}
}

// buildAuthMethods derives the auth method list from the credential shape.
func buildAuthMethods(creds Credentials, kbd cryptossh.KeyboardInteractiveChallenge) ([]cryptossh.AuthMethod, error) {
	var methods []cryptossh.AuthMethod
	if creds.PrivateKey != "" {
		signer, err := parseSigner(creds.PrivateKey, creds.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, cryptossh.PublicKeys(signer))
	}
	if creds.Password != "" {
		methods = append(methods, cryptossh.Password(creds.Password))
	}
	if kbd != nil {
		methods = append(methods, cryptossh.KeyboardInteractive(kbd))
	}
	if len(methods) == 0 {
		return nil, gwerrors.New(gwerrors.KindAuth, "no_auth_method",
			"credentials carry neither a password nor a private key")
	}
	return methods, nil
}

func parseSigner(pemKey, passphrase string) (cryptossh.Signer, error) {
	if passphrase != "" {
		signer, err := cryptossh.ParsePrivateKeyWithPassphrase([]byte(pemKey), []byte(passphrase))
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindAuth, "invalid_private_key",
				"parse encrypted private key", err)
		}
		return signer, nil
	}
	signer, err := cryptossh.ParsePrivateKey([]byte(pemKey))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindAuth, "invalid_private_key",
			"parse private key", err)
	}
	return signer, nil
}

// Conn is a live SSH connection handle.
type Conn struct {
	id      string
	client  *cryptossh.Client
	capture *Capture

	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Client exposes the underlying SSH client for subsystem consumers (SFTP).
func (c *Conn) Client() *cryptossh.Client { return c.client }

// Capture returns the negotiation capture, if any.
func (c *Conn) Capture() *Capture { return c.capture }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// End closes the connection. Idempotent.
func (c *Conn) End() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.client.Close()
	})
	return err
}

// keepalive sends OpenSSH keepalive requests and tears the connection down
// after countMax consecutive failures.
func (c *Conn) keepalive(interval time.Duration, countMax int) {
	if countMax <= 0 {
		countMax = 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				failures++
				if failures >= countMax {
					log.Debug().Str("connection_id", c.id).Msg("keepalive limit reached, closing connection")
					_ = c.End()
					return
				}
				continue
			}
			failures = 0
		}
	}
}
