package sshsvc

import (
	"io"
	"sync"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// ShellOptions sets the PTY parameters for an interactive shell.
type ShellOptions struct {
	Term string
	Rows int
	Cols int
	// Width/Height are pixel dimensions; zero means unspecified.
	Width  int
	Height int
}

// Shell is an interactive PTY-backed session. Reads return remote output
// (stdout and stderr interleaved by the PTY); writes feed remote stdin.
type Shell struct {
	session *cryptossh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex
}

// Shell opens a PTY and starts the login shell. env entries must already
// be validated; Setenv rejections are ignored because most sshd configs
// only whitelist LC_* and LANG.
func (c *Conn) Shell(opts ShellOptions, env map[string]string) (*Shell, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "session_open", "open SSH session", err)
	}

	for k, v := range env {
		_ = sess.Setenv(k, v)
	}

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	term := opts.Term
	if term == "" {
		term = "xterm-256color"
	}
	rows, cols := opts.Rows, opts.Cols
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}
	if err := sess.RequestPty(term, rows, cols, modes); err != nil {
		_ = sess.Close()
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "pty_request", "request PTY", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "stdin_pipe", "open stdin pipe", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "stdout_pipe", "open stdout pipe", err)
	}

	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "shell_start", "start login shell", err)
	}

	return &Shell{session: sess, stdin: stdin, stdout: stdout}, nil
}

func (s *Shell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *Shell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Resize changes the remote PTY dimensions.
func (s *Shell) Resize(rows, cols int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.WindowChange(rows, cols)
}

// Close tears the shell down. Safe to call more than once.
func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.stdin.Close()
	return s.session.Close()
}
