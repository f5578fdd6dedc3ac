package sshsvc

import (
	"errors"
	"io"
	"sync"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// ExecOptions controls a single-command execution.
type ExecOptions struct {
	PTY  bool
	Term string
	Rows int
	Cols int
}

// StreamKind tags an output frame.
type StreamKind string

const (
	StreamStdout StreamKind = "stdout"
	StreamStderr StreamKind = "stderr"
)

// ExecFrame is one chunk of command output. Byte boundaries are preserved
// from the SSH channel.
type ExecFrame struct {
	Kind StreamKind
	Data []byte
}

// ExitStatus is the command's terminal event.
type ExitStatus struct {
	Code   int
	Signal string
}

// Exec is a running command. All frames are delivered on Frames before
// Exit produces the terminal event; both channels are closed afterwards.
type Exec struct {
	session *cryptossh.Session
	frames  chan ExecFrame
	exit    chan ExitStatus
	once    sync.Once
}

// Frames returns the output stream.
func (e *Exec) Frames() <-chan ExecFrame { return e.frames }

// Exit returns the terminal-event channel.
func (e *Exec) Exit() <-chan ExitStatus { return e.exit }

// Signal forwards a signal to the remote command.
func (e *Exec) Signal(name string) error {
	return e.session.Signal(cryptossh.Signal(name))
}

// Close aborts the command. Safe to call after completion.
func (e *Exec) Close() error {
	var err error
	e.once.Do(func() { err = e.session.Close() })
	return err
}

// Exec starts command with separate stdout/stderr streams. env entries
// must already be validated.
func (c *Conn) Exec(command string, opts ExecOptions, env map[string]string) (*Exec, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "session_open", "open SSH session", err)
	}

	for k, v := range env {
		_ = sess.Setenv(k, v)
	}

	if opts.PTY {
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
		modes := cryptossh.TerminalModes{
			cryptossh.ECHO:          1,
			cryptossh.TTY_OP_ISPEED: 14400,
			cryptossh.TTY_OP_OSPEED: 14400,
		}
		if err := sess.RequestPty(term, rows, cols, modes); err != nil {
			_ = sess.Close()
			return nil, gwerrors.Wrap(gwerrors.KindSSH, "pty_request", "request PTY", err)
		}
	}

	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "stdout_pipe", "open stdout pipe", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		_ = sess.Close()
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "stderr_pipe", "open stderr pipe", err)
	}

	if err := sess.Start(command); err != nil {
		_ = sess.Close()
		return nil, gwerrors.Wrap(gwerrors.KindSSH, "exec_start", "start command", err)
	}

	e := &Exec{
		session: sess,
		frames:  make(chan ExecFrame, 32),
		exit:    make(chan ExitStatus, 1),
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go e.pump(StreamStdout, stdout, &pumps)
	go e.pump(StreamStderr, stderr, &pumps)

	go func() {
		werr := sess.Wait()
		// Frames strictly precede the exit event.
		pumps.Wait()
		close(e.frames)
		e.exit <- exitStatus(werr)
		close(e.exit)
		_ = sess.Close()
	}()

	return e, nil
}

func (e *Exec) pump(kind StreamKind, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			e.frames <- ExecFrame{Kind: kind, Data: data}
		}
		if err != nil {
			return
		}
	}
}

func exitStatus(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}
	var exitErr *cryptossh.ExitError
	if errors.As(err, &exitErr) {
		return ExitStatus{Code: exitErr.ExitStatus(), Signal: exitErr.Signal()}
	}
	var missing *cryptossh.ExitMissingError
	if errors.As(err, &missing) {
		return ExitStatus{Code: -1}
	}
	return ExitStatus{Code: -1}
}
