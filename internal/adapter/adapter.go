package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/webssh2/webssh2/internal/auth"
	"github.com/webssh2/webssh2/internal/bus"
	"github.com/webssh2/webssh2/internal/config"
	"github.com/webssh2/webssh2/internal/gwerrors"
	"github.com/webssh2/webssh2/internal/hostkeys"
	"github.com/webssh2/webssh2/internal/logging"
	"github.com/webssh2/webssh2/internal/session"
	"github.com/webssh2/webssh2/internal/sftpx"
	"github.com/webssh2/webssh2/internal/sshsvc"
	"github.com/webssh2/webssh2/internal/validation"
)

const (
	outQueueSize = 256
	outHighWater = 192
	outLowWater  = 64
)

// Options carries the collaborators the adapter needs for one socket.
type Options struct {
	Config       *config.Config
	Store        *session.Store
	SSH          *sshsvc.Service
	HostKeyStore *hostkeys.Store // nil when verification is disabled
	Bus          *bus.Bus
	Logs         *logging.Pipeline

	// Registry tracks live adapters for idle-expiry teardown; may be nil.
	Registry *Registry

	// Seeded credentials from the HTTP session (Basic auth or SSO).
	Seeded         *sshsvc.Credentials
	SeededProvider string
	SeededEnv      map[string]string

	Client    session.ClientInfo
	RequestID string
}

// Adapter multiplexes one WebSocket onto one SSH session.
type Adapter struct {
	id  session.ID
	ws  *websocket.Conn
	cfg *config.Config

	store    *session.Store
	sshSvc   *sshsvc.Service
	verifier *hostkeys.Verifier
	eventBus *bus.Bus
	logs     *logging.Pipeline
	pipeline *auth.Pipeline
	prompts  *promptRegistry
	gate     *sftpx.Gate
	registry *Registry

	client    session.ClientInfo
	requestID string
	seeded    *sshsvc.Credentials
	seededVia string
	seededEnv map[string]string

	out       chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	authBusy  atomic.Bool
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64
	startedAt time.Time

	mu         sync.Mutex
	conn       *sshsvc.Conn
	shell      *sshsvc.Shell
	sftpClient *sftpx.Client
	transfers  *sftpx.Manager
	username   string
	password   string // retained for replayCredentials when allowed
	targetHost string
	targetPort int
}

// New registers a fresh session and wires the adapter's collaborators.
func New(ws *websocket.Conn, opts Options) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		id:        session.NewID(),
		ws:        ws,
		cfg:       opts.Config,
		store:     opts.Store,
		sshSvc:    opts.SSH,
		eventBus:  opts.Bus,
		logs:      opts.Logs,
		prompts:   newPromptRegistry(),
		gate:      sftpx.NewGate(),
		registry:  opts.Registry,
		client:    opts.Client,
		requestID: opts.RequestID,
		seeded:    opts.Seeded,
		seededVia: opts.SeededProvider,
		seededEnv: opts.SeededEnv,
		out:       make(chan []byte, outQueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.pipeline = auth.NewPipeline(opts.Config.SSH)
	a.verifier = hostkeys.NewVerifier(opts.Config.HostKeyVerification, opts.HostKeyStore, a.hostKeyPrompt)
	a.store.Create(a.id, opts.Client)
	if a.registry != nil {
		a.registry.add(a)
	}
	return a
}

// SessionID exposes the adapter's session id for logging by the caller.
func (a *Adapter) SessionID() session.ID { return a.id }

// Run drives the socket until it closes. Blocks.
func (a *Adapter) Run() {
	a.startedAt = time.Now()
	a.record(logging.LevelInfo, logging.EventSessionStart, func(r *logging.Record) {})
	a.publishBus(bus.SessionEvent, "session_start", nil)

	go a.writer()
	defer a.cleanup()

	// Credentials seeded over HTTP authenticate without a client message.
	if a.seeded != nil {
		creds := *a.seeded
		go func() {
			defer a.recoverPanic()
			a.authenticate(&creds, false, a.seededVia)
		}()
	} else {
		a.emit(outAuthentication, authResultPayload{Action: "request_auth"})
	}

	for {
		_, raw, err := a.ws.ReadMessage()
		if err != nil {
			return
		}
		a.store.Touch(a.id)
		a.handleMessage(raw)
	}
}

// recoverPanic contains a handler panic to the message or task that
// caused it. Used as a deferred call on the read loop and on every
// goroutine the adapter spawns.
func (a *Adapter) recoverPanic() {
	if r := recover(); r != nil {
		a.record(logging.LevelError, logging.EventCrashRecovery, func(rec *logging.Record) {
			rec.Message = fmt.Sprint(r)
		})
		a.emit(outConnectionError, connectionErrorPayload{
			Message: "internal error", Code: "crash_recovery",
		})
	}
}

// handleMessage dispatches one inbound frame. Slow handlers (auth, exec)
// run on their own goroutines so the read loop stays responsive; prompt
// answers and control actions must never queue behind them.
func (a *Adapter) handleMessage(raw []byte) {
	defer a.recoverPanic()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Event {
	case evAuthenticate:
		a.handleAuthenticate(env.Payload)
	case evTerminal:
		a.handleTerminal(env.Payload)
	case evResize:
		a.handleResize(env.Payload)
	case evData:
		a.handleData(env.Payload)
	case evExec:
		a.handleExec(env.Payload)
	case evControl:
		a.handleControl(env.Payload)
	case evPromptResponse:
		a.handlePromptResponse(env.Payload)
	case evSFTPList, evSFTPStat, evSFTPMkdir, evSFTPDelete,
		evSFTPUpStart, evSFTPUpChunk, evSFTPUpCancel,
		evSFTPDownStart, evSFTPDownCancel:
		a.handleSFTP(env.Event, env.Payload)
	default:
		// Unknown events are ignored.
	}
}

// emit enqueues one outbound frame. Crossing the high-water mark suspends
// SFTP downloads until the writer drains the queue.
func (a *Adapter) emit(event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Payload: body})
	if err != nil {
		return
	}
	if len(a.out) >= outHighWater {
		a.gate.Suspend()
	}
	select {
	case a.out <- frame:
	case <-a.ctx.Done():
	}
}

// writer is the single goroutine allowed to touch the WebSocket write
// side. Frame order is publication order. A nil frame is the close
// sentinel: everything queued before it is flushed first.
func (a *Adapter) writer() {
	for {
		select {
		case frame := <-a.out:
			if frame == nil {
				_ = a.ws.Close()
				return
			}
			if err := a.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				a.cancel()
				return
			}
			if len(a.out) <= outLowWater {
				a.gate.Resume()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// ─── authentication ─────────────────────────────────────────

func (a *Adapter) handleAuthenticate(raw json.RawMessage) {
	var p authenticatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		a.emit(outAuthentication, authResultPayload{
			Action: "auth_result", Success: false, Message: "Invalid credentials",
		})
		return
	}
	creds := &sshsvc.Credentials{
		Host:       p.Host,
		Port:       p.Port,
		Username:   p.Username,
		Password:   p.Password,
		PrivateKey: p.PrivateKey,
		Passphrase: p.Passphrase,
		Term:       p.Term,
		Cols:       p.Cols,
		Rows:       p.Rows,
	}
	// Off the read loop: the connect may block on a host-key or
	// keyboard-interactive prompt whose answer arrives as another frame.
	go func() {
		defer a.recoverPanic()
		a.authenticate(creds, p.KeyboardInteractive, "manual")
	}()
}

func (a *Adapter) authenticate(creds *sshsvc.Credentials, explicitKI bool, provider string) {
	if !a.authBusy.CompareAndSwap(false, true) {
		a.emit(outAuthentication, authResultPayload{
			Action: "auth_result", Success: false, Message: "auth_in_progress",
		})
		return
	}
	defer a.authBusy.Store(false)

	if !a.pipeline.AttemptsLeft() {
		a.emit(outAuthentication, authResultPayload{
			Action: "auth_result", Success: false, Message: "Too many authentication attempts",
		})
		a.closeSocket()
		return
	}
	a.pipeline.RecordAttempt()
	a.record(logging.LevelInfo, logging.EventAuthAttempt, func(r *logging.Record) {
		r.Username = creds.Username
		r.TargetHost = validation.EscapeHostForLog(creds.Host)
		r.Details = map[string]any{"provider": provider}
	})

	requested, err := a.pipeline.Prepare(creds, explicitKI)
	if err != nil {
		a.failAuth(creds, err)
		return
	}

	a.store.Dispatch(a.id, session.ConnectionStart{Host: creds.Host, Port: creds.Port})

	relay := &auth.KeyboardInteractiveRelay{
		Password:   creds.Password,
		ForwardAll: a.cfg.SSH.ForwardAllKbdPrompts,
		Forward:    a.forwardPrompts,
	}
	capture := sshsvc.NewCapture()
	conn, err := a.sshSvc.Connect(a.ctx, *creds, sshsvc.ConnectOptions{
		HostKeyCallback:     a.verifier.Callback(a.ctx),
		KeyboardInteractive: relay.Challenge(a.ctx),
		Capture:             capture,
	})
	if err != nil {
		a.failConnect(creds, err, capture)
		return
	}

	a.mu.Lock()
	a.conn = conn
	a.username = creds.Username
	a.targetHost = creds.Host
	a.targetPort = creds.Port
	if a.cfg.Options.AllowReplay {
		a.password = creds.Password
	}
	a.mu.Unlock()

	method := requested[0]
	a.store.Dispatch(a.id, session.AuthSuccess{
		Method: method, Username: creds.Username, At: time.Now(),
	})
	a.store.Dispatch(a.id, session.ConnectionEstablished{ConnectionID: conn.ID()})

	a.emit(outAuthentication, authResultPayload{Action: "auth_result", Success: true})
	a.emit(outPermissions, permissionsPayload{
		AllowReplay:    a.cfg.Options.AllowReplay,
		AllowReconnect: a.cfg.Options.AllowReconnect,
		AllowReauth:    a.cfg.Options.AllowReauth,
		AutoLog:        a.cfg.Options.AutoLog,
	})
	a.emit(outGetTerminal, map[string]any{"term": creds.Term})

	a.record(logging.LevelInfo, logging.EventAuthSuccess, func(r *logging.Record) {
		r.Username = creds.Username
		r.Status = "success"
		r.Details = map[string]any{"method": string(method), "provider": provider}
	})
	a.record(logging.LevelInfo, logging.EventSSHConnect, func(r *logging.Record) {
		r.ConnectionID = conn.ID()
		r.Protocol = "ssh"
	})
	a.publishBus(bus.AuthEvent, "auth_success", map[string]string{
		"username": creds.Username, "method": string(method),
	})

	go a.watchConn(conn)
}

// failAuth reports a pre-connection failure (bad shape or policy).
func (a *Adapter) failAuth(creds *sshsvc.Credentials, err error) {
	var pe *auth.PolicyError
	if errors.As(err, &pe) {
		a.store.Dispatch(a.id, session.AuthFailure{Message: err.Error(), At: time.Now()})
		a.record(logging.LevelWarn, logging.EventAuthFailure, func(r *logging.Record) {
			r.Username = creds.Username
			r.Status = "failure"
			r.ErrorCode = auth.CodeMethodDisabled
			r.Details = map[string]any{"method": string(pe.Method)}
		})
		a.emit(outAuthFailure, map[string]string{
			"error":  auth.CodeMethodDisabled,
			"method": string(pe.Method),
		})
		a.publishBus(bus.AuthEvent, "auth_failure", map[string]string{"method": string(pe.Method)})
		a.closeSocket()
		return
	}

	a.store.Dispatch(a.id, session.AuthFailure{Message: "Invalid credentials", At: time.Now()})
	a.record(logging.LevelWarn, logging.EventAuthFailure, func(r *logging.Record) {
		r.Username = creds.Username
		r.Status = "failure"
		r.Reason = "Invalid credentials"
	})
	a.emit(outAuthentication, authResultPayload{
		Action: "auth_result", Success: false, Message: "Invalid credentials",
	})
}

// failConnect reports an SSH-level failure, with algorithm diagnostics
// when the handshake broke down over negotiation.
func (a *Adapter) failConnect(creds *sshsvc.Credentials, err error, capture *sshsvc.Capture) {
	norm := sshsvc.NormalizeError(err, creds.Host)

	if analysis := capture.Analyze(); analysis != nil {
		a.record(logging.LevelWarn, logging.EventAlgoMismatch, func(r *logging.Record) {
			r.TargetHost = validation.EscapeHostForLog(creds.Host)
			r.Details = map[string]any{
				"suggested_preset": analysis.SuggestedPreset,
				"env_suggestions":  analysis.EnvSuggestions,
			}
		})
		a.emit(outUpdateUI, map[string]any{
			"element": "algorithmMismatch",
			"value": map[string]any{
				"mismatches":      analysis.Mismatches,
				"suggestedPreset": analysis.SuggestedPreset,
				"envSuggestions":  analysis.EnvSuggestions,
			},
		})
	}

	if norm.Kind == gwerrors.KindAuth {
		a.store.Dispatch(a.id, session.AuthFailure{Message: norm.Message, At: time.Now()})
		a.record(logging.LevelWarn, logging.EventAuthFailure, func(r *logging.Record) {
			r.Username = creds.Username
			r.Status = "failure"
			r.Reason = norm.Message
			r.ErrorCode = norm.Code
		})
		a.emit(outAuthentication, authResultPayload{
			Action: "auth_result", Success: false, Message: norm.Message,
		})
		a.publishBus(bus.AuthEvent, "auth_failure", map[string]string{"code": norm.Code})
		if !a.pipeline.AttemptsLeft() {
			a.closeSocket()
		}
		return
	}

	a.store.Dispatch(a.id, session.ConnectionError{Message: norm.Message})
	a.record(logging.LevelError, logging.EventSSHError, func(r *logging.Record) {
		r.TargetHost = validation.EscapeHostForLog(creds.Host)
		r.TargetPort = creds.Port
		r.ErrorCode = norm.Code
		r.Reason = norm.Message
	})
	a.emit(outSSHError, sshErrorPayload{Message: norm.Message, Code: norm.Code})
	a.emit(outConnectionError, connectionErrorPayload{
		Message: norm.Message,
		Code:    norm.Code,
		Kind:    string(norm.Kind),
	})
	a.publishBus(bus.ConnectionEvent, "connection_error", map[string]string{"code": norm.Code})
}

// watchConn reacts to the SSH connection ending from the far side.
func (a *Adapter) watchConn(conn *sshsvc.Conn) {
	select {
	case <-conn.Done():
	case <-a.ctx.Done():
		return
	}
	a.store.Dispatch(a.id, session.ConnectionClosed{})
	a.record(logging.LevelInfo, logging.EventSSHDisconnect, func(r *logging.Record) {
		r.ConnectionID = conn.ID()
	})
	a.publishBus(bus.ConnectionEvent, "connection_closed", nil)
	a.closeSocket()
}

// ─── terminal ───────────────────────────────────────────────

func (a *Adapter) handleTerminal(raw json.RawMessage) {
	var p terminalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}

	rows, cols, ok := a.dimensions(p.Rows, p.Cols, 24, 80)
	if !ok {
		return
	}

	env := validation.EnvVars(p.Env)
	// Environment seeded over HTTP applies first; client entries win.
	if len(a.seededEnv) > 0 {
		merged := make(map[string]string, len(a.seededEnv)+len(env))
		for k, v := range a.seededEnv {
			merged[k] = v
		}
		for k, v := range env {
			merged[k] = v
		}
		env = merged
	}
	term := a.cfg.SSH.Term
	if p.Term != nil && *p.Term != "" {
		term = *p.Term
	}
	cwd := ""
	if p.Cwd != nil {
		cwd = *p.Cwd
	}

	a.mu.Lock()
	conn, shell := a.conn, a.shell
	a.mu.Unlock()

	if shell != nil {
		if len(env) > 0 {
			a.store.Dispatch(a.id, session.TerminalUpdateEnv{Env: env})
		}
		return
	}
	if conn == nil {
		a.emit(outSSHError, sshErrorPayload{Message: "not connected", Code: "not_connected"})
		return
	}

	a.store.Dispatch(a.id, session.TerminalInit{
		Term: term, Rows: rows, Cols: cols, Cwd: cwd, Env: env,
	})
	a.openShell(conn, sshsvc.ShellOptions{Term: term, Rows: rows, Cols: cols}, env)
}

// dimensions validates optional row/col values. A missing or NaN value is
// silently replaced by the default; out-of-range emits ssherror.
func (a *Adapter) dimensions(rowsP, colsP *float64, defRows, defCols int) (int, int, bool) {
	rows, cols := defRows, defCols
	if rowsP != nil && !math.IsNaN(*rowsP) {
		rows = int(*rowsP)
	}
	if colsP != nil && !math.IsNaN(*colsP) {
		cols = int(*colsP)
	}
	if validation.Dimension(rows) != nil || validation.Dimension(cols) != nil {
		a.emit(outSSHError, sshErrorPayload{
			Message: fmt.Sprintf("invalid terminal dimensions %dx%d", cols, rows),
			Code:    "invalid_dimensions",
		})
		return 0, 0, false
	}
	return rows, cols, true
}

func (a *Adapter) openShell(conn *sshsvc.Conn, opts sshsvc.ShellOptions, env map[string]string) {
	shell, err := conn.Shell(opts, env)
	if err != nil {
		norm := sshsvc.NormalizeError(err, a.targetHost)
		a.emit(outSSHError, sshErrorPayload{Message: norm.Message, Code: norm.Code})
		return
	}
	a.mu.Lock()
	a.shell = shell
	a.mu.Unlock()

	a.record(logging.LevelInfo, logging.EventShellOpen, func(r *logging.Record) {
		r.Subsystem = "shell"
	})

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := shell.Read(buf)
			if n > 0 {
				a.bytesOut.Add(int64(n))
				a.emit(outData, string(buf[:n]))
			}
			if err != nil {
				break
			}
		}
		a.record(logging.LevelInfo, logging.EventShellClose, func(r *logging.Record) {
			r.Subsystem = "shell"
		})
		a.store.Dispatch(a.id, session.ConnectionClosed{})
		a.closeSocket()
	}()
}

func (a *Adapter) handleResize(raw json.RawMessage) {
	var p resizePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	// A resize without numeric dimensions is ignored.
	if p.Rows == nil || p.Cols == nil || math.IsNaN(*p.Rows) || math.IsNaN(*p.Cols) {
		return
	}
	rows, cols := int(*p.Rows), int(*p.Cols)
	if validation.Dimension(rows) != nil || validation.Dimension(cols) != nil {
		a.emit(outSSHError, sshErrorPayload{
			Message: fmt.Sprintf("invalid terminal dimensions %dx%d", cols, rows),
			Code:    "invalid_dimensions",
		})
		return
	}

	a.store.Dispatch(a.id, session.TerminalResize{Rows: rows, Cols: cols})
	a.mu.Lock()
	shell := a.shell
	a.mu.Unlock()
	if shell != nil {
		_ = shell.Resize(rows, cols)
	}
}

func (a *Adapter) handleData(raw json.RawMessage) {
	var data string
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	a.mu.Lock()
	shell := a.shell
	a.mu.Unlock()
	if shell == nil {
		return
	}
	a.bytesIn.Add(int64(len(data)))
	_, _ = shell.Write([]byte(data))
	a.store.Dispatch(a.id, session.ConnectionActivity{At: time.Now()})
}

// ─── exec ───────────────────────────────────────────────────

func (a *Adapter) handleExec(raw json.RawMessage) {
	var p execPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Command == "" {
		return
	}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		a.emit(outSSHError, sshErrorPayload{Message: "not connected", Code: "not_connected"})
		return
	}

	// The command may run for a while; keep the read loop free so control
	// frames still land.
	go func() {
		defer a.recoverPanic()
		a.runExec(conn, p)
	}()
}

func (a *Adapter) runExec(conn *sshsvc.Conn, p execPayload) {
	env := validation.EnvVars(p.Env)
	ex, err := conn.Exec(p.Command, sshsvc.ExecOptions{
		PTY: p.PTY, Term: p.Term, Rows: p.Rows, Cols: p.Cols,
	}, env)
	if err != nil {
		norm := sshsvc.NormalizeError(err, a.targetHost)
		a.emit(outSSHError, sshErrorPayload{Message: norm.Message, Code: norm.Code})
		return
	}

	started := time.Now()
	a.record(logging.LevelInfo, logging.EventExecStart, func(r *logging.Record) {
		r.Subsystem = "exec"
	})

	if p.TimeoutMs > 0 {
		timer := time.AfterFunc(time.Duration(p.TimeoutMs)*time.Millisecond, func() {
			_ = ex.Close()
		})
		defer timer.Stop()
	}

	for frame := range ex.Frames() {
		a.bytesOut.Add(int64(len(frame.Data)))
		a.emit(outExecData, map[string]any{
			"type": string(frame.Kind),
			"data": string(frame.Data),
		})
	}
	st := <-ex.Exit()
	a.emit(outExecExit, map[string]any{"code": st.Code, "signal": st.Signal})
	a.record(logging.LevelInfo, logging.EventExecExit, func(r *logging.Record) {
		r.Subsystem = "exec"
		r.DurationMs = time.Since(started).Milliseconds()
		r.Details = map[string]any{"code": st.Code, "signal": st.Signal}
	})
}

// ─── control ────────────────────────────────────────────────

func (a *Adapter) handleControl(raw json.RawMessage) {
	var action string
	if err := json.Unmarshal(raw, &action); err != nil {
		return
	}
	switch action {
	case ctlReauth:
		if !a.cfg.Options.AllowReauth {
			a.emit(outSSHError, sshErrorPayload{Message: "reauth is disabled", Code: "reauth_disabled"})
			return
		}
		a.emit(outAuthentication, authResultPayload{Action: "reauth"})
		a.store.Dispatch(a.id, session.AuthLogout{})
		a.teardownSSH()
	case ctlReplayCreds:
		a.replayCredentials()
	case ctlClearCredentials:
		a.mu.Lock()
		a.password = ""
		a.mu.Unlock()
	case ctlDisconnect:
		a.closeSocket()
	default:
		// Unknown control actions must not crash the session.
	}
}

func (a *Adapter) replayCredentials() {
	a.mu.Lock()
	shell, password := a.shell, a.password
	a.mu.Unlock()

	if !a.cfg.Options.AllowReplay || password == "" || shell == nil {
		a.emit(outSSHError, sshErrorPayload{
			Message: "credential replay not available", Code: "replay_unavailable",
		})
		return
	}
	newline := "\n"
	if a.cfg.Options.ReplayCRLF {
		newline = "\r\n"
	}
	_, _ = shell.Write([]byte(password + newline))
	a.record(logging.LevelInfo, logging.EventReplayCredentials, func(r *logging.Record) {})
}

// ─── prompts ────────────────────────────────────────────────

func (a *Adapter) handlePromptResponse(raw json.RawMessage) {
	var p promptResponsePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return
	}
	a.prompts.resolve(p.ID, promptAnswer{Action: p.Action, Inputs: p.Inputs})
}

// hostKeyPrompt surfaces an unknown or changed host key to the client and
// blocks for the verdict.
func (a *Adapter) hostKeyPrompt(ctx context.Context, p hostkeys.Prompt) (bool, error) {
	id, ch, err := a.prompts.register()
	if err != nil {
		return false, err
	}

	event := logging.EventHostKeyUnknown
	if p.Severity == hostkeys.SeverityError {
		event = logging.EventHostKeyMismatch
	}
	a.record(logging.LevelWarn, event, func(r *logging.Record) {
		r.TargetHost = validation.EscapeHostForLog(p.Host)
		r.TargetPort = p.Port
		r.Details = map[string]any{
			"algorithm":   p.Algorithm,
			"fingerprint": p.Fingerprint,
		}
	})

	a.emit(outPrompt, map[string]any{
		"id":                id,
		"type":              "hostkey",
		"severity":          string(p.Severity),
		"host":              p.Host,
		"port":              p.Port,
		"algorithm":         p.Algorithm,
		"fingerprint":       p.Fingerprint,
		"storedFingerprint": p.StoredFingerprint,
	})

	ans, err := await(ctx, a.prompts, id, ch, defaultPromptTimeout)
	if err != nil {
		if gwerrors.CodeOf(err) == "prompt_timeout" {
			a.record(logging.LevelWarn, logging.EventPromptTimeout, func(r *logging.Record) {})
		}
		return false, err
	}
	accepted := ans.Action == "accept" || ans.Action == "confirm"
	verdictEvent := logging.EventHostKeyRejected
	if accepted {
		verdictEvent = logging.EventHostKeyAccepted
	}
	a.record(logging.LevelInfo, verdictEvent, func(r *logging.Record) {
		r.TargetHost = validation.EscapeHostForLog(p.Host)
		r.TargetPort = p.Port
	})
	return accepted, nil
}

// forwardPrompts relays a keyboard-interactive round to the client.
func (a *Adapter) forwardPrompts(ctx context.Context, req auth.PromptRequest) ([]string, error) {
	id, ch, err := a.prompts.register()
	if err != nil {
		return nil, err
	}

	prompts := make([]map[string]any, 0, len(req.Prompts))
	for _, p := range req.Prompts {
		prompts = append(prompts, map[string]any{"prompt": p.Text, "echo": p.Echo})
	}
	a.emit(outAuthentication, map[string]any{
		"action":      "keyboard-interactive",
		"id":          id,
		"name":        req.Name,
		"instruction": req.Instruction,
		"prompts":     prompts,
	})

	ans, err := await(ctx, a.prompts, id, ch, defaultPromptTimeout)
	if err != nil {
		return nil, err
	}
	return ans.Inputs, nil
}

// ─── lifecycle ──────────────────────────────────────────────

// teardownSSH closes the SSH side but keeps the socket open (reauth).
func (a *Adapter) teardownSSH() {
	a.mu.Lock()
	shell, conn := a.shell, a.conn
	transfers, sftpClient := a.transfers, a.sftpClient
	a.shell, a.conn, a.transfers, a.sftpClient = nil, nil, nil, nil
	a.mu.Unlock()

	if transfers != nil {
		transfers.Close()
	}
	if sftpClient != nil {
		_ = sftpClient.Close()
	}
	if shell != nil {
		_ = shell.Close()
		a.store.Dispatch(a.id, session.TerminalDestroy{})
	}
	if conn != nil {
		_ = conn.End()
	}
}

// closeSocket forces the read loop to return, which runs cleanup. The
// close routes through the writer so frames emitted just before it (an
// authFailure, a final auth_result) still reach the client.
func (a *Adapter) closeSocket() {
	select {
	case a.out <- nil:
	default:
		_ = a.ws.Close()
	}
}

func (a *Adapter) cleanup() {
	a.closeOnce.Do(func() {
		a.cancel()
		if a.registry != nil {
			a.registry.remove(a.id)
		}
		a.teardownSSH()
		a.store.Dispatch(a.id, session.ConnectionClosed{})
		a.store.Delete(a.id)
		a.record(logging.LevelInfo, logging.EventSessionEnd, func(r *logging.Record) {
			r.DurationMs = time.Since(a.startedAt).Milliseconds()
			r.BytesIn = a.bytesIn.Load()
			r.BytesOut = a.bytesOut.Load()
		})
		a.publishBus(bus.SessionEvent, "session_end", nil)
		_ = a.ws.Close()
	})
}

// ─── observability helpers ──────────────────────────────────

// record publishes a structured record with the session's base context.
func (a *Adapter) record(level logging.Level, event string, fill func(*logging.Record)) {
	if a.logs == nil {
		return
	}
	rec := logging.Record{
		Level:      level,
		Event:      event,
		SessionID:  string(a.id),
		RequestID:  a.requestID,
		ClientIP:   a.client.IP,
		ClientPort: a.client.Port,
		UserAgent:  a.client.UserAgent,
	}
	a.mu.Lock()
	rec.Username = a.username
	rec.TargetHost = validation.EscapeHostForLog(a.targetHost)
	rec.TargetPort = a.targetPort
	a.mu.Unlock()
	fill(&rec)
	if _, err := a.logs.Publish(rec); err != nil {
		log.Debug().Err(err).Str("event", event).Msg("log publish failed")
	}
}

func (a *Adapter) publishBus(cat bus.Category, typ string, meta map[string]string) {
	if a.eventBus == nil {
		return
	}
	_ = a.eventBus.Publish(bus.Event{
		Category:  cat,
		Type:      typ,
		SessionID: string(a.id),
		Metadata:  meta,
	})
}
