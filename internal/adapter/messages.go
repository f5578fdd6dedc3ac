// Package adapter bridges one WebSocket connection to one SSH session:
// it owns the session id, validates every inbound event, runs the auth
// pipeline, opens shell/exec/SFTP channels, and mediates all outbound
// frames through a single writer with back-pressure.
package adapter

import (
	"encoding/json"
)

// Envelope is the wire format in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound event names (v1/socket).
const (
	evAuthenticate   = "authenticate"
	evTerminal       = "terminal"
	evResize         = "resize"
	evData           = "data"
	evExec           = "exec"
	evControl        = "control"
	evPromptResponse = "prompt-response"
	evSFTPList       = "sftp-list"
	evSFTPStat       = "sftp-stat"
	evSFTPMkdir      = "sftp-mkdir"
	evSFTPDelete     = "sftp-delete"
	evSFTPUpStart    = "sftp-upload-start"
	evSFTPUpChunk    = "sftp-upload-chunk"
	evSFTPUpCancel   = "sftp-upload-cancel"
	evSFTPDownStart  = "sftp-download-start"
	evSFTPDownCancel = "sftp-download-cancel"
)

// Outbound event names.
const (
	outData            = "data"
	outAuthentication  = "authentication"
	outAuthFailure     = "authFailure"
	outPermissions     = "permissions"
	outUpdateUI        = "updateUI"
	outGetTerminal     = "getTerminal"
	outExecData        = "exec-data"
	outExecExit        = "exec-exit"
	outSSHError        = "ssherror"
	outPrompt          = "prompt"
	outConnectionError = "connection-error"
	outSFTPDirectory   = "sftp-directory"
	outSFTPStatResult  = "sftp-stat-result"
	outSFTPOpResult    = "sftp-operation-result"
	outSFTPUpReady     = "sftp-upload-ready"
	outSFTPUpAck       = "sftp-upload-ack"
	outSFTPDownReady   = "sftp-download-ready"
	outSFTPDownChunk   = "sftp-download-chunk"
	outSFTPProgress    = "sftp-progress"
	outSFTPComplete    = "sftp-complete"
	outSFTPError       = "sftp-error"
)

// Control actions. Unknown actions are silently ignored.
const (
	ctlReauth           = "reauth"
	ctlReplayCreds      = "replayCredentials"
	ctlClearCredentials = "clear-credentials"
	ctlDisconnect       = "disconnect"
)

type authenticatePayload struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	Username            string `json:"username"`
	Password            string `json:"password"`
	PrivateKey          string `json:"privateKey"`
	Passphrase          string `json:"passphrase"`
	Term                string `json:"term"`
	Cols                int    `json:"cols"`
	Rows                int    `json:"rows"`
	KeyboardInteractive bool   `json:"keyboardInteractive"`
}

type terminalPayload struct {
	Term *string           `json:"term"`
	Rows *float64          `json:"rows"`
	Cols *float64          `json:"cols"`
	Cwd  *string           `json:"cwd"`
	Env  map[string]string `json:"env"`
}

type resizePayload struct {
	Rows *float64 `json:"rows"`
	Cols *float64 `json:"cols"`
}

type execPayload struct {
	Command   string            `json:"command"`
	PTY       bool              `json:"pty"`
	Term      string            `json:"term"`
	Cols      int               `json:"cols"`
	Rows      int               `json:"rows"`
	Env       map[string]string `json:"env"`
	TimeoutMs int               `json:"timeoutMs"`
}

type promptResponsePayload struct {
	ID     string   `json:"id"`
	Action string   `json:"action"`
	Inputs []string `json:"inputs"`
}

type authResultPayload struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type permissionsPayload struct {
	AllowReplay    bool `json:"allowReplay"`
	AllowReconnect bool `json:"allowReconnect"`
	AllowReauth    bool `json:"allowReauth"`
	AutoLog        bool `json:"autoLog"`
}

type sshErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type connectionErrorPayload struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	Debug   map[string]any `json:"debug,omitempty"`
}
