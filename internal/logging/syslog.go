package logging

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/webssh2/webssh2/internal/config"
	"github.com/webssh2/webssh2/internal/gwerrors"
)

// Syslog severities per RFC 5424 for the pipeline levels.
var syslogSeverity = map[Level]int{
	LevelDebug: 7,
	LevelInfo:  6,
	LevelWarn:  4,
	LevelError: 3,
}

var syslogFacilities = map[string]int{
	"kern": 0, "user": 1, "mail": 2, "daemon": 3, "auth": 4, "syslog": 5,
	"lpr": 6, "news": 7, "uucp": 8, "cron": 9, "authpriv": 10, "ftp": 11,
	"local0": 16, "local1": 17, "local2": 18, "local3": 19,
	"local4": 20, "local5": 21, "local6": 22, "local7": 23,
}

// SyslogTransport emits RFC 5424 frames over UDP or TCP:
//
//	<PRI>1 TIMESTAMP HOST APP PID MSGID [webssh2@EID sd-params] MSG
//
// The connection is dialed lazily and re-dialed after write errors.
type SyslogTransport struct {
	cfg      config.SyslogConfig
	facility int
	hostname string
	pid      int

	mu   sync.Mutex
	conn net.Conn
}

// NewSyslogTransport validates the facility and prepares the transport.
func NewSyslogTransport(cfg config.SyslogConfig) (*SyslogTransport, error) {
	fac, ok := syslogFacilities[strings.ToLower(cfg.Facility)]
	if !ok {
		return nil, gwerrors.Newf(gwerrors.KindConfig, "invalid_facility",
			"unknown syslog facility %q", cfg.Facility)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "-"
	}
	return &SyslogTransport{
		cfg:      cfg,
		facility: fac,
		hostname: host,
		pid:      os.Getpid(),
	}, nil
}

func (t *SyslogTransport) Name() string { return "syslog" }

// Write formats and sends one frame.
func (t *SyslogTransport) Write(line []byte, rec *Record) error {
	frame := FormatSyslogFrame(rec, t.facility, t.hostname, t.cfg.AppName, t.pid,
		t.cfg.EnterpriseID, t.cfg.IncludeJSON, line)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		conn, err := net.DialTimeout(t.cfg.Network, t.cfg.Address, 5*time.Second)
		if err != nil {
			return gwerrors.Wrap(gwerrors.KindTransport, "syslog_dial", "dial syslog", err)
		}
		t.conn = conn
	}
	if _, err := t.conn.Write(append([]byte(frame), '\n')); err != nil {
		_ = t.conn.Close()
		t.conn = nil
		return gwerrors.Wrap(gwerrors.KindTransport, "syslog_write", "write syslog frame", err)
	}
	return nil
}

// Close closes the connection if open.
func (t *SyslogTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

// FormatSyslogFrame renders an RFC 5424 frame for rec. When includeJSON is
// true the MSG part carries the full JSON line instead of rec.Message.
func FormatSyslogFrame(rec *Record, facility int, host, app string, pid int,
	enterpriseID string, includeJSON bool, jsonLine []byte) string {

	severity, ok := syslogSeverity[rec.Level]
	if !ok {
		severity = 6
	}
	pri := facility*8 + severity

	ts := rec.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	msgID := rec.Event
	if msgID == "" {
		msgID = "-"
	}
	if app == "" {
		app = "webssh2"
	}

	var sd strings.Builder
	sd.WriteString(fmt.Sprintf("[webssh2@%s", enterpriseID))
	for _, p := range []struct{ name, v string }{
		{"event", rec.Event},
		{"session_id", rec.SessionID},
		{"request_id", rec.RequestID},
		{"username", rec.Username},
		{"client_ip", rec.ClientIP},
		{"target_host", rec.TargetHost},
		{"status", rec.Status},
		{"connection_id", rec.ConnectionID},
	} {
		if p.v == "" {
			continue
		}
		sd.WriteString(fmt.Sprintf(` %s="%s"`, p.name, escapeSDParam(p.v)))
	}
	sd.WriteString("]")

	msg := rec.Message
	if includeJSON {
		msg = string(jsonLine)
	}

	frame := fmt.Sprintf("<%d>1 %s %s %s %d %s %s",
		pri, ts.Format(time.RFC3339), host, app, pid, msgID, sd.String())
	if msg != "" {
		frame += " " + msg
	}
	return frame
}

// escapeSDParam escapes the three characters RFC 5424 requires inside
// SD-PARAM values: backslash, closing bracket, and double quote.
func escapeSDParam(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `]`, `\]`, `"`, `\"`)
	return r.Replace(v)
}

var _ Transport = (*SyslogTransport)(nil)
