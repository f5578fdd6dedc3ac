// Package logging implements the structured logging pipeline:
//
//	record -> event-name validation -> context validation -> level filter
//	       -> sampling -> rate-limit -> JSON formatter -> transports
//
// Ambient process logs (startup, shutdown, internal errors) go through
// zerolog directly; this pipeline carries the long-form session and audit
// events with a closed schema.
package logging

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// Level is the record severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a config string into a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; !ok {
		return "", gwerrors.Newf(gwerrors.KindConfig, "invalid_level", "unknown log level %q", s)
	}
	return l, nil
}

// Record is one structured log entry. Optional scalar fields use zero
// values for "absent" and are omitted from the JSON output.
type Record struct {
	TS           time.Time      `json:"ts"`
	Level        Level          `json:"level"`
	Event        string         `json:"event"`
	Message      string         `json:"message,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Username     string         `json:"username,omitempty"`
	ClientIP     string         `json:"client_ip,omitempty"`
	ClientPort   int            `json:"client_port,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	TargetHost   string         `json:"target_host,omitempty"`
	TargetPort   int            `json:"target_port,omitempty"`
	Protocol     string         `json:"protocol,omitempty"`
	Subsystem    string         `json:"subsystem,omitempty"`
	Status       string         `json:"status,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	BytesIn      int64          `json:"bytes_in,omitempty"`
	BytesOut     int64          `json:"bytes_out,omitempty"`
	AuditID      string         `json:"audit_id,omitempty"`
	RetentionTag string         `json:"retention_tag,omitempty"`
	ConnectionID string         `json:"connection_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

var (
	validProtocols  = map[string]bool{"ssh": true, "sftp": true, "scp": true}
	validSubsystems = map[string]bool{"shell": true, "sftp": true, "scp": true, "exec": true}
	validStatuses   = map[string]bool{"success": true, "failure": true}
)

// ValidateContext checks every populated context field. The returned error
// names the offending field.
func (r *Record) ValidateContext() error {
	if _, ok := levelRank[r.Level]; !ok {
		return fieldErr("level", string(r.Level))
	}
	if r.ClientIP != "" && net.ParseIP(r.ClientIP) == nil {
		return fieldErr("client_ip", r.ClientIP)
	}
	if r.ClientPort != 0 && (r.ClientPort < 1 || r.ClientPort > 65535) {
		return fieldErr("client_port", fmt.Sprint(r.ClientPort))
	}
	if r.TargetPort != 0 && (r.TargetPort < 1 || r.TargetPort > 65535) {
		return fieldErr("target_port", fmt.Sprint(r.TargetPort))
	}
	if r.TargetHost != "" && strings.ContainsAny(r.TargetHost, " \t\r\n") {
		return fieldErr("target_host", r.TargetHost)
	}
	if r.Protocol != "" && !validProtocols[r.Protocol] {
		return fieldErr("protocol", r.Protocol)
	}
	if r.Subsystem != "" && !validSubsystems[r.Subsystem] {
		return fieldErr("subsystem", r.Subsystem)
	}
	if r.Status != "" && !validStatuses[r.Status] {
		return fieldErr("status", r.Status)
	}
	if r.DurationMs < 0 {
		return fieldErr("duration_ms", fmt.Sprint(r.DurationMs))
	}
	if r.BytesIn < 0 {
		return fieldErr("bytes_in", fmt.Sprint(r.BytesIn))
	}
	if r.BytesOut < 0 {
		return fieldErr("bytes_out", fmt.Sprint(r.BytesOut))
	}
	for _, id := range []struct{ name, v string }{
		{"session_id", r.SessionID},
		{"request_id", r.RequestID},
		{"connection_id", r.ConnectionID},
	} {
		if id.v != "" && strings.ContainsAny(id.v, " \t\r\n") {
			return fieldErr(id.name, id.v)
		}
	}
	return nil
}

func fieldErr(field, value string) error {
	return gwerrors.Newf(gwerrors.KindValidation, "invalid_log_context",
		"invalid value %q for log context field %s", value, field)
}

// Format renders the record as a single JSON line.
func (r *Record) Format() ([]byte, error) {
	if r.TS.IsZero() {
		r.TS = time.Now().UTC()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindUnknown, "log_marshal", "marshal log record", err)
	}
	return b, nil
}
