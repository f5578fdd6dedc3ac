package logging

import (
	"strings"
	"testing"
	"time"

	"github.com/webssh2/webssh2/internal/config"
	"github.com/webssh2/webssh2/internal/gwerrors"
)

func TestNewSyslogTransport_RejectsUnknownFacility(t *testing.T) {
	_, err := NewSyslogTransport(config.SyslogConfig{Facility: "local9"})
	if gwerrors.CodeOf(err) != "invalid_facility" {
		t.Errorf("error = %v, want invalid_facility", err)
	}
}

func TestFormatSyslogFrame(t *testing.T) {
	rec := &Record{
		TS:        time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Level:     LevelInfo,
		Event:     EventSessionStart,
		Message:   "session started",
		SessionID: "s1",
		Username:  "alice",
	}
	frame := FormatSyslogFrame(rec, 16, "gw01", "webssh2", 4242, "32473", false, nil)

	// local0.info = 16*8 + 6 = 134
	if !strings.HasPrefix(frame, "<134>1 2026-03-14T09:26:53Z gw01 webssh2 4242 session_start ") {
		t.Fatalf("header = %q", frame)
	}
	if !strings.Contains(frame, `[webssh2@32473 event="session_start" session_id="s1" username="alice"]`) {
		t.Errorf("structured data = %q", frame)
	}
	if !strings.HasSuffix(frame, " session started") {
		t.Errorf("msg part = %q", frame)
	}
}

func TestFormatSyslogFrame_Severities(t *testing.T) {
	for level, want := range map[Level]string{
		LevelDebug: "<167>1", // local4.debug = 20*8+7
		LevelWarn:  "<164>1",
		LevelError: "<163>1",
	} {
		rec := &Record{Level: level, Event: EventSSHError}
		frame := FormatSyslogFrame(rec, 20, "h", "app", 1, "1", false, nil)
		if !strings.HasPrefix(frame, want) {
			t.Errorf("level %s frame = %q, want prefix %s", level, frame, want)
		}
	}
}

func TestFormatSyslogFrame_EscapesSDParams(t *testing.T) {
	rec := &Record{
		Level:    LevelInfo,
		Event:    EventAuthFailure,
		Username: `ali"ce]\`,
	}
	frame := FormatSyslogFrame(rec, 16, "h", "app", 1, "32473", false, nil)
	if !strings.Contains(frame, `username="ali\"ce\]\\"`) {
		t.Errorf("escaping wrong: %q", frame)
	}
}

func TestFormatSyslogFrame_IncludeJSONUsesLine(t *testing.T) {
	rec := &Record{Level: LevelInfo, Event: EventSessionEnd, Message: "plain"}
	line := []byte(`{"event":"session_end"}`)
	frame := FormatSyslogFrame(rec, 16, "h", "app", 1, "1", true, line)
	if !strings.HasSuffix(frame, `{"event":"session_end"}`) {
		t.Errorf("JSON payload missing: %q", frame)
	}
	if strings.Contains(frame, " plain") {
		t.Errorf("message used despite includeJSON: %q", frame)
	}
}

func TestFormatSyslogFrame_Defaults(t *testing.T) {
	rec := &Record{Level: "bogus", Event: ""}
	frame := FormatSyslogFrame(rec, 16, "h", "", 1, "1", false, nil)
	// Unknown level falls back to info severity; empty event becomes "-".
	if !strings.HasPrefix(frame, "<134>1 ") {
		t.Errorf("severity fallback: %q", frame)
	}
	if !strings.Contains(frame, " h webssh2 1 - [") {
		t.Errorf("defaults: %q", frame)
	}
}
