package validation

import (
	"strings"
	"testing"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

func TestPort(t *testing.T) {
	for _, p := range []int{1, 22, 65535} {
		if err := Port(p); err != nil {
			t.Errorf("Port(%d): %v", p, err)
		}
	}
	for _, p := range []int{0, -1, 65536} {
		err := Port(p)
		if gwerrors.KindOf(err) != gwerrors.KindValidation {
			t.Errorf("Port(%d) = %v, want validation error", p, err)
		}
	}
}

func TestHost(t *testing.T) {
	got, err := Host("  db.internal  ")
	if err != nil || got != "db.internal" {
		t.Errorf("Host = (%q, %v), want trimmed", got, err)
	}
	if _, err := Host("   "); gwerrors.CodeOf(err) != "invalid_host" {
		t.Errorf("empty host error = %v", err)
	}
}

func TestEscapeHostForLog(t *testing.T) {
	if got := EscapeHostForLog("192.168.1.1"); got != "192.168.1.1" {
		t.Errorf("IP literal escaped: %q", got)
	}
	if got := EscapeHostForLog("<script>"); got == "<script>" {
		t.Error("hostname not escaped for logging")
	}
}

func TestSanitizeHostname(t *testing.T) {
	if got := SanitizeHostname("evil;rm -rf.example.com"); got != "evilrm-rf.example.com" {
		t.Errorf("sanitized = %q", got)
	}
	long := strings.Repeat("a", 300)
	if got := SanitizeHostname(long); len(got) != 253 {
		t.Errorf("length = %d, want 253", len(got))
	}
}

func TestDimension(t *testing.T) {
	for _, v := range []int{1, 24, 9999} {
		if err := Dimension(v); err != nil {
			t.Errorf("Dimension(%d): %v", v, err)
		}
	}
	for _, v := range []int{0, -5, 10000} {
		if err := Dimension(v); err == nil {
			t.Errorf("Dimension(%d) accepted", v)
		}
	}
}

func TestEnvVars_FiltersInvalidEntries(t *testing.T) {
	env := EnvVars(map[string]string{
		"LANG":      "en_US.UTF-8",
		"bad-key":   "x",
		"lowercase": "x",
		"EVIL":      "rm;ls",
		"_OK":       "underscore leading",
	})
	if _, ok := env["LANG"]; !ok {
		t.Error("valid entry dropped")
	}
	if _, ok := env["_OK"]; !ok {
		t.Error("underscore-leading key dropped")
	}
	for _, k := range []string{"bad-key", "lowercase", "EVIL"} {
		if _, ok := env[k]; ok {
			t.Errorf("invalid entry %q kept", k)
		}
	}
}

func TestEnvVars_EmptyAndAllInvalid(t *testing.T) {
	if env := EnvVars(nil); env != nil {
		t.Errorf("EnvVars(nil) = %v", env)
	}
	if env := EnvVars(map[string]string{"bad key": "v"}); env != nil {
		t.Errorf("all-invalid map = %v, want nil", env)
	}
}

func TestEnvVars_CapsPairCount(t *testing.T) {
	env := make(map[string]string)
	for i := 0; i < MaxEnvPairs+10; i++ {
		env["VAR_"+strings.Repeat("A", i+1)] = "v"
	}
	if got := len(EnvVars(env)); got > MaxEnvPairs {
		t.Errorf("kept %d pairs, cap is %d", got, MaxEnvPairs)
	}
}

func TestValidEnvValue(t *testing.T) {
	if !ValidEnvValue("plain value with spaces") {
		t.Error("plain value rejected")
	}
	for _, v := range []string{"a;b", "a&b", "a|b", "a`b", "a$b"} {
		if ValidEnvValue(v) {
			t.Errorf("metacharacter value %q accepted", v)
		}
	}
	if ValidEnvValue(strings.Repeat("x", MaxEnvValueLength+1)) {
		t.Error("overlong value accepted")
	}
}
