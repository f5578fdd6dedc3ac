// Package validation holds the shared validators for inbound client input:
// hosts, ports, terminal dimensions, environment maps, and subnet allow-lists.
//
// Validators return gwerrors with KindValidation so the socket adapter can
// surface them as ssherror events without tearing the session down.
package validation

import (
	"html"
	"net"
	"regexp"
	"strings"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

const (
	MinPort = 1
	MaxPort = 65535

	MinDimension = 1
	MaxDimension = 9999

	MaxEnvPairs       = 50
	MaxEnvKeyLength   = 256
	MaxEnvValueLength = 10000

	maxHostnameLength = 253
)

var (
	envKeyPattern     = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
	hostnameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	envValueForbidden = ";&|`$"
)

// Port validates a TCP port number.
func Port(port int) error {
	if port < MinPort || port > MaxPort {
		return gwerrors.Newf(gwerrors.KindValidation, "invalid_port",
			"port %d out of range [%d, %d]", port, MinPort, MaxPort)
	}
	return nil
}

// Host validates and normalizes a target host. IP addresses pass through
// unchanged; hostnames are returned trimmed. The escaped form is only for
// defensive logging, never for dialing.
func Host(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", gwerrors.New(gwerrors.KindValidation, "invalid_host", "host must not be empty")
	}
	return host, nil
}

// EscapeHostForLog returns a log-safe representation of a host. IP literals
// are returned verbatim; anything else is HTML-escaped.
func EscapeHostForLog(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	return html.EscapeString(host)
}

// SanitizeHostname strips every character outside [a-zA-Z0-9.-] and caps the
// result at 253 characters, for embedding a hostname in error messages.
func SanitizeHostname(host string) string {
	s := hostnameSanitizer.ReplaceAllString(host, "")
	if len(s) > maxHostnameLength {
		s = s[:maxHostnameLength]
	}
	return s
}

// Dimension validates a terminal row or column count.
func Dimension(v int) error {
	if v < MinDimension || v > MaxDimension {
		return gwerrors.Newf(gwerrors.KindValidation, "invalid_dimension",
			"dimension %d out of range [%d, %d]", v, MinDimension, MaxDimension)
	}
	return nil
}

// EnvVars filters an environment map down to the entries that pass the
// naming and value rules. Invalid or excess entries are dropped, never
// rejected wholesale: a bad env var must not kill the terminal request.
func EnvVars(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if len(out) >= MaxEnvPairs {
			break
		}
		if !ValidEnvKey(k) || !ValidEnvValue(v) {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ValidEnvKey reports whether name is an acceptable environment variable name.
func ValidEnvKey(name string) bool {
	if name == "" || len(name) > MaxEnvKeyLength {
		return false
	}
	return envKeyPattern.MatchString(name)
}

// ValidEnvValue reports whether v is free of shell metacharacters.
func ValidEnvValue(v string) bool {
	if len(v) > MaxEnvValueLength {
		return false
	}
	return !strings.ContainsAny(v, envValueForbidden)
}
