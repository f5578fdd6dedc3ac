package sshsvc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"syscall"

	"github.com/webssh2/webssh2/internal/gwerrors"
	"github.com/webssh2/webssh2/internal/validation"
)

// dockerDNSHint is appended to DNS failures; the most common cause in
// container deployments is a missing network alias or resolver.
const dockerDNSHint = "If the gateway runs in Docker, verify the container's DNS " +
	"configuration and that the target hostname resolves from inside the network."

var errnoPattern = regexp.MustCompile(`\b(E[A-Z]{2,})\b`)

var networkCodes = map[string]bool{
	"ENOTFOUND":    true,
	"ECONNREFUSED": true,
	"ENETUNREACH":  true,
}

var timeoutCodes = map[string]bool{
	"ETIMEDOUT":  true,
	"ECONNRESET": true,
}

// NormalizeError turns an SSH/dial failure into a typed gateway error with
// a stable kind and a human-presentable message. Classification order:
// DNS -> network -> timeout -> auth -> unknown.
func NormalizeError(err error, host string) *gwerrors.Error {
	if err == nil {
		return nil
	}
	var ge *gwerrors.Error
	if errors.As(err, &ge) {
		return ge
	}

	message := errorMessage(err)
	code := extractErrno(err, message)

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || code == "ENOTFOUND" {
		return gwerrors.Wrap(gwerrors.KindNetwork, "dns_failed", enhanceDNSMessage(host), err)
	}

	switch {
	case networkCodes[code]:
		return gwerrors.Wrap(gwerrors.KindNetwork, strings.ToLower(code), message, err)
	case timeoutCodes[code],
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		isTimeout(err),
		strings.Contains(strings.ToLower(message), "timeout"),
		strings.Contains(strings.ToLower(message), "etimedout"):
		return gwerrors.Wrap(gwerrors.KindTimeout, "timeout", message, err)
	case isAuthFailure(message):
		return gwerrors.Wrap(gwerrors.KindAuth, "auth_failed", message, err)
	}
	return gwerrors.Wrap(gwerrors.KindUnknown, "unknown", message, err)
}

// errorMessage extracts the best available description: the message, then
// an embedded errno code, then the error's type name.
func errorMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg != "" {
		return msg
	}
	if code := extractErrno(err, ""); code != "" {
		return code
	}
	return fmt.Sprintf("%T", err)
}

// extractErrno finds an errno-style code either on the error chain or
// embedded in the message text (e.g. "AggregateError [ECONNREFUSED]").
func extractErrno(err error, message string) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return "ECONNREFUSED"
		case syscall.ENETUNREACH:
			return "ENETUNREACH"
		case syscall.ETIMEDOUT:
			return "ETIMEDOUT"
		case syscall.ECONNRESET:
			return "ECONNRESET"
		case syscall.EHOSTUNREACH:
			return "ENETUNREACH"
		}
	}
	if m := errnoPattern.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	return ""
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func isAuthFailure(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "unable to authenticate") ||
		strings.Contains(lower, "client-authentication") ||
		strings.Contains(lower, "no supported methods remain") ||
		strings.Contains(lower, "permission denied")
}

// enhanceDNSMessage builds the user-facing message for a resolution
// failure, sanitizing the hostname before echoing it.
func enhanceDNSMessage(host string) string {
	return fmt.Sprintf("DNS resolution failed for '%s'. %s",
		validation.SanitizeHostname(host), dockerDNSHint)
}

// negotiationFailure parses an x/crypto/ssh "no common algorithm" message
// and feeds the server-side offer into the capture.
//
// Message shape: `ssh: handshake failed: ssh: no common algorithm for key
// exchange; client offered: [a b], server offered: [c d]`.
var negotiationPattern = regexp.MustCompile(
	`no common algorithm for ([^;]+); client offered: \[([^\]]*)\], server offered: \[([^\]]*)\]`)

var negotiationCategories = map[string]string{
	"key exchange":                 CategoryKex,
	"host key":                     CategoryHostKey,
	"client to server cipher":      CategoryCipher,
	"server to client cipher":      CategoryCipher,
	"client to server MAC":         CategoryMAC,
	"server to client MAC":         CategoryMAC,
	"client to server compression": CategoryCompression,
	"server to client compression": CategoryCompression,
}

func observeNegotiationFailure(capture *Capture, err error) {
	if capture == nil || err == nil {
		return
	}
	m := negotiationPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return
	}
	category, ok := negotiationCategories[strings.TrimSpace(m[1])]
	if !ok {
		return
	}
	capture.RecordServer(category, strings.Fields(m[3]))
}
