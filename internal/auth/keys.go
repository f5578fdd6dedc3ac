// Package auth implements the authentication pipeline: credential sources
// consulted in priority order, the method policy, private-key inspection,
// and the keyboard-interactive relay between the SSH server and the
// browser.
package auth

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// Recognized PEM armors for SSH private keys.
var keyHeaderPattern = regexp.MustCompile(
	`-----BEGIN (OPENSSH|RSA|EC|DSA|ENCRYPTED)? ?PRIVATE KEY-----`)

// ValidPrivateKey reports whether the text looks like a PEM-framed private
// key of a recognized format. It does not attempt to parse the key; parse
// errors surface later from the SSH service with better context.
func ValidPrivateKey(key string) bool {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return false
	}
	if !keyHeaderPattern.MatchString(trimmed) {
		return false
	}
	return strings.Contains(trimmed, "-----END")
}

// IsEncryptedKey detects whether a private key requires a passphrase:
// legacy PEM encryption headers, a PKCS#8 encrypted envelope, or an
// OpenSSH-format key whose KDF/cipher block names bcrypt or a cipher.
func IsEncryptedKey(key string) bool {
	if strings.Contains(key, "Proc-Type: 4,ENCRYPTED") {
		return true
	}
	if strings.Contains(key, "ENCRYPTED PRIVATE KEY") {
		return true
	}
	if strings.Contains(key, "BEGIN OPENSSH PRIVATE KEY") {
		return opensshKeyEncrypted(key)
	}
	return false
}

// opensshKeyEncrypted decodes the base64 body far enough to inspect the
// ciphername/kdfname fields near the head of the blob.
func opensshKeyEncrypted(key string) bool {
	var b64 strings.Builder
	inBody := false
	for _, line := range strings.Split(key, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-----BEGIN") {
			inBody = true
			continue
		}
		if strings.HasPrefix(line, "-----END") {
			break
		}
		if inBody {
			b64.WriteString(line)
		}
		// The cipher and KDF names sit in the first ~100 bytes.
		if b64.Len() > 256 {
			break
		}
	}
	raw, err := base64.StdEncoding.DecodeString(b64.String())
	if err != nil || len(raw) == 0 {
		// Fall back to a text scan on the armored body.
		raw = []byte(key)
	}
	head := strings.ToLower(string(raw))
	return strings.Contains(head, "bcrypt") ||
		strings.Contains(head, "aes") ||
		strings.Contains(head, "3des")
}
