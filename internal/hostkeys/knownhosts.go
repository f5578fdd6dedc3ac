package hostkeys

import (
	"bufio"
	"encoding/base64"
	"os"
	"strings"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// SeedFromKnownHosts imports the entries of an OpenSSH known_hosts file
// into the trust store, skipping hashed, revoked, and already-present
// entries. Returns the number of rows inserted.
func (s *Store) SeedFromKnownHosts(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, gwerrors.Wrap(gwerrors.KindConfig, "known_hosts_open",
			"open known_hosts file", err)
	}
	defer f.Close()

	inserted := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "@") {
			continue
		}
		_, hosts, key, comment, _, err := cryptossh.ParseKnownHosts([]byte(line))
		if err != nil {
			continue // tolerate malformed lines the way OpenSSH does
		}
		encoded := base64.StdEncoding.EncodeToString(key.Marshal())
		for _, h := range hosts {
			if strings.HasPrefix(h, "|") {
				continue // hashed entries cannot be mapped to (host, port)
			}
			host, port := splitKnownHostsAddr(h)
			verdict, _, err := s.Lookup(host, port, key.Type(), encoded)
			if err != nil {
				return inserted, err
			}
			if verdict == VerdictTrusted {
				continue
			}
			if err := s.Insert(HostKey{
				Host:      host,
				Port:      port,
				Algorithm: key.Type(),
				Key:       encoded,
				Comment:   strings.TrimSpace("known_hosts " + comment),
			}); err != nil {
				return inserted, err
			}
			inserted++
		}
	}
	if err := scanner.Err(); err != nil {
		return inserted, gwerrors.Wrap(gwerrors.KindConfig, "known_hosts_read",
			"read known_hosts file", err)
	}
	return inserted, nil
}

// splitKnownHostsAddr maps a known_hosts host pattern to (host, port) via
// the same normalization OpenSSH applies ("[host]:port" for non-22 ports).
func splitKnownHostsAddr(h string) (string, int) {
	normalized := knownhosts.Normalize(h)
	if strings.HasPrefix(normalized, "[") {
		return splitHostPort(strings.NewReplacer("[", "", "]", "").Replace(normalized))
	}
	return normalized, 22
}
