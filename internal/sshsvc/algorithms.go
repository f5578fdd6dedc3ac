// Package sshsvc wraps the SSH client: connection establishment, shell and
// exec channels, algorithm negotiation capture, and error normalization.
package sshsvc

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/webssh2/webssh2/internal/config"
)

// AlgorithmSet holds the five negotiated-algorithm categories.
type AlgorithmSet struct {
	Kex           []string
	ServerHostKey []string
	Cipher        []string
	MAC           []string
	Compress      []string
}

// Preset names, strongest first. A stronger preset trades compatibility
// for security.
const (
	PresetStrict = "strict"
	PresetModern = "modern"
	PresetLegacy = "legacy"
)

var presetOrder = []string{PresetStrict, PresetModern, PresetLegacy}

var presets = map[string]AlgorithmSet{
	PresetStrict: {
		Kex: []string{"curve25519-sha256", "curve25519-sha256@libssh.org"},
		Cipher: []string{
			"chacha20-poly1305@openssh.com",
			"aes256-gcm@openssh.com",
			"aes128-gcm@openssh.com",
		},
		MAC: []string{
			"hmac-sha2-512-etm@openssh.com",
			"hmac-sha2-256-etm@openssh.com",
		},
		ServerHostKey: []string{"ssh-ed25519", "rsa-sha2-512", "rsa-sha2-256"},
		Compress:      []string{"none"},
	},
	PresetModern: {
		Kex: []string{
			"curve25519-sha256", "curve25519-sha256@libssh.org",
			"ecdh-sha2-nistp256", "ecdh-sha2-nistp384", "ecdh-sha2-nistp521",
			"diffie-hellman-group16-sha512",
		},
		Cipher: []string{
			"chacha20-poly1305@openssh.com",
			"aes256-gcm@openssh.com", "aes128-gcm@openssh.com",
			"aes256-ctr", "aes192-ctr", "aes128-ctr",
		},
		MAC: []string{
			"hmac-sha2-512-etm@openssh.com", "hmac-sha2-256-etm@openssh.com",
			"hmac-sha2-512", "hmac-sha2-256",
		},
		ServerHostKey: []string{
			"ssh-ed25519", "rsa-sha2-512", "rsa-sha2-256",
			"ecdsa-sha2-nistp256", "ecdsa-sha2-nistp384", "ecdsa-sha2-nistp521",
		},
		Compress: []string{"none"},
	},
	PresetLegacy: {
		Kex: []string{
			"curve25519-sha256", "curve25519-sha256@libssh.org",
			"ecdh-sha2-nistp256", "ecdh-sha2-nistp384", "ecdh-sha2-nistp521",
			"diffie-hellman-group16-sha512",
			"diffie-hellman-group14-sha256", "diffie-hellman-group14-sha1",
		},
		Cipher: []string{
			"chacha20-poly1305@openssh.com",
			"aes256-gcm@openssh.com", "aes128-gcm@openssh.com",
			"aes256-ctr", "aes192-ctr", "aes128-ctr",
			"aes128-cbc", "3des-cbc",
		},
		MAC: []string{
			"hmac-sha2-512-etm@openssh.com", "hmac-sha2-256-etm@openssh.com",
			"hmac-sha2-512", "hmac-sha2-256", "hmac-sha1",
		},
		ServerHostKey: []string{
			"ssh-ed25519", "rsa-sha2-512", "rsa-sha2-256",
			"ecdsa-sha2-nistp256", "ecdsa-sha2-nistp384", "ecdsa-sha2-nistp521",
			"ssh-rsa",
		},
		Compress: []string{"none"},
	},
}

// PresetSet returns the algorithm set for a preset name (modern when the
// name is unknown).
func PresetSet(name string) AlgorithmSet {
	if s, ok := presets[name]; ok {
		return s
	}
	return presets[PresetModern]
}

// ResolveAlgorithms applies per-category overrides on top of the preset.
func ResolveAlgorithms(cfg config.AlgorithmsConfig) AlgorithmSet {
	set := PresetSet(cfg.Preset)
	if len(cfg.Kex) > 0 {
		set.Kex = cfg.Kex
	}
	if len(cfg.Cipher) > 0 {
		set.Cipher = cfg.Cipher
	}
	if len(cfg.Mac) > 0 {
		set.MAC = cfg.Mac
	}
	if len(cfg.ServerHostKey) > 0 {
		set.ServerHostKey = cfg.ServerHostKey
	}
	if len(cfg.Compress) > 0 {
		set.Compress = cfg.Compress
	}
	return set
}

// Category names used by the capture observer.
const (
	CategoryKex         = "kex"
	CategoryHostKey     = "serverHostKey"
	CategoryCipher      = "cipher"
	CategoryMAC         = "mac"
	CategoryCompression = "compress"
)

var allCategories = []string{
	CategoryKex, CategoryHostKey, CategoryCipher, CategoryMAC, CategoryCompression,
}

// envVarByCategory maps a category to its override environment variable.
var envVarByCategory = map[string]string{
	CategoryKex:         "WEBSSH2_SSH_ALGORITHMS_KEX",
	CategoryHostKey:     "WEBSSH2_SSH_ALGORITHMS_SERVER_HOST_KEY",
	CategoryCipher:      "WEBSSH2_SSH_ALGORITHMS_CIPHER",
	CategoryMAC:         "WEBSSH2_SSH_ALGORITHMS_MAC",
	CategoryCompression: "WEBSSH2_SSH_ALGORITHMS_COMPRESS",
}

// debugCategories maps the handshake debug-line category labels to the
// canonical category names.
var debugCategories = map[string]string{
	"KEX method":       CategoryKex,
	"Host key format":  CategoryHostKey,
	"C->S cipher":      CategoryCipher,
	"C->S MAC":         CategoryMAC,
	"C->S compression": CategoryCompression,
}

var handshakeLine = regexp.MustCompile(`^Handshake:\s+(local|remote)\s+(.+?):\s*(.*)$`)

// Capture records the algorithm lists both sides offered during one
// handshake. First occurrence per (source, category) wins; later lines for
// the same pair are ignored.
type Capture struct {
	mu     sync.Mutex
	client map[string][]string
	server map[string][]string
}

// NewCapture returns an empty capture.
func NewCapture() *Capture {
	return &Capture{
		client: make(map[string][]string),
		server: make(map[string][]string),
	}
}

// RecordClient stores the full set the gateway offered.
func (c *Capture) RecordClient(set AlgorithmSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(c.client, CategoryKex, set.Kex)
	c.record(c.client, CategoryHostKey, set.ServerHostKey)
	c.record(c.client, CategoryCipher, set.Cipher)
	c.record(c.client, CategoryMAC, set.MAC)
	c.record(c.client, CategoryCompression, set.Compress)
}

// ObserveDebugLine parses one transport debug line of the form
// "Handshake: (local|remote) <category>: <csv>".
func (c *Capture) ObserveDebugLine(line string) {
	m := handshakeLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return
	}
	category, ok := debugCategories[strings.TrimSpace(m[2])]
	if !ok {
		return
	}
	algs := splitCSV(m[3])
	c.mu.Lock()
	defer c.mu.Unlock()
	if m[1] == "local" {
		c.record(c.client, category, algs)
	} else {
		c.record(c.server, category, algs)
	}
}

// RecordServer stores one server-side category list (e.g. parsed from a
// negotiation failure message).
func (c *Capture) RecordServer(category string, algs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(c.server, category, algs)
}

func (c *Capture) record(side map[string][]string, category string, algs []string) {
	if len(algs) == 0 {
		return
	}
	if _, exists := side[category]; exists {
		return
	}
	side[category] = algs
}

// Client returns the captured client-side set.
func (c *Capture) Client() AlgorithmSet { return c.snapshot(true) }

// Server returns the captured server-side set.
func (c *Capture) Server() AlgorithmSet { return c.snapshot(false) }

func (c *Capture) snapshot(client bool) AlgorithmSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	side := c.server
	if client {
		side = c.client
	}
	return AlgorithmSet{
		Kex:           append([]string(nil), side[CategoryKex]...),
		ServerHostKey: append([]string(nil), side[CategoryHostKey]...),
		Cipher:        append([]string(nil), side[CategoryCipher]...),
		MAC:           append([]string(nil), side[CategoryMAC]...),
		Compress:      append([]string(nil), side[CategoryCompression]...),
	}
}

// CategoryMismatch names one category with no common algorithm.
type CategoryMismatch struct {
	Category string
	Client   []string
	Server   []string
}

// AlgorithmAnalysis is the diagnosis produced when negotiation found an
// empty intersection in at least one category.
type AlgorithmAnalysis struct {
	Mismatches      []CategoryMismatch
	HasAnyMismatch  bool
	SuggestedPreset string
	EnvSuggestions  []string
}

// Analyze diagnoses the captured lists. Returns nil when every populated
// category has a non-empty intersection.
func (c *Capture) Analyze() *AlgorithmAnalysis {
	c.mu.Lock()
	defer c.mu.Unlock()

	var analysis AlgorithmAnalysis
	for _, cat := range allCategories {
		clientAlgs := c.client[cat]
		serverAlgs := c.server[cat]
		if len(clientAlgs) == 0 || len(serverAlgs) == 0 {
			continue
		}
		if intersects(clientAlgs, serverAlgs) {
			continue
		}
		analysis.HasAnyMismatch = true
		analysis.Mismatches = append(analysis.Mismatches, CategoryMismatch{
			Category: cat,
			Client:   append([]string(nil), clientAlgs...),
			Server:   append([]string(nil), serverAlgs...),
		})
		analysis.EnvSuggestions = append(analysis.EnvSuggestions,
			fmt.Sprintf("%s=%s", envVarByCategory[cat], serverAlgs[0]))
	}
	if !analysis.HasAnyMismatch {
		return nil
	}
	analysis.SuggestedPreset = suggestPreset(c.server)
	return &analysis
}

// suggestPreset picks the strongest preset whose lists intersect the
// server's offer in every captured category.
func suggestPreset(server map[string][]string) string {
	for _, name := range presetOrder {
		set := presets[name]
		byCat := map[string][]string{
			CategoryKex:         set.Kex,
			CategoryHostKey:     set.ServerHostKey,
			CategoryCipher:      set.Cipher,
			CategoryMAC:         set.MAC,
			CategoryCompression: set.Compress,
		}
		covered := true
		for cat, serverAlgs := range server {
			if len(serverAlgs) == 0 {
				continue
			}
			if !intersects(byCat[cat], serverAlgs) {
				covered = false
				break
			}
		}
		if covered {
			return name
		}
	}
	return ""
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	for _, y := range b {
		if set[y] {
			return true
		}
	}
	return false
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
