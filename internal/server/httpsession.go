package server

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webssh2/webssh2/internal/gwerrors"
	"github.com/webssh2/webssh2/internal/sshsvc"
)

const sessionSweepInterval = 60 * time.Second

// seededEntry is one set of credentials parked between an HTTP route and
// the WebSocket upgrade that consumes it. The password is sealed at rest.
type seededEntry struct {
	creds    sshsvc.Credentials
	sealed   string // AES-256-GCM sealed password, hex
	provider string
	env      map[string]string
	expires  time.Time
}

// HTTPSessions is the in-process ephemeral session store. Entries expire
// after the configured TTL; a periodic sweep plus lazy eviction on Take
// keeps the map bounded.
type HTTPSessions struct {
	key [32]byte
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]seededEntry
	done    chan struct{}
	once    sync.Once
}

// NewHTTPSessions derives the sealing key from the session secret and
// starts the expiration sweep.
func NewHTTPSessions(secret string, ttl time.Duration) *HTTPSessions {
	s := &HTTPSessions{
		key:     sha256.Sum256([]byte(secret)),
		ttl:     ttl,
		entries: make(map[string]seededEntry),
		done:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Put parks credentials and returns the cookie value identifying them.
// env entries seed the terminal environment of the session.
func (s *HTTPSessions) Put(creds sshsvc.Credentials, provider string, env map[string]string) (string, error) {
	sealed, err := s.seal(creds.Password)
	if err != nil {
		return "", err
	}
	creds.Password = ""

	id := uuid.NewString()
	s.mu.Lock()
	s.entries[id] = seededEntry{
		creds:    creds,
		sealed:   sealed,
		provider: provider,
		env:      env,
		expires:  time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	return id, nil
}

// Take consumes the entry for id. Expired entries are evicted on access.
func (s *HTTPSessions) Take(id string) (*sshsvc.Credentials, string, map[string]string, bool) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, "", nil, false
	}

	password, err := s.open(entry.sealed)
	if err != nil {
		return nil, "", nil, false
	}
	creds := entry.creds
	creds.Password = password
	return &creds, entry.provider, entry.env, true
}

// Len reports the live entry count.
func (s *HTTPSessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the sweep loop.
func (s *HTTPSessions) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *HTTPSessions) sweepLoop() {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.mu.Lock()
			for id, entry := range s.entries {
				if now.After(entry.expires) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// seal encrypts a password with AES-256-GCM. Output is hex of
// nonce || ciphertext || tag; empty input stays empty.
func (s *HTTPSessions) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return "", fmt.Errorf("server: seal: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("server: seal: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("server: seal: %w", err)
	}
	return hex.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (s *HTTPSessions) open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("server: open sealed value: %w", err)
	}
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return "", fmt.Errorf("server: open sealed value: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("server: open sealed value: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", gwerrors.New(gwerrors.KindValidation, "sealed_too_short",
			"sealed value shorter than nonce")
	}
	plaintext, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("server: open sealed value: %w", err)
	}
	return string(plaintext), nil
}
