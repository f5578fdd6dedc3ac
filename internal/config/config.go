// Package config loads and validates gateway configuration.
//
// Sources, in order of precedence:
//  1. Environment variables (WEBSSH2_*)
//  2. Configuration file (YAML, JSON, or TOML)
//  3. Built-in defaults
//
// A .env file in the working directory is loaded first so container
// deployments can ship overrides alongside the binary. Array-valued
// settings accept either JSON ("[\"a\",\"b\"]") or comma-separated strings.
package config

import (
	"encoding/json"
	"strings"
	"time"
)

// Config is the root configuration tree. Keys use snake_case in files and
// map to WEBSSH2_-prefixed environment variables, e.g.
// ssh.ready_timeout_ms -> WEBSSH2_SSH_READY_TIMEOUT_MS.
type Config struct {
	Listen              ListenConfig  `mapstructure:"listen"`
	HTTP                HTTPConfig    `mapstructure:"http"`
	SSH                 SSHConfig     `mapstructure:"ssh"`
	SFTP                SFTPConfig    `mapstructure:"sftp"`
	HostKeyVerification HostKeyConfig `mapstructure:"host_key_verification"`
	Options             OptionsConfig `mapstructure:"options"`
	Session             SessionConfig `mapstructure:"session"`
	SSO                 SSOConfig     `mapstructure:"sso"`
	Logging             LoggingConfig `mapstructure:"logging"`
}

// ListenConfig is the HTTP listen address.
type ListenConfig struct {
	IP   string `mapstructure:"ip" validate:"required"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// HTTPConfig covers the HTTP surface.
type HTTPConfig struct {
	// Origins allowed to open WebSocket connections, "host:port" with
	// wildcards ("*:*" allows all).
	Origins []string `mapstructure:"origins"`
}

// SSHConfig controls outbound SSH connections.
type SSHConfig struct {
	Port                 int              `mapstructure:"port" validate:"min=1,max=65535"`
	Term                 string           `mapstructure:"term"`
	ReadyTimeoutMs       int              `mapstructure:"ready_timeout_ms" validate:"min=1"`
	KeepaliveIntervalMs  int              `mapstructure:"keepalive_interval_ms" validate:"min=0"`
	KeepaliveCountMax    int              `mapstructure:"keepalive_count_max" validate:"min=0"`
	Algorithms           AlgorithmsConfig `mapstructure:"algorithms"`
	AllowedSubnets       []string         `mapstructure:"allowed_subnets"`
	AllowedAuthMethods   []string         `mapstructure:"allowed_auth_methods"`
	MaxAuthAttempts      int              `mapstructure:"max_auth_attempts" validate:"min=1"`
	ForwardAllKbdPrompts bool             `mapstructure:"forward_all_keyboard_interactive_prompts"`
}

// AlgorithmsConfig selects the cipher suites offered to SSH servers.
// Preset picks a named bundle; the per-category lists override individual
// categories when non-empty (WEBSSH2_SSH_ALGORITHMS_KEX etc.).
type AlgorithmsConfig struct {
	Preset        string   `mapstructure:"preset" validate:"oneof=strict modern legacy"`
	Kex           []string `mapstructure:"kex"`
	Cipher        []string `mapstructure:"cipher"`
	Mac           []string `mapstructure:"mac"`
	ServerHostKey []string `mapstructure:"server_host_key"`
	Compress      []string `mapstructure:"compress"`
}

// SFTPConfig bounds file transfers.
type SFTPConfig struct {
	MaxFileSize int64 `mapstructure:"max_file_size" validate:"min=1"`
	ChunkSize   int   `mapstructure:"chunk_size" validate:"min=1024"`
}

// HostKeyConfig controls host-key verification.
type HostKeyConfig struct {
	Enabled          bool            `mapstructure:"enabled"`
	Mode             string          `mapstructure:"mode" validate:"oneof=server client hybrid"`
	UnknownKeyAction string          `mapstructure:"unknown_key_action" validate:"oneof=prompt reject accept"`
	KnownHostsFile   string          `mapstructure:"known_hosts_file"`
	ServerStore      HostKeyStoreCfg `mapstructure:"server_store"`
	ClientStore      HostKeyStoreCfg `mapstructure:"client_store"`
}

// HostKeyStoreCfg enables one side of the hybrid trust model. Enabled is a
// tri-state so "unset" can fall back to the mode default.
type HostKeyStoreCfg struct {
	Enabled *bool  `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// ServerStoreEnabled resolves the effective server-store flag for the mode.
func (c HostKeyConfig) ServerStoreEnabled() bool {
	if c.ServerStore.Enabled != nil {
		return *c.ServerStore.Enabled
	}
	return c.Mode == "server" || c.Mode == "hybrid"
}

// ClientStoreEnabled resolves the effective client-store flag for the mode.
func (c HostKeyConfig) ClientStoreEnabled() bool {
	if c.ClientStore.Enabled != nil {
		return *c.ClientStore.Enabled
	}
	return c.Mode == "client" || c.Mode == "hybrid"
}

// OptionsConfig holds the post-auth feature flags sent to clients.
type OptionsConfig struct {
	ChallengeButton bool `mapstructure:"challenge_button"`
	AutoLog         bool `mapstructure:"auto_log"`
	AllowReauth     bool `mapstructure:"allow_reauth"`
	AllowReconnect  bool `mapstructure:"allow_reconnect"`
	AllowReplay     bool `mapstructure:"allow_replay"`
	ReplayCRLF      bool `mapstructure:"replay_crlf"`
}

// SessionConfig controls the ephemeral HTTP session store.
type SessionConfig struct {
	Secret    string `mapstructure:"secret"`
	Name      string `mapstructure:"name" validate:"required"`
	MaxIdleMs int    `mapstructure:"max_idle_ms" validate:"min=1000"`
}

// MaxIdle returns the idle timeout as a duration.
func (c SessionConfig) MaxIdle() time.Duration {
	return time.Duration(c.MaxIdleMs) * time.Millisecond
}

// SSOConfig gates the single-sign-on entry point.
type SSOConfig struct {
	Enabled        bool             `mapstructure:"enabled"`
	CSRFProtection bool             `mapstructure:"csrf_protection"`
	TrustedProxies []string         `mapstructure:"trusted_proxies"`
	HeaderMapping  SSOHeaderMapping `mapstructure:"header_mapping"`
}

// SSOHeaderMapping names the headers carrying SSO-provided credentials.
type SSOHeaderMapping struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Session  string `mapstructure:"session"`
}

// LoggingConfig configures the structured logging pipeline.
type LoggingConfig struct {
	MinimumLevel string          `mapstructure:"minimum_level" validate:"oneof=debug info warn error"`
	Namespace    string          `mapstructure:"namespace"`
	Sampling     SamplingConfig  `mapstructure:"sampling"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
	Transports   []string        `mapstructure:"transports"`
	Stdout       StdoutConfig    `mapstructure:"stdout"`
	Syslog       SyslogConfig    `mapstructure:"syslog"`
}

// SamplingConfig sets the log sampling rates.
type SamplingConfig struct {
	DefaultSampleRate float64        `mapstructure:"default_sample_rate" validate:"min=0,max=1"`
	Rules             []SamplingRule `mapstructure:"rules"`
}

// SamplingRule overrides the sample rate for one event ("*" matches all).
type SamplingRule struct {
	Target     string  `mapstructure:"target"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// RateLimitConfig sets token-bucket rules for log events.
type RateLimitConfig struct {
	Rules []RateLimitRule `mapstructure:"rules"`
}

// RateLimitRule allows limit entries per interval for one event
// ("*" shares one bucket across all events).
type RateLimitRule struct {
	Target     string `mapstructure:"target"`
	Limit      int    `mapstructure:"limit" validate:"min=1"`
	IntervalMs int    `mapstructure:"interval_ms" validate:"min=1"`
}

// StdoutConfig bounds the stdout transport queue.
type StdoutConfig struct {
	MaxQueueSize int `mapstructure:"max_queue_size" validate:"min=1"`
}

// SyslogConfig configures the RFC 5424 syslog transport.
type SyslogConfig struct {
	Network      string `mapstructure:"network"`
	Address      string `mapstructure:"address"`
	Facility     string `mapstructure:"facility"`
	AppName      string `mapstructure:"app_name"`
	EnterpriseID string `mapstructure:"enterprise_id"`
	IncludeJSON  bool   `mapstructure:"include_json"`
}

// ReadyTimeout returns the SSH handshake timeout as a duration.
func (c SSHConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutMs) * time.Millisecond
}

// KeepaliveInterval returns the keepalive period as a duration.
func (c SSHConfig) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalMs) * time.Millisecond
}

// splitList parses an array value given as JSON or comma-separated text.
func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			return out
		}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
