package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// EnvPrefix is the environment variable namespace.
const EnvPrefix = "WEBSSH2"

// knownAuthMethods are the SSH auth method tokens accepted in
// ssh.allowed_auth_methods. Unknown tokens are warned about and dropped.
var knownAuthMethods = map[string]bool{
	"password":             true,
	"publickey":            true,
	"keyboard-interactive": true,
}

// Load reads configuration from defaults, an optional file, and the
// environment, then normalizes and validates the result.
func Load(path string) (*Config, error) {
	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindConfig, "config_file",
				fmt.Sprintf("read config file %q", path), err)
		}
	} else {
		v.SetConfigName("webssh2")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/webssh2")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, gwerrors.Wrap(gwerrors.KindConfig, "config_file", "read config file", err)
			}
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		stringToSliceHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindConfig, "config_decode", "decode configuration", err)
	}

	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.ip", "0.0.0.0")
	v.SetDefault("listen.port", 2222)

	v.SetDefault("http.origins", []string{"*:*"})

	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.term", "xterm-256color")
	v.SetDefault("ssh.ready_timeout_ms", 20000)
	v.SetDefault("ssh.keepalive_interval_ms", 120000)
	v.SetDefault("ssh.keepalive_count_max", 10)
	v.SetDefault("ssh.algorithms.preset", "modern")
	v.SetDefault("ssh.allowed_subnets", []string{})
	v.SetDefault("ssh.allowed_auth_methods", []string{"publickey", "password", "keyboard-interactive"})
	v.SetDefault("ssh.max_auth_attempts", 2)
	v.SetDefault("ssh.forward_all_keyboard_interactive_prompts", false)

	v.SetDefault("sftp.max_file_size", int64(100<<20))
	v.SetDefault("sftp.chunk_size", 32*1024)

	v.SetDefault("host_key_verification.enabled", false)
	v.SetDefault("host_key_verification.mode", "hybrid")
	v.SetDefault("host_key_verification.unknown_key_action", "prompt")
	v.SetDefault("host_key_verification.server_store.db_path", "webssh2_hostkeys.db")

	v.SetDefault("options.challenge_button", true)
	v.SetDefault("options.auto_log", false)
	v.SetDefault("options.allow_reauth", true)
	v.SetDefault("options.allow_reconnect", true)
	v.SetDefault("options.allow_replay", true)
	v.SetDefault("options.replay_crlf", false)

	v.SetDefault("session.name", "webssh2")
	v.SetDefault("session.max_idle_ms", 300000)

	v.SetDefault("sso.enabled", false)
	v.SetDefault("sso.csrf_protection", false)
	v.SetDefault("sso.trusted_proxies", []string{})
	v.SetDefault("sso.header_mapping.username", "x-forwarded-user")
	v.SetDefault("sso.header_mapping.password", "x-forwarded-password")
	v.SetDefault("sso.header_mapping.session", "x-forwarded-session")

	v.SetDefault("logging.minimum_level", "info")
	v.SetDefault("logging.namespace", "webssh2")
	v.SetDefault("logging.sampling.default_sample_rate", 1.0)
	v.SetDefault("logging.transports", []string{"stdout"})
	v.SetDefault("logging.stdout.max_queue_size", 1000)
	v.SetDefault("logging.syslog.network", "udp")
	v.SetDefault("logging.syslog.address", "127.0.0.1:514")
	v.SetDefault("logging.syslog.facility", "local0")
	v.SetDefault("logging.syslog.app_name", "webssh2")
	v.SetDefault("logging.syslog.enterprise_id", "32473")
}

// stringToSliceHook parses []string fields given as JSON or CSV text, which
// is how list values arrive from environment variables.
func stringToSliceHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string(nil)) {
			return data, nil
		}
		return splitList(data.(string)), nil
	}
}

// Normalize canonicalizes a configuration in place. It is idempotent:
// Normalize(Normalize(c)) == Normalize(c).
func Normalize(cfg *Config) {
	cfg.Listen.IP = strings.TrimSpace(cfg.Listen.IP)
	cfg.SSH.Term = strings.TrimSpace(cfg.SSH.Term)
	cfg.SSH.Algorithms.Preset = strings.ToLower(strings.TrimSpace(cfg.SSH.Algorithms.Preset))
	cfg.HostKeyVerification.Mode = strings.ToLower(strings.TrimSpace(cfg.HostKeyVerification.Mode))
	cfg.HostKeyVerification.UnknownKeyAction = strings.ToLower(strings.TrimSpace(cfg.HostKeyVerification.UnknownKeyAction))
	cfg.Logging.MinimumLevel = strings.ToLower(strings.TrimSpace(cfg.Logging.MinimumLevel))

	// Drop unknown auth method tokens with a warning; dedupe preserving order.
	seen := make(map[string]bool, len(cfg.SSH.AllowedAuthMethods))
	methods := make([]string, 0, len(cfg.SSH.AllowedAuthMethods))
	for _, m := range cfg.SSH.AllowedAuthMethods {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		if !knownAuthMethods[m] {
			log.Warn().Str("method", m).Msg("ignoring unknown SSH auth method in allowed_auth_methods")
			continue
		}
		seen[m] = true
		methods = append(methods, m)
	}
	cfg.SSH.AllowedAuthMethods = methods

	if cfg.Session.Secret == "" {
		cfg.Session.Secret = randomSecret()
	}
}

func randomSecret() string {
	// Falls back to a process-unique value; sessions are ephemeral so a
	// per-boot secret only invalidates cookies on restart.
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("webssh2-%d", os.Getpid())
	}
	return fmt.Sprintf("%x", b)
}
