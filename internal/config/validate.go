package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

var validate = validator.New()

// Validate checks a normalized configuration. Errors are fatal at startup.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			f := verrs[0]
			return gwerrors.Newf(gwerrors.KindConfig, "config_invalid",
				"invalid configuration field %s (rule %s)", f.Namespace(), f.Tag())
		}
		return gwerrors.Wrap(gwerrors.KindConfig, "config_invalid", "invalid configuration", err)
	}

	// An empty allow-list after normalization means every method was
	// unknown or the operator disabled them all; either way nothing could
	// ever authenticate.
	if len(cfg.SSH.AllowedAuthMethods) == 0 {
		return gwerrors.New(gwerrors.KindConfig, "config_invalid",
			"ssh.allowed_auth_methods must contain at least one of password, publickey, keyboard-interactive")
	}

	if cfg.HostKeyVerification.Enabled && cfg.HostKeyVerification.ServerStoreEnabled() &&
		cfg.HostKeyVerification.ServerStore.DBPath == "" {
		return gwerrors.New(gwerrors.KindConfig, "config_invalid",
			"host_key_verification.server_store.db_path is required when the server store is enabled")
	}

	for _, rule := range cfg.Logging.RateLimit.Rules {
		if rule.Target == "" {
			return gwerrors.New(gwerrors.KindConfig, "config_invalid",
				"logging.rate_limit.rules entries require a target")
		}
	}
	return nil
}

// Masked returns a loggable view of the configuration with secrets redacted.
func Masked(cfg *Config) map[string]any {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	return map[string]any{
		"listen":  fmt.Sprintf("%s:%d", cfg.Listen.IP, cfg.Listen.Port),
		"origins": cfg.HTTP.Origins,
		"ssh": map[string]any{
			"port":                 cfg.SSH.Port,
			"term":                 cfg.SSH.Term,
			"ready_timeout_ms":     cfg.SSH.ReadyTimeoutMs,
			"algorithms_preset":    cfg.SSH.Algorithms.Preset,
			"allowed_subnets":      cfg.SSH.AllowedSubnets,
			"allowed_auth_methods": cfg.SSH.AllowedAuthMethods,
		},
		"host_key_verification": map[string]any{
			"enabled":            cfg.HostKeyVerification.Enabled,
			"mode":               cfg.HostKeyVerification.Mode,
			"unknown_key_action": cfg.HostKeyVerification.UnknownKeyAction,
		},
		"session": map[string]any{
			"name":   cfg.Session.Name,
			"secret": mask(cfg.Session.Secret),
		},
		"sso": map[string]any{
			"enabled":         cfg.SSO.Enabled,
			"csrf_protection": cfg.SSO.CSRFProtection,
			"trusted_proxies": cfg.SSO.TrustedProxies,
		},
		"logging": map[string]any{
			"minimum_level": cfg.Logging.MinimumLevel,
			"transports":    cfg.Logging.Transports,
		},
	}
}
