package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper wires GATEWAY_* and LOG_LEVEL environment variables into viper.
// There is no config file and no prefix stripping beyond the literal key
// names, since every key already carries its own namespace.
func InitViper() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
	viper.AutomaticEnv()
}

var envKeys = []string{
	"GATEWAY_UPSTREAMS",
	"GATEWAY_NAME",
	"GATEWAY_HOST",
	"GATEWAY_PORT",
	"GATEWAY_INSTRUCTIONS",
	"GATEWAY_REGISTRY_AUTH_TOKEN",
	"GATEWAY_DOMAIN_DESCRIPTIONS",
	"GATEWAY_UPSTREAM_HEADERS",
	"GATEWAY_REFRESH_INTERVAL",
	"GATEWAY_HOOK_MODULE",
	"GATEWAY_REGISTRATION_TOKEN",
	"GATEWAY_ALLOWED_ORIGINS",
	"LOG_LEVEL",
}

// LoadConfig reads every GATEWAY_*/LOG_LEVEL key from viper, JSON-decodes
// the object-valued ones by hand (viper does not auto-decode scalar string
// values as JSON), applies defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Name:                   viper.GetString("GATEWAY_NAME"),
		Host:                   viper.GetString("GATEWAY_HOST"),
		Port:                   viper.GetInt("GATEWAY_PORT"),
		Instructions:           viper.GetString("GATEWAY_INSTRUCTIONS"),
		RegistryAuthToken:      viper.GetString("GATEWAY_REGISTRY_AUTH_TOKEN"),
		RefreshIntervalSeconds: viper.GetInt("GATEWAY_REFRESH_INTERVAL"),
		HookModule:             viper.GetString("GATEWAY_HOOK_MODULE"),
		RegistrationToken:      viper.GetString("GATEWAY_REGISTRATION_TOKEN"),
		LogLevel:               viper.GetString("LOG_LEVEL"),
	}

	if raw := viper.GetString("GATEWAY_ALLOWED_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	if raw := viper.GetString("GATEWAY_UPSTREAMS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Upstreams); err != nil {
			return nil, fmt.Errorf("GATEWAY_UPSTREAMS: invalid JSON: %w", err)
		}
	}
	if raw := viper.GetString("GATEWAY_DOMAIN_DESCRIPTIONS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.DomainDescriptions); err != nil {
			return nil, fmt.Errorf("GATEWAY_DOMAIN_DESCRIPTIONS: invalid JSON: %w", err)
		}
	}
	if raw := viper.GetString("GATEWAY_UPSTREAM_HEADERS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.UpstreamHeaders); err != nil {
			return nil, fmt.Errorf("GATEWAY_UPSTREAM_HEADERS: invalid JSON: %w", err)
		}
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
