// Package config provides configuration types for the gateway.
//
// Configuration is entirely environment-variable driven: there is no YAML
// file, no nested schema, and no admin UI for config. Every key is a flat
// GATEWAY_* (or LOG_LEVEL) environment variable, matching the contract a
// process-level deployment (container, systemd unit, serverless function)
// expects to set without mounting a file.
package config

// Config is the complete runtime configuration for one gateway process.
type Config struct {
	// Upstreams maps domain name to upstream MCP endpoint URL. Required;
	// sourced from GATEWAY_UPSTREAMS (JSON object).
	Upstreams map[string]string `validate:"required,min=1,dive,required,url"`

	// Name identifies this gateway in its own MCP handshake and in log
	// lines. Sourced from GATEWAY_NAME, default "fastmcp-gateway".
	Name string `validate:"required"`

	// Host and Port configure the HTTP listener. Sourced from GATEWAY_HOST
	// / GATEWAY_PORT.
	Host string
	Port int `validate:"omitempty,min=1,max=65535"`

	// Instructions, if set, overrides the dynamically constructed
	// InitializeResult.instructions and is never regenerated on refresh.
	// Sourced from GATEWAY_INSTRUCTIONS.
	Instructions string

	// RegistryAuthToken is attached as a bearer token on every discovery
	// connection to every upstream. Sourced from GATEWAY_REGISTRY_AUTH_TOKEN.
	RegistryAuthToken string

	// DomainDescriptions overrides the human-readable description shown for
	// a domain in discover_tools and the generated instructions. Sourced
	// from GATEWAY_DOMAIN_DESCRIPTIONS (JSON object).
	DomainDescriptions map[string]string

	// UpstreamHeaders are static per-domain headers merged into every
	// discovery and execution connection for that domain. Sourced from
	// GATEWAY_UPSTREAM_HEADERS (JSON object of objects).
	UpstreamHeaders map[string]map[string]string

	// RefreshIntervalSeconds drives the background refresh loop; a value
	// <= 0 disables it. Sourced from GATEWAY_REFRESH_INTERVAL.
	RefreshIntervalSeconds int

	// HookModule configures the single optional hook loaded at startup, in
	// "kind:payload" form ("cel:<expression>" or "js:<script>"). Sourced
	// from GATEWAY_HOOK_MODULE. Empty means no hook.
	HookModule string `validate:"omitempty,hookmodule"`

	// RegistrationToken, when set, enables the registration REST API and is
	// the bearer token it requires. Sourced from GATEWAY_REGISTRATION_TOKEN.
	RegistrationToken string

	// AllowedOrigins, if non-empty, restricts the MCP endpoint to browser
	// requests carrying one of these Origin values (DNS-rebinding
	// protection). Requests without an Origin header (curl, server-to-server
	// clients) are always allowed regardless of this list. Sourced from
	// GATEWAY_ALLOWED_ORIGINS (comma-separated).
	AllowedOrigins []string

	// LogLevel sets the minimum slog level. Sourced from LOG_LEVEL, default
	// "info".
	LogLevel string `validate:"omitempty,oneof=debug info warn warning error"`
}

// SetDefaults applies default values to fields left unset by the
// environment.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "fastmcp-gateway"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// RefreshEnabled reports whether the background refresh loop should run.
func (c *Config) RefreshEnabled() bool {
	return c.RefreshIntervalSeconds > 0
}

// RegistrationEnabled reports whether the registration REST API should be
// mounted.
func (c *Config) RegistrationEnabled() bool {
	return c.RegistrationToken != ""
}
