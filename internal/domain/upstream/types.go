// Package upstream contains domain types describing a configured MCP
// upstream domain and its runtime connection state.
package upstream

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// ConnectionStatus is the runtime connection state of a domain's upstream.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusError        ConnectionStatus = "error"
)

// namePattern restricts a domain name to characters that are safe to use
// as both a JSON object key and a tool-name prefix after a rename.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const nameMaxLength = 64

// allowedSchemes are the only URL schemes a gateway will dial, preventing
// upstream configuration from being used to reach file:// or other local
// schemes.
var allowedSchemes = map[string]bool{"http": true, "https": true}

// Domain is a single configured upstream MCP server, keyed by Name in the
// Store's domain map.
type Domain struct {
	// Name is the unique, stable identifier for this domain. Used as the
	// collision-rename prefix ("{domain}_{tool}") and as the registration
	// API's path parameter.
	Name string `json:"name"`

	// URL is the upstream MCP endpoint (streamable HTTP).
	URL string `json:"url"`

	// Description is an optional human-readable summary surfaced in the
	// discover_tools domain summary and the server instructions.
	Description string `json:"description,omitempty"`

	// Headers are static headers merged into every request to this
	// upstream; on execution they override stripped incoming headers and
	// are overridden by hook-supplied extra headers.
	Headers map[string]string `json:"headers,omitempty"`

	// Status, LastError, ToolCount and CreatedAt are runtime fields, not
	// part of configuration and never serialized. No code in this module
	// assigns them, so they keep their zero values.
	Status    ConnectionStatus `json:"-"`
	LastError string           `json:"-"`
	ToolCount int              `json:"-"`
	CreatedAt time.Time        `json:"-"`
}

// Validate checks that the domain has a usable name and a dialable URL.
func (d *Domain) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(d.Name) > nameMaxLength {
		return fmt.Errorf("name must be %d characters or less", nameMaxLength)
	}
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("name contains invalid characters (allowed: alphanumeric, hyphen, underscore)")
	}
	if d.URL == "" {
		return fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(d.URL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("url is not a valid URL")
	}
	if !allowedSchemes[parsed.Scheme] {
		return fmt.Errorf("url scheme %q is not allowed (must be http or https)", parsed.Scheme)
	}
	return nil
}
