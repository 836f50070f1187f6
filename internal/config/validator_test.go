package config

import (
	"strings"
	"testing"
)

func minimalValidConfig() *Config {
	cfg := &Config{
		Upstreams: map[string]string{"billing": "http://billing.internal/mcp"},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidateValidConfig(t *testing.T) {
	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidateRequiresAtLeastOneUpstream(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Upstreams = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty Upstreams, got nil")
	}
	if !strings.Contains(err.Error(), "Upstreams") {
		t.Errorf("error = %q, want to contain 'Upstreams'", err.Error())
	}
}

func TestValidateRejectsInvalidUpstreamURL(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Upstreams["broken"] = "not a url"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for invalid upstream URL, got nil")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "LogLevel") {
		t.Errorf("error = %q, want to contain 'LogLevel'", err.Error())
	}
}

func TestValidateHookModuleSyntax(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"empty is valid (no hook)", "", false},
		{"cel expression", "cel:tool_domain == 'billing'", false},
		{"js script", "js:deny('x', 'y')", false},
		{"missing colon", "celtool_domain", true},
		{"unknown kind", "python:os.system", true},
		{"empty payload", "cel:", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			cfg.HookModule = c.value
			err := cfg.Validate()
			if c.wantErr && err == nil {
				t.Fatalf("expected error for HookModule=%q, got nil", c.value)
			}
			if !c.wantErr && err != nil {
				t.Fatalf("unexpected error for HookModule=%q: %v", c.value, err)
			}
		})
	}
}

func TestHookKindAndPayload(t *testing.T) {
	cfg := &Config{HookModule: "cel:tool_domain == 'billing'"}
	kind, payload, ok := cfg.HookKindAndPayload()
	if !ok || kind != "cel" || payload != "tool_domain == 'billing'" {
		t.Fatalf("got kind=%q payload=%q ok=%v", kind, payload, ok)
	}

	kind, payload, ok = (&Config{}).HookKindAndPayload()
	if ok || kind != "" || payload != "" {
		t.Fatalf("expected no hook module, got kind=%q payload=%q ok=%v", kind, payload, ok)
	}
}
