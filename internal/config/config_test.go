package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate(Default()) = %v", err)
	}
	if got := cfg.Addr(); got != "127.0.0.1:8888" {
		t.Errorf("Addr = %q, want 127.0.0.1:8888", got)
	}
}

func TestAddr_IPv6(t *testing.T) {
	cfg := &Config{Host: "::1", Port: 8888}
	if got := cfg.Addr(); got != "[::1]:8888" {
		t.Errorf("Addr = %q", got)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"port too big", func(c *Config) { c.Port = 70000 }, "port"},
		{"negative port", func(c *Config) { c.Port = -1 }, "port"},
		{"zero max pending", func(c *Config) { c.MaxPending = 0 }, "max-pending"},
		{"metrics addr without port", func(c *Config) { c.MetricsAddr = "localhost" }, "metrics-addr"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log-format"},
		{"log level", func(c *Config) { c.LogLevel = "chatty" }, "log-level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(cfg)
			err := cfg.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestValidate_EmptyMetricsAddrDisables(t *testing.T) {
	cfg := Default()
	cfg.MetricsAddr = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate = %v", err)
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()

	logger, err := cfg.NewLogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello", "id", 7)
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"id":7`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	cfg.LogFormat = "text"
	logger, err = cfg.NewLogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello", "id", 7)
	if !strings.Contains(buf.String(), "id=7") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogLevel = "warn"

	logger, err := cfg.NewLogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn not logged: %q", buf.String())
	}
}

func TestServerDefault_BindsEveryInterface(t *testing.T) {
	cfg := ServerDefault()
	if cfg.Host != DefaultListenHost {
		t.Errorf("Host = %q, want %q", cfg.Host, DefaultListenHost)
	}
	if got := cfg.Addr(); got != "0.0.0.0:8888" {
		t.Errorf("Addr = %q, want 0.0.0.0:8888", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate = %v", err)
	}
	// The client keeps dialling loopback.
	if Default().Host != "127.0.0.1" {
		t.Errorf("client default host = %q", Default().Host)
	}
}
