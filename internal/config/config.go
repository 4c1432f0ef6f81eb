// Package config holds the runtime settings shared by the chat server and
// client binaries.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Config holds every tuneable for one process.
type Config struct {
	Host        string
	Port        int
	MetricsAddr string // empty disables the admin endpoint
	MaxPending  int

	LogFormat string // json or text
	LogLevel  string // debug, info, warn or error
}

// Addr is the host:port pair the server binds and the client dials.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ConfigError reports one invalid setting.
type ConfigError struct {
	Field string
	Value any
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s=%v: %s", e.Field, e.Value, e.Msg)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Value: c.Port, Msg: "out of range 0-65535"}
	}
	if c.MaxPending < 1 {
		return &ConfigError{Field: "max-pending", Value: c.MaxPending, Msg: "must be at least 1"}
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return &ConfigError{Field: "metrics-addr", Value: c.MetricsAddr, Msg: err.Error()}
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return &ConfigError{Field: "log-format", Value: c.LogFormat, Msg: "want json or text"}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return &ConfigError{Field: "log-level", Value: c.LogLevel, Msg: err.Error()}
	}
	return nil
}
