package config

// Precedence (highest wins): CLI flags, CHATROOM_* environment, defaults.

import (
	"os"
	"strconv"
	"strings"
)

// LoadFromEnv overlays CHATROOM_* variables onto cfg. Only non-empty
// values override. Call it before flag parsing so flags win.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CHATROOM_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("CHATROOM_PORT"); v > 0 {
		cfg.Port = v
	}
	if v, ok := os.LookupEnv("CHATROOM_METRICS_ADDR"); ok {
		// Set but empty turns the admin endpoint off.
		cfg.MetricsAddr = v
	}
	if v := envInt("CHATROOM_MAX_PENDING"); v > 0 {
		cfg.MaxPending = v
	}
	if v := os.Getenv("CHATROOM_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("CHATROOM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
