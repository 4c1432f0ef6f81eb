package config

// Defaults shared by the flag definitions and the environment loader.
const (
	// DefaultHost is the address the client dials.
	DefaultHost = "127.0.0.1"

	// DefaultListenHost makes the server reachable on every interface.
	DefaultListenHost = "0.0.0.0"

	// DefaultPort is the chat port.
	DefaultPort = 8888

	// DefaultMetricsAddr serves /metrics and /healthz.
	DefaultMetricsAddr = ":9090"

	// DefaultMaxPending is how many relayed frames may queue for one slow
	// peer before it is disconnected.
	DefaultMaxPending = 64

	DefaultLogFormat = "json"
	DefaultLogLevel  = "info"
)

// Default returns a Config populated with every default.
func Default() *Config {
	return &Config{
		Host:        DefaultHost,
		Port:        DefaultPort,
		MetricsAddr: DefaultMetricsAddr,
		MaxPending:  DefaultMaxPending,
		LogFormat:   DefaultLogFormat,
		LogLevel:    DefaultLogLevel,
	}
}

// ServerDefault is Default with the server's bind address.
func ServerDefault() *Config {
	cfg := Default()
	cfg.Host = DefaultListenHost
	return cfg
}
