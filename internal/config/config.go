// Package config holds the tunable session constants. Retry counts,
// handshake timeouts and keep-alive intervals are configuration, not
// protocol invariants.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds messenger configuration.
type Config struct {
	// ListenPort is the local UDP port to bind. 0 lets the OS pick one;
	// the host displays whatever was assigned.
	ListenPort int

	// HandshakeTimeout bounds a single guest attempt: one HANDSHAKE is
	// sent, then a matching HANDSHAKE_ACK is awaited for this long
	// before the next retransmission.
	HandshakeTimeout time.Duration

	// HandshakeRetries is the number of guest retransmissions before the
	// attempt fails with a handshake timeout.
	HandshakeRetries int

	// HostAcceptTimeout bounds how long the host waits for the first
	// matching HANDSHAKE before giving up the attempt.
	HostAcceptTimeout time.Duration

	// KeepAliveInterval is the period between PUNCH datagrams once the
	// session is established.
	KeepAliveInterval time.Duration

	// LivenessTimeout is the silence window after which the peer is
	// reported unreachable. The session is not auto-closed.
	LivenessTimeout time.Duration

	// ReadTimeout is the receive poll interval; it also paces liveness
	// checks and cancellation.
	ReadTimeout time.Duration

	// DataDirectory holds the ephemeral session cache database.
	DataDirectory string

	// MetricsAddress, when non-empty, enables the /metrics and /health
	// HTTP listener on that address.
	MetricsAddress string
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "peerchat")

	return &Config{
		ListenPort:        0,
		HandshakeTimeout:  1 * time.Second,
		HandshakeRetries:  30,
		HostAcceptTimeout: 120 * time.Second,
		KeepAliveInterval: 2 * time.Second,
		LivenessTimeout:   15 * time.Second,
		ReadTimeout:       1 * time.Second,
		DataDirectory:     dataDir,
		MetricsAddress:    "",
	}
}

// LoadConfig returns the defaults with PEERCHAT_* environment overrides
// applied.
func LoadConfig() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PEERCHAT_DATA_DIR"); v != "" {
		cfg.DataDirectory = v
	}
	if v := os.Getenv("PEERCHAT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddress = v
	}
	if d, ok := envDuration("PEERCHAT_HANDSHAKE_TIMEOUT"); ok {
		cfg.HandshakeTimeout = d
	}
	if d, ok := envDuration("PEERCHAT_HOST_ACCEPT_TIMEOUT"); ok {
		cfg.HostAcceptTimeout = d
	}
	if d, ok := envDuration("PEERCHAT_KEEPALIVE_INTERVAL"); ok {
		cfg.KeepAliveInterval = d
	}
	if d, ok := envDuration("PEERCHAT_LIVENESS_TIMEOUT"); ok {
		cfg.LivenessTimeout = d
	}
	if v := os.Getenv("PEERCHAT_HANDSHAKE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HandshakeRetries = n
		}
	}

	return cfg
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
