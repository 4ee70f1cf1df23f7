package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ListenPort != 0 {
		t.Errorf("ListenPort = %d, want 0", cfg.ListenPort)
	}
	if cfg.HandshakeTimeout != time.Second {
		t.Errorf("HandshakeTimeout = %v, want 1s", cfg.HandshakeTimeout)
	}
	if cfg.HandshakeRetries != 30 {
		t.Errorf("HandshakeRetries = %d, want 30", cfg.HandshakeRetries)
	}
	if cfg.HostAcceptTimeout != 120*time.Second {
		t.Errorf("HostAcceptTimeout = %v, want 120s", cfg.HostAcceptTimeout)
	}
	if cfg.KeepAliveInterval != 2*time.Second {
		t.Errorf("KeepAliveInterval = %v, want 2s", cfg.KeepAliveInterval)
	}
	if cfg.LivenessTimeout != 15*time.Second {
		t.Errorf("LivenessTimeout = %v, want 15s", cfg.LivenessTimeout)
	}
	if cfg.DataDirectory == "" {
		t.Error("DataDirectory is empty")
	}
	if cfg.MetricsAddress != "" {
		t.Errorf("MetricsAddress = %q, want empty", cfg.MetricsAddress)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PEERCHAT_DATA_DIR", "/tmp/peerchat-test")
	t.Setenv("PEERCHAT_METRICS_ADDR", "127.0.0.1:9100")
	t.Setenv("PEERCHAT_HANDSHAKE_TIMEOUT", "250ms")
	t.Setenv("PEERCHAT_HOST_ACCEPT_TIMEOUT", "30s")
	t.Setenv("PEERCHAT_KEEPALIVE_INTERVAL", "500ms")
	t.Setenv("PEERCHAT_LIVENESS_TIMEOUT", "5s")
	t.Setenv("PEERCHAT_HANDSHAKE_RETRIES", "10")

	cfg := LoadConfig()

	if cfg.DataDirectory != "/tmp/peerchat-test" {
		t.Errorf("DataDirectory = %q", cfg.DataDirectory)
	}
	if cfg.MetricsAddress != "127.0.0.1:9100" {
		t.Errorf("MetricsAddress = %q", cfg.MetricsAddress)
	}
	if cfg.HandshakeTimeout != 250*time.Millisecond {
		t.Errorf("HandshakeTimeout = %v", cfg.HandshakeTimeout)
	}
	if cfg.HostAcceptTimeout != 30*time.Second {
		t.Errorf("HostAcceptTimeout = %v", cfg.HostAcceptTimeout)
	}
	if cfg.KeepAliveInterval != 500*time.Millisecond {
		t.Errorf("KeepAliveInterval = %v", cfg.KeepAliveInterval)
	}
	if cfg.LivenessTimeout != 5*time.Second {
		t.Errorf("LivenessTimeout = %v", cfg.LivenessTimeout)
	}
	if cfg.HandshakeRetries != 10 {
		t.Errorf("HandshakeRetries = %d", cfg.HandshakeRetries)
	}
}

func TestEnvOverridesRejectInvalid(t *testing.T) {
	t.Setenv("PEERCHAT_HANDSHAKE_TIMEOUT", "not-a-duration")
	t.Setenv("PEERCHAT_KEEPALIVE_INTERVAL", "-1s")
	t.Setenv("PEERCHAT_HANDSHAKE_RETRIES", "0")

	cfg := LoadConfig()
	want := DefaultConfig()

	if cfg.HandshakeTimeout != want.HandshakeTimeout {
		t.Errorf("invalid duration overrode HandshakeTimeout: %v", cfg.HandshakeTimeout)
	}
	if cfg.KeepAliveInterval != want.KeepAliveInterval {
		t.Errorf("negative duration overrode KeepAliveInterval: %v", cfg.KeepAliveInterval)
	}
	if cfg.HandshakeRetries != want.HandshakeRetries {
		t.Errorf("zero retries overrode HandshakeRetries: %d", cfg.HandshakeRetries)
	}
}
