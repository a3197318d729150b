package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PEARSGAMBIT_STORAGE_DIR", "PEARSGAMBIT_STATE_DIR", "PEARSGAMBIT_CONTROL_ADDR",
		"PEARSGAMBIT_ADMIN_TOKEN", "PEARSGAMBIT_HANDSHAKE_TIMEOUT",
		"PEARSGAMBIT_SPECTATOR_HANDSHAKE_TIMEOUT", "PEARSGAMBIT_FULL_SYNC_TIMEOUT",
		"PEARSGAMBIT_GUEST_SYNC_GUARD", "PEARSGAMBIT_CONNECT_TIMEOUT",
		"PEARSGAMBIT_RECONNECT_BASE_DELAY", "PEARSGAMBIT_RECONNECT_MAX_DELAY",
		"PEARSGAMBIT_RECONNECT_MAX_ATTEMPTS", "PEARSGAMBIT_ENGINE_PATH",
		"PEARSGAMBIT_ENGINE_REQUEST_TIMEOUT", "PEARSGAMBIT_ENGINE_ANALYSIS_TIMEOUT",
		"PEARSGAMBIT_ENGINE_SHUTDOWN_GRACE", "PEARSGAMBIT_MAX_SNAPSHOTS",
		"PEARSGAMBIT_LOG_LEVEL", "PEARSGAMBIT_LOG_PATH", "PEARSGAMBIT_LOG_MAX_SIZE_MB",
		"PEARSGAMBIT_LOG_MAX_BACKUPS", "PEARSGAMBIT_LOG_MAX_AGE_DAYS", "PEARSGAMBIT_LOG_COMPRESS",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.StorageDir != DefaultStorageDir {
		t.Fatalf("expected default storage dir %q, got %q", DefaultStorageDir, cfg.StorageDir)
	}
	if cfg.StateDir != DefaultStateDir {
		t.Fatalf("expected default state dir %q, got %q", DefaultStateDir, cfg.StateDir)
	}
	if cfg.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Fatalf("expected default handshake timeout %v, got %v", DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	}
	if cfg.ReconnectMaxAttempts != DefaultReconnectMaxAttempts {
		t.Fatalf("expected default reconnect attempts %d, got %d", DefaultReconnectMaxAttempts, cfg.ReconnectMaxAttempts)
	}
	if cfg.MaxSnapshots != DefaultMaxSnapshots {
		t.Fatalf("expected default max snapshots %d, got %d", DefaultMaxSnapshots, cfg.MaxSnapshots)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.AdminToken != "" {
		t.Fatalf("expected empty admin token by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PEARSGAMBIT_STORAGE_DIR", "/tmp/games")
	t.Setenv("PEARSGAMBIT_HANDSHAKE_TIMEOUT", "5s")
	t.Setenv("PEARSGAMBIT_RECONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("PEARSGAMBIT_MAX_SNAPSHOTS", "20")
	t.Setenv("PEARSGAMBIT_LOG_LEVEL", "debug")
	t.Setenv("PEARSGAMBIT_ADMIN_TOKEN", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.StorageDir != "/tmp/games" {
		t.Fatalf("unexpected storage dir %q", cfg.StorageDir)
	}
	if cfg.HandshakeTimeout != 5*time.Second {
		t.Fatalf("expected 5s handshake timeout, got %v", cfg.HandshakeTimeout)
	}
	if cfg.ReconnectMaxAttempts != 3 {
		t.Fatalf("expected 3 reconnect attempts, got %d", cfg.ReconnectMaxAttempts)
	}
	if cfg.MaxSnapshots != 20 {
		t.Fatalf("expected 20 max snapshots, got %d", cfg.MaxSnapshots)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug log level, got %q", cfg.Logging.Level)
	}
	if cfg.AdminToken != "s3cret" {
		t.Fatalf("expected overridden admin token, got %q", cfg.AdminToken)
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("PEARSGAMBIT_HANDSHAKE_TIMEOUT", "not-a-duration")
	t.Setenv("PEARSGAMBIT_RECONNECT_MAX_ATTEMPTS", "-1")
	t.Setenv("PEARSGAMBIT_MAX_SNAPSHOTS", "0")
	t.Setenv("PEARSGAMBIT_LOG_MAX_BACKUPS", "-2")
	t.Setenv("PEARSGAMBIT_LOG_COMPRESS", "notabool")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}
	for _, want := range []string{
		"PEARSGAMBIT_HANDSHAKE_TIMEOUT",
		"PEARSGAMBIT_RECONNECT_MAX_ATTEMPTS",
		"PEARSGAMBIT_MAX_SNAPSHOTS",
		"PEARSGAMBIT_LOG_MAX_BACKUPS",
		"PEARSGAMBIT_LOG_COMPRESS",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}
