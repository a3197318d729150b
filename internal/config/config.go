// Package config loads runtime settings for the game-state core from
// environment variables, applying defaults and accumulating validation
// problems into a single error the way the teacher repo's broker config
// does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultStorageDir is where per-game move log directories live.
	DefaultStorageDir = "./data/games"
	// DefaultStateDir is where game snapshots and connection info live.
	DefaultStateDir = "./data/state"
	// DefaultControlAddr is the address the operational control surface
	// (internal/httpapi) listens on.
	DefaultControlAddr = ":43128"

	// DefaultHandshakeTimeout bounds the player handshake reply (spec §5).
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultSpectatorHandshakeTimeout bounds the spectator handshake reply.
	DefaultSpectatorHandshakeTimeout = 15 * time.Second
	// DefaultFullSyncTimeout bounds the spectator full-sync reply.
	DefaultFullSyncTimeout = 30 * time.Second
	// DefaultGuestSyncGuard is the guest auto-transition timer (spec §4.3).
	DefaultGuestSyncGuard = 1000 * time.Millisecond
	// DefaultConnectTimeout bounds how long a guest waits for a first peer.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultReconnectBaseDelay is the first reconnect backoff step.
	DefaultReconnectBaseDelay = 1 * time.Second
	// DefaultReconnectMaxDelay caps the reconnect backoff.
	DefaultReconnectMaxDelay = 10 * time.Second
	// DefaultReconnectMaxAttempts bounds reconnection attempts.
	DefaultReconnectMaxAttempts = 5

	// DefaultEngineRequestTimeout bounds a correlated engine request.
	DefaultEngineRequestTimeout = 10 * time.Second
	// DefaultEngineAnalysisTimeout is the outer safety bound on `go`.
	DefaultEngineAnalysisTimeout = 30 * time.Second
	// DefaultEngineShutdownGrace is the wait after `quit` before kill.
	DefaultEngineShutdownGrace = 100 * time.Millisecond

	// DefaultMaxSnapshots is the default GC retention for persisted games.
	DefaultMaxSnapshots = 10

	// DefaultLogLevel controls verbosity for core logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "pearsgambitd.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the game-state core.
type Config struct {
	StorageDir  string
	StateDir    string
	ControlAddr string
	AdminToken  string

	HandshakeTimeout          time.Duration
	SpectatorHandshakeTimeout time.Duration
	FullSyncTimeout           time.Duration
	GuestSyncGuard            time.Duration
	ConnectTimeout            time.Duration

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	EngineBinaryPath      string
	EngineRequestTimeout  time.Duration
	EngineAnalysisTimeout time.Duration
	EngineShutdownGrace   time.Duration

	MaxSnapshots int

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads configuration from environment variables, applying sane
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		StorageDir:  getString("PEARSGAMBIT_STORAGE_DIR", DefaultStorageDir),
		StateDir:    getString("PEARSGAMBIT_STATE_DIR", DefaultStateDir),
		ControlAddr: getString("PEARSGAMBIT_CONTROL_ADDR", DefaultControlAddr),
		AdminToken:  strings.TrimSpace(os.Getenv("PEARSGAMBIT_ADMIN_TOKEN")),

		HandshakeTimeout:          DefaultHandshakeTimeout,
		SpectatorHandshakeTimeout: DefaultSpectatorHandshakeTimeout,
		FullSyncTimeout:           DefaultFullSyncTimeout,
		GuestSyncGuard:            DefaultGuestSyncGuard,
		ConnectTimeout:            DefaultConnectTimeout,

		ReconnectBaseDelay:   DefaultReconnectBaseDelay,
		ReconnectMaxDelay:    DefaultReconnectMaxDelay,
		ReconnectMaxAttempts: DefaultReconnectMaxAttempts,

		EngineBinaryPath:      strings.TrimSpace(os.Getenv("PEARSGAMBIT_ENGINE_PATH")),
		EngineRequestTimeout:  DefaultEngineRequestTimeout,
		EngineAnalysisTimeout: DefaultEngineAnalysisTimeout,
		EngineShutdownGrace:   DefaultEngineShutdownGrace,

		MaxSnapshots: DefaultMaxSnapshots,

		Logging: LoggingConfig{
			Level:      getString("PEARSGAMBIT_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("PEARSGAMBIT_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	parseDuration(&problems, "PEARSGAMBIT_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout)
	parseDuration(&problems, "PEARSGAMBIT_SPECTATOR_HANDSHAKE_TIMEOUT", &cfg.SpectatorHandshakeTimeout)
	parseDuration(&problems, "PEARSGAMBIT_FULL_SYNC_TIMEOUT", &cfg.FullSyncTimeout)
	parseDuration(&problems, "PEARSGAMBIT_GUEST_SYNC_GUARD", &cfg.GuestSyncGuard)
	parseDuration(&problems, "PEARSGAMBIT_CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	parseDuration(&problems, "PEARSGAMBIT_RECONNECT_BASE_DELAY", &cfg.ReconnectBaseDelay)
	parseDuration(&problems, "PEARSGAMBIT_RECONNECT_MAX_DELAY", &cfg.ReconnectMaxDelay)
	parseDuration(&problems, "PEARSGAMBIT_ENGINE_REQUEST_TIMEOUT", &cfg.EngineRequestTimeout)
	parseDuration(&problems, "PEARSGAMBIT_ENGINE_ANALYSIS_TIMEOUT", &cfg.EngineAnalysisTimeout)
	parseDuration(&problems, "PEARSGAMBIT_ENGINE_SHUTDOWN_GRACE", &cfg.EngineShutdownGrace)

	if raw := strings.TrimSpace(os.Getenv("PEARSGAMBIT_RECONNECT_MAX_ATTEMPTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PEARSGAMBIT_RECONNECT_MAX_ATTEMPTS must be a positive integer, got %q", raw))
		} else {
			cfg.ReconnectMaxAttempts = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PEARSGAMBIT_MAX_SNAPSHOTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PEARSGAMBIT_MAX_SNAPSHOTS must be a positive integer, got %q", raw))
		} else {
			cfg.MaxSnapshots = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PEARSGAMBIT_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("PEARSGAMBIT_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PEARSGAMBIT_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PEARSGAMBIT_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PEARSGAMBIT_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("PEARSGAMBIT_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PEARSGAMBIT_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("PEARSGAMBIT_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func parseDuration(problems *[]string, key string, dst *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = duration
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
