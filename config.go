package engine

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default configuration values for the §6.6 enumerated options.
const (
	DefaultMaxDiffHistoryEntries  = 1000
	DefaultDiffSnapshotThreshold  = 100
	DefaultDiffVsSnapshotCostFactor = 0.8
	DefaultChannelDebugTimeoutMs  = 5000

	DefaultLogLevel = "info"
	DefaultLogPath  = ""
)

// PersistenceFlushPolicy selects when buffered persistence writes are
// flushed to the backend (§6.6).
type PersistenceFlushPolicy uint8

const (
	FlushPerTick PersistenceFlushPolicy = iota
	FlushOnCheckpoint
	FlushOnShutdown
)

func parseFlushPolicy(raw string) (PersistenceFlushPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "per_tick":
		return FlushPerTick, nil
	case "on_checkpoint":
		return FlushOnCheckpoint, nil
	case "on_shutdown":
		return FlushOnShutdown, nil
	default:
		return 0, fmt.Errorf("persistence_flush_policy must be one of per_tick|on_checkpoint|on_shutdown, got %q", raw)
	}
}

// Config captures the §6.6 enumerated engine options plus the ambient knobs
// (logging, persistence DSN) a host needs to wire the engine up.
type Config struct {
	MaxDiffHistoryEntries      int
	DiffSnapshotThreshold      int
	DiffVsSnapshotCostFactor   float64
	ChannelDebugTimeoutMs      int
	PersistenceFlushPolicy     PersistenceFlushPolicy

	LogLevel string
	LogPath  string

	PersistenceDSN string
}

// DefaultConfig returns the §6.6 option defaults without touching the
// environment, for callers (NewArena, tests) that want a Config without
// going through LoadConfig's env-parsing.
func DefaultConfig() *Config {
	return &Config{
		MaxDiffHistoryEntries:    DefaultMaxDiffHistoryEntries,
		DiffSnapshotThreshold:    DefaultDiffSnapshotThreshold,
		DiffVsSnapshotCostFactor: DefaultDiffVsSnapshotCostFactor,
		ChannelDebugTimeoutMs:    DefaultChannelDebugTimeoutMs,
		PersistenceFlushPolicy:   FlushPerTick,
		LogLevel:                 DefaultLogLevel,
		LogPath:                  DefaultLogPath,
	}
}

// LoadConfig reads engine configuration from environment variables, in the
// teacher's style (defaults applied first, overrides validated one at a
// time, problems collected and reported together rather than failing on the
// first bad value).
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	cfg.LogLevel = getStringEnv("ENGINE_LOG_LEVEL", DefaultLogLevel)
	cfg.LogPath = getStringEnv("ENGINE_LOG_PATH", DefaultLogPath)
	cfg.PersistenceDSN = strings.TrimSpace(os.Getenv("ENGINE_PERSISTENCE_DSN"))

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("ENGINE_MAX_DIFF_HISTORY_ENTRIES")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_MAX_DIFF_HISTORY_ENTRIES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxDiffHistoryEntries = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_DIFF_SNAPSHOT_THRESHOLD")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_DIFF_SNAPSHOT_THRESHOLD must be a positive integer, got %q", raw))
		} else {
			cfg.DiffSnapshotThreshold = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_DIFF_VS_SNAPSHOT_COST_FACTOR")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("ENGINE_DIFF_VS_SNAPSHOT_COST_FACTOR must be in (0,1], got %q", raw))
		} else {
			cfg.DiffVsSnapshotCostFactor = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ENGINE_CHANNEL_DEBUG_TIMEOUT_MS")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			problems = append(problems, fmt.Sprintf("ENGINE_CHANNEL_DEBUG_TIMEOUT_MS must be a non-negative integer, got %q", raw))
		} else {
			cfg.ChannelDebugTimeoutMs = v
		}
	}

	if raw := os.Getenv("ENGINE_PERSISTENCE_FLUSH_POLICY"); raw != "" {
		policy, err := parseFlushPolicy(raw)
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			cfg.PersistenceFlushPolicy = policy
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getStringEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
