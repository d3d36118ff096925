// Package config loads the hearth configuration from TOML with
// environment overrides. Tuning knobs are few and carry defaults that
// match the documented memory semantics; most deployments never need a
// config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config is the complete hearth configuration.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	Server    ServerConfig    `toml:"server"`
	Memory    MemoryConfig    `toml:"memory"`
	Patterns  PatternConfig   `toml:"patterns"`
	Retention RetentionConfig `toml:"retention"`
}

// StorageConfig holds on-disk state locations.
type StorageConfig struct {
	// StateDir holds the JSON state documents.
	StateDir string `toml:"state_dir"`
	// JournalPath is the SQLite event journal.
	JournalPath string `toml:"journal_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	LogPath string `toml:"log_path"`
	Debug   bool   `toml:"debug"`
}

// ServerConfig holds the read-only HTTP API settings.
type ServerConfig struct {
	ListenAddress string `toml:"listen_address"`
}

// MemoryConfig holds the confidence lifecycle knobs.
type MemoryConfig struct {
	DecayPerWeek       float64 `toml:"decay_per_week"`
	ReinforcementBoost float64 `toml:"reinforcement_boost"`
	FadeThreshold      float64 `toml:"fade_threshold"`
	ForgetThreshold    float64 `toml:"forget_threshold"`
}

// PatternConfig holds the routine-promotion thresholds.
type PatternConfig struct {
	MinObservations int     `toml:"min_observations"`
	MinConfidence   float64 `toml:"min_confidence"`
}

// RetentionConfig holds conversation retention windows in days, plus the
// consolidation look-back window.
type RetentionConfig struct {
	TrivialDays       int `toml:"trivial_days"`
	NormalDays        int `toml:"normal_days"`
	ImportantDays     int `toml:"important_days"`
	ConsolidationDays int `toml:"consolidation_days"`
}

// Default returns the standard configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			StateDir:    "./state",
			JournalPath: "./state/journal.db",
		},
		Logging: LoggingConfig{
			LogPath: "./state/hearth.log",
			Debug:   false,
		},
		Server: ServerConfig{
			ListenAddress: "127.0.0.1:7433",
		},
		Memory: MemoryConfig{
			DecayPerWeek:       0.1,
			ReinforcementBoost: 0.2,
			FadeThreshold:      0.3,
			ForgetThreshold:    0.1,
		},
		Patterns: PatternConfig{
			MinObservations: 5,
			MinConfidence:   0.6,
		},
		Retention: RetentionConfig{
			TrivialDays:       7,
			NormalDays:        30,
			ImportantDays:     90,
			ConsolidationDays: 30,
		},
	}
}

// Load reads the configuration file at path, applies environment
// overrides, and validates the result. A missing file is fine: defaults
// plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values from HEARTH_* environment variables.
func (c *Config) applyEnv() {
	envString("HEARTH_STATE_DIR", &c.Storage.StateDir)
	envString("HEARTH_JOURNAL_PATH", &c.Storage.JournalPath)
	envString("HEARTH_LOG_PATH", &c.Logging.LogPath)
	envBool("HEARTH_DEBUG", &c.Logging.Debug)
	envString("HEARTH_LISTEN_ADDRESS", &c.Server.ListenAddress)
	envFloat("HEARTH_DECAY_PER_WEEK", &c.Memory.DecayPerWeek)
	envFloat("HEARTH_REINFORCEMENT_BOOST", &c.Memory.ReinforcementBoost)
	envFloat("HEARTH_FADE_THRESHOLD", &c.Memory.FadeThreshold)
	envFloat("HEARTH_FORGET_THRESHOLD", &c.Memory.ForgetThreshold)
	envInt("HEARTH_PATTERN_MIN_OBSERVATIONS", &c.Patterns.MinObservations)
	envFloat("HEARTH_PATTERN_MIN_CONFIDENCE", &c.Patterns.MinConfidence)
	envInt("HEARTH_RETENTION_TRIVIAL_DAYS", &c.Retention.TrivialDays)
	envInt("HEARTH_RETENTION_NORMAL_DAYS", &c.Retention.NormalDays)
	envInt("HEARTH_RETENTION_IMPORTANT_DAYS", &c.Retention.ImportantDays)
	envInt("HEARTH_CONSOLIDATION_DAYS", &c.Retention.ConsolidationDays)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Storage.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.Storage.JournalPath == "" {
		return fmt.Errorf("journal_path is required")
	}
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}
	if c.Memory.DecayPerWeek <= 0 || c.Memory.DecayPerWeek >= 1 {
		return fmt.Errorf("decay_per_week must be in (0, 1)")
	}
	if c.Memory.ReinforcementBoost <= 0 || c.Memory.ReinforcementBoost > 1 {
		return fmt.Errorf("reinforcement_boost must be in (0, 1]")
	}
	if c.Memory.ForgetThreshold < 0 || c.Memory.FadeThreshold <= c.Memory.ForgetThreshold {
		return fmt.Errorf("fade_threshold must exceed forget_threshold")
	}
	if c.Memory.FadeThreshold >= 1 {
		return fmt.Errorf("fade_threshold must be below 1")
	}
	if c.Patterns.MinObservations < 1 {
		return fmt.Errorf("min_observations must be at least 1")
	}
	if c.Patterns.MinConfidence <= 0 || c.Patterns.MinConfidence >= 1 {
		return fmt.Errorf("min_confidence must be in (0, 1)")
	}
	if c.Retention.TrivialDays < 1 || c.Retention.NormalDays < c.Retention.TrivialDays ||
		c.Retention.ImportantDays < c.Retention.NormalDays {
		return fmt.Errorf("retention windows must satisfy trivial <= normal <= important, all positive")
	}
	if c.Retention.ConsolidationDays < 1 {
		return fmt.Errorf("consolidation_days must be positive")
	}
	return nil
}
