// Package config provides configuration loading, validation, and
// environment override for the attnd daemon.
//
// Configuration file: ~/.config/attnd/config.yaml (default)
// Schema version: 1
//
// Environment overrides (spec §6): variables prefixed ATTND__ with
// __-separated path segments map onto struct fields, e.g.
// ATTND__BATTERY__LEAK_RATE_PER_SEC=0.75 sets Battery.LeakRatePerSec.
// Overrides are applied after YAML decode and before validation, so an
// override can repair an otherwise-invalid file but cannot bypass
// Validate.
//
// Reload: the daemon listens for SIGHUP, re-reads and validates the config
// file, and logs the result. The reloaded values are not applied to the
// running components; every field takes effect only at the next start. An
// invalid reload logs an error; the daemon never crashes on a bad SIGHUP.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for attnd.
type Config struct {
	SchemaVersion string `yaml:"schema_version"`

	Daemon        DaemonConfig        `yaml:"daemon"`
	Watcher       WatcherConfig       `yaml:"watcher"`
	Sensor        SensorConfig        `yaml:"sensor"`
	Battery       BatteryConfig       `yaml:"battery"`
	Complexity    ComplexityConfig    `yaml:"complexity"`
	Kinematics    KinematicsConfig    `yaml:"kinematics"`
	Core          CoreConfig          `yaml:"core"`
	Observability ObservabilityConfig `yaml:"observability"`
	Ledger        LedgerConfig        `yaml:"ledger"`
}

// DaemonConfig holds process-level paths.
type DaemonConfig struct {
	// WatchRoot is the working tree root the FileMonitor recursively watches.
	WatchRoot string `yaml:"watch_root"`

	// TicketSocketPath is the control socket the CLI connects to (§6).
	TicketSocketPath string `yaml:"ticket_socket_path"`

	// KeyDir holds the Ed25519 signing key (~/.config/attnd by default).
	KeyDir string `yaml:"key_dir"`

	// GitDir names the per-repo state directory (.git/attnd by default).
	// The daemon does not read it and writes no latest_ticket or
	// latest_witness file; tickets and witnesses are returned over the
	// control socket only.
	GitDir string `yaml:"git_dir"`
}

// WatcherConfig controls FileMonitor policy (§4.1).
type WatcherConfig struct {
	RawChannelCapacity     int           `yaml:"raw_channel_capacity"`
	OutChannelCapacity     int           `yaml:"out_channel_capacity"`
	DebounceWindow         time.Duration `yaml:"debounce_window"`
	EvictEvery             int           `yaml:"evict_every"`
	EvictAgeMultiple       int           `yaml:"evict_age_multiple"`
	IgnoreDirs             []string      `yaml:"ignore_dirs"`
	IgnoreExtensions       []string      `yaml:"ignore_extensions"`
	GracefulDrainMax       time.Duration `yaml:"graceful_drain_max"`
	GracefulDrainMaxEvents int           `yaml:"graceful_drain_max_events"`
}

// SensorConfig controls the editor-sensor intake socket (§4.4).
type SensorConfig struct {
	SocketPath      string `yaml:"socket_path"`
	EventChannelCap int    `yaml:"event_channel_cap"`
}

// BatteryConfig controls the AttentionBattery (§4.6).
type BatteryConfig struct {
	Capacity       float64 `yaml:"capacity"`
	LeakRatePerSec float64 `yaml:"leak_rate_per_sec"`
	Jumpstart      float64 `yaml:"jumpstart"`
}

// ComplexityConfig controls the Complexity Engine (§4.3).
type ComplexityConfig struct {
	CompressionLevel int                `yaml:"compression_level"`
	MinEntropy       float64            `yaml:"min_entropy"`
	SpamThreshold    float64            `yaml:"spam_threshold"`
	PasteThresholds  map[string]float64 `yaml:"paste_thresholds"`
	RepoContextTTL   time.Duration      `yaml:"repo_context_ttl"`
	RepoContextFiles int                `yaml:"repo_context_files"`
}

// KinematicsConfig controls the Kinematic Analyzer (§4.2).
type KinematicsConfig struct {
	RingSize         int     `yaml:"ring_size"`
	VelocityQuantum  float64 `yaml:"velocity_quantum"`
	SyntheticCVLimit float64 `yaml:"synthetic_cv_limit"`
	MinSamples       int     `yaml:"min_samples"`
}

// CoreConfig controls the Correlation Core (§4.7).
type CoreConfig struct {
	AnalysisTick    time.Duration `yaml:"analysis_tick"`
	NoveltyEMARho   float64       `yaml:"novelty_ema_rho"`
	CouplingEMARho  float64       `yaml:"coupling_ema_rho"`
	ScoreHistoryCap int           `yaml:"score_history_cap"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// LedgerConfig controls the bbolt-backed audit ledger.
type LedgerConfig struct {
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		SchemaVersion: "1",
		Daemon: DaemonConfig{
			WatchRoot:        ".",
			TicketSocketPath: "/tmp/attnd.sock",
			KeyDir:           home + "/.config/attnd",
			GitDir:           ".git/attnd",
		},
		Watcher: WatcherConfig{
			RawChannelCapacity:     2048,
			OutChannelCapacity:     2048,
			DebounceWindow:         120 * time.Millisecond,
			EvictEvery:             4096,
			EvictAgeMultiple:       16,
			IgnoreDirs:             []string{".git", "target", "node_modules"},
			IgnoreExtensions:       []string{"log", "lock"},
			GracefulDrainMax:       250 * time.Millisecond,
			GracefulDrainMaxEvents: 10000,
		},
		Sensor: SensorConfig{
			SocketPath:      "/tmp/attnd-sensor.sock",
			EventChannelCap: 2048,
		},
		Battery: BatteryConfig{
			Capacity:       100,
			LeakRatePerSec: 0.5,
			Jumpstart:      15,
		},
		Complexity: ComplexityConfig{
			CompressionLevel: 3,
			MinEntropy:       2.5,
			SpamThreshold:    10,
			PasteThresholds: map[string]float64{
				"source": 0.15,
				"config": 0.10,
				"doc":    0.25,
				"other":  0.15,
			},
			RepoContextTTL:   5 * time.Minute,
			RepoContextFiles: 8,
		},
		Kinematics: KinematicsConfig{
			RingSize:         1024,
			VelocityQuantum:  0.001,
			SyntheticCVLimit: 0.15,
			MinSamples:       4,
		},
		Core: CoreConfig{
			AnalysisTick:    5 * time.Second,
			NoveltyEMARho:   0.8,
			CouplingEMARho:  0.7,
			ScoreHistoryCap: 50,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Ledger: LedgerConfig{
			DBPath:        home + "/.config/attnd/ledger.db",
			RetentionDays: 30,
		},
	}
}

// Load reads, env-overrides, and validates a config file from the given
// path. A missing file is not an error: Defaults() with env overrides
// applied is returned, matching the "cache miss is not an error" posture
// of spec §7.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := applyEnvOverrides(&cfg, "ATTND", os.Environ()); err != nil {
		return nil, fmt.Errorf("config.Load: env override: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, accumulating every
// violation into one error rather than failing on the first.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.Battery.Capacity <= 0 {
		errs = append(errs, fmt.Sprintf("battery.capacity must be > 0, got %f", cfg.Battery.Capacity))
	}
	if cfg.Battery.LeakRatePerSec < 0 {
		errs = append(errs, "battery.leak_rate_per_sec must be >= 0")
	}
	if cfg.Battery.Jumpstart < 0 || cfg.Battery.Jumpstart > cfg.Battery.Capacity {
		errs = append(errs, "battery.jumpstart must be in [0, capacity]")
	}
	if cfg.Complexity.CompressionLevel < 1 {
		errs = append(errs, "complexity.compression_level must be >= 1")
	}
	if cfg.Complexity.MinEntropy <= 0 {
		errs = append(errs, "complexity.min_entropy must be > 0")
	}
	if cfg.Watcher.RawChannelCapacity < 1 || cfg.Watcher.OutChannelCapacity < 1 {
		errs = append(errs, "watcher channel capacities must be >= 1")
	}
	if cfg.Watcher.DebounceWindow < 0 {
		errs = append(errs, "watcher.debounce_window must be >= 0")
	}
	if cfg.Kinematics.RingSize < cfg.Kinematics.MinSamples {
		errs = append(errs, "kinematics.ring_size must be >= kinematics.min_samples")
	}
	if cfg.Core.NoveltyEMARho < 0 || cfg.Core.NoveltyEMARho > 1 {
		errs = append(errs, "core.novelty_ema_rho must be in [0, 1]")
	}
	if cfg.Core.CouplingEMARho < 0 || cfg.Core.CouplingEMARho > 1 {
		errs = append(errs, "core.coupling_ema_rho must be in [0, 1]")
	}
	if cfg.Ledger.RetentionDays < 1 {
		errs = append(errs, "ledger.retention_days must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// applyEnvOverrides walks every ATTND__-prefixed environment variable and
// sets the matching field via a small explicit path table (rather than
// full reflection), matching the bounded set of hot-tunable parameters
// spec §6 calls out.
func applyEnvOverrides(cfg *Config, prefix string, environ []string) error {
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, prefix+"__") {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, prefix+"__")), "__")
		if err := setByPath(cfg, path, val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// setByPath sets a single leaf of Config addressed by a lowercased
// yaml-tag path, e.g. []string{"battery", "leak_rate_per_sec"}.
func setByPath(cfg *Config, path []string, val string) error {
	if len(path) < 2 {
		return fmt.Errorf("path too short: %v", path)
	}
	switch path[0] {
	case "battery":
		return setFloatField(path[1], val, map[string]*float64{
			"capacity":          &cfg.Battery.Capacity,
			"leak_rate_per_sec": &cfg.Battery.LeakRatePerSec,
			"jumpstart":         &cfg.Battery.Jumpstart,
		})
	case "complexity":
		switch path[1] {
		case "min_entropy":
			return setFloatField(path[1], val, map[string]*float64{"min_entropy": &cfg.Complexity.MinEntropy})
		case "spam_threshold":
			return setFloatField(path[1], val, map[string]*float64{"spam_threshold": &cfg.Complexity.SpamThreshold})
		case "compression_level":
			n, err := strconv.Atoi(val)
			if err != nil {
				return err
			}
			cfg.Complexity.CompressionLevel = n
			return nil
		}
	case "core":
		return setFloatField(path[1], val, map[string]*float64{
			"novelty_ema_rho":  &cfg.Core.NoveltyEMARho,
			"coupling_ema_rho": &cfg.Core.CouplingEMARho,
		})
	case "observability":
		switch path[1] {
		case "log_level":
			cfg.Observability.LogLevel = val
			return nil
		case "log_format":
			cfg.Observability.LogFormat = val
			return nil
		}
	}
	return fmt.Errorf("unknown override path: %v", path)
}

func setFloatField(name, val string, targets map[string]*float64) error {
	p, ok := targets[name]
	if !ok {
		return fmt.Errorf("unknown field %q", name)
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("parse float %q: %w", val, err)
	}
	*p = f
	return nil
}
