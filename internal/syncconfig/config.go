// Package syncconfig implements TOML configuration loading for the sync
// engine, grounded on the teacher's internal/config package: one top-level
// Config with tagged sections, BurntSushi/toml decoding, per-family
// overrides completely replacing the corresponding global section.
package syncconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/brightloom/syncengine/internal/syncengine"
)

// Config is the top-level configuration structure.
type Config struct {
	Policy   PolicyConfig            `toml:"policy"`
	Families map[string]PolicyConfig `toml:"family"`
	Logging  LoggingConfig           `toml:"logging"`
	Network  NetworkConfig           `toml:"network"`
}

// PolicyConfig mirrors syncengine.SyncPolicy in TOML-friendly form (string
// durations instead of time.Duration).
type PolicyConfig struct {
	Enabled              bool     `toml:"enabled"`
	RequireNetwork       bool     `toml:"require_network"`
	WifiOnly             bool     `toml:"wifi_only"`
	AllowOnBattery       bool     `toml:"allow_on_battery"`
	PauseOnLowBattery    bool     `toml:"pause_on_low_battery"`
	MinimumBatteryLevel  float64  `toml:"minimum_battery_level"`
	AllowInBackground    bool     `toml:"allow_in_background"`
	Frequency            string   `toml:"frequency"`
	FrequencyInterval    string   `toml:"frequency_interval"`
	IncludedEntities     []string `toml:"included_entities"`
	ExcludedEntities     []string `toml:"excluded_entities"`
	MaxConcurrentSyncs   int      `toml:"max_concurrent_syncs"`
	MaxConcurrentUploads int      `toml:"max_concurrent_uploads"`
	RequireSubscription  string   `toml:"require_subscription"`
	MaxBatchSize         int      `toml:"max_batch_size"`
	MaxSyncDuration      string   `toml:"max_sync_duration"`
	RetryBaseDelay       string   `toml:"retry_base_delay"`
	RetryMaxAttempts     int      `toml:"retry_max_attempts"`
	ConflictStrategy     string   `toml:"conflict_strategy"`
	RealtimeEnabled      bool     `toml:"realtime_enabled"`
	TombstoneRetention   string   `toml:"tombstone_retention"`
	HistoryRetentionDays int      `toml:"history_retention_days"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NetworkConfig controls the remote HTTP client.
type NetworkConfig struct {
	BaseURL        string `toml:"base_url"`
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// Defaults returns a Config with the engine's documented defaults.
func Defaults() Config {
	return Config{
		Policy: PolicyConfig{
			Enabled:              true,
			RequireNetwork:       true,
			Frequency:            "automatic",
			MaxConcurrentSyncs:   3,
			MaxConcurrentUploads: 8,
			MaxBatchSize:         50,
			MaxSyncDuration:      "10m",
			RetryBaseDelay:       "1s",
			RetryMaxAttempts:     5,
			ConflictStrategy:     "last_write_wins",
			TombstoneRetention:   "720h",
			HistoryRetentionDays: 30,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Network: NetworkConfig{ConnectTimeout: "30s", UserAgent: "syncengine/1.0"},
	}
}

// Load reads and decodes a TOML config file at path, filling unset fields
// from Defaults().
func Load(path string) (Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("syncconfig: decode %s: %w", path, err)
	}

	return cfg, nil
}

// PolicyFor resolves the SyncPolicy for a family: the per-family override
// in Families, if present, else the global Policy section.
func (c Config) PolicyFor(family string) (syncengine.SyncPolicy, error) {
	pc, ok := c.Families[family]
	if !ok {
		pc = c.Policy
	}

	return pc.toPolicy()
}

func (pc PolicyConfig) toPolicy() (syncengine.SyncPolicy, error) {
	maxSyncDuration, err := parseDuration(pc.MaxSyncDuration)
	if err != nil {
		return syncengine.SyncPolicy{}, err
	}

	retryBase, err := parseDuration(pc.RetryBaseDelay)
	if err != nil {
		return syncengine.SyncPolicy{}, err
	}

	tombstoneRetention, err := parseDuration(pc.TombstoneRetention)
	if err != nil {
		return syncengine.SyncPolicy{}, err
	}

	frequencyInterval, err := parseDuration(pc.FrequencyInterval)
	if err != nil {
		return syncengine.SyncPolicy{}, err
	}

	frequency := syncengine.Frequency(pc.Frequency)
	if frequency == "" {
		frequency = syncengine.FrequencyAutomatic
	}

	return syncengine.SyncPolicy{
		Enabled:              pc.Enabled,
		RequireNetwork:       pc.RequireNetwork,
		WifiOnly:             pc.WifiOnly,
		AllowOnBattery:       pc.AllowOnBattery,
		PauseOnLowBattery:    pc.PauseOnLowBattery,
		MinimumBatteryLevel:  pc.MinimumBatteryLevel,
		AllowInBackground:    pc.AllowInBackground,
		Frequency:            frequency,
		FrequencyInterval:    frequencyInterval,
		IncludedEntities:     pc.IncludedEntities,
		ExcludedEntities:     pc.ExcludedEntities,
		MaxConcurrentSyncs:   pc.MaxConcurrentSyncs,
		MaxConcurrentUploads: pc.MaxConcurrentUploads,
		RequireSubscription:  pc.RequireSubscription,
		MaxBatchSize:         pc.MaxBatchSize,
		MaxSyncDuration:      maxSyncDuration,
		RetryBaseDelay:       retryBase,
		RetryMaxAttempts:     pc.RetryMaxAttempts,
		ConflictStrategy:     pc.ConflictStrategy,
		RealtimeEnabled:      pc.RealtimeEnabled,
		TombstoneRetention:   tombstoneRetention,
		HistoryRetentionDays: pc.HistoryRetentionDays,
	}, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("syncconfig: invalid duration %q: %w", s, err)
	}

	return d, nil
}
