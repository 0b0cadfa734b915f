package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir  string        `json:"dataDir"`
	HTTPAddr string        `json:"httpAddr"`
	Queue    QueueSettings `json:"queue"`
	LogLevel string        `json:"logLevel"`
	LogJSON  bool          `json:"logJson"`
}

// QueueSettings captures the delivery policy of the work queue.
type QueueSettings struct {
	Name                string `json:"name"`
	VisibilityTimeoutMs int64  `json:"visibilityTimeoutMs"`
	MaxAttempts         int    `json:"maxAttempts"`
	SweepIntervalMs     int64  `json:"sweepIntervalMs"`
}

// VisibilityTimeout returns the configured lease duration.
func (q QueueSettings) VisibilityTimeout() time.Duration {
	return time.Duration(q.VisibilityTimeoutMs) * time.Millisecond
}

// SweepInterval returns the configured sweeper cadence.
func (q QueueSettings) SweepInterval() time.Duration {
	return time.Duration(q.SweepIntervalMs) * time.Millisecond
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:  DefaultDataDir(),
		HTTPAddr: ":8080",
		Queue: QueueSettings{
			Name:                "default",
			VisibilityTimeoutMs: 30_000,
			MaxAttempts:         3,
			SweepIntervalMs:     2_000,
		},
		LogLevel: "info",
		LogJSON:  false,
	}
}

// Load reads configuration from a JSON file and overlays defaults. If path is
// empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.Queue.Name == "" {
		return fmt.Errorf("queue name must not be empty")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be >= 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.VisibilityTimeoutMs <= 0 {
		return fmt.Errorf("visibilityTimeoutMs must be positive, got %d", c.Queue.VisibilityTimeoutMs)
	}
	if c.Queue.SweepIntervalMs <= 0 {
		return fmt.Errorf("sweepIntervalMs must be positive, got %d", c.Queue.SweepIntervalMs)
	}
	if c.Queue.SweepIntervalMs >= c.Queue.VisibilityTimeoutMs {
		return fmt.Errorf("sweepIntervalMs (%d) must be shorter than visibilityTimeoutMs (%d)",
			c.Queue.SweepIntervalMs, c.Queue.VisibilityTimeoutMs)
	}
	return nil
}
