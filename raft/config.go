package raft

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the timing knobs the event loop and replication driver use, loadable from YAML
// with defaults filled in for anything unset.
type Config struct {
	ElectionTimeoutMin time.Duration `yaml:"election_timeout_min"`
	ElectionTimeoutMax time.Duration `yaml:"election_timeout_max"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`

	// ApplyBatchSize caps how many committed entries the commit applier hands to the state
	// machine per ApplyAll call; the applier keeps calling until it has caught up with
	// commitIndex. Zero means unbounded.
	ApplyBatchSize int `yaml:"apply_batch_size"`
}

// DefaultConfig keeps the heartbeat interval well below the election timeout minimum, so a live
// leader never lets a follower's election timer fire.
func DefaultConfig() *Config {
	return &Config{
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		ApplyBatchSize:     64,
	}
}

// LoadConfig reads a YAML config file, filling in DefaultConfig for any field the file leaves
// unset. A field the file sets explicitly, even to zero, keeps the file's value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("raft: read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("raft: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces positive, well-ordered election timeout bounds and a heartbeat interval
// strictly below the election timeout minimum, so a live leader's heartbeats arrive before a
// follower's shortest possible election timeout.
func (c *Config) Validate() error {
	if c.ElectionTimeoutMin <= 0 || c.ElectionTimeoutMax <= 0 {
		return fmt.Errorf("raft: election timeout bounds must be positive")
	}
	if c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return fmt.Errorf("raft: election timeout max (%s) must exceed min (%s)", c.ElectionTimeoutMax, c.ElectionTimeoutMin)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("raft: heartbeat interval must be positive")
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return fmt.Errorf("raft: heartbeat interval (%s) must be below the election timeout minimum (%s)", c.HeartbeatInterval, c.ElectionTimeoutMin)
	}
	if c.ApplyBatchSize < 0 {
		return fmt.Errorf("raft: apply batch size must not be negative")
	}
	return nil
}
