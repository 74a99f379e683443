package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything needed to bring up a store: where its socket
// lives, where its write-ahead log persists, and how big its shared-memory
// segments are sized on first boot.
type Config struct {
	SocketPath string `yaml:"socketPath"`
	DataDir    string `yaml:"dataDir"`

	ArenaBytes           uint64 `yaml:"arenaBytes"`
	LocatorCapacity      uint64 `yaml:"locatorCapacity"`
	IDIndexOverflowSize  uint64 `yaml:"idIndexOverflowSize"`
	TxnInfoBits          uint   `yaml:"txnInfoBits"`
	WatermarkIntervalSec uint   `yaml:"watermarkIntervalSeconds"`
}

// DefaultConfig returns sane sizes for a single-node development instance.
func DefaultConfig() *Config {
	return &Config{
		SocketPath:           "/var/run/gaiadb/gaiadb.sock",
		DataDir:              "/var/lib/gaiadb",
		ArenaBytes:           1 << 30, // 1 GiB
		LocatorCapacity:      1 << 20,
		IDIndexOverflowSize:  1 << 18,
		TxnInfoBits:          20,
		WatermarkIntervalSec: 1,
	}
}

// LoadConfig reads and parses a YAML config file, filling in any field the
// file omits from DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// WatermarkInterval returns the configured reclamation poll interval as a
// time.Duration, defaulting to one second if unset.
func (c *Config) WatermarkInterval() time.Duration {
	if c.WatermarkIntervalSec == 0 {
		return time.Second
	}
	return time.Duration(c.WatermarkIntervalSec) * time.Second
}
