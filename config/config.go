// Package config loads the daemon's configuration: an optional TOML
// file with defaults for every field, meant to be overridden by CLI
// flags in cmd/neromond.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

// StoreBackend selects a store.Backend implementation at startup.
type StoreBackend string

const (
	BackendMemory StoreBackend = "memory"
	BackendPebble StoreBackend = "pebble"
	BackendPogreb StoreBackend = "pogreb"
)

// Config holds every daemon-tunable value.
type Config struct {
	Listen             string       `toml:"listen"`
	Bootstrap          []string     `toml:"bootstrap"`
	DataDir            string       `toml:"data-dir"`
	BucketSize         int          `toml:"bucket-size"`
	ReplicationHorizon int          `toml:"replication-horizon"`
	BridgeWorkers      int          `toml:"bridge-workers"`
	StoreBackend       StoreBackend `toml:"store-backend"`
	BridgeListen       string       `toml:"bridge-listen"`
	MetricsListen      string       `toml:"metrics-listen"`
}

// Default returns a Config with the daemon's built-in defaults.
func Default() Config {
	return Config{
		Listen:             "127.0.0.1:4100",
		DataDir:            "./data",
		BucketSize:         20,
		ReplicationHorizon: 20,
		BridgeWorkers:      16,
		StoreBackend:       BackendPebble,
		BridgeListen:       "127.0.0.1:4101",
	}
}

// Load reads a TOML file at path and merges it over the defaults. An
// empty path returns the defaults unchanged; a non-empty path naming a
// file that does not exist or does not decode is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: failed to decode %s", path)
	}
	return cfg, nil
}

// Validate checks that cfg is structurally usable before the daemon
// bootstraps collaborators from it.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen endpoint is required")
	}
	if c.DataDir == "" {
		return errors.New("config: data-dir is required")
	}
	if c.BucketSize <= 0 {
		return errors.New("config: bucket-size must be positive")
	}
	switch c.StoreBackend {
	case BackendMemory, BackendPebble, BackendPogreb:
	default:
		return errors.Newf("config: unknown store-backend %q", c.StoreBackend)
	}
	return nil
}
