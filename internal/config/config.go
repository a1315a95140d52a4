// Package config loads agency-wide configuration, grounded on
// cellorg/internal/config's YAML layer and cellorg/public/agent's
// StandardConfigResolver path-resolution convention.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level agency configuration: where the database
// lives, the broker's default shard, and default protocol timeouts.
type Config struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`

	Database DatabaseConfig `yaml:"database"`
	Broker   BrokerConfig   `yaml:"broker"`

	DefaultContractTimeoutSeconds int `yaml:"default_contract_timeout_seconds"`
	DefaultRequestTimeoutSeconds  int `yaml:"default_request_timeout_seconds"`
	DefaultTaskTimeoutSeconds     int `yaml:"default_task_timeout_seconds"`

	KnownRevisionsCapacity int `yaml:"known_revisions_capacity"`
}

// DatabaseConfig configures the embedded document store driver.
type DatabaseConfig struct {
	Dir       string `yaml:"dir"`
	InMemory  bool   `yaml:"in_memory"`
}

// BrokerConfig configures the broker connection.
type BrokerConfig struct {
	Shard string `yaml:"shard"`
}

// Defaults returns a Config holding the fallback values Load applies to
// any field a config file leaves unset.
func Defaults() Config {
	return Config{
		AppName:                       "agency",
		DefaultContractTimeoutSeconds: 30,
		DefaultRequestTimeoutSeconds:  15,
		DefaultTaskTimeoutSeconds:     60,
		KnownRevisionsCapacity:        10_000,
		Database:                      DatabaseConfig{Dir: "./data/agency-db"},
		Broker:                        BrokerConfig{Shard: "default"},
	}
}

// Load reads and parses a YAML config file, applying Defaults() for any
// zero-valued field left unset.
func Load(filename string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", filename, err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.AppName == "" {
		cfg.AppName = d.AppName
	}
	if cfg.DefaultContractTimeoutSeconds == 0 {
		cfg.DefaultContractTimeoutSeconds = d.DefaultContractTimeoutSeconds
	}
	if cfg.DefaultRequestTimeoutSeconds == 0 {
		cfg.DefaultRequestTimeoutSeconds = d.DefaultRequestTimeoutSeconds
	}
	if cfg.DefaultTaskTimeoutSeconds == 0 {
		cfg.DefaultTaskTimeoutSeconds = d.DefaultTaskTimeoutSeconds
	}
	if cfg.KnownRevisionsCapacity == 0 {
		cfg.KnownRevisionsCapacity = d.KnownRevisionsCapacity
	}
	if cfg.Database.Dir == "" && !cfg.Database.InMemory {
		cfg.Database.Dir = d.Database.Dir
	}
	if cfg.Broker.Shard == "" {
		cfg.Broker.Shard = d.Broker.Shard
	}
}

// Resolve follows the same priority order as
// cellorg/public/agent.StandardConfigResolver: an explicit flag value,
// then AGENCY_CONFIG_PATH, then ./config/agency.yaml, then none.
func Resolve(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("AGENCY_CONFIG_PATH"); p != "" {
		return p
	}
	if p := filepath.Join("config", "agency.yaml"); fileExists(p) {
		return p
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
