package core

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire sentra configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bus       BusConfig       `yaml:"bus"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Detection DetectorConfig  `yaml:"detection"`
	Stats     StatsConfig     `yaml:"stats"`
	Store     StoreConfig     `yaml:"store"`
	Directory DirectoryConfig `yaml:"directory"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// BusConfig holds NATS publication settings.
type BusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
}

// PipelineConfig holds ingestion queue and processor settings.
type PipelineConfig struct {
	DrainInterval       time.Duration `yaml:"drain_interval"`
	MaxRetries          int           `yaml:"max_retries"`
	InitialBackoff      time.Duration `yaml:"initial_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
	DedupSize           int           `yaml:"dedup_size"`
	MaxIndexEntries     int           `yaml:"max_index_entries"`
	DeadLetterSize      int           `yaml:"dead_letter_size"`
	MaxLineageEdges     int           `yaml:"max_lineage_edges"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// StatsConfig holds statistics aggregation settings.
type StatsConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "badger"
	DataDir string `yaml:"data_dir"`
}

// DirectoryConfig holds the static actor directory.
type DirectoryConfig struct {
	Roles map[string]string `yaml:"roles"`
}

// AlertConfig holds alert manager settings. MinSeverity is the lowest
// finding severity that is escalated into a SecurityAlert; findings below it
// are recorded on the event's security context only.
type AlertConfig struct {
	MaxStore    int      `yaml:"max_store"`
	MinSeverity Severity `yaml:"min_severity"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults — zero-config works out
// of the box with an in-memory store and no bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 1870,
		},
		Bus: BusConfig{
			Enabled:  false,
			URL:      "nats://127.0.0.1:4222",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4222,
		},
		Pipeline: PipelineConfig{
			DrainInterval:       5 * time.Second,
			MaxRetries:          3,
			InitialBackoff:      1 * time.Second,
			MaxBackoff:          30 * time.Second,
			DedupSize:           100000,
			MaxIndexEntries:     10000,
			DeadLetterSize:      1000,
			MaxLineageEdges:     10000,
			MaintenanceInterval: 10 * time.Minute,
		},
		Detection: DefaultDetectorConfig(),
		Stats: StatsConfig{
			RetentionDays: 365,
		},
		Store: StoreConfig{
			Backend: "memory",
			DataDir: "./data/store",
		},
		Directory: DirectoryConfig{
			Roles: map[string]string{},
		},
		Alerts: AlertConfig{
			MaxStore:    10000,
			MinSeverity: SeverityMedium,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads a yaml config file and merges it over the defaults. An
// empty path returns the defaults. SENTRA_API_KEY, if set, is appended to
// the server API keys.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if key := os.Getenv("SENTRA_API_KEY"); key != "" {
		cfg.Server.APIKeys = append(cfg.Server.APIKeys, key)
	}

	return cfg, nil
}

// LogLevel returns the normalized logging level.
func (c *Config) LogLevel() string {
	return strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

// AuthEnabled reports whether API key authentication is configured.
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeys) > 0
}

// CheckAPIKey compares a presented key against the configured keys in
// constant time.
func (c *Config) CheckAPIKey(key string) bool {
	for _, k := range c.Server.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}
