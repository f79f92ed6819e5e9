// Package config loads application settings from environment variables,
// optionally overridden by a YAML config file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Scan      ScanConfig      `yaml:"scan"`
	Cache     CacheConfig     `yaml:"cache"`
	Serve     ServeConfig     `yaml:"serve"`
}

type EmbeddingConfig struct {
	URL string `yaml:"url"` // embedding server, defaults to http://localhost:8000
}

type ScanConfig struct {
	Threshold         float64 `yaml:"threshold"`           // default similarity threshold
	Mode              string  `yaml:"mode"`                // fingerprint or embedding
	IgnoredFolderName string  `yaml:"ignored_folder_name"` // folder name excluded from discovery
	MaxLeaves         int     `yaml:"max_leaves"`          // discovery cap
	Workers           int     `yaml:"workers"`             // per-image worker count
	TopLevelOnly      bool    `yaml:"top_level_only"`      // compare within each folder only
}

type CacheConfig struct {
	Entries    int `yaml:"entries"`      // thumbnail LRU capacity
	SoftHeapMB int `yaml:"soft_heap_mb"` // purge threshold for the pressure monitor
}

type ServeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float in [0, 1].
// Returns the default value if the env var is unset, empty, or out of range.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Load builds the configuration from environment variables with sane
// defaults.
func Load() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			URL: os.Getenv("TWINALYZER_EMBEDDING_URL"),
		},
		Scan: ScanConfig{
			Threshold:         envFloat("TWINALYZER_THRESHOLD", 0.9),
			Mode:              envString("TWINALYZER_MODE", "fingerprint"),
			IgnoredFolderName: os.Getenv("TWINALYZER_IGNORE_NAME"),
			MaxLeaves:         envInt("TWINALYZER_MAX_LEAVES", 2000),
			Workers:           envInt("TWINALYZER_WORKERS", 5),
		},
		Cache: CacheConfig{
			Entries:    envInt("TWINALYZER_CACHE_ENTRIES", 256),
			SoftHeapMB: envInt("TWINALYZER_CACHE_SOFT_MB", 512),
		},
		Serve: ServeConfig{
			Host: envString("TWINALYZER_HOST", "127.0.0.1"),
			Port: envInt("TWINALYZER_PORT", 8080),
		},
	}
}

// ApplyFile overlays settings from a YAML file onto the config. Values
// absent from the file keep their current (env or default) values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
