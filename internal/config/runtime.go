package config

import (
	_ "embed"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config.default.yaml
var defaultConfigYAML []byte

// RuntimeConfig holds the enrollment core's deployment-specific settings:
// where the Postgres store and optional Redis cache live, and overrides for
// values that otherwise fall back to the constants in constants.go.
type RuntimeConfig struct {
	DatabaseURL string `yaml:"database_url"`

	RedisURL     string        `yaml:"redis_url,omitempty"`
	CacheTTL     time.Duration `yaml:"cache_ttl,omitempty"`
	LogLevel     string        `yaml:"log_level"`
	GCThreshold  time.Duration `yaml:"gc_threshold,omitempty"`
}

// Store wraps a RuntimeConfig behind a mutex so a CLI watch loop can reload
// it without racing readers.
type Store struct {
	mu  sync.RWMutex
	cfg RuntimeConfig
}

// Load reads defaults from the embedded config.default.yaml, then
// overlays path if it is non-empty. A non-empty path that cannot be read
// is an error.
func Load(path string) (*Store, error) {
	var cfg RuntimeConfig
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded default config: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if cfg.GCThreshold == 0 {
		cfg.GCThreshold = time.Duration(PreviousEnrollmentsGCTime) * time.Second
	}

	return &Store{cfg: cfg}, nil
}

// Get returns a copy of the current configuration.
func (s *Store) Get() RuntimeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reload re-reads path and swaps in the new configuration atomically.
func (s *Store) Reload(path string) error {
	next, err := Load(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = next.cfg
	s.mu.Unlock()
	return nil
}
