// Package config parses the process configuration: which store, auther
// and cluster backend implementations to run, selected by name, plus
// their parameter blocks. Everything is constructed explicitly at
// process start and passed down; nothing here installs globals.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the root of the JSON config file.
type Config struct {
	Store      StoreConfig      `json:"store"`
	Auther     AutherConfig     `json:"auther"`
	Clusters   []ClusterConfig  `json:"clusters"`
	Reconciler ReconcilerConfig `json:"reconciler"`
}

// StoreConfig selects the persistence implementation.
// Type is "memory" or "postgres".
type StoreConfig struct {
	Type string `json:"type"`
	DSN  string `json:"dsn,omitempty"`
}

// AutherConfig selects the Identity Provider implementation.
// Type is "cookie".
type AutherConfig struct {
	Type       string `json:"type"`
	Secret     string `json:"secret,omitempty"`
	TTLMinutes int    `json:"ttlMinutes,omitempty"`
}

// ClusterConfig declares one execution backend. Type names a factory in
// the cluster registry ("memory", "local", "remote"); Params is handed
// to the factory as-is.
type ClusterConfig struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ReconcilerConfig carries loop tuning knobs, all optional.
type ReconcilerConfig struct {
	PollIntervalMs int `json:"pollIntervalMs,omitempty"`
	PollTimeoutMs  int `json:"pollTimeoutMs,omitempty"`
	RetryTimeoutMs int `json:"retryTimeoutMs,omitempty"`
	MaxParallel    int `json:"maxParallel,omitempty"`
	QueryRate      int `json:"queryRate,omitempty"`
}

func (rc *ReconcilerConfig) PollInterval() time.Duration {
	return time.Duration(rc.PollIntervalMs) * time.Millisecond
}

func (rc *ReconcilerConfig) PollTimeout() time.Duration {
	return time.Duration(rc.PollTimeoutMs) * time.Millisecond
}

func (rc *ReconcilerConfig) RetryTimeout() time.Duration {
	return time.Duration(rc.RetryTimeoutMs) * time.Millisecond
}

// DefaultConfig is what a process gets with no config file: an in-memory
// store, cookie auth with an ephemeral secret, and one unbounded
// in-memory cluster.
func DefaultConfig() *Config {
	return &Config{
		Store:  StoreConfig{Type: "memory"},
		Auther: AutherConfig{Type: "cookie"},
		Clusters: []ClusterConfig{
			{ID: "default", Type: "memory"},
		},
	}
}

// Parse decodes and validates a config document.
func Parse(text []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(text) > 0 {
		cfg = &Config{}
		if err := json.Unmarshal(text, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %v", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFile reads and parses the config file at path. An empty path
// yields DefaultConfig.
func ParseFile(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %v", path, err)
	}
	return Parse(text)
}

func (c *Config) validate() error {
	switch c.Store.Type {
	case "", "memory":
		c.Store.Type = "memory"
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("postgres store requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}

	switch c.Auther.Type {
	case "", "cookie":
		c.Auther.Type = "cookie"
	default:
		return fmt.Errorf("unknown auther type %q", c.Auther.Type)
	}

	if len(c.Clusters) == 0 {
		return fmt.Errorf("config declares no clusters")
	}
	seen := map[string]bool{}
	for _, cl := range c.Clusters {
		if cl.ID == "" {
			return fmt.Errorf("cluster with empty id")
		}
		if cl.Type == "" {
			return fmt.Errorf("cluster %s has no type", cl.ID)
		}
		if seen[cl.ID] {
			return fmt.Errorf("duplicate cluster id %s", cl.ID)
		}
		seen[cl.ID] = true
	}
	return nil
}
