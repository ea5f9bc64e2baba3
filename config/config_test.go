package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseFullDocument(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"store": {"type": "postgres", "dsn": "postgres://localhost/blackcap?sslmode=disable"},
		"auther": {"type": "cookie", "secret": "s3cret", "ttlMinutes": 30},
		"clusters": [
			{"id": "mem", "type": "memory", "params": {"capabilities": ["linux"], "limit": 4}},
			{"id": "lab", "type": "remote", "params": {"addr": "http://lab:8080"}}
		],
		"reconciler": {"pollIntervalMs": 2000, "maxParallel": 2}
	}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Store.Type != "postgres" || cfg.Store.DSN == "" {
		t.Errorf("store config not parsed: %+v", cfg.Store)
	}
	if cfg.Auther.TTLMinutes != 30 {
		t.Errorf("auther config not parsed: %+v", cfg.Auther)
	}
	if len(cfg.Clusters) != 2 || cfg.Clusters[1].Type != "remote" {
		t.Errorf("cluster configs not parsed: %+v", cfg.Clusters)
	}
	if cfg.Reconciler.PollInterval() != 2*time.Second {
		t.Errorf("expected 2s poll interval, got %v", cfg.Reconciler.PollInterval())
	}
}

func TestParseEmptyYieldsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Store.Type != "memory" || cfg.Auther.Type != "cookie" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Clusters) != 1 || cfg.Clusters[0].Type != "memory" {
		t.Errorf("expected one default memory cluster, got %+v", cfg.Clusters)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"unknown store", `{"store": {"type": "cassandra"}, "clusters": [{"id": "c", "type": "memory"}]}`},
		{"postgres without dsn", `{"store": {"type": "postgres"}, "clusters": [{"id": "c", "type": "memory"}]}`},
		{"unknown auther", `{"auther": {"type": "ldap"}, "clusters": [{"id": "c", "type": "memory"}]}`},
		{"no clusters", `{"clusters": []}`},
		{"empty cluster id", `{"clusters": [{"id": "", "type": "memory"}]}`},
		{"cluster without type", `{"clusters": [{"id": "c"}]}`},
		{"duplicate cluster ids", `{"clusters": [{"id": "c", "type": "memory"}, {"id": "c", "type": "local"}]}`},
		{"malformed json", `{"clusters": [`},
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c.text)); err == nil {
			t.Errorf("%s: expected a parse error", c.name)
		}
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	text := `{"clusters": [{"id": "mem", "type": "memory"}]}`
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}

	cfg, err := ParseFile(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(cfg.Clusters) != 1 || cfg.Clusters[0].ID != "mem" {
		t.Errorf("unexpected config: %+v", cfg.Clusters)
	}

	if cfg, err := ParseFile(""); err != nil || cfg.Store.Type != "memory" {
		t.Errorf("expected an empty path to yield defaults, got %+v, %v", cfg, err)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected a missing file to fail")
	}
}
