package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stubsync.yaml")
	raw := `baseUrl: http://mock.local:9999
token: secret
listen: ":9090"
intervals:
  probe: 10s
  fullSync: 2m
cacheTtl: 30m
jitter: 0.1
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfigFile(path)
	if err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if cfg.BaseURL != "http://mock.local:9999" || cfg.Token != "secret" || cfg.ListenOn != ":9090" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Intervals.Probe.std() != 10*time.Second || cfg.Intervals.FullSync.std() != 2*time.Minute {
		t.Fatalf("intervals not parsed: %+v", cfg.Intervals)
	}
	if cfg.CacheTTL.std() != 30*time.Minute || cfg.Jitter != 0.1 {
		t.Fatalf("ttl or jitter not parsed: %+v", cfg)
	}
}

func TestLoadConfigFileEmptyPath(t *testing.T) {
	cfg, err := loadConfigFile("")
	if err != nil {
		t.Fatalf("empty path should not error: %v", err)
	}
	if cfg.BaseURL != "" {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	if _, err := loadConfigFile("/no/such/file.yaml"); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
