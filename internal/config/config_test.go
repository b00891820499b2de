package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Converter.PollingTimeout != 300 {
		t.Errorf("Expected polling timeout 300, got %d", cfg.Converter.PollingTimeout)
	}
	if cfg.Converter.MaxRetries != 2 {
		t.Errorf("Expected max retries 2, got %d", cfg.Converter.MaxRetries)
	}
	if cfg.Resources.RAMCriticalPercent != 90 {
		t.Errorf("Expected RAM critical 90, got %v", cfg.Resources.RAMCriticalPercent)
	}
	if cfg.Resources.TempDirMaxSizeMB != 5000 {
		t.Errorf("Expected temp dir cap 5000MB, got %d", cfg.Resources.TempDirMaxSizeMB)
	}
	if cfg.Cache.MaxEntries != 100 || cfg.Cache.TTLSeconds != 3600 {
		t.Errorf("Unexpected cache defaults: %d entries, %ds TTL",
			cfg.Cache.MaxEntries, cfg.Cache.TTLSeconds)
	}
	if !cfg.WebhookOnFailure() {
		t.Error("Expected webhook-on-failure to default on")
	}
}

func TestWebhookOnFailureExplicitFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
tasks:
  webhook_on_failure: false
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WebhookOnFailure() {
		t.Error("Explicit false must not be overridden by the default")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  port: 9000
converter:
  base_url: "http://converter:8591"
  max_retries: 5
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Converter.BaseURL != "http://converter:8591" {
		t.Errorf("Unexpected base URL: %s", cfg.Converter.BaseURL)
	}
	if cfg.Converter.MaxRetries != 5 {
		t.Errorf("Expected max retries 5, got %d", cfg.Converter.MaxRetries)
	}
	// Untouched fields still get defaults
	if cfg.Workers.Count != 2 {
		t.Errorf("Expected default worker count 2, got %d", cfg.Workers.Count)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REMOTE_CONVERTER_URL", "http://10.0.0.5:8591")
	t.Setenv("REMOTE_CONVERTER_MAX_RETRIES", "4")
	t.Setenv("MEMORY_CRITICAL_THRESHOLD_PERCENT", "85")
	t.Setenv("CACHE_DISK_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Converter.BaseURL != "http://10.0.0.5:8591" {
		t.Errorf("Env URL override not applied: %s", cfg.Converter.BaseURL)
	}
	if cfg.Converter.MaxRetries != 4 {
		t.Errorf("Env retries override not applied: %d", cfg.Converter.MaxRetries)
	}
	if cfg.Resources.RAMCriticalPercent != 85 {
		t.Errorf("Env RAM threshold override not applied: %v", cfg.Resources.RAMCriticalPercent)
	}
	if !cfg.Cache.DiskEnabled {
		t.Error("Env disk cache override not applied")
	}
}
