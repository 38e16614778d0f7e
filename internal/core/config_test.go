package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 1870 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Pipeline.DrainInterval != 5*time.Second {
		t.Errorf("drain interval = %s", cfg.Pipeline.DrainInterval)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Alerts.MinSeverity != SeverityMedium {
		t.Errorf("min alert severity = %s", cfg.Alerts.MinSeverity)
	}
	if cfg.AuthEnabled() {
		t.Error("auth enabled without keys")
	}
}

func TestLoadConfig_MergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9999
  api_keys: ["k1"]
pipeline:
  max_retries: 7
alerts:
  min_severity: high
detection:
  failed_login_threshold: 3
store:
  backend: badger
  data_dir: /tmp/sentra
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Pipeline.MaxRetries != 7 {
		t.Errorf("max retries = %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Detection.FailedLoginThreshold != 3 {
		t.Errorf("failed login threshold = %d", cfg.Detection.FailedLoginThreshold)
	}
	if cfg.Store.Backend != "badger" {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Alerts.MinSeverity != SeverityHigh {
		t.Errorf("min alert severity = %s", cfg.Alerts.MinSeverity)
	}
	// Untouched sections keep their defaults.
	if cfg.Pipeline.DrainInterval != 5*time.Second {
		t.Errorf("drain interval = %s", cfg.Pipeline.DrainInterval)
	}
}

func TestLoadConfig_EnvAPIKey(t *testing.T) {
	t.Setenv("SENTRA_API_KEY", "env-key")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.AuthEnabled() || !cfg.CheckAPIKey("env-key") {
		t.Error("env API key not applied")
	}
}

func TestLoadConfig_RejectsUnknownSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "alerts:\n  min_severity: extreme\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for unknown severity name")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestCheckAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.APIKeys = []string{"alpha", "beta"}

	if !cfg.CheckAPIKey("alpha") || !cfg.CheckAPIKey("beta") {
		t.Error("configured keys rejected")
	}
	if cfg.CheckAPIKey("gamma") || cfg.CheckAPIKey("") {
		t.Error("unknown key accepted")
	}
}
