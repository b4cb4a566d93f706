package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// Each test starts from a clean global viper and a throwaway home so runs
// cannot see each other's state or the developer's real config.
func resetConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Setenv("HOME", t.TempDir())
}

func TestLoadConfigDefaults(t *testing.T) {
	resetConfig(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Capture.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("ListenAddr = %s", cfg.Capture.ListenAddr)
	}
	if cfg.Capture.UserHeader != "X-User-ID" {
		t.Errorf("UserHeader = %s", cfg.Capture.UserHeader)
	}
	if cfg.Filter.NoiseRatio != 0.5 || !cfg.Filter.UseDefaults {
		t.Errorf("Filter defaults = %+v", cfg.Filter)
	}
	if cfg.Session.Timeout != 30*time.Minute {
		t.Errorf("Session timeout = %s", cfg.Session.Timeout)
	}
	if cfg.Generator.Framework != "playwright" || cfg.Generator.GroupBy != "endpoint" {
		t.Errorf("Generator defaults = %+v", cfg.Generator)
	}
	if cfg.Replay.Validation != "status" {
		t.Errorf("Replay validation = %s", cfg.Replay.Validation)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Path == "" {
		t.Errorf("Archive defaults = %+v", cfg.Archive)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	resetConfig(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
capture:
  listen_addr: "127.0.0.1:9999"
  http_target: "http://localhost:3000"
  user_header: "X-Session-User"
filter:
  noise_ratio: 0.8
  learned_exclusions:
    - "/api/heartbeat"
session:
  timeout: 10m
replay:
  validation: none
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Capture.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %s", cfg.Capture.ListenAddr)
	}
	if cfg.Capture.HTTPTarget != "http://localhost:3000" {
		t.Errorf("HTTPTarget = %s", cfg.Capture.HTTPTarget)
	}
	if cfg.Capture.UserHeader != "X-Session-User" {
		t.Errorf("UserHeader = %s", cfg.Capture.UserHeader)
	}
	if cfg.Filter.NoiseRatio != 0.8 {
		t.Errorf("NoiseRatio = %f", cfg.Filter.NoiseRatio)
	}
	if len(cfg.Filter.LearnedExclusions) != 1 || cfg.Filter.LearnedExclusions[0] != "/api/heartbeat" {
		t.Errorf("LearnedExclusions = %v", cfg.Filter.LearnedExclusions)
	}
	if cfg.Session.Timeout != 10*time.Minute {
		t.Errorf("Timeout = %s", cfg.Session.Timeout)
	}
	if cfg.Replay.Validation != "none" {
		t.Errorf("Validation = %s", cfg.Replay.Validation)
	}

	// Untouched sections keep their defaults.
	if cfg.Mock.ListenAddr != "0.0.0.0:8081" {
		t.Errorf("Mock defaults should survive, got %s", cfg.Mock.ListenAddr)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	resetConfig(t)

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected an error for an explicitly named missing file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	resetConfig(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	bad := *cfg
	bad.Capture.ListenAddr = "not an address"
	if err := bad.Validate(); err == nil {
		t.Error("Expected invalid listen_addr to fail validation")
	}

	bad = *cfg
	bad.Filter.NoiseRatio = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("Expected out-of-range noise_ratio to fail validation")
	}

	bad = *cfg
	bad.Replay.Validation = "strict"
	if err := bad.Validate(); err == nil {
		t.Error("Expected unknown validation mode to fail validation")
	}

	bad = *cfg
	bad.Generator.Framework = "cypress"
	if err := bad.Validate(); err == nil {
		t.Error("Expected unsupported framework to fail validation")
	}
}

func TestAddLearnedExclusions(t *testing.T) {
	cfg := &Config{}
	cfg.Filter.LearnedExclusions = []string{"/api/ping"}

	added := cfg.AddLearnedExclusions([]string{"/api/ping", "/api/heartbeat", "/api/ads"})
	if added != 2 {
		t.Errorf("Expected 2 new exclusions, got %d", added)
	}
	want := []string{"/api/ads", "/api/heartbeat", "/api/ping"}
	if len(cfg.Filter.LearnedExclusions) != len(want) {
		t.Fatalf("Exclusions = %v", cfg.Filter.LearnedExclusions)
	}
	for i := range want {
		if cfg.Filter.LearnedExclusions[i] != want[i] {
			t.Errorf("Exclusions[%d] = %s, want %s", i, cfg.Filter.LearnedExclusions[i], want[i])
		}
	}

	if added := cfg.AddLearnedExclusions([]string{"/api/ping"}); added != 0 {
		t.Errorf("Duplicate exclusion should not count, got %d", added)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	resetConfig(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	cfg.Filter.NoiseRatio = 0.7
	cfg.AddLearnedExclusions([]string{"/api/heartbeat"})

	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	viper.Reset()
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if loaded.Filter.NoiseRatio != 0.7 {
		t.Errorf("NoiseRatio = %f", loaded.Filter.NoiseRatio)
	}
	if len(loaded.Filter.LearnedExclusions) != 1 || loaded.Filter.LearnedExclusions[0] != "/api/heartbeat" {
		t.Errorf("LearnedExclusions = %v", loaded.Filter.LearnedExclusions)
	}
}
