package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
cloud:
  access_key: "ak-test"
  secret_key: "sk-test"
poll:
  interval: 30
realtime:
  enabled: true
  freshness_window: 45
database:
  path: "/tmp/test.db"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cloud.AccessKey != "ak-test" {
		t.Errorf("Cloud.AccessKey = %q, want %q", cfg.Cloud.AccessKey, "ak-test")
	}
	if cfg.Poll.Interval != 30 {
		t.Errorf("Poll.Interval = %d, want 30", cfg.Poll.Interval)
	}
	if cfg.Realtime.FreshnessWindow != 45 {
		t.Errorf("Realtime.FreshnessWindow = %d, want 45", cfg.Realtime.FreshnessWindow)
	}
	// Defaults should fill in what the file omits
	if cfg.Cloud.BaseURL != "https://api-e.ecoflow.com" {
		t.Errorf("Cloud.BaseURL = %q, want default", cfg.Cloud.BaseURL)
	}
	if cfg.Realtime.Reconnect.MaxDelay != 60 {
		t.Errorf("Reconnect.MaxDelay = %d, want 60", cfg.Realtime.Reconnect.MaxDelay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingKeys(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for missing keys, got nil")
	}
	if !strings.Contains(err.Error(), "cloud.access_key") {
		t.Errorf("error = %v, want mention of cloud.access_key", err)
	}
}

func TestLoad_PollIntervalBounds(t *testing.T) {
	tests := []struct {
		name     string
		interval int
		wantErr  bool
	}{
		{"below minimum", 2, true},
		{"at minimum", 5, false},
		{"typical", 15, false},
		{"at maximum", 60, false},
		{"above maximum", 120, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Cloud.AccessKey = "ak"
			cfg.Cloud.SecretKey = "sk"
			cfg.Poll.Interval = tt.interval

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("Validate() expected error for interval %d", tt.interval)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v for interval %d", err, tt.interval)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
cloud:
  access_key: "file-ak"
  secret_key: "file-sk"
`
	t.Setenv("GRIDFLOW_CLOUD_ACCESS_KEY", "env-ak")
	t.Setenv("GRIDFLOW_POLL_INTERVAL", "20")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cloud.AccessKey != "env-ak" {
		t.Errorf("Cloud.AccessKey = %q, want env override %q", cfg.Cloud.AccessKey, "env-ak")
	}
	if cfg.Poll.Interval != 20 {
		t.Errorf("Poll.Interval = %d, want env override 20", cfg.Poll.Interval)
	}
	// Secret key untouched by env
	if cfg.Cloud.SecretKey != "file-sk" {
		t.Errorf("Cloud.SecretKey = %q, want %q", cfg.Cloud.SecretKey, "file-sk")
	}
}

func TestLoad_ReconnectDelayOrdering(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cloud.AccessKey = "ak"
	cfg.Cloud.SecretKey = "sk"
	cfg.Realtime.Reconnect.InitialDelay = 30
	cfg.Realtime.Reconnect.MaxDelay = 5

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for max_delay < initial_delay")
	}
}

func TestLoad_StableWindow(t *testing.T) {
	content := `
cloud:
  access_key: "ak"
  secret_key: "sk"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// The default stays far below the delay ceiling: a connection that
	// survives a few seconds must reset the backoff.
	if cfg.Realtime.Reconnect.StableWindow != 5 {
		t.Errorf("Reconnect.StableWindow = %d, want 5", cfg.Realtime.Reconnect.StableWindow)
	}
	if cfg.ReconnectStableWindow() >= cfg.MaxReconnectDelay() {
		t.Errorf("ReconnectStableWindow() = %v, must be below MaxReconnectDelay() = %v",
			cfg.ReconnectStableWindow(), cfg.MaxReconnectDelay())
	}

	cfg.Realtime.Reconnect.StableWindow = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for stable_window < 1")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.PollInterval().Seconds(); got != 15 {
		t.Errorf("PollInterval() = %vs, want 15s", got)
	}
	if got := cfg.FreshnessWindow().Seconds(); got != 60 {
		t.Errorf("FreshnessWindow() = %vs, want 60s", got)
	}
	if got := cfg.CloudTimeout().Seconds(); got != 30 {
		t.Errorf("CloudTimeout() = %vs, want 30s", got)
	}
	if got := cfg.ReconnectStableWindow().Seconds(); got != 5 {
		t.Errorf("ReconnectStableWindow() = %vs, want 5s", got)
	}
}
