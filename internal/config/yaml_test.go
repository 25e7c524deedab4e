// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config, got nil")
	}
	if cfg.Dispatcher.HardCeiling != DefaultHardCeiling {
		t.Errorf("HardCeiling = %d, want %d", cfg.Dispatcher.HardCeiling, DefaultHardCeiling)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: debug
bridge:
  address: 192.168.1.20
  credentials:
    application_key: abc
    shared_secret: "00112233-44556677-8899AABB-CCDDEEFF-00112233-44556677-8899AABB-CCDDEEFF"
  selected_group_id: group-1
analysis:
  mode: pulse
  sensitivity: 8
dispatcher:
  min_interval: 20ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Analysis.Mode != "pulse" || cfg.Analysis.Sensitivity != 8 {
		t.Errorf("analysis = %+v", cfg.Analysis)
	}
	if cfg.Dispatcher.MinInterval != 20*time.Millisecond {
		t.Errorf("MinInterval = %v, want 20ms", cfg.Dispatcher.MinInterval)
	}
	// Untouched values keep their defaults.
	if cfg.Dispatcher.AnimationInterval != DefaultAnimationInterval {
		t.Errorf("AnimationInterval = %v, want default", cfg.Dispatcher.AnimationInterval)
	}
	if !cfg.Bridge.Valid() {
		t.Error("bridge should be valid")
	}
	key, ok := cfg.Bridge.StreamingKey()
	if !ok || len(key) != 32 {
		t.Errorf("StreamingKey() = %x,%v", key, ok)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeTempConfig(t, "bridge:\n  address: 10.0.0.2\n")
	t.Setenv("ENV_BRIDGE_ADDRESS", "10.0.0.9")
	t.Setenv("ENV_BRIDGE_APPLICATION_KEY", "from-env")
	t.Setenv("ENV_SENSITIVITY", "3")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Bridge.Address != "10.0.0.9" || cfg.Bridge.Credentials.ApplicationKey != "from-env" {
		t.Errorf("bridge = %+v", cfg.Bridge)
	}
	if cfg.Analysis.Sensitivity != 3 {
		t.Errorf("Sensitivity = %v, want 3", cfg.Analysis.Sensitivity)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"sensitivity low", func(c *Config) { c.Analysis.Sensitivity = 0 }, "analysis.sensitivity"},
		{"sensitivity high", func(c *Config) { c.Analysis.Sensitivity = 11 }, "analysis.sensitivity"},
		{"fft size", func(c *Config) { c.Analysis.FFTSize = 1000 }, "power of 2"},
		{"ceilings", func(c *Config) { c.Dispatcher.HardCeiling = 5 }, "ceilings"},
		{"channels", func(c *Config) { c.Streaming.ChannelCount = 21 }, "channel_count"},
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 100 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestBridge(t *testing.T) {
	t.Parallel()
	var b Bridge
	if b.Valid() {
		t.Error("empty bridge reported valid")
	}
	b = Bridge{Address: "h", Credentials: Credentials{ApplicationKey: "k", SharedSecret: "zz-12"}}
	if !b.Valid() {
		t.Error("bridge with address and key reported invalid")
	}
	if _, ok := b.StreamingKey(); ok {
		t.Error("short secret accepted as streaming key")
	}
	if got := NormalizeSecret(` "AB-cd 12" `); got != "ABcd12" {
		t.Errorf("NormalizeSecret = %q", got)
	}
	moved := b.WithGroup("g2")
	if moved.SelectedGroupID != "g2" || b.SelectedGroupID != "" {
		t.Error("WithGroup must not mutate the receiver")
	}
}
