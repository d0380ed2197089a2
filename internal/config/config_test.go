package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"usbforge/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "usbforge")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Content.MusicDir != filepath.Join(tempHome, "media", "musica") {
		t.Fatalf("unexpected music dir: %q", cfg.Content.MusicDir)
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "orders.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Scheduler.TickInterval != 5 || cfg.Scheduler.RefreshInterval != 120 {
		t.Fatalf("unexpected scheduler cadence: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.QueueAlertThreshold != 10 {
		t.Fatalf("unexpected alert threshold: %d", cfg.Scheduler.QueueAlertThreshold)
	}
	if cfg.Copy.Attempts != 3 {
		t.Fatalf("unexpected copy attempts: %d", cfg.Copy.Attempts)
	}
	if cfg.Copy.MaxFileBytes() != 100<<30 {
		t.Fatalf("unexpected max file bytes: %d", cfg.Copy.MaxFileBytes())
	}
	if cfg.OrderAPI.Enabled {
		t.Fatal("expected order api disabled by default")
	}
}

func TestLoadCustomConfigNormalizesValues(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "config.toml")
	content := `[paths]
state_dir = "~/state"

[content]
music_dir = "~/music"
music_extensions = ["MP3", ".flac", "mp3", ""]

[devices]
mount_roots = ["  ", "~/mnt"]
filesystem = " EXFAT "

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if got := strings.Join(cfg.Content.MusicExtensions, ","); got != ".mp3,.flac" {
		t.Fatalf("unexpected music extensions: %q", got)
	}
	if len(cfg.Devices.MountRoots) != 1 || cfg.Devices.MountRoots[0] != filepath.Join(tempHome, "mnt") {
		t.Fatalf("unexpected mount roots: %v", cfg.Devices.MountRoots)
	}
	if cfg.Devices.Filesystem != "exfat" {
		t.Fatalf("unexpected filesystem: %q", cfg.Devices.Filesystem)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestEnvironmentOverridesOrderAPI(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USBFORGE_API_ENABLED", "true")
	t.Setenv("USBFORGE_API_URL", "https://orders.example.com/v1/")
	t.Setenv("USBFORGE_API_KEY", "secret")
	t.Setenv("USBFORGE_NTFY_TOPIC", "https://ntfy.example.com/usb")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.OrderAPI.Enabled {
		t.Fatal("expected order api enabled from environment")
	}
	if cfg.OrderAPI.BaseURL != "https://orders.example.com/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.OrderAPI.BaseURL)
	}
	if cfg.OrderAPI.APIKey != "secret" {
		t.Fatalf("unexpected api key %q", cfg.OrderAPI.APIKey)
	}
	if cfg.Notifications.AdminTopic != "https://ntfy.example.com/usb" {
		t.Fatalf("expected admin topic to fall back to ntfy topic, got %q", cfg.Notifications.AdminTopic)
	}
}

func TestValidateRejectsEnabledOrderAPIWithoutKey(t *testing.T) {
	cfg := config.Default()
	cfg.OrderAPI.Enabled = true
	cfg.OrderAPI.BaseURL = "https://orders.example.com"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "order_api.api_key") {
		t.Fatalf("expected api key validation error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"tick", func(c *config.Config) { c.Scheduler.TickInterval = 0 }, "scheduler.tick_interval"},
		{"ratio", func(c *config.Config) { c.Devices.EmptyRatio = 1.5 }, "devices.empty_ratio"},
		{"filesystem", func(c *config.Config) { c.Devices.Filesystem = "zfs" }, "devices.filesystem"},
		{"attempts", func(c *config.Config) { c.Copy.Attempts = 0 }, "copy.attempts"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"log retention", func(c *config.Config) { c.Logging.RetentionDays = -1 }, "logging.retention_days"},
		{"no content", func(c *config.Config) { c.Content = config.Content{} }, "content"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSampleConfigParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	cfg := config.Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Scheduler.OrderTimeout != 7200 {
		t.Fatalf("unexpected sample order timeout: %d", cfg.Scheduler.OrderTimeout)
	}
}
