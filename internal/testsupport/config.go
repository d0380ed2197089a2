package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"usbforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Content roots and the mount root are created so locator and device probes
// see an empty but valid layout.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ReportDir = filepath.Join(base, "reports")
	cfgVal.Content.MusicDir = filepath.Join(base, "content", "music")
	cfgVal.Content.VideosDir = filepath.Join(base, "content", "videos")
	cfgVal.Content.MoviesDir = filepath.Join(base, "content", "movies")
	cfgVal.Content.SeriesDir = filepath.Join(base, "content", "series")
	cfgVal.Devices.MountRoots = []string{filepath.Join(base, "media")}
	cfgVal.Devices.FormatEnabled = false
	cfgVal.Devices.WatchUdev = false
	cfgVal.Copy.RetryDelay = 0
	cfgVal.Metrics.Bind = "127.0.0.1:0"
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Notifications.AdminTopic = ""

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{
		cfgVal.Content.MusicDir,
		cfgVal.Content.VideosDir,
		cfgVal.Content.MoviesDir,
		cfgVal.Content.SeriesDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	for _, root := range cfgVal.Devices.MountRoots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", root, err)
		}
	}
	return builder.cfg
}

// WithNtfyTopic points notifications at a test ntfy endpoint.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
		b.cfg.Notifications.AdminTopic = topic
	}
}

// WithOrderAPI enables the remote order API against a test server.
func WithOrderAPI(baseURL, apiKey string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.OrderAPI.Enabled = true
		b.cfg.OrderAPI.BaseURL = baseURL
		b.cfg.OrderAPI.APIKey = apiKey
		b.cfg.OrderAPI.RetryDelayMillis = 1
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// MountRoot returns the first configured device mount root.
func MountRoot(cfg *config.Config) string {
	if len(cfg.Devices.MountRoots) == 0 {
		return ""
	}
	return cfg.Devices.MountRoots[0]
}
