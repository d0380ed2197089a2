package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state, log, and report directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	ReportDir string `toml:"report_dir"`
}

// Content describes the content library roots searched for each facet.
type Content struct {
	MusicDir        string   `toml:"music_dir"`
	VideosDir       string   `toml:"videos_dir"`
	MoviesDir       string   `toml:"movies_dir"`
	SeriesDir       string   `toml:"series_dir"`
	MusicExtensions []string `toml:"music_extensions"`
	VideoExtensions []string `toml:"video_extensions"`
}

// Scheduler contains dispatch cadence and alerting thresholds. Intervals are seconds.
type Scheduler struct {
	TickInterval        int `toml:"tick_interval"`
	RefreshInterval     int `toml:"refresh_interval"`
	HealthInterval      int `toml:"health_interval"`
	OrderTimeout        int `toml:"order_timeout"`
	QueueAlertThreshold int `toml:"queue_alert_threshold"`
}

// Devices contains removable device discovery and formatting settings.
type Devices struct {
	MountRoots     []string `toml:"mount_roots"`
	Filesystem     string   `toml:"filesystem"`
	FormatEnabled  bool     `toml:"format_enabled"`
	EmptyRatio     float64  `toml:"empty_ratio"`
	CommandTimeout int      `toml:"command_timeout"`
	WatchUdev      bool     `toml:"watch_udev"`
}

// Copy contains copy engine retry and validation settings.
type Copy struct {
	Attempts         int   `toml:"attempts"`
	RetryDelay       int   `toml:"retry_delay"`
	MaxFileGiB       int64 `toml:"max_file_gib"`
	MinVerifiedBytes int64 `toml:"min_verified_bytes"`
	BufferKiB        int   `toml:"buffer_kib"`
}

// Locator contains content search cache settings.
type Locator struct {
	CacheSize int `toml:"cache_size"`
	CacheTTL  int `toml:"cache_ttl"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic" env:"USBFORGE_NTFY_TOPIC"`
	AdminTopic         string `toml:"admin_topic" env:"USBFORGE_NTFY_ADMIN_TOPIC"`
	RequestTimeout     int    `toml:"request_timeout"`
	Customer           bool   `toml:"customer"`
	Alerts             bool   `toml:"alerts"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// OrderAPI contains configuration for the remote order backend.
type OrderAPI struct {
	Enabled          bool   `toml:"enabled" env:"USBFORGE_API_ENABLED"`
	BaseURL          string `toml:"base_url" env:"USBFORGE_API_URL"`
	APIKey           string `toml:"api_key" env:"USBFORGE_API_KEY"`
	Timeout          int    `toml:"timeout"`
	MaxRetries       int    `toml:"max_retries"`
	RetryDelayMillis int    `toml:"retry_delay_ms"`
	PageSize         int    `toml:"page_size"`
}

// Metrics contains the HTTP metrics/health endpoint configuration.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind" env:"USBFORGE_METRICS_BIND"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level" env:"USBFORGE_LOG_LEVEL"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for usbforge.
//
// Configuration sections by subsystem:
//   - Paths: state, log, and report directories
//   - Content: library roots and valid extensions
//   - Scheduler: dispatch cadence, order deadline, backlog alerting
//   - Devices: removable device discovery and formatting
//   - Copy: retry, size ceilings, verification threshold
//   - Locator: search result caching
//   - Notifications: ntfy customer and admin notifications
//   - OrderAPI: remote order backend
//   - Metrics: Prometheus and health HTTP endpoint
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Content       Content       `toml:"content"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Devices       Devices       `toml:"devices"`
	Copy          Copy          `toml:"copy"`
	Locator       Locator       `toml:"locator"`
	Notifications Notifications `toml:"notifications"`
	OrderAPI      OrderAPI      `toml:"order_api"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/usbforge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("usbforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// Content roots are never created; a missing root is reported by the locator.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.ReportDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite order database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "orders.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "usbforged.lock")
}

// SocketPath returns the IPC unix socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "usbforge.sock")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "usbforged.log")
}

// TickDuration returns the dispatch tick period.
func (s Scheduler) TickDuration() time.Duration {
	return time.Duration(s.TickInterval) * time.Second
}

// RefreshDuration returns the queue reconciliation period.
func (s Scheduler) RefreshDuration() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}

// HealthDuration returns the health check period.
func (s Scheduler) HealthDuration() time.Duration {
	return time.Duration(s.HealthInterval) * time.Second
}

// OrderDeadline returns the per-order fulfilment deadline; zero disables it.
func (s Scheduler) OrderDeadline() time.Duration {
	return time.Duration(s.OrderTimeout) * time.Second
}

// MaxFileBytes returns the per-file size ceiling.
func (c Copy) MaxFileBytes() int64 {
	return c.MaxFileGiB << 30
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
