package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

func (c *Config) normalize() error {
	if err := c.applyEnvironment(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeContent(); err != nil {
		return err
	}
	c.normalizeDevices()
	c.normalizeNotifications()
	c.normalizeOrderAPI()
	c.normalizeLogging()
	return nil
}

// applyEnvironment overlays USBFORGE_* environment variables onto the
// sections that carry env tags. Unset variables leave file values intact.
func (c *Config) applyEnvironment() error {
	targets := map[string]any{
		"notifications": &c.Notifications,
		"order_api":     &c.OrderAPI,
		"metrics":       &c.Metrics,
		"logging":       &c.Logging,
	}
	for name, target := range targets {
		if err := env.Parse(target); err != nil {
			return fmt.Errorf("%s: environment overrides: %w", name, err)
		}
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReportDir) == "" {
		c.Paths.ReportDir = defaultReportDir
	}
	if c.Paths.ReportDir, err = expandPath(c.Paths.ReportDir); err != nil {
		return fmt.Errorf("paths.report_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeContent() error {
	roots := []struct {
		name  string
		value *string
	}{
		{"content.music_dir", &c.Content.MusicDir},
		{"content.videos_dir", &c.Content.VideosDir},
		{"content.movies_dir", &c.Content.MoviesDir},
		{"content.series_dir", &c.Content.SeriesDir},
	}
	for _, root := range roots {
		if strings.TrimSpace(*root.value) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(*root.value))
		if err != nil {
			return fmt.Errorf("%s: %w", root.name, err)
		}
		*root.value = expanded
	}
	c.Content.MusicExtensions = normalizeExtensions(c.Content.MusicExtensions, defaultMusicExtensions)
	c.Content.VideoExtensions = normalizeExtensions(c.Content.VideoExtensions, defaultVideoExtensions)
	return nil
}

func normalizeExtensions(values, fallback []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		ext := strings.ToLower(strings.TrimSpace(value))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}

func (c *Config) normalizeDevices() {
	roots := make([]string, 0, len(c.Devices.MountRoots))
	for _, root := range c.Devices.MountRoots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		if expanded, err := expandPath(root); err == nil {
			root = expanded
		}
		roots = append(roots, root)
	}
	if len(roots) == 0 {
		roots = append(roots, defaultMountRoots...)
	}
	c.Devices.MountRoots = roots
	c.Devices.Filesystem = strings.ToLower(strings.TrimSpace(c.Devices.Filesystem))
	if c.Devices.Filesystem == "" {
		c.Devices.Filesystem = defaultFilesystem
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.AdminTopic = strings.TrimSpace(c.Notifications.AdminTopic)
	if c.Notifications.AdminTopic == "" {
		c.Notifications.AdminTopic = c.Notifications.NtfyTopic
	}
}

func (c *Config) normalizeOrderAPI() {
	c.OrderAPI.BaseURL = strings.TrimRight(strings.TrimSpace(c.OrderAPI.BaseURL), "/")
	c.OrderAPI.APIKey = strings.TrimSpace(c.OrderAPI.APIKey)
	if c.OrderAPI.PageSize <= 0 {
		c.OrderAPI.PageSize = defaultOrderAPIPageSize
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
