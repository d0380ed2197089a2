package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateContent(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateDevices(); err != nil {
		return err
	}
	if err := c.validateCopy(); err != nil {
		return err
	}
	if err := c.validateOrderAPI(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateContent() error {
	if c.Content.MusicDir == "" && c.Content.VideosDir == "" && c.Content.MoviesDir == "" && c.Content.SeriesDir == "" {
		return errors.New("content: at least one of music_dir, videos_dir, movies_dir, series_dir must be set")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if err := ensurePositiveMap(map[string]int{
		"scheduler.tick_interval":         c.Scheduler.TickInterval,
		"scheduler.refresh_interval":      c.Scheduler.RefreshInterval,
		"scheduler.health_interval":       c.Scheduler.HealthInterval,
		"scheduler.queue_alert_threshold": c.Scheduler.QueueAlertThreshold,
		"notifications.request_timeout":   c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Scheduler.OrderTimeout < 0 {
		return errors.New("scheduler.order_timeout must be zero (disabled) or positive")
	}
	return nil
}

func (c *Config) validateDevices() error {
	switch c.Devices.Filesystem {
	case "vfat", "exfat", "ntfs", "ext4":
	default:
		return fmt.Errorf("devices.filesystem: unsupported value %q", c.Devices.Filesystem)
	}
	if c.Devices.EmptyRatio <= 0 || c.Devices.EmptyRatio >= 1 {
		return errors.New("devices.empty_ratio must be between 0 and 1")
	}
	if c.Devices.CommandTimeout <= 0 {
		return errors.New("devices.command_timeout must be positive")
	}
	return nil
}

func (c *Config) validateCopy() error {
	if err := ensurePositiveMap(map[string]int{
		"copy.attempts":   c.Copy.Attempts,
		"copy.buffer_kib": c.Copy.BufferKiB,
	}); err != nil {
		return err
	}
	if c.Copy.RetryDelay < 0 {
		return errors.New("copy.retry_delay must not be negative")
	}
	if c.Copy.MaxFileGiB <= 0 {
		return errors.New("copy.max_file_gib must be positive")
	}
	if c.Copy.MinVerifiedBytes < 0 {
		return errors.New("copy.min_verified_bytes must not be negative")
	}
	return nil
}

func (c *Config) validateOrderAPI() error {
	if !c.OrderAPI.Enabled {
		return nil
	}
	if c.OrderAPI.BaseURL == "" {
		return errors.New("order_api.base_url must be set when order_api.enabled is true")
	}
	if _, err := url.ParseRequestURI(c.OrderAPI.BaseURL); err != nil {
		return fmt.Errorf("order_api.base_url: %w", err)
	}
	if c.OrderAPI.APIKey == "" {
		return errors.New("order_api.api_key must be set when order_api.enabled is true (or set USBFORGE_API_KEY)")
	}
	return ensurePositiveMap(map[string]int{
		"order_api.timeout":     c.OrderAPI.Timeout,
		"order_api.max_retries": c.OrderAPI.MaxRetries,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero (keep forever) or positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", strings.TrimSpace(key))
		}
	}
	return nil
}
