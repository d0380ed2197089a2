package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"usbforge/internal/config"
	"usbforge/internal/copier"
	"usbforge/internal/locator"
	"usbforge/internal/logging"
	"usbforge/internal/notifications"
	"usbforge/internal/orderapi"
	"usbforge/internal/orders"
	"usbforge/internal/report"
	"usbforge/internal/scheduler"
	"usbforge/internal/usb"
)

// Build opens the order store and assembles every collaborator from cfg.
// When the order API is enabled the scheduler persists through a Mirror.
func Build(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("daemon build: config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := orders.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open order store: %w", err)
	}

	var (
		persistence scheduler.Persistence = store
		apiURL      string
	)
	if cfg.OrderAPI.Enabled {
		client, err := orderapi.NewFromConfig(cfg, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("order api client: %w", err)
		}
		persistence = orderapi.NewMirror(store, client, logger)
		apiURL = client.BaseURL()
	}

	finder := locator.New(locator.Options{
		CacheSize: cfg.Locator.CacheSize,
		CacheTTL:  time.Duration(cfg.Locator.CacheTTL) * time.Second,
	}, logger)
	engine := copier.New(copier.Options{
		MusicRoot:        cfg.Content.MusicDir,
		VideosRoot:       cfg.Content.VideosDir,
		MoviesRoot:       cfg.Content.MoviesDir,
		SeriesRoot:       cfg.Content.SeriesDir,
		MusicExtensions:  cfg.Content.MusicExtensions,
		VideoExtensions:  cfg.Content.VideoExtensions,
		Attempts:         cfg.Copy.Attempts,
		RetryDelay:       time.Duration(cfg.Copy.RetryDelay) * time.Second,
		MaxFileBytes:     cfg.Copy.MaxFileBytes(),
		MinVerifiedBytes: cfg.Copy.MinVerifiedBytes,
		BufferSize:       cfg.Copy.BufferKiB << 10,
	}, finder, logger)
	devices := usb.NewManager(usb.Options{
		MountRoots:     cfg.Devices.MountRoots,
		Filesystem:     cfg.Devices.Filesystem,
		FormatEnabled:  cfg.Devices.FormatEnabled,
		EmptyRatio:     cfg.Devices.EmptyRatio,
		CommandTimeout: time.Duration(cfg.Devices.CommandTimeout) * time.Second,
	}, logger)
	notifier := notifications.NewService(cfg)

	sched := scheduler.New(scheduler.Options{
		TickInterval:        cfg.Scheduler.TickDuration(),
		RefreshInterval:     cfg.Scheduler.RefreshDuration(),
		HealthInterval:      cfg.Scheduler.HealthDuration(),
		OrderTimeout:        cfg.Scheduler.OrderDeadline(),
		QueueAlertThreshold: cfg.Scheduler.QueueAlertThreshold,
	}, scheduler.Dependencies{
		Store:    persistence,
		Devices:  devices,
		Copier:   engine,
		Notifier: notifier,
		Reports:  report.NewWriter(cfg.Paths.ReportDir, logger),
	}, logger)

	var watcher *usb.Watcher
	if cfg.Devices.WatchUdev {
		watcher = usb.NewWatcher(logger, func(string, string) {
			sched.Wake()
		})
	}

	d, err := New(cfg, Dependencies{
		Store:     store,
		Orders:    persistence,
		Scheduler: sched,
		Devices:   devices,
		Notifier:  notifier,
		Watcher:   watcher,
		OrderAPI:  apiURL,
	}, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return d, nil
}
