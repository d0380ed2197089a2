package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"usbforge/internal/config"
	"usbforge/internal/logging"
	"usbforge/internal/notifications"
	"usbforge/internal/orders"
	"usbforge/internal/scheduler"
	"usbforge/internal/usb"
)

// DeviceStatus reports connected devices.
type DeviceStatus interface {
	Status(ctx context.Context) usb.Status
}

// Dependencies bundles the collaborators a Daemon owns.
type Dependencies struct {
	Store     *orders.Store
	Orders    scheduler.Persistence
	Scheduler *scheduler.Scheduler
	Devices   DeviceStatus
	Notifier  notifications.Service
	Watcher   *usb.Watcher
	OrderAPI  string
}

// Daemon coordinates background fulfilment and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *orders.Store
	orders    scheduler.Persistence
	scheduler *scheduler.Scheduler
	devices   DeviceStatus
	notifier  notifications.Service
	watcher   *usb.Watcher
	orderAPI  string

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	http    *httpServer
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	LockPath     string           `json:"lock_path"`
	DatabasePath string           `json:"database_path"`
	SocketPath   string           `json:"socket_path"`
	MetricsAddr  string           `json:"metrics_addr,omitempty"`
	OrderAPI     string           `json:"order_api,omitempty"`
	WatchingUdev bool             `json:"watching_udev"`
	Queue        scheduler.Status `json:"queue"`
	Orders       orders.Stats     `json:"orders"`
	Devices      usb.Status       `json:"devices"`
}

// New constructs a daemon around prepared dependencies.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Scheduler == nil || deps.Devices == nil {
		return nil, errors.New("daemon requires config, store, scheduler, and device manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	persistence := deps.Orders
	if persistence == nil {
		persistence = deps.Store
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     deps.Store,
		orders:    persistence,
		scheduler: deps.Scheduler,
		devices:   deps.Devices,
		notifier:  notifier,
		watcher:   deps.Watcher,
		orderAPI:  deps.OrderAPI,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, then launches the scheduler, the udev
// watcher, and the metrics endpoint.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another usbforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.scheduler.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.watcher.Start(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "udev watcher unavailable", "udev_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "device arrivals are noticed on the next tick"),
			logging.String(logging.FieldErrorHint, "set devices.watch_udev = false to silence this"),
		)
	}
	if d.cfg.Metrics.Enabled {
		srv := newHTTPServer(d.cfg.Metrics.Bind, d, d.logger)
		if err := srv.start(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "metrics endpoint unavailable", "metrics_listen_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "metrics and health probes are not served"),
				logging.String(logging.FieldErrorHint, "check metrics.bind for conflicts"),
			)
		} else {
			d.http = srv
		}
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("usbforge daemon started",
		logging.String("lock", d.lockPath),
		logging.String("order_api", d.orderAPI),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop halts background processing and releases the instance lock. An
// in-flight order is interrupted and returned to the waiting set.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.http.stop()
	d.http = nil
	d.watcher.Stop()
	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report another instance"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("usbforge daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the order store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon is started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.orders.Stats(ctx)
	if err != nil {
		d.logger.Debug("order stats unavailable", logging.Error(err))
	}
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockPath:     d.lockPath,
		DatabasePath: d.store.Path(),
		SocketPath:   d.cfg.SocketPath(),
		OrderAPI:     d.orderAPI,
		WatchingUdev: d.watcher.Running(),
		Queue:        d.scheduler.QueueStatus(),
		Orders:       stats,
		Devices:      d.devices.Status(ctx),
	}
	d.mu.Lock()
	if d.http != nil {
		status.MetricsAddr = d.http.addr()
	}
	d.mu.Unlock()
	return status
}

// QueueStatus returns the scheduler snapshot.
func (d *Daemon) QueueStatus() scheduler.Status {
	return d.scheduler.QueueStatus()
}

// CopyProgress returns live progress for an order's copy job.
func (d *Daemon) CopyProgress(orderID string) (scheduler.Progress, bool) {
	return d.scheduler.CopyProgress(strings.TrimSpace(orderID))
}

// CancelCopy aborts the copy job for an order.
func (d *Daemon) CancelCopy(orderID string) bool {
	cancelled := d.scheduler.CancelCopy(strings.TrimSpace(orderID))
	if cancelled {
		d.logger.Info("copy cancellation requested",
			logging.String(logging.FieldOrderID, orderID),
			logging.String(logging.FieldEventType, "copy_cancel_requested"),
		)
	}
	return cancelled
}

// Pause stops new dispatches.
func (d *Daemon) Pause() { d.scheduler.Pause() }

// Resume re-enables dispatch.
func (d *Daemon) Resume() { d.scheduler.Resume() }

// ForceProcess moves an order to the head of the queue.
func (d *Daemon) ForceProcess(ctx context.Context, orderID string) error {
	return d.scheduler.ForceProcessOrder(ctx, orderID)
}

// AddOrder persists and enqueues an order.
func (d *Daemon) AddOrder(ctx context.Context, order orders.Order) (bool, error) {
	return d.scheduler.AddOrderToQueue(ctx, order)
}

// Devices returns connected device state.
func (d *Daemon) Devices(ctx context.Context) usb.Status {
	return d.devices.Status(ctx)
}

// Orders lists persisted orders filtered by optional statuses.
func (d *Daemon) Orders(ctx context.Context, statuses []orders.Status) ([]orders.Order, error) {
	return d.orders.List(ctx, statuses...)
}

// Refresh reconciles the queue with persistence and wakes the dispatcher.
func (d *Daemon) Refresh(ctx context.Context) (int, error) {
	length, err := d.scheduler.RefreshQueue(ctx)
	if err != nil {
		return 0, err
	}
	d.scheduler.Wake()
	return length, nil
}

// Health runs a health check and writes the daily report.
func (d *Daemon) Health(ctx context.Context) scheduler.HealthReport {
	return d.scheduler.CheckHealth(ctx)
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
