package usb

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"usbforge/internal/logging"
)

// Watcher listens for udev netlink events announcing USB partitions and
// notifies a callback so deferred orders dispatch as soon as media appears.
type Watcher struct {
	logger   *slog.Logger
	onChange func(action, device string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewWatcher constructs a Watcher. onChange runs on the watcher goroutine.
func NewWatcher(logger *slog.Logger, onChange func(action, device string)) *Watcher {
	return &Watcher{
		logger:   logging.NewComponentLogger(logger, "usb-watcher"),
		onChange: onChange,
	}
}

// Start connects to the netlink socket. Connection failures are logged and
// leave the watcher idle; periodic discovery still finds devices.
func (w *Watcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "failed to connect to netlink socket", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "deferred orders wait for the next dispatch tick"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true
	go w.loop(ctx, conn, w.quit)

	w.logger.Info("usb watcher started", logging.String(logging.FieldEventType, "usb_watcher_started"))
	return nil
}

// Stop closes the netlink connection.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.quit)
	w.quit = nil
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false
	w.logger.Info("usb watcher stopped", logging.String(logging.FieldEventType, "usb_watcher_stopped"))
}

// Running reports whether the watcher is connected.
func (w *Watcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(w.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "device hotplug events may be missed"),
			)
		}
	}
}

// buildMatcher matches USB block partitions being added or removed.
func buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"DEVTYPE":   "partition",
			"ID_BUS":    "usb",
		},
	})
	return rules
}

func (w *Watcher) handleEvent(uevent netlink.UEvent) {
	device := deviceName(uevent)
	if device == "" {
		w.logger.Debug("ignoring event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}
	w.logger.Info("usb device event",
		logging.String(logging.FieldDevice, device),
		logging.String("action", string(uevent.Action)),
		logging.String(logging.FieldEventType, "usb_device_event"),
	)
	if w.onChange != nil {
		w.onChange(string(uevent.Action), device)
	}
}

func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/dev/") {
			return "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
