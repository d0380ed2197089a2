package usb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"

	"usbforge/internal/logging"
)

var (
	devicesConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "usbforge_devices_connected",
		Help: "Removable devices seen by the last status check.",
	})
	devicesEmpty = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "usbforge_devices_empty",
		Help: "Empty removable devices seen by the last status check.",
	})
	discoveryFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usbforge_device_discovery_fallbacks_total",
		Help: "Discovery strategies that failed or found nothing, by strategy.",
	}, []string{"strategy"})
)

// Options configures device discovery and preparation.
type Options struct {
	MountRoots     []string
	Filesystem     string
	FormatEnabled  bool
	EmptyRatio     float64
	CommandTimeout time.Duration
}

type fsStats struct {
	size int64
	free int64
	used int64
}

// Manager discovers, classifies, claims, and formats removable devices.
type Manager struct {
	opts   Options
	logger *slog.Logger

	runner     Runner
	procMounts string
	statFS     func(path string) (fsStats, error)
	writable   func(path string) bool
	isMount    func(path string) bool

	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewManager constructs a Manager backed by the host's tools.
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if opts.EmptyRatio <= 0 {
		opts.EmptyRatio = 0.05
	}
	if strings.TrimSpace(opts.Filesystem) == "" {
		opts.Filesystem = "vfat"
	}
	return &Manager{
		opts:       opts,
		logger:     logging.NewComponentLogger(logger, "usb"),
		runner:     execRunner{},
		procMounts: "/proc/mounts",
		statFS:     statFilesystem,
		writable:   isWritable,
		isMount:    isMountPoint,
		claimed:    make(map[string]struct{}),
	}
}

// DetectDevices enumerates removable devices through the fallback chain.
func (m *Manager) DetectDevices(ctx context.Context) []Device {
	strategies := []struct {
		source Source
		detect func(context.Context) ([]Device, error)
	}{
		{SourceLSBLK, m.detectLSBLK},
		{SourceProcMounts, m.detectProcMounts},
		{SourceProbe, m.detectProbe},
	}

	for _, strategy := range strategies {
		if ctx.Err() != nil {
			return []Device{}
		}
		devices, err := strategy.detect(ctx)
		if err != nil {
			discoveryFallbacksTotal.WithLabelValues(string(strategy.source)).Inc()
			logging.WarnWithContext(m.logger, "device discovery strategy failed", "device_discovery_fallback",
				logging.String("strategy", string(strategy.source)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "falling back to the next discovery strategy"),
				logging.String(logging.FieldErrorHint, "check that lsblk is installed and /proc is mounted"),
			)
			continue
		}
		if len(devices) == 0 {
			discoveryFallbacksTotal.WithLabelValues(string(strategy.source)).Inc()
			m.logger.Debug("discovery strategy found no devices",
				logging.String("strategy", string(strategy.source)))
			continue
		}
		return m.classifyAll(devices)
	}
	return []Device{}
}

func (m *Manager) detectLSBLK(ctx context.Context) ([]Device, error) {
	cmdCtx, cancel := m.commandContext(ctx)
	defer cancel()
	output, err := m.runner.Output(cmdCtx, "lsblk", "-P", "-b", "-o", lsblkColumns)
	if err != nil {
		return nil, fmt.Errorf("run lsblk: %w", err)
	}
	return parseLSBLK(string(output)), nil
}

func (m *Manager) detectProcMounts(context.Context) ([]Device, error) {
	f, err := os.Open(m.procMounts)
	if err != nil {
		return nil, fmt.Errorf("open mounts table: %w", err)
	}
	defer f.Close()
	return parseProcMounts(f, m.opts.MountRoots), nil
}

// detectProbe treats mount points directly under each root, or one level
// deeper (/media/<user>/<label>), as devices.
func (m *Manager) detectProbe(context.Context) ([]Device, error) {
	var devices []Device
	for _, root := range m.opts.MountRoots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			first := filepath.Join(root, entry.Name())
			if m.isMount(first) {
				devices = append(devices, probeDevice(first))
				continue
			}
			nested, err := os.ReadDir(first)
			if err != nil {
				continue
			}
			for _, child := range nested {
				second := filepath.Join(first, child.Name())
				if child.IsDir() && m.isMount(second) {
					devices = append(devices, probeDevice(second))
				}
			}
		}
	}
	return devices, nil
}

func probeDevice(mountPoint string) Device {
	return Device{
		Path:       mountPoint,
		Label:      filepath.Base(mountPoint),
		MountPoint: mountPoint,
		Source:     SourceProbe,
	}
}

func (m *Manager) classifyAll(devices []Device) []Device {
	m.mu.Lock()
	claimed := make(map[string]struct{}, len(m.claimed))
	for k := range m.claimed {
		claimed[k] = struct{}{}
	}
	m.mu.Unlock()

	out := make([]Device, 0, len(devices))
	for _, dev := range devices {
		dev = m.classify(dev)
		_, dev.Claimed = claimed[dev.Path]
		out = append(out, dev)
	}
	return out
}

func (m *Manager) classify(dev Device) Device {
	if dev.SizeBytes <= 0 && dev.MountPoint != "" {
		if stats, err := m.statFS(dev.MountPoint); err == nil {
			dev.SizeBytes = stats.size
			dev.FreeBytes = stats.free
			dev.UsedBytes = stats.used
		}
	}
	dev.Empty = classifyEmpty(dev, m.opts.EmptyRatio)
	dev.Ready = dev.MountPoint != "" && m.writable(dev.MountPoint)
	return dev
}

// FindAvailable claims and returns the first empty, ready, unclaimed device.
// A false result means none is free; callers defer rather than fail.
func (m *Manager) FindAvailable(ctx context.Context) (Device, bool) {
	for _, dev := range m.DetectDevices(ctx) {
		if !dev.Empty || !dev.Ready || dev.Claimed {
			continue
		}
		m.mu.Lock()
		if _, taken := m.claimed[dev.Path]; taken {
			m.mu.Unlock()
			continue
		}
		m.claimed[dev.Path] = struct{}{}
		m.mu.Unlock()
		dev.Claimed = true
		m.logger.Info("device claimed",
			logging.String(logging.FieldDevice, dev.Path),
			logging.String("mount_point", dev.MountPoint),
			logging.Int64("size_bytes", dev.SizeBytes),
			logging.String(logging.FieldEventType, "device_claimed"),
		)
		return dev, true
	}
	return Device{}, false
}

// Release returns a claimed device to the pool.
func (m *Manager) Release(dev Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, dev.Path)
}

// Status reports connected and empty device counts.
func (m *Manager) Status(ctx context.Context) Status {
	devices := m.DetectDevices(ctx)
	status := Status{Connected: len(devices), Devices: devices}
	for _, dev := range devices {
		if dev.Empty {
			status.Empty++
		}
	}
	devicesConnected.Set(float64(status.Connected))
	devicesEmpty.Set(float64(status.Empty))
	return status
}

func (m *Manager) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.CommandTimeout > 0 {
		return context.WithTimeout(ctx, m.opts.CommandTimeout)
	}
	return context.WithCancel(ctx)
}

func statFilesystem(path string) (fsStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fsStats{}, err
	}
	bsize := int64(st.Bsize)
	return fsStats{
		size: int64(st.Blocks) * bsize,
		free: int64(st.Bavail) * bsize,
		used: int64(st.Blocks-st.Bfree) * bsize,
	}, nil
}

func isWritable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}

// isMountPoint reports whether path sits on a different filesystem than its parent.
func isMountPoint(path string) bool {
	var self, parent unix.Stat_t
	if err := unix.Stat(path, &self); err != nil {
		return false
	}
	if err := unix.Stat(filepath.Dir(path), &parent); err != nil {
		return false
	}
	return self.Dev != parent.Dev
}
