package usb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"usbforge/internal/logging"
	"usbforge/internal/services"
)

// mkfsArgs returns the mkfs invocation for a filesystem with a volume label.
func mkfsArgs(fstype, label, device string) (string, []string, error) {
	switch fstype {
	case "vfat", "fat32":
		return "mkfs.vfat", []string{"-I", "-F", "32", "-n", label, device}, nil
	case "exfat":
		return "mkfs.exfat", []string{"-n", label, device}, nil
	case "ntfs":
		return "mkfs.ntfs", []string{"-f", "-L", label, device}, nil
	case "ext4":
		return "mkfs.ext4", []string{"-F", "-L", label, device}, nil
	default:
		return "", nil, fmt.Errorf("unsupported filesystem %q", fstype)
	}
}

// Format reinitializes a claimed device with the given label and remounts it.
// With formatting disabled the device contents are cleared instead. Failures
// are returned as services.ErrFormat and never retried.
func (m *Manager) Format(ctx context.Context, dev Device, label string) (Device, error) {
	logger := logging.WithContext(services.WithDevice(ctx, dev.Path), m.logger)

	if !m.opts.FormatEnabled {
		if dev.MountPoint == "" {
			return dev, services.Wrap(services.ErrFormat, "usb", "format", "device "+dev.Path+" is not mounted", nil)
		}
		if err := clearContents(dev.MountPoint); err != nil {
			return dev, services.Wrap(services.ErrFormat, "usb", "format", "clear "+dev.MountPoint, err)
		}
		logger.Info("device cleared",
			logging.String("mount_point", dev.MountPoint),
			logging.String(logging.FieldEventType, "device_cleared"),
		)
		return m.refresh(dev), nil
	}

	if !strings.HasPrefix(dev.Path, "/dev/") {
		return dev, services.Wrap(services.ErrFormat, "usb", "format",
			"no block device known for "+dev.Path, nil)
	}
	name, args, err := mkfsArgs(m.opts.Filesystem, label, dev.Path)
	if err != nil {
		return dev, services.Wrap(services.ErrConfiguration, "usb", "format", "select mkfs", err)
	}

	mountPoint := dev.MountPoint
	if mountPoint == "" {
		if len(m.opts.MountRoots) == 0 {
			return dev, services.Wrap(services.ErrConfiguration, "usb", "format", "no mount root configured", nil)
		}
		mountPoint = filepath.Join(m.opts.MountRoots[0], label)
	} else if err := m.run(ctx, "umount", dev.Path); err != nil {
		return dev, services.Wrap(services.ErrFormat, "usb", "unmount", dev.Path, err)
	}

	if err := m.run(ctx, name, args...); err != nil {
		return dev, services.Wrap(services.ErrFormat, "usb", "mkfs", dev.Path, err)
	}
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return dev, services.Wrap(services.ErrFormat, "usb", "mount", "create mount point", err)
	}
	if err := m.run(ctx, "mount", dev.Path, mountPoint); err != nil {
		return dev, services.Wrap(services.ErrFormat, "usb", "mount", dev.Path, err)
	}

	logger.Info("device formatted",
		logging.String("label", label),
		logging.String("filesystem", m.opts.Filesystem),
		logging.String("mount_point", mountPoint),
		logging.String(logging.FieldEventType, "device_formatted"),
	)
	dev.Label = label
	dev.FSType = m.opts.Filesystem
	dev.MountPoint = mountPoint
	return m.refresh(dev), nil
}

func (m *Manager) refresh(dev Device) Device {
	dev.SizeBytes, dev.FreeBytes, dev.UsedBytes = 0, 0, 0
	claimed := dev.Claimed
	dev = m.classify(dev)
	dev.Claimed = claimed
	return dev
}

func (m *Manager) run(ctx context.Context, name string, args ...string) error {
	cmdCtx, cancel := m.commandContext(ctx)
	defer cancel()
	output, err := m.runner.Output(cmdCtx, name, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(output)); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// clearContents removes everything under mountPoint except lost+found.
func clearContents(mountPoint string) error {
	entries, err := os.ReadDir(mountPoint)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == "lost+found" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(mountPoint, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
