package usb

import (
	"os"
	"path/filepath"
	"strings"
)

// Source names the discovery strategy that found a device.
type Source string

const (
	SourceLSBLK      Source = "lsblk"
	SourceProcMounts Source = "proc_mounts"
	SourceProbe      Source = "probe"
)

// Device is a host-visible removable storage medium.
type Device struct {
	Path       string `json:"path"`
	Label      string `json:"label,omitempty"`
	MountPoint string `json:"mount_point,omitempty"`
	SizeBytes  int64  `json:"size_bytes"`
	FreeBytes  int64  `json:"free_bytes"`
	UsedBytes  int64  `json:"used_bytes"`
	FSType     string `json:"fs_type,omitempty"`
	Empty      bool   `json:"empty"`
	Ready      bool   `json:"ready"`
	Claimed    bool   `json:"claimed,omitempty"`
	Source     Source `json:"source"`
}

// Status aggregates device state for health checks and dashboards.
type Status struct {
	Connected int      `json:"connected"`
	Empty     int      `json:"empty"`
	Devices   []Device `json:"devices"`
}

// UsedRatio returns used/size, or -1 when the size is unknown.
func (d Device) UsedRatio() float64 {
	if d.SizeBytes <= 0 {
		return -1
	}
	return float64(d.UsedBytes) / float64(d.SizeBytes)
}

// housekeepingNames are entries operating systems create on fresh media.
var housekeepingNames = map[string]struct{}{
	".trashes":                  {},
	"$recycle.bin":              {},
	"system volume information": {},
	".spotlight-v100":           {},
	".fseventsd":                {},
	".ds_store":                 {},
	"autorun.inf":               {},
	"desktop.ini":               {},
	"lost.dir":                  {},
	"lost+found":                {},
}

func isHousekeeping(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := housekeepingNames[lower]; ok {
		return true
	}
	return strings.HasPrefix(lower, ".trash") || strings.HasPrefix(name, "._")
}

// contentEntries lists mount point entries that are not OS housekeeping.
func contentEntries(mountPoint string) ([]string, error) {
	entries, err := os.ReadDir(mountPoint)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if isHousekeeping(entry.Name()) {
			continue
		}
		out = append(out, filepath.Join(mountPoint, entry.Name()))
	}
	return out, nil
}

// classifyEmpty applies the used-space ratio, falling back to the content
// listing when the size is unknown.
func classifyEmpty(dev Device, ratio float64) bool {
	if used := dev.UsedRatio(); used >= 0 {
		return used < ratio
	}
	if dev.MountPoint == "" {
		return false
	}
	entries, err := contentEntries(dev.MountPoint)
	if err != nil {
		return false
	}
	return len(entries) == 0
}
