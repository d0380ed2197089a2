package usb

import (
	"bufio"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

var removableFSTypes = map[string]struct{}{
	"vfat":    {},
	"msdos":   {},
	"exfat":   {},
	"ntfs":    {},
	"ntfs3":   {},
	"fuseblk": {},
	"hfsplus": {},
}

// parseProcMounts returns removable filesystems mounted below one of roots.
func parseProcMounts(r io.Reader, roots []string) []Device {
	var devices []Device
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		source, target, fstype := fields[0], unescapeOctal(fields[1]), fields[2]
		if _, ok := removableFSTypes[fstype]; !ok {
			continue
		}
		if !underAnyRoot(target, roots) {
			continue
		}
		devices = append(devices, Device{
			Path:       source,
			Label:      filepath.Base(target),
			MountPoint: target,
			FSType:     fstype,
			Source:     SourceProcMounts,
		})
	}
	return devices
}

func underAnyRoot(path string, roots []string) bool {
	clean := filepath.Clean(path)
	for _, root := range roots {
		root = filepath.Clean(root)
		if clean != root && strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// unescapeOctal decodes the \040-style escapes /proc/mounts uses for spaces.
func unescapeOctal(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+3 < len(value) {
			if n, err := strconv.ParseUint(value[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(value[i])
	}
	return b.String()
}
