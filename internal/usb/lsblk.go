package usb

import (
	"bufio"
	"strconv"
	"strings"
)

const lsblkColumns = "PATH,LABEL,SIZE,FSTYPE,MOUNTPOINT,FSSIZE,FSUSED,FSAVAIL,RM,HOTPLUG,TRAN,TYPE"

// parseLSBLK converts `lsblk -P -b` output into removable devices carrying a
// filesystem. Parent disks inherit nothing; each partition stands alone.
func parseLSBLK(output string) []Device {
	var devices []Device
	transport := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row := parseKeyValueLine(line)
		path := row["PATH"]
		if path == "" {
			continue
		}
		tran := strings.ToLower(row["TRAN"])
		if row["TYPE"] == "disk" {
			transport[path] = tran
		}
		if tran == "" {
			for disk, t := range transport {
				if strings.HasPrefix(path, disk) {
					tran = t
					break
				}
			}
		}
		if row["TYPE"] != "part" && row["TYPE"] != "disk" {
			continue
		}
		removable := row["RM"] == "1" || row["HOTPLUG"] == "1" || tran == "usb"
		if !removable || row["FSTYPE"] == "" {
			continue
		}
		dev := Device{
			Path:       path,
			Label:      row["LABEL"],
			FSType:     row["FSTYPE"],
			MountPoint: row["MOUNTPOINT"],
			Source:     SourceLSBLK,
		}
		if size := parseBytes(row["FSSIZE"]); size > 0 {
			dev.SizeBytes = size
			dev.UsedBytes = parseBytes(row["FSUSED"])
			dev.FreeBytes = parseBytes(row["FSAVAIL"])
		}
		devices = append(devices, dev)
	}
	return devices
}

func parseBytes(value string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseKeyValueLine splits KEY="value" pairs, honouring spaces inside quotes
// and lsblk's \xHH escapes.
func parseKeyValueLine(line string) map[string]string {
	result := make(map[string]string)
	for len(line) > 0 {
		line = strings.TrimLeft(line, " \t")
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			break
		}
		key := line[:eq]
		rest := line[eq+1:]
		var value string
		if strings.HasPrefix(rest, "\"") {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				value, line = rest[1:], ""
			} else {
				value, line = rest[1:end+1], rest[end+2:]
			}
		} else {
			sp := strings.IndexAny(rest, " \t")
			if sp < 0 {
				value, line = rest, ""
			} else {
				value, line = rest[:sp], rest[sp:]
			}
		}
		result[key] = unescapeHex(value)
	}
	return result
}

func unescapeHex(value string) string {
	if !strings.Contains(value, `\x`) {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+3 < len(value) && value[i+1] == 'x' {
			if n, err := strconv.ParseUint(value[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(value[i])
	}
	return b.String()
}
