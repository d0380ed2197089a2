package copier

import (
	"path"
	"path/filepath"
	"strings"

	"usbforge/internal/fileutil"
)

// writeManifest writes an extended M3U playlist of the copied music files
// under MUSICA and returns its device-relative path.
func writeManifest(destination string, music []string) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, rel := range music {
		entry := strings.TrimPrefix(rel, DirMusic+"/")
		title := strings.TrimSuffix(path.Base(entry), path.Ext(entry))
		b.WriteString("#EXTINF:-1,")
		b.WriteString(title)
		b.WriteByte('\n')
		b.WriteString(entry)
		b.WriteByte('\n')
	}
	target := filepath.Join(destination, DirMusic, ManifestName)
	if err := fileutil.WriteFileAtomic(target, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return DirMusic + "/" + ManifestName, nil
}
