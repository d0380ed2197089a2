package usb

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxLabelLength  = 11
	labelTimeLayout = "010215"
)

// Label builds a FAT-safe volume label: up to five upper-case alphanumerics
// taken from the end of base followed by an MMDDHH timestamp.
func Label(base string, now time.Time) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), base)
	if err != nil {
		stripped = base
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(stripped) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	prefix := b.String()
	if prefix == "" {
		prefix = "USB"
	}
	room := maxLabelLength - len(labelTimeLayout)
	if len(prefix) > room {
		prefix = prefix[len(prefix)-room:]
	}
	return prefix + now.Format(labelTimeLayout)
}
