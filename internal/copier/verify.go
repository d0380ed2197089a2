package copier

import "os"

// Verification is the post-copy check of every written file.
type Verification struct {
	Checked int      `json:"checked"`
	Missing []string `json:"missing,omitempty"`
	Corrupt []string `json:"corrupt,omitempty"`
}

// OK reports whether nothing was missing or corrupt.
func (v Verification) OK() bool {
	return len(v.Missing) == 0 && len(v.Corrupt) == 0
}

type verifyTarget struct {
	path string
	rel  string
	want int64
}

// verify stats each target. A file is corrupt when it is not larger than
// minBytes or its size differs from the source.
func verify(targets []verifyTarget, minBytes int64) Verification {
	v := Verification{}
	for _, target := range targets {
		v.Checked++
		info, err := os.Stat(target.path)
		if err != nil || info.IsDir() {
			v.Missing = append(v.Missing, target.rel)
			continue
		}
		if info.Size() <= minBytes || (target.want > 0 && info.Size() != target.want) {
			v.Corrupt = append(v.Corrupt, target.rel)
		}
	}
	return v
}
