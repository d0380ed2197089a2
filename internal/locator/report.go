package locator

import (
	"errors"
	"io/fs"
)

// ScanOutcome classifies what happened when a directory was read.
type ScanOutcome string

const (
	ScanOK               ScanOutcome = "ok"
	ScanPermissionDenied ScanOutcome = "permission_denied"
	ScanNotFound         ScanOutcome = "not_found"
	ScanIOError          ScanOutcome = "io_error"
)

// DirectoryScan records a directory that could not be read.
type DirectoryScan struct {
	Path    string      `json:"path"`
	Outcome ScanOutcome `json:"outcome"`
	Error   string      `json:"error,omitempty"`
}

// ScanReport aggregates per-directory outcomes for one search.
type ScanReport struct {
	Root     string              `json:"root"`
	Counts   map[ScanOutcome]int `json:"counts"`
	Problems []DirectoryScan     `json:"problems,omitempty"`
}

func newScanReport(root string) ScanReport {
	return ScanReport{Root: root, Counts: make(map[ScanOutcome]int, 4)}
}

// Count returns the number of directories with the given outcome.
func (r ScanReport) Count(outcome ScanOutcome) int {
	return r.Counts[outcome]
}

// Clean reports whether every directory was read successfully.
func (r ScanReport) Clean() bool {
	return len(r.Problems) == 0
}

func (r *ScanReport) record(path string, err error) ScanOutcome {
	outcome := classify(err)
	r.Counts[outcome]++
	if outcome != ScanOK {
		r.Problems = append(r.Problems, DirectoryScan{Path: path, Outcome: outcome, Error: err.Error()})
	}
	return outcome
}

func (r ScanReport) clone() ScanReport {
	out := ScanReport{Root: r.Root, Counts: make(map[ScanOutcome]int, len(r.Counts))}
	for k, v := range r.Counts {
		out.Counts[k] = v
	}
	if len(r.Problems) > 0 {
		out.Problems = append([]DirectoryScan(nil), r.Problems...)
	}
	return out
}

func classify(err error) ScanOutcome {
	switch {
	case err == nil:
		return ScanOK
	case errors.Is(err, fs.ErrPermission):
		return ScanPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return ScanNotFound
	default:
		return ScanIOError
	}
}
