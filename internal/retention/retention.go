// Package retention prunes aged daemon artifacts: per-run log files and
// daily health reports.
package retention

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"usbforge/internal/logging"
)

// Target selects files in Dir whose base name matches Pattern.
type Target struct {
	Dir     string
	Pattern string
	Exclude []string
}

// Result contains the outcome of a prune pass.
type Result struct {
	Removed []string
	Errors  []Failure
}

// Failure pairs a path with its removal error.
type Failure struct {
	Path  string
	Error error
}

// CleanStale removes matching regular files older than maxAge. A non-positive
// maxAge disables pruning.
func CleanStale(ctx context.Context, maxAge time.Duration, logger *slog.Logger, targets ...Target) Result {
	result := Result{}
	if maxAge <= 0 {
		return result
	}
	cutoff := time.Now().Add(-maxAge)

	for _, target := range targets {
		dir := strings.TrimSpace(target.Dir)
		if dir == "" || target.Pattern == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, Failure{Path: dir, Error: err})
			}
			continue
		}
		for _, entry := range entries {
			if ctx.Err() != nil {
				return result
			}
			if !entry.Type().IsRegular() {
				continue
			}
			if ok, _ := filepath.Match(target.Pattern, entry.Name()); !ok {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if slices.Contains(target.Exclude, path) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				result.Errors = append(result.Errors, Failure{Path: path, Error: err})
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				result.Errors = append(result.Errors, Failure{Path: path, Error: err})
				if logger != nil {
					logger.Warn("failed to prune file",
						logging.String("path", path),
						logging.Error(err),
						logging.String(logging.FieldEventType, "retention_failed"),
						logging.String(logging.FieldErrorHint, "check log_dir and report_dir permissions"),
						logging.String(logging.FieldImpact, "disk space not reclaimed"),
					)
				}
				continue
			}
			result.Removed = append(result.Removed, path)
		}
	}

	if logger != nil && len(result.Removed) > 0 {
		logger.Info("pruned aged files",
			logging.Int("removed", len(result.Removed)),
			logging.Duration("max_age", maxAge),
			logging.String(logging.FieldEventType, "retention_pruned"),
		)
	}
	return result
}
