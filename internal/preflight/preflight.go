package preflight

import (
	"context"
	"log/slog"
	"strings"

	"usbforge/internal/config"
	"usbforge/internal/logging"
	"usbforge/internal/orderapi"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, logger *slog.Logger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir, AccessReadWrite),
		CheckDirectoryAccess("Report directory", cfg.Paths.ReportDir, AccessReadWrite),
	}

	roots := []struct {
		name string
		path string
	}{
		{"Music library", cfg.Content.MusicDir},
		{"Videos library", cfg.Content.VideosDir},
		{"Movies library", cfg.Content.MoviesDir},
		{"Series library", cfg.Content.SeriesDir},
	}
	for _, root := range roots {
		if strings.TrimSpace(root.path) == "" {
			continue
		}
		results = append(results, CheckDirectoryAccess(root.name, root.path, AccessRead))
	}
	for _, mount := range cfg.Devices.MountRoots {
		results = append(results, CheckDirectoryAccess("Mount root", mount, AccessRead))
	}

	results = append(results, CheckBinaries(SystemRequirements(cfg))...)

	if cfg.OrderAPI.Enabled {
		client, err := orderapi.NewFromConfig(cfg, logger)
		if err != nil {
			results = append(results, Result{Name: "Order API", Detail: err.Error()})
		} else {
			results = append(results, CheckOrderAPI(ctx, client))
		}
	}
	return results
}

// SystemRequirements lists the host tools needed for the configured features.
func SystemRequirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "lsblk",
			Command:     "lsblk",
			Description: "Preferred removable device discovery",
			Optional:    true,
		},
	}
	if cfg != nil && cfg.Devices.FormatEnabled {
		reqs = append(reqs, Requirement{
			Name:        "mkfs",
			Command:     "mkfs." + cfg.Devices.Filesystem,
			Description: "Required to format devices before copying",
		})
	}
	return reqs
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

// LogResults writes one warning per failed check.
func LogResults(logger *slog.Logger, results []Result) {
	if logger == nil {
		return
	}
	for _, r := range results {
		if r.Passed {
			continue
		}
		impact := "related orders may fail"
		if r.Optional {
			impact = "degraded; a fallback will be used"
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, impact),
		)
	}
}
