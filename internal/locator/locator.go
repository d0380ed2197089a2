package locator

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"usbforge/internal/logging"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usbforge_locator_cache_hits_total",
		Help: "Content searches answered from the result cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usbforge_locator_cache_misses_total",
		Help: "Content searches that walked the tree.",
	})
	scanProblemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usbforge_locator_scan_problems_total",
		Help: "Directories skipped during content searches, by outcome.",
	}, []string{"outcome"})
)

// Match is a file or folder whose name contains the search keyword.
type Match struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

// Result bundles matches in traversal order with the scan report.
type Result struct {
	Matches []Match    `json:"matches"`
	Report  ScanReport `json:"report"`
}

func (r Result) clone() Result {
	return Result{Matches: slices.Clone(r.Matches), Report: r.Report.clone()}
}

// Options configures the search cache. A zero CacheSize disables caching.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Locator searches content roots.
type Locator struct {
	cache  *expirable.LRU[string, Result]
	logger *slog.Logger
}

// New constructs a Locator.
func New(opts Options, logger *slog.Logger) *Locator {
	l := &Locator{logger: logging.NewComponentLogger(logger, "locator")}
	if opts.CacheSize > 0 {
		l.cache = expirable.NewLRU[string, Result](opts.CacheSize, nil, opts.CacheTTL)
	}
	return l
}

// FindByName returns files under root whose name contains keyword and whose
// extension is in exts. An empty exts accepts every file.
func (l *Locator) FindByName(ctx context.Context, root, keyword string, exts []string) (Result, error) {
	folded := foldKey(keyword)
	if folded == "" {
		return Result{Report: newScanReport(root)}, nil
	}
	allowed := normalizeExtensions(exts)
	sortedExts := make([]string, 0, len(allowed))
	for ext := range allowed {
		sortedExts = append(sortedExts, ext)
	}
	slices.Sort(sortedExts)
	key := "file|" + root + "|" + folded + "|" + strings.Join(sortedExts, ",")

	return l.cached(ctx, key, func() (Result, error) {
		return l.walk(ctx, root, func(path string, d fs.DirEntry) (bool, bool) {
			if d.IsDir() {
				return false, false
			}
			if len(allowed) > 0 {
				if _, ok := allowed[strings.ToLower(filepath.Ext(d.Name()))]; !ok {
					return false, false
				}
			}
			return strings.Contains(foldKey(d.Name()), folded), false
		})
	})
}

// FindFolders returns directories under root whose name contains keyword.
// A matching folder is returned whole; its children are not searched.
func (l *Locator) FindFolders(ctx context.Context, root, keyword string) (Result, error) {
	folded := foldKey(keyword)
	if folded == "" {
		return Result{Report: newScanReport(root)}, nil
	}
	key := "dir|" + root + "|" + folded

	return l.cached(ctx, key, func() (Result, error) {
		return l.walk(ctx, root, func(path string, d fs.DirEntry) (bool, bool) {
			if !d.IsDir() || path == root {
				return false, false
			}
			if strings.Contains(foldKey(d.Name()), folded) {
				return true, true
			}
			return false, false
		})
	})
}

// Invalidate drops every cached result.
func (l *Locator) Invalidate() {
	if l.cache != nil {
		l.cache.Purge()
	}
}

func (l *Locator) cached(ctx context.Context, key string, search func() (Result, error)) (Result, error) {
	if l.cache != nil {
		if res, ok := l.cache.Get(key); ok {
			cacheHitsTotal.Inc()
			return res.clone(), nil
		}
		cacheMissesTotal.Inc()
	}
	res, err := search()
	if err != nil {
		return res, err
	}
	if l.cache != nil && ctx.Err() == nil {
		l.cache.Add(key, res.clone())
	}
	return res, nil
}

// matchFunc reports whether the entry matches and whether to skip its subtree.
type matchFunc func(path string, d fs.DirEntry) (match bool, skip bool)

func (l *Locator) walk(ctx context.Context, root string, match matchFunc) (Result, error) {
	result := Result{Report: newScanReport(root)}
	var lastDir string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() && path == lastDir {
				result.Report.Counts[ScanOK]--
			}
			outcome := result.Report.record(path, err)
			scanProblemsTotal.WithLabelValues(string(outcome)).Inc()
			l.logger.Debug("directory skipped",
				logging.String("path", path),
				logging.String("outcome", string(outcome)),
				logging.Error(err),
				logging.String(logging.FieldEventType, "scan_skipped"),
			)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			result.Report.Counts[ScanOK]++
			lastDir = path
		}
		ok, skip := match(path, d)
		if ok {
			m := Match{Path: path, Name: d.Name(), IsDir: d.IsDir()}
			if !d.IsDir() {
				if info, infoErr := d.Info(); infoErr == nil {
					m.Size = info.Size()
				}
			}
			result.Matches = append(result.Matches, m)
		}
		if skip && d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	if !result.Report.Clean() {
		logging.WarnWithContext(l.logger, "content search skipped unreadable directories", "scan_incomplete",
			logging.String("root", root),
			logging.Int("skipped", len(result.Report.Problems)),
			logging.String(logging.FieldImpact, "matches inside skipped directories are not copied"),
			logging.String(logging.FieldErrorHint, "check permissions on the content library"),
		)
	}
	return result, nil
}
