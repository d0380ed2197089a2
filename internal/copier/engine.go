package copier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"usbforge/internal/fileutil"
	"usbforge/internal/locator"
	"usbforge/internal/logging"
	"usbforge/internal/services"
)

// ErrCancelled is returned by Run when the job was cancelled through Cancel.
var ErrCancelled = errors.New("copy cancelled")

// ErrJobActive is returned when a job with the same ID is already running.
var ErrJobActive = errors.New("copy job already running")

// Finder resolves facet keywords to content.
type Finder interface {
	FindByName(ctx context.Context, root, keyword string, exts []string) (locator.Result, error)
	FindFolders(ctx context.Context, root, keyword string) (locator.Result, error)
}

// Options configures content roots and per-file policy.
type Options struct {
	MusicRoot        string
	VideosRoot       string
	MoviesRoot       string
	SeriesRoot       string
	MusicExtensions  []string
	VideoExtensions  []string
	Attempts         int
	RetryDelay       time.Duration
	MaxFileBytes     int64
	MinVerifiedBytes int64
	BufferSize       int
}

// SkippedFile is a source rejected before copying.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// FailedFile is a source that could not be copied within the attempt bound.
type FailedFile struct {
	Path     string `json:"path"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// FacetResult summarizes one facet's resolution.
type FacetResult struct {
	Facet   Facet  `json:"facet"`
	Matches int    `json:"matches"`
	Folder  string `json:"folder"`
}

// Result reports the outcome of a copy job.
type Result struct {
	JobID        string               `json:"job_id"`
	CopiedFiles  int                  `json:"copied_files"`
	CopiedBytes  int64                `json:"copied_bytes"`
	Copied       []string             `json:"copied,omitempty"`
	Duplicates   int                  `json:"duplicates"`
	Retries      int                  `json:"retries"`
	Skipped      []SkippedFile        `json:"skipped,omitempty"`
	Failed       []FailedFile         `json:"failed,omitempty"`
	Facets       []FacetResult        `json:"facets,omitempty"`
	ScanProblems []locator.ScanReport `json:"scan_problems,omitempty"`
	Manifest     string               `json:"manifest,omitempty"`
	Verification Verification         `json:"verification"`
	Duration     time.Duration        `json:"duration"`
}

type copyFunc func(ctx context.Context, src, dst string, opts fileutil.CopyOptions) (int64, error)

// Engine runs copy jobs.
type Engine struct {
	opts     Options
	finder   Finder
	logger   *slog.Logger
	copyFile copyFunc

	mu   sync.Mutex
	jobs map[string]*job
}

// New constructs an Engine.
func New(opts Options, finder Finder, logger *slog.Logger) *Engine {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.MinVerifiedBytes < 0 {
		opts.MinVerifiedBytes = 0
	}
	return &Engine{
		opts:     opts,
		finder:   finder,
		logger:   logging.NewComponentLogger(logger, "copier"),
		copyFile: fileutil.CopyFile,
		jobs:     make(map[string]*job),
	}
}

// copyItem is one planned file copy.
type copyItem struct {
	src      string
	rel      string // destination path relative to the device root
	size     int64
	category string
	// dedupKey is the basename registered in the category, empty for files
	// inside a series folder (the folder itself was deduplicated).
	dedupKey string
}

// Run executes a plan against the destination root.
func (e *Engine) Run(ctx context.Context, plan Plan) (Result, error) {
	started := time.Now()
	result := Result{JobID: plan.JobID}
	if strings.TrimSpace(plan.JobID) == "" {
		return result, services.Wrap(services.ErrValidation, "copier", "run", "job id is required", nil)
	}
	if strings.TrimSpace(plan.Destination) == "" {
		return result, services.Wrap(services.ErrValidation, "copier", "run", "destination is required", nil)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	j := &job{
		progress: Progress{JobID: plan.JobID, StartedAt: started},
		observer: plan.Observer,
		cancel:   cancel,
		sampler:  logging.NewProgressSampler(10),
	}
	e.mu.Lock()
	if _, exists := e.jobs[plan.JobID]; exists {
		e.mu.Unlock()
		return result, fmt.Errorf("%w: %s", ErrJobActive, plan.JobID)
	}
	e.jobs[plan.JobID] = j
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		if e.jobs[plan.JobID] == j {
			delete(e.jobs, plan.JobID)
		}
		e.mu.Unlock()
	}()

	logger := e.logger.With(logging.String(logging.FieldJobID, plan.JobID))
	items := e.resolve(jobCtx, plan, &result, logger)
	if err := e.interrupted(jobCtx, j); err != nil {
		return result, err
	}

	var total int64
	for _, item := range items {
		total += item.size
	}
	e.update(j, func(p *Progress) {
		p.TotalFiles = len(items)
		p.TotalBytes = total
	})
	logger.Info("copy started",
		logging.Int("files", len(items)),
		logging.Int64("total_bytes", total),
		logging.String("destination", plan.Destination),
		logging.String(logging.FieldEventType, "copy_started"),
	)

	registry := newRegistry()
	type placed struct {
		item copyItem
		dst  string
	}
	var written []placed
	var music []string

	for _, category := range phaseOrder {
		for _, item := range items {
			if item.category != category {
				continue
			}
			if err := e.interrupted(jobCtx, j); err != nil {
				result.Duration = time.Since(started)
				return result, err
			}
			if item.dedupKey != "" && registry.seen(category, item.dedupKey) {
				result.Duplicates++
				filesTotal.WithLabelValues("duplicate").Inc()
				e.update(j, func(p *Progress) {
					p.TotalFiles--
					p.TotalBytes -= item.size
				})
				logger.Debug("duplicate skipped",
					logging.String("source", item.src),
					logging.String("category", category),
				)
				continue
			}

			dst := filepath.Join(plan.Destination, filepath.FromSlash(item.rel))
			n, attempts, err := e.copyWithRetry(jobCtx, j, item, dst, logger)
			result.Retries += attempts - 1
			if err != nil {
				if ctxErr := e.interrupted(jobCtx, j); ctxErr != nil {
					result.Duration = time.Since(started)
					return result, ctxErr
				}
				result.Failed = append(result.Failed, FailedFile{Path: item.src, Attempts: attempts, Error: err.Error()})
				filesTotal.WithLabelValues("failed").Inc()
				e.update(j, func(p *Progress) {
					p.TotalFiles--
					p.TotalBytes -= item.size
				})
				logging.WarnWithContext(logger, "file copy failed", "copy_file_failed",
					logging.String("source", item.src),
					logging.Int("attempts", attempts),
					logging.Error(err),
					logging.String(logging.FieldImpact, "file missing from the device"),
					logging.String(logging.FieldErrorHint, "check the source file and device health"),
				)
				continue
			}

			if item.dedupKey != "" {
				registry.add(category, item.dedupKey)
			}
			result.CopiedFiles++
			result.CopiedBytes += n
			result.Copied = append(result.Copied, item.rel)
			written = append(written, placed{item: item, dst: dst})
			if category == DirMusic {
				music = append(music, item.rel)
			}
			filesTotal.WithLabelValues("copied").Inc()
			bytesTotal.Add(float64(n))
			snapshot := e.update(j, func(p *Progress) { p.CopiedFiles++ })
			emit(plan.Observer, Event{Kind: EventProgress, JobID: plan.JobID, Progress: snapshot})
			if j.sampler.ShouldLog(snapshot.Percentage, category) {
				logger.Info("copy progress",
					logging.Int("copied_files", snapshot.CopiedFiles),
					logging.Int("total_files", snapshot.TotalFiles),
					logging.Float64("percent", snapshot.Percentage),
					logging.String("category", category),
					logging.String(logging.FieldEventType, "copy_progress"),
				)
			}
		}

		if category == DirMusic && len(music) > 0 {
			manifest, err := writeManifest(plan.Destination, music)
			if err != nil {
				logging.WarnWithContext(logger, "playlist not written", "manifest_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "device has no playlist"),
				)
			} else {
				result.Manifest = manifest
			}
		}
	}

	checks := make([]verifyTarget, 0, len(written))
	for _, w := range written {
		checks = append(checks, verifyTarget{path: w.dst, rel: w.item.rel, want: w.item.size})
	}
	result.Verification = verify(checks, e.opts.MinVerifiedBytes)
	result.Duration = time.Since(started)

	snapshot := e.update(j, func(p *Progress) { p.CurrentFile = "" })
	e.mu.Lock()
	delete(e.jobs, plan.JobID)
	e.mu.Unlock()
	emit(plan.Observer, Event{Kind: EventCompleted, JobID: plan.JobID, Progress: snapshot})

	logger.Info("copy finished",
		logging.Int("copied_files", result.CopiedFiles),
		logging.Int64("bytes_copied", result.CopiedBytes),
		logging.Int("duplicates", result.Duplicates),
		logging.Int("skipped", len(result.Skipped)),
		logging.Int("failed", len(result.Failed)),
		logging.Bool("verified", result.Verification.OK()),
		logging.Duration("duration", result.Duration),
		logging.String(logging.FieldEventType, "copy_finished"),
	)
	return result, nil
}

// interrupted converts cancellation into the error Run returns.
func (e *Engine) interrupted(ctx context.Context, j *job) error {
	if j.cancelled.Load() {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "copier", "run", "deadline exceeded", err)
		}
		return err
	}
	return nil
}

func (e *Engine) copyWithRetry(ctx context.Context, j *job, item copyItem, dst string, logger *slog.Logger) (int64, int, error) {
	e.update(j, func(p *Progress) { p.CurrentFile = item.rel })

	var lastErr error
	for attempt := 1; attempt <= e.opts.Attempts; attempt++ {
		var attemptBytes int64
		n, err := e.copyFile(ctx, item.src, dst, fileutil.CopyOptions{
			BufferSize: e.opts.BufferSize,
			Progress: func(delta int64) {
				attemptBytes += delta
				e.update(j, func(p *Progress) { p.CopiedBytes += delta })
			},
		})
		if err == nil {
			return n, attempt, nil
		}
		lastErr = err
		if attemptBytes > 0 {
			rollback := attemptBytes
			e.update(j, func(p *Progress) { p.CopiedBytes -= rollback })
		}
		if ctx.Err() != nil || attempt == e.opts.Attempts {
			return 0, attempt, lastErr
		}
		retriesTotal.Inc()
		logger.Debug("retrying file copy",
			logging.String("source", item.src),
			logging.Int("attempt", attempt),
			logging.Error(err),
		)
		if e.opts.RetryDelay > 0 {
			timer := time.NewTimer(e.opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return 0, attempt, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return 0, e.opts.Attempts, lastErr
}

// resolve turns facets into validated copy items in facet order.
func (e *Engine) resolve(ctx context.Context, plan Plan, result *Result, logger *slog.Logger) []copyItem {
	var items []copyItem
	seenFolders := make(map[string]struct{})

	for _, facet := range plan.Facets {
		if ctx.Err() != nil {
			return items
		}
		if strings.TrimSpace(facet.Keyword) == "" || facet.Kind.category() == "" {
			continue
		}

		var (
			res locator.Result
			err error
		)
		switch facet.Kind {
		case FacetGenre, FacetArtist:
			res, err = e.finder.FindByName(ctx, e.opts.MusicRoot, facet.Keyword, e.opts.MusicExtensions)
		case FacetVideo:
			res, err = e.finder.FindByName(ctx, e.opts.VideosRoot, facet.Keyword, e.opts.VideoExtensions)
		case FacetMovie:
			res, err = e.finder.FindByName(ctx, e.opts.MoviesRoot, facet.Keyword, e.opts.VideoExtensions)
		case FacetSeries:
			res, err = e.finder.FindFolders(ctx, e.opts.SeriesRoot, facet.Keyword)
		}
		if err != nil {
			logging.WarnWithContext(logger, "content search failed", "content_search_failed",
				logging.String("facet", string(facet.Kind)),
				logging.String("keyword", facet.Keyword),
				logging.Error(err),
				logging.String(logging.FieldImpact, "facet content not copied"),
			)
			continue
		}
		if !res.Report.Clean() {
			result.ScanProblems = append(result.ScanProblems, res.Report)
		}

		summary := FacetResult{Facet: facet, Matches: len(res.Matches)}
		if facet.Kind == FacetSeries {
			summary.Folder = DirSeries
			for _, match := range res.Matches {
				if _, dup := seenFolders[match.Name]; dup {
					result.Duplicates++
					continue
				}
				seenFolders[match.Name] = struct{}{}
				items = append(items, e.expandFolder(match, result, logger)...)
			}
		} else {
			folder := facetFolder(facet)
			summary.Folder = strings.Join(folder, "/")
			for _, match := range res.Matches {
				rel := strings.Join(append(append([]string{}, folder...), match.Name), "/")
				item := copyItem{src: match.Path, rel: rel, size: match.Size, category: facet.Kind.category(), dedupKey: match.Name}
				if e.accept(&item, result, logger) {
					items = append(items, item)
				}
			}
		}
		if summary.Matches == 0 {
			logging.WarnWithContext(logger, "no content matched facet", "facet_no_matches",
				logging.String("facet", string(facet.Kind)),
				logging.String("keyword", facet.Keyword),
				logging.String(logging.FieldImpact, "facet folder left empty"),
				logging.String(logging.FieldErrorHint, "check the spelling or add content to the library"),
			)
		}
		result.Facets = append(result.Facets, summary)
	}
	return items
}

// expandFolder lists every file of a matched series folder.
func (e *Engine) expandFolder(match locator.Match, result *Result, logger *slog.Logger) []copyItem {
	var items []copyItem
	_ = filepath.WalkDir(match.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Debug("series entry skipped", logging.String("path", path), logging.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(match.Path, path)
		if err != nil {
			return nil
		}
		item := copyItem{
			src:      path,
			rel:      DirSeries + "/" + match.Name + "/" + filepath.ToSlash(rel),
			size:     info.Size(),
			category: DirSeries,
		}
		if e.accept(&item, result, logger) {
			items = append(items, item)
		}
		return nil
	})
	return items
}

// accept applies pre-copy validation. Rejected files are recorded, never fatal.
func (e *Engine) accept(item *copyItem, result *Result, logger *slog.Logger) bool {
	if item.size <= 0 {
		if info, err := os.Stat(item.src); err == nil {
			item.size = info.Size()
		}
	}
	size := item.size
	var reason string
	switch {
	case size == 0:
		reason = "empty file"
	case e.opts.MaxFileBytes > 0 && size > e.opts.MaxFileBytes:
		reason = "exceeds size ceiling"
	case e.opts.MinVerifiedBytes > 0 && size <= e.opts.MinVerifiedBytes:
		reason = "below verification floor"
	}
	if reason == "" {
		return true
	}
	result.Skipped = append(result.Skipped, SkippedFile{Path: item.src, Reason: reason})
	filesTotal.WithLabelValues("skipped").Inc()
	logger.Info("file skipped",
		logging.String("source", item.src),
		logging.String("reason", reason),
		logging.Int64("size_bytes", size),
		logging.String(logging.FieldEventType, "copy_file_skipped"),
	)
	return false
}

type registry struct {
	names map[string]map[string]struct{}
}

func newRegistry() *registry {
	return &registry{names: make(map[string]map[string]struct{})}
}

func (r *registry) seen(category, name string) bool {
	_, ok := r.names[category][name]
	return ok
}

func (r *registry) add(category, name string) {
	set, ok := r.names[category]
	if !ok {
		set = make(map[string]struct{})
		r.names[category] = set
	}
	set[name] = struct{}{}
}
