// Package report persists the daily health snapshot written by the scheduler.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"usbforge/internal/fileutil"
	"usbforge/internal/logging"
	"usbforge/internal/orders"
	"usbforge/internal/usb"
)

const (
	filePrefix = "report-"
	fileSuffix = ".json"
	dayLayout  = "2006-01-02"
)

// QueueState is the scheduler view captured in a report.
type QueueState struct {
	Length     int    `json:"length"`
	Paused     bool   `json:"paused"`
	Processing bool   `json:"processing"`
	ActiveID   string `json:"active_order_id,omitempty"`
}

// Report is the daily artifact. Rewriting it during the day replaces the
// previous snapshot.
type Report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Orders      orders.Stats `json:"orders"`
	Devices     usb.Status   `json:"devices"`
	Queue       QueueState   `json:"queue"`
	Alerts      []string     `json:"alerts,omitempty"`
}

// Writer stores reports under a directory, one file per local day.
type Writer struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter returns a writer rooted at dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "report"),
		now:    time.Now,
	}
}

// Dir returns the report directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Write persists the report atomically and returns the file path.
func (w *Writer) Write(r Report) (string, error) {
	if strings.TrimSpace(w.dir) == "" {
		return "", errors.New("report directory not configured")
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = w.now()
	}
	if r.Devices.Devices == nil {
		r.Devices.Devices = []usb.Device{}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	path := filepath.Join(w.dir, FileName(r.GeneratedAt))
	if err := fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	w.logger.Debug("report written",
		logging.String("path", path),
		logging.Int("orders", r.Orders.Total),
		logging.Int("devices", r.Devices.Connected),
	)
	return path, nil
}

// Read loads the report for the given day.
func (w *Writer) Read(day time.Time) (Report, error) {
	path := filepath.Join(w.dir, FileName(day))
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("parse report %s: %w", path, err)
	}
	return r, nil
}

// Days lists the days with a stored report, newest first.
func (w *Writer) Days() ([]time.Time, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var days []time.Time
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		day, err := time.ParseInLocation(dayLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), time.Local)
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days, nil
}

// FileName returns the report file name for a timestamp's local day.
func FileName(ts time.Time) string {
	return filePrefix + ts.Local().Format(dayLayout) + fileSuffix
}
