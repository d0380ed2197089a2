package copier

import (
	"context"
	"sync/atomic"
	"time"

	"usbforge/internal/logging"
)

// EventKind distinguishes observer events.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventCancelled EventKind = "cancelled"
)

// Event is delivered to a plan's observer.
type Event struct {
	Kind     EventKind `json:"kind"`
	JobID    string    `json:"job_id"`
	Progress Progress  `json:"progress"`
}

// Progress is a point-in-time snapshot of a copy job.
type Progress struct {
	JobID       string    `json:"job_id"`
	TotalFiles  int       `json:"total_files"`
	CopiedFiles int       `json:"copied_files"`
	TotalBytes  int64     `json:"total_bytes"`
	CopiedBytes int64     `json:"copied_bytes"`
	CurrentFile string    `json:"current_file,omitempty"`
	Percentage  float64   `json:"percentage"`
	StartedAt   time.Time `json:"started_at"`
}

func (p *Progress) recompute() {
	if p.TotalBytes <= 0 {
		p.Percentage = 0
		return
	}
	pct := float64(p.CopiedBytes) / float64(p.TotalBytes) * 100
	if pct > 100 {
		pct = 100
	}
	p.Percentage = pct
}

type job struct {
	progress  Progress
	observer  func(Event)
	cancel    context.CancelFunc
	cancelled atomic.Bool
	sampler   *logging.ProgressSampler
}

// Progress returns the live snapshot for a job. The second result is false
// once the job completed or was cancelled.
func (e *Engine) Progress(jobID string) (Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[jobID]
	if !ok {
		return Progress{}, false
	}
	return j.progress, true
}

// Cancel stops a running job: the bookkeeping is removed, the job's context
// is cancelled so the file in flight aborts, and a cancellation event is
// emitted. It returns false when no such job is running.
func (e *Engine) Cancel(jobID string) bool {
	e.mu.Lock()
	j, ok := e.jobs[jobID]
	if ok {
		delete(e.jobs, jobID)
	}
	var snapshot Progress
	if ok {
		snapshot = j.progress
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	j.cancelled.Store(true)
	j.cancel()
	e.logger.Info("copy cancelled",
		logging.String(logging.FieldJobID, jobID),
		logging.Int("copied_files", snapshot.CopiedFiles),
		logging.String(logging.FieldEventType, "copy_cancelled"),
	)
	emit(j.observer, Event{Kind: EventCancelled, JobID: jobID, Progress: snapshot})
	return true
}

// update mutates a job's progress under the engine lock and returns a snapshot.
func (e *Engine) update(j *job, fn func(*Progress)) Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&j.progress)
	j.progress.recompute()
	return j.progress
}

func emit(observer func(Event), ev Event) {
	if observer != nil {
		observer(ev)
	}
}
