package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"usbforge/internal/logging"
	"usbforge/internal/notifications"
	"usbforge/internal/orders"
)

var (
	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "usbforge_queue_length",
		Help: "Orders waiting in the in-memory dispatch queue",
	})
	ordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usbforge_orders_total",
		Help: "Fulfilment outcomes by result",
	}, []string{"result"})
	orderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "usbforge_order_duration_seconds",
		Help:    "Wall time of completed fulfilments",
		Buckets: prometheus.ExponentialBuckets(30, 2, 10),
	})
)

// ErrAlreadyActive is returned when an operation targets the in-flight order.
var ErrAlreadyActive = errors.New("order already in flight")

// Dependencies bundles the collaborators a Scheduler drives.
type Dependencies struct {
	Store    Persistence
	Devices  DeviceManager
	Copier   CopyRunner
	Notifier notifications.Service
	Reports  ReportWriter
}

type queued struct {
	order  orders.Order
	forced bool
}

type activeState struct {
	orderID     string
	orderNumber string
	device      string
	startedAt   time.Time
}

// Scheduler coordinates order dispatch.
type Scheduler struct {
	opts     Options
	store    Persistence
	devices  DeviceManager
	copier   CopyRunner
	notifier notifications.Service
	reports  ReportWriter
	logger   *slog.Logger
	now      func() time.Time

	wakeCh chan struct{}

	mu       sync.Mutex
	queue    []queued
	inFlight string
	active   *activeState
	paused   bool
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Scheduler. Zero intervals fall back to defaults.
func New(opts Options, deps Dependencies, logger *slog.Logger) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 5 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 2 * time.Minute
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 2 * time.Minute
	}
	if opts.QueueAlertThreshold <= 0 {
		opts.QueueAlertThreshold = 10
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Scheduler{
		opts:     opts,
		store:    deps.Store,
		devices:  deps.Devices,
		copier:   deps.Copier,
		notifier: notifier,
		reports:  deps.Reports,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		now:      time.Now,
		wakeCh:   make(chan struct{}, 1),
	}
}

// Wake requests a dispatch attempt without waiting for the next tick.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Pause stops new dispatches. The in-flight order runs to completion.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	changed := !s.paused
	s.paused = true
	s.mu.Unlock()
	if changed {
		s.logger.Info("dispatch paused", logging.String(logging.FieldEventType, "scheduler_paused"))
	}
}

// Resume re-enables dispatch and wakes the loop.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	changed := s.paused
	s.paused = false
	s.mu.Unlock()
	if changed {
		s.logger.Info("dispatch resumed", logging.String(logging.FieldEventType, "scheduler_resumed"))
	}
	s.Wake()
}

// QueueStatus returns a snapshot for observers.
func (s *Scheduler) QueueStatus() Status {
	s.mu.Lock()
	status := Status{
		Processing: s.inFlight != "",
		Paused:     s.paused,
		Length:     len(s.queue),
		Queue:      make([]QueueEntry, 0, len(s.queue)),
	}
	for _, entry := range s.queue {
		status.Queue = append(status.Queue, QueueEntry{
			OrderID:      entry.order.ID,
			OrderNumber:  entry.order.OrderNumber,
			CustomerName: entry.order.CustomerName,
			ContentType:  entry.order.ContentType,
			Status:       entry.order.Status,
			CreatedAt:    entry.order.CreatedAt,
			Forced:       entry.forced,
		})
	}
	if len(s.queue) > 0 {
		status.HeadOrderID = s.queue[0].order.ID
	}
	var active *activeState
	if s.active != nil {
		copied := *s.active
		active = &copied
	}
	s.mu.Unlock()

	if active != nil {
		job := &ActiveJob{
			OrderID:     active.orderID,
			OrderNumber: active.orderNumber,
			Device:      active.device,
			StartedAt:   active.startedAt,
		}
		if s.copier != nil {
			if progress, ok := s.copier.Progress(active.orderID); ok {
				job.Progress = &progress
			}
		}
		status.Active = job
	}
	return status
}

// CopyProgress returns live copy progress for an order.
func (s *Scheduler) CopyProgress(orderID string) (Progress, bool) {
	if s.copier == nil {
		return Progress{}, false
	}
	return s.copier.Progress(orderID)
}

// CancelCopy aborts the running copy for an order.
func (s *Scheduler) CancelCopy(orderID string) bool {
	if s.copier == nil {
		return false
	}
	return s.copier.Cancel(orderID)
}

func (s *Scheduler) setQueueGaugeLocked() {
	queueLength.Set(float64(len(s.queue)))
}
