package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"usbforge/internal/copier"
	"usbforge/internal/logging"
	"usbforge/internal/notifications"
	"usbforge/internal/orders"
	"usbforge/internal/services"
	"usbforge/internal/usb"
)

const persistTimeout = 10 * time.Second

// Tick dispatches the head of the queue when nothing is in flight and the
// scheduler is not paused. Fulfilment runs synchronously; it returns whether
// an order was dispatched.
func (s *Scheduler) Tick(ctx context.Context) bool {
	s.mu.Lock()
	if s.inFlight != "" || s.paused || len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	entry := s.queue[0]
	s.queue = s.queue[1:]
	s.inFlight = entry.order.ID
	s.active = &activeState{
		orderID:     entry.order.ID,
		orderNumber: entry.order.OrderNumber,
		startedAt:   s.now(),
	}
	s.setQueueGaugeLocked()
	s.mu.Unlock()

	s.fulfillOrder(ctx, entry)
	return true
}

// outcome is how a fulfilment attempt ended.
type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeDeferred
	outcomeDropped
	outcomeInterrupted
)

// fulfillOrder runs one order end to end. Cleanup always releases the device
// claim and the in-flight flag, whatever the outcome.
func (s *Scheduler) fulfillOrder(ctx context.Context, entry queued) {
	started := s.now()
	requestID := uuid.NewString()
	orderCtx := services.WithOrderID(ctx, entry.order.ID)
	orderCtx = services.WithRequestID(orderCtx, requestID)
	logger := logging.WithContext(orderCtx, s.logger)

	var (
		order   = entry.order
		device  usb.Device
		claimed bool
		result  = outcomeFailed
	)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("fulfilment panic: %v", r)
			logger.Error("fulfilment panicked",
				logging.Error(err),
				logging.Alert("fulfilment_panic"),
				logging.String(logging.FieldEventType, "order_panic"),
			)
			s.failOrder(ctx, logger, order, err)
			result = outcomeFailed
		}
		if claimed {
			s.devices.Release(device)
		}
		s.mu.Lock()
		s.inFlight = ""
		s.active = nil
		s.mu.Unlock()

		switch result {
		case outcomeCompleted:
			ordersTotal.WithLabelValues("completed").Inc()
			orderDuration.Observe(s.now().Sub(started).Seconds())
		case outcomeFailed:
			ordersTotal.WithLabelValues("error").Inc()
		case outcomeDeferred:
			ordersTotal.WithLabelValues("deferred").Inc()
		}
		if result != outcomeDeferred && result != outcomeInterrupted {
			s.Wake()
		}
	}()

	current, err := s.store.GetOrder(orderCtx, order.ID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			logging.WarnWithContext(logger, "queued order no longer exists", "order_missing",
				logging.String(logging.FieldImpact, "order dropped from the queue"),
				logging.String(logging.FieldErrorHint, "check the order backend"),
			)
			result = outcomeDropped
			return
		}
		logging.WarnWithContext(logger, "order load failed; requeued", "order_load_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "order retried on a later tick"),
		)
		s.requeue(order)
		result = outcomeInterrupted
		return
	}
	order = *current
	if order.Status.IsTerminal() && !entry.forced {
		logger.Info("queued order already finished; dropped",
			logging.String("status", string(order.Status)),
			logging.String(logging.FieldEventType, "order_already_terminal"),
		)
		result = outcomeDropped
		return
	}
	firstAttempt := order.Status == orders.StatusPending || order.Status.IsTerminal()

	if err := s.markProcessing(orderCtx, order); err != nil {
		if errors.Is(err, orders.ErrInvalidTransition) {
			logging.WarnWithContext(logger, "order cannot enter processing", "order_transition_rejected",
				logging.String("status", string(order.Status)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "order dropped from the queue"),
			)
			result = outcomeDropped
			return
		}
		logging.WarnWithContext(logger, "processing status not persisted; requeued", "order_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "order retried on a later tick"),
			logging.String(logging.FieldErrorHint, "check the order database"),
		)
		s.requeue(order)
		result = outcomeInterrupted
		return
	}
	order.Status = orders.StatusProcessing
	logger.Info("order processing",
		logging.String("order_number", order.DisplayNumber()),
		logging.Int("facets", order.FacetCount()),
		logging.String(logging.FieldEventType, "order_processing"),
	)
	if firstAttempt {
		s.notify(logger, "processing", s.notifier.NotifyOrderProcessing(orderCtx, order))
	}

	dev, ok := s.devices.FindAvailable(orderCtx)
	if !ok {
		s.deferOrder(ctx, logger, order)
		result = outcomeDeferred
		return
	}
	device, claimed = dev, true
	s.mu.Lock()
	if s.active != nil {
		s.active.device = dev.Path
	}
	s.mu.Unlock()

	runCtx := orderCtx
	if s.opts.OrderTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(orderCtx, s.opts.OrderTimeout)
		defer cancel()
	}
	runCtx = services.WithDevice(runCtx, dev.Path)

	res, err := s.prepareAndCopy(runCtx, logger, order, dev)
	if err != nil {
		if ctx.Err() != nil {
			s.interruptOrder(logger, order)
			result = outcomeInterrupted
			return
		}
		s.failOrder(ctx, logger, order, err)
		result = outcomeFailed
		return
	}

	notes := fmt.Sprintf("%d files copied", res.CopiedFiles)
	if err := s.persist(ctx, func(pctx context.Context) error {
		return s.store.UpdateOrderStatus(pctx, order.ID, orders.StatusCompleted, notes)
	}); err != nil {
		logger.Error("completed status not persisted",
			logging.Error(err),
			logging.Alert("persistence"),
			logging.String(logging.FieldEventType, "order_persist_failed"),
			logging.String(logging.FieldErrorHint, "check the order database"),
		)
	}
	logger.Info("order completed",
		logging.Int("copied_files", res.CopiedFiles),
		logging.Int64("bytes_copied", res.CopiedBytes),
		logging.Int("duplicates", res.Duplicates),
		logging.Int("skipped", len(res.Skipped)),
		logging.Int("failed_files", len(res.Failed)),
		logging.Duration("duration", s.now().Sub(started)),
		logging.String(logging.FieldEventType, "order_completed"),
	)
	s.notify(logger, "completed", s.notifier.NotifyOrderCompleted(orderCtx, order, notifications.CopySummary{
		Files:    res.CopiedFiles,
		Bytes:    res.CopiedBytes,
		Duration: res.Duration,
		Device:   dev.Label,
	}))
	result = outcomeCompleted
}

// markProcessing persists the processing status. Terminal orders only reach
// dispatch through a forced override and are reopened.
func (s *Scheduler) markProcessing(ctx context.Context, order orders.Order) error {
	switch {
	case order.Status == orders.StatusProcessing:
		return nil
	case order.Status.IsTerminal():
		return s.store.ReopenOrder(ctx, order.ID)
	default:
		return s.store.UpdateOrderStatus(ctx, order.ID, orders.StatusProcessing, "")
	}
}

func (s *Scheduler) prepareAndCopy(ctx context.Context, logger *slog.Logger, order orders.Order, dev usb.Device) (copier.Result, error) {
	label := usb.Label(order.DisplayNumber(), s.now())
	formatted, err := s.devices.Format(ctx, dev, label)
	if err != nil {
		return copier.Result{}, err
	}
	if strings.TrimSpace(formatted.MountPoint) == "" {
		return copier.Result{}, services.Wrap(services.ErrResourceUnavailable, "scheduler", "prepare device", "device has no mount point after format", nil)
	}
	logger.Info("device prepared",
		logging.String(logging.FieldDevice, formatted.Path),
		logging.String("label", label),
		logging.String("mount_point", formatted.MountPoint),
		logging.String(logging.FieldEventType, "device_prepared"),
	)

	res, err := s.copier.Run(ctx, buildPlan(order, formatted.MountPoint))
	if err != nil {
		return res, err
	}
	if !res.Verification.OK() {
		return res, services.Wrap(services.ErrVerification, "scheduler", "verify",
			fmt.Sprintf("%d missing, %d corrupt of %d files", len(res.Verification.Missing), len(res.Verification.Corrupt), res.Verification.Checked), nil)
	}
	return res, nil
}

// buildPlan maps order customization sets onto copy facets.
func buildPlan(order orders.Order, destination string) copier.Plan {
	plan := copier.Plan{JobID: order.ID, Destination: destination}
	add := func(kind copier.FacetKind, keywords []string) {
		for _, keyword := range keywords {
			if keyword = strings.TrimSpace(keyword); keyword != "" {
				plan.Facets = append(plan.Facets, copier.Facet{Kind: kind, Keyword: keyword})
			}
		}
	}
	add(copier.FacetGenre, order.Genres)
	add(copier.FacetArtist, order.Artists)
	add(copier.FacetVideo, order.Videos)
	add(copier.FacetMovie, order.Movies)
	add(copier.FacetSeries, order.Series)
	return plan
}

// deferOrder parks an order that found no empty device at the queue tail.
func (s *Scheduler) deferOrder(ctx context.Context, logger *slog.Logger, order orders.Order) {
	if err := s.persist(ctx, func(pctx context.Context) error {
		return s.store.UpdateOrderStatus(pctx, order.ID, orders.StatusAwaitingUSB, "")
	}); err != nil {
		logging.WarnWithContext(logger, "deferral not persisted", "order_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "persisted status lags the queue"),
			logging.String(logging.FieldErrorHint, "check the order database"),
		)
	}
	order.Status = orders.StatusAwaitingUSB
	length := s.requeue(order)
	logger.Info("order deferred",
		logging.Int("queue_length", length),
		logging.String("reason", "no empty device"),
		logging.String(logging.FieldEventType, "order_deferred"),
	)
	s.alert(ctx, logger, "no_empty_devices",
		fmt.Sprintf("No empty USB device for order %s; %d orders waiting", order.DisplayNumber(), length))
}

// interruptOrder returns an order cut short by shutdown to the waiting set so
// it is dispatched again after restart.
func (s *Scheduler) interruptOrder(logger *slog.Logger, order orders.Order) {
	if err := s.persist(context.Background(), func(pctx context.Context) error {
		return s.store.UpdateOrderStatus(pctx, order.ID, orders.StatusAwaitingUSB, "")
	}); err != nil {
		logger.Error("interrupted order not persisted",
			logging.Error(err),
			logging.String(logging.FieldEventType, "order_persist_failed"),
		)
	}
	logger.Info("order interrupted by shutdown", logging.String(logging.FieldEventType, "order_interrupted"))
}

// failOrder records a terminal failure and notifies the customer and operator.
func (s *Scheduler) failOrder(ctx context.Context, logger *slog.Logger, order orders.Order, cause error) {
	if errors.Is(cause, copier.ErrCancelled) {
		cause = fmt.Errorf("copy cancelled by operator: %w", cause)
	}
	err := s.persist(ctx, func(pctx context.Context) error {
		if recorder, ok := s.store.(FailureRecorder); ok {
			return recorder.RecordFailure(pctx, order.ID, cause)
		}
		return s.store.UpdateOrderStatus(pctx, order.ID, orders.StatusError, cause.Error())
	})
	if err != nil {
		logger.Error("error status not persisted",
			logging.Error(err),
			logging.String(logging.FieldEventType, "order_persist_failed"),
		)
	}
	logger.Error("order failed",
		logging.Error(cause),
		logging.String("error_code", services.ErrorCode(cause)),
		logging.Alert("order_failure"),
		logging.String(logging.FieldEventType, "order_failed"),
		logging.String(logging.FieldErrorHint, "inspect the device and retry with force"),
	)
	notifyCtx := context.WithoutCancel(ctx)
	s.notify(logger, "error", s.notifier.NotifyOrderError(notifyCtx, order, cause))
	s.alert(notifyCtx, logger, "order_failed:"+order.ID,
		fmt.Sprintf("Order %s failed: %v", order.DisplayNumber(), cause))
}

// persist runs a store write detached from cancellation so terminal states
// are recorded after a deadline or during shutdown.
func (s *Scheduler) persist(ctx context.Context, fn func(context.Context) error) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return fn(pctx)
}

func (s *Scheduler) alert(ctx context.Context, logger *slog.Logger, key, message string) {
	if err := s.notifier.NotifyAdminAlert(ctx, key, message); err != nil {
		logger.Debug("admin alert failed", logging.String("alert_key", key), logging.Error(err))
	}
}

func (s *Scheduler) notify(logger *slog.Logger, kind string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		logger.Debug("shutting down, notification skipped", logging.String("notification", kind))
		return
	}
	logger.Debug("customer notification failed", logging.String("notification", kind), logging.Error(err))
}
