package scheduler

import (
	"context"
	"errors"
	"time"

	"usbforge/internal/logging"
	"usbforge/internal/orders"
)

// Start reclaims orders left in processing by a previous run, loads the
// queue, and launches the dispatch, refresh, and health loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.reclaimInterrupted(runCtx)
	if _, err := s.RefreshQueue(runCtx); err != nil {
		logging.WarnWithContext(s.logger, "initial queue load failed", "queue_refresh_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "queue starts empty until the next refresh"),
			logging.String(logging.FieldErrorHint, "check the order database"),
		)
	}

	s.wg.Add(3)
	go s.dispatchLoop(runCtx)
	go s.every(runCtx, s.opts.RefreshInterval, func(ctx context.Context) {
		if _, err := s.RefreshQueue(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(s.logger, "queue refresh failed", "queue_refresh_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "queue may miss new orders until the next refresh"),
				logging.String(logging.FieldErrorHint, "check the order database"),
			)
		}
	})
	go s.every(runCtx, s.opts.HealthInterval, func(ctx context.Context) {
		s.CheckHealth(ctx)
	})

	s.logger.Info("scheduler started",
		logging.Duration("tick_interval", s.opts.TickInterval),
		logging.Duration("refresh_interval", s.opts.RefreshInterval),
		logging.Duration("health_interval", s.opts.HealthInterval),
		logging.String(logging.FieldEventType, "scheduler_started"),
	)
	s.Wake()
	return nil
}

// Stop cancels the loops and waits for them, including an in-flight order.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped", logging.String(logging.FieldEventType, "scheduler_stopped"))
}

// Running reports whether the loops are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wakeCh:
		}
		s.Tick(ctx)
	}
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// reclaimInterrupted moves orders stuck in processing (crash or kill during
// fulfilment) back to the waiting set.
func (s *Scheduler) reclaimInterrupted(ctx context.Context) {
	stuck, err := s.store.List(ctx, orders.StatusProcessing)
	if err != nil {
		logging.WarnWithContext(s.logger, "interrupted orders not reclaimed", "order_reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "orders left in processing will not dispatch"),
			logging.String(logging.FieldErrorHint, "force the affected orders"),
		)
		return
	}
	for _, order := range stuck {
		if err := s.store.UpdateOrderStatus(ctx, order.ID, orders.StatusAwaitingUSB, ""); err != nil {
			s.logger.Debug("reclaim failed", logging.String(logging.FieldOrderID, order.ID), logging.Error(err))
			continue
		}
		s.logger.Info("interrupted order reclaimed",
			logging.String(logging.FieldOrderID, order.ID),
			logging.String(logging.FieldEventType, "order_reclaimed"),
		)
	}
}
