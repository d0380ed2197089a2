package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"usbforge/internal/logging"
	"usbforge/internal/orders"
	"usbforge/internal/services"
)

// RefreshQueue reconciles the in-memory queue with persistence: waiting
// orders are deduplicated and sorted oldest first, forced orders stay at the
// head, and the in-flight order is excluded. It returns the new length.
func (s *Scheduler) RefreshQueue(ctx context.Context) (int, error) {
	pending, err := s.store.PendingOrders(ctx)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "scheduler", "refresh", "load pending orders", err)
	}

	seen := make(map[string]struct{}, len(pending))
	fresh := make([]orders.Order, 0, len(pending))
	for _, order := range pending {
		if _, dup := seen[order.ID]; dup {
			continue
		}
		seen[order.ID] = struct{}{}
		fresh = append(fresh, order)
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
	})

	s.mu.Lock()
	next := make([]queued, 0, len(fresh)+len(s.queue))
	headIDs := make(map[string]struct{})
	for _, entry := range s.queue {
		if !entry.forced || entry.order.ID == s.inFlight {
			continue
		}
		headIDs[entry.order.ID] = struct{}{}
		next = append(next, entry)
	}
	for _, order := range fresh {
		if order.ID == s.inFlight {
			continue
		}
		if _, forced := headIDs[order.ID]; forced {
			continue
		}
		next = append(next, queued{order: order})
	}
	s.queue = next
	s.setQueueGaugeLocked()
	length := len(s.queue)
	s.mu.Unlock()

	s.logger.Info("queue refreshed",
		logging.Int("queue_length", length),
		logging.String(logging.FieldEventType, "queue_refreshed"),
	)
	return length, nil
}

// AddOrderToQueue persists the order, then appends it unless it is already
// queued or in flight. It reports whether the order was appended.
func (s *Scheduler) AddOrderToQueue(ctx context.Context, order orders.Order) (bool, error) {
	order.ID = strings.TrimSpace(order.ID)
	if order.Status == "" {
		order.Status = orders.StatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now().UTC()
	}
	if err := s.store.SaveOrder(ctx, order); err != nil {
		return false, err
	}
	persisted, err := s.store.GetOrder(ctx, order.ID)
	if err != nil {
		return false, err
	}
	if persisted.Status.IsTerminal() || persisted.Status == orders.StatusProcessing {
		s.logger.Info("order not queued",
			logging.String(logging.FieldOrderID, order.ID),
			logging.String("status", string(persisted.Status)),
			logging.String(logging.FieldEventType, "order_not_queued"),
		)
		return false, nil
	}

	s.mu.Lock()
	if s.inFlight == order.ID || s.indexLocked(order.ID) >= 0 {
		s.mu.Unlock()
		return false, nil
	}
	s.queue = append(s.queue, queued{order: *persisted})
	s.setQueueGaugeLocked()
	length := len(s.queue)
	s.mu.Unlock()

	s.logger.Info("order queued",
		logging.String(logging.FieldOrderID, order.ID),
		logging.Int("queue_length", length),
		logging.String(logging.FieldEventType, "order_queued"),
	)
	s.Wake()
	return true, nil
}

// ForceProcessOrder moves an order to the head of the queue, loading it from
// persistence when it is not queued (terminal orders included).
func (s *Scheduler) ForceProcessOrder(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return services.Wrap(services.ErrValidation, "scheduler", "force", "order id is required", nil)
	}

	s.mu.Lock()
	if s.inFlight == id {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyActive, id)
	}
	if idx := s.indexLocked(id); idx >= 0 {
		entry := s.queue[idx]
		entry.forced = true
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.queue = append([]queued{entry}, s.queue...)
		idle := s.inFlight == ""
		s.mu.Unlock()
		s.logForced(id, idle)
		if idle {
			s.Wake()
		}
		return nil
	}
	s.mu.Unlock()

	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.inFlight == id {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyActive, id)
	}
	if idx := s.indexLocked(id); idx >= 0 {
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	}
	s.queue = append([]queued{{order: *order, forced: true}}, s.queue...)
	s.setQueueGaugeLocked()
	idle := s.inFlight == ""
	s.mu.Unlock()

	s.logForced(id, idle)
	if idle {
		s.Wake()
	}
	return nil
}

func (s *Scheduler) logForced(id string, idle bool) {
	s.logger.Info("order forced to queue head",
		logging.String(logging.FieldOrderID, id),
		logging.Bool("immediate", idle),
		logging.String(logging.FieldEventType, "order_forced"),
	)
}

func (s *Scheduler) indexLocked(id string) int {
	for i, entry := range s.queue {
		if entry.order.ID == id {
			return i
		}
	}
	return -1
}

// requeue appends an order at the tail unless it is already queued.
func (s *Scheduler) requeue(order orders.Order) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(order.ID) < 0 {
		s.queue = append(s.queue, queued{order: order})
	}
	s.setQueueGaugeLocked()
	return len(s.queue)
}
