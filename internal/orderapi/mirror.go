package orderapi

import (
	"context"
	"errors"
	"log/slog"

	"usbforge/internal/logging"
	"usbforge/internal/orders"
	"usbforge/internal/services"
)

// Remote is the subset of the backend the mirror drives.
type Remote interface {
	AllPendingOrders(ctx context.Context) ([]orders.Order, error)
	StartBurning(ctx context.Context, orderID string) error
	CompleteBurning(ctx context.Context, orderID, notes string) error
	ReportError(ctx context.Context, orderID, message, code string, retryable bool) error
}

// Mirror is a persistence layer backed by the local store that keeps the
// remote backend in step.
type Mirror struct {
	local  *orders.Store
	remote Remote
	logger *slog.Logger
}

// NewMirror wraps the local store with remote synchronisation.
func NewMirror(local *orders.Store, remote Remote, logger *slog.Logger) *Mirror {
	return &Mirror{
		local:  local,
		remote: remote,
		logger: logging.NewComponentLogger(logger, "order-mirror"),
	}
}

// PendingOrders imports the remote pending listing, then returns the local
// waiting orders. An unreachable backend degrades to the local view.
func (m *Mirror) PendingOrders(ctx context.Context) ([]orders.Order, error) {
	remote, err := m.remote.AllPendingOrders(ctx)
	if err != nil {
		m.warnRemote("pull pending orders", "", err)
	}
	imported := 0
	for _, order := range remote {
		if existing, err := m.local.GetOrder(ctx, order.ID); err == nil {
			if existing.Status != orders.StatusPending {
				continue
			}
		} else if !errors.Is(err, services.ErrNotFound) {
			return nil, err
		}
		if err := m.local.SaveOrder(ctx, order); err != nil {
			logging.WarnWithContext(m.logger, "remote order rejected", "remote_order_invalid",
				logging.String(logging.FieldOrderID, order.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "order not queued"),
				logging.String(logging.FieldErrorHint, "fix the order customization in the backend"),
			)
			continue
		}
		imported++
	}
	if imported > 0 {
		m.logger.Info("remote orders imported",
			logging.Int("count", imported),
			logging.String(logging.FieldEventType, "remote_orders_imported"),
		)
	}
	return m.local.PendingOrders(ctx)
}

// GetOrder reads the local copy.
func (m *Mirror) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return m.local.GetOrder(ctx, id)
}

// List reads local orders by status.
func (m *Mirror) List(ctx context.Context, statuses ...orders.Status) ([]orders.Order, error) {
	return m.local.List(ctx, statuses...)
}

// SaveOrder persists locally only; orders originate in the backend.
func (m *Mirror) SaveOrder(ctx context.Context, order orders.Order) error {
	return m.local.SaveOrder(ctx, order)
}

// Stats aggregates the local store.
func (m *Mirror) Stats(ctx context.Context) (orders.Stats, error) {
	return m.local.Stats(ctx)
}

// UpdateOrderStatus applies the transition locally, then mirrors it. The
// backend hears about processing once, when the order leaves pending; a
// deferred order resuming from awaiting_usb is already burning remotely.
func (m *Mirror) UpdateOrderStatus(ctx context.Context, id string, status orders.Status, detail string) error {
	var prior orders.Status
	if status == orders.StatusProcessing {
		current, err := m.local.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		prior = current.Status
	}
	if err := m.local.UpdateOrderStatus(ctx, id, status, detail); err != nil {
		return err
	}
	var err error
	switch status {
	case orders.StatusProcessing:
		if prior != orders.StatusPending {
			return nil
		}
		err = m.remote.StartBurning(ctx, id)
	case orders.StatusCompleted:
		err = m.remote.CompleteBurning(ctx, id, detail)
	case orders.StatusError:
		err = m.remote.ReportError(ctx, id, detail, "", true)
	default:
		return nil
	}
	if err != nil {
		m.warnRemote("mirror status "+string(status), id, err)
	}
	return nil
}

// ReopenOrder forces a terminal order back into processing and tells the
// backend burning restarted.
func (m *Mirror) ReopenOrder(ctx context.Context, id string) error {
	if err := m.local.ReopenOrder(ctx, id); err != nil {
		return err
	}
	if err := m.remote.StartBurning(ctx, id); err != nil {
		m.warnRemote("mirror reopen", id, err)
	}
	return nil
}

// RecordFailure marks the order failed and reports the classified cause.
func (m *Mirror) RecordFailure(ctx context.Context, id string, cause error) error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	if err := m.local.UpdateOrderStatus(ctx, id, orders.StatusError, message); err != nil {
		return err
	}
	if err := m.remote.ReportError(ctx, id, message, services.ErrorCode(cause), services.Retryable(cause)); err != nil {
		m.warnRemote("report error", id, err)
	}
	return nil
}

func (m *Mirror) warnRemote(op, orderID string, err error) {
	attrs := []logging.Attr{
		logging.String("operation", op),
		logging.Error(err),
		logging.Bool("retryable", IsRetryable(err)),
		logging.String(logging.FieldImpact, "backend out of sync until the next refresh"),
		logging.String(logging.FieldErrorHint, "check order_api.base_url and connectivity"),
	}
	if orderID != "" {
		attrs = append(attrs, logging.String(logging.FieldOrderID, orderID))
	}
	logging.WarnWithContext(m.logger, "order backend call failed", "order_api_failed", attrs...)
}
