package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"usbforge/internal/services"
)

// SaveOrder inserts a new order or refreshes the customer-facing fields of an
// existing one. The status of an existing order is never changed here; use
// UpdateOrderStatus so the state machine is enforced.
func (s *Store) SaveOrder(ctx context.Context, order Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	if order.ContentType == "" {
		order.ContentType = ContentMixed
	}
	if order.Status == "" {
		order.Status = StatusPending
	}
	now := s.now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}

	_, err := s.execWithRetry(ctx,
		`INSERT INTO orders (`+orderColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             order_number = excluded.order_number,
             customer_name = excluded.customer_name,
             customer_phone = excluded.customer_phone,
             content_type = excluded.content_type,
             capacity = excluded.capacity,
             genres_json = excluded.genres_json,
             artists_json = excluded.artists_json,
             videos_json = excluded.videos_json,
             movies_json = excluded.movies_json,
             series_json = excluded.series_json,
             price_cents = excluded.price_cents,
             notes = excluded.notes,
             updated_at = excluded.updated_at`,
		order.ID,
		nullableString(order.OrderNumber),
		nullableString(order.CustomerName),
		nullableString(order.CustomerPhone),
		string(order.ContentType),
		nullableString(order.Capacity),
		encodeList(order.Genres),
		encodeList(order.Artists),
		encodeList(order.Videos),
		encodeList(order.Movies),
		encodeList(order.Series),
		string(order.Status),
		order.PriceCents,
		nullableString(order.Notes),
		nullableString(order.ErrorMessage),
		formatTime(order.CreatedAt),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	return nil
}

// GetOrder fetches a single order.
func (s *Store) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "orders", "get", fmt.Sprintf("order %s not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return order, nil
}

// PendingOrders returns the orders waiting for dispatch (pending and
// awaiting_usb), oldest first.
func (s *Store) PendingOrders(ctx context.Context) ([]Order, error) {
	return s.List(ctx, StatusPending, StatusAwaitingUSB)
}

// List returns orders filtered by status, oldest first. No statuses returns all orders.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return out, nil
}

// UpdateOrderStatus moves an order along the state machine. Detail is stored
// as the error message for error transitions and cleared otherwise.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status Status, detail string) error {
	return s.transition(ctx, id, status, detail, false)
}

// ReopenOrder moves a completed or failed order back into processing. Pending
// and deferred orders follow the regular transition.
func (s *Store) ReopenOrder(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusProcessing, "", true)
}

func (s *Store) transition(ctx context.Context, id string, status Status, detail string, forced bool) error {
	ctx = ensureContext(ctx)
	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(current.Status, status, forced) {
		return fmt.Errorf("%w: order %s %s -> %s", ErrInvalidTransition, id, current.Status, status)
	}

	var message any
	if status == StatusError {
		message = nullableString(strings.TrimSpace(detail))
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE orders SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), message, formatTime(s.now()), id, string(current.Status),
	)
	if err != nil {
		return fmt.Errorf("update order %s status: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

// Stats aggregates order counts and revenue. Revenue counts completed orders;
// the pipeline value counts orders not yet terminal.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{ByStatus: make(map[Status]int, len(allStatuses))}
	for _, status := range allStatuses {
		stats.ByStatus[status] = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(price_cents), 0) FROM orders GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("order stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
			cents  int64
		)
		if err := rows.Scan(&status, &count, &cents); err != nil {
			return Stats{}, fmt.Errorf("scan order stats: %w", err)
		}
		st := Status(status)
		stats.ByStatus[st] = count
		stats.Total += count
		switch {
		case st == StatusCompleted:
			stats.RevenueCents += cents
		case !st.IsTerminal():
			stats.PipelineCents += cents
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate order stats: %w", err)
	}

	startOfDay := s.now().UTC().Truncate(24 * time.Hour)
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE status = ? AND updated_at >= ?`,
		string(StatusCompleted), formatTime(startOfDay),
	).Scan(&stats.CompletedToday); err != nil {
		return Stats{}, fmt.Errorf("completed today: %w", err)
	}
	return stats, nil
}
