package testsupport

import (
	"context"
	"testing"
	"time"

	"usbforge/internal/config"
	"usbforge/internal/orders"
)

// MustOpenStore opens an orders.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *orders.Store {
	t.Helper()

	store, err := orders.Open(cfg)
	if err != nil {
		t.Fatalf("orders.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewOrder builds a valid music order for tests. Mutators adjust fields
// before the order is returned.
func NewOrder(id string, created time.Time, mutate ...func(*orders.Order)) orders.Order {
	order := orders.Order{
		ID:            id,
		OrderNumber:   "N-" + id,
		CustomerName:  "Test Customer",
		CustomerPhone: "+10000000000",
		ContentType:   orders.ContentMusic,
		Capacity:      "16GB",
		Genres:        []string{"Salsa"},
		Status:        orders.StatusPending,
		PriceCents:    2500,
		CreatedAt:     created,
	}
	for _, fn := range mutate {
		fn(&order)
	}
	return order
}

// SaveOrder persists an order and fails the test on error.
func SaveOrder(t testing.TB, store *orders.Store, order orders.Order) orders.Order {
	t.Helper()

	if err := store.SaveOrder(context.Background(), order); err != nil {
		t.Fatalf("store.SaveOrder: %v", err)
	}
	return order
}
