package orderapi

import (
	"math"
	"strings"
	"time"

	"usbforge/internal/orders"
)

// remoteOrder is the backend's order representation.
type remoteOrder struct {
	OrderID       string   `json:"order_id"`
	OrderNumber   string   `json:"order_number"`
	CustomerName  string   `json:"customer_name"`
	CustomerPhone string   `json:"customer_phone"`
	ProductType   string   `json:"product_type"`
	Capacity      string   `json:"capacity"`
	Genres        []string `json:"genres"`
	Artists       []string `json:"artists"`
	Videos        []string `json:"videos"`
	Movies        []string `json:"movies"`
	Series        []string `json:"series"`
	Status        string   `json:"status"`
	Price         float64  `json:"price"`
	Notes         string   `json:"notes"`
	CreatedAt     string   `json:"created_at"`
}

var remoteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// toOrder converts a remote order into a pending local order. Orders without
// an identifier are rejected; unknown product types fall back to mixed.
func (r remoteOrder) toOrder(now time.Time) (orders.Order, bool) {
	id := strings.TrimSpace(r.OrderID)
	if id == "" {
		return orders.Order{}, false
	}
	contentType, ok := orders.ParseContentType(r.ProductType)
	if !ok {
		contentType = orders.ContentMixed
	}
	created := parseRemoteTime(r.CreatedAt)
	if created.IsZero() {
		created = now
	}
	return orders.Order{
		ID:            id,
		OrderNumber:   strings.TrimSpace(r.OrderNumber),
		CustomerName:  strings.TrimSpace(r.CustomerName),
		CustomerPhone: strings.TrimSpace(r.CustomerPhone),
		ContentType:   contentType,
		Capacity:      strings.TrimSpace(r.Capacity),
		Genres:        cleanList(r.Genres),
		Artists:       cleanList(r.Artists),
		Videos:        cleanList(r.Videos),
		Movies:        cleanList(r.Movies),
		Series:        cleanList(r.Series),
		Status:        orders.StatusPending,
		PriceCents:    int64(math.Round(r.Price * 100)),
		Notes:         strings.TrimSpace(r.Notes),
		CreatedAt:     created,
		UpdatedAt:     now,
	}, true
}

func parseRemoteTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range remoteTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
