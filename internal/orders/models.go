package orders

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"usbforge/internal/services"
)

// Status represents the fulfilment lifecycle of an order.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusAwaitingUSB Status = "awaiting_usb"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusAwaitingUSB,
	StatusCompleted,
	StatusError,
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	candidate := Status(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(allStatuses, candidate) {
		return candidate, true
	}
	return "", false
}

// IsTerminal reports whether the status ends the order lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// IsWaiting reports whether the order belongs in the dispatch queue.
func (s Status) IsWaiting() bool {
	return s == StatusPending || s == StatusAwaitingUSB
}

type statusTransition struct {
	from Status
	to   Status
}

var allowedTransitions = map[statusTransition]struct{}{
	{from: StatusPending, to: StatusProcessing}:     {},
	{from: StatusProcessing, to: StatusCompleted}:   {},
	{from: StatusProcessing, to: StatusError}:       {},
	{from: StatusProcessing, to: StatusAwaitingUSB}: {},
	{from: StatusAwaitingUSB, to: StatusProcessing}: {},
}

// CanTransition reports whether an order may move from one status to another.
// Forced transitions additionally allow terminal orders back into processing.
func CanTransition(from, to Status, forced bool) bool {
	if _, ok := allowedTransitions[statusTransition{from: from, to: to}]; ok {
		return true
	}
	return forced && from.IsTerminal() && to == StatusProcessing
}

// ContentType names the dominant content category of an order.
type ContentType string

const (
	ContentMusic  ContentType = "music"
	ContentVideos ContentType = "videos"
	ContentMovies ContentType = "movies"
	ContentSeries ContentType = "series"
	ContentMixed  ContentType = "mixed"
)

// ParseContentType converts user input into a ContentType.
func ParseContentType(value string) (ContentType, bool) {
	switch ContentType(strings.ToLower(strings.TrimSpace(value))) {
	case ContentMusic:
		return ContentMusic, true
	case ContentVideos:
		return ContentVideos, true
	case ContentMovies:
		return ContentMovies, true
	case ContentSeries:
		return ContentSeries, true
	case ContentMixed, "":
		return ContentMixed, true
	}
	return "", false
}

// Order is a request for a preloaded USB device.
type Order struct {
	ID            string      `json:"id"`
	OrderNumber   string      `json:"order_number,omitempty"`
	CustomerName  string      `json:"customer_name,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	ContentType   ContentType `json:"content_type"`
	Capacity      string      `json:"capacity,omitempty"`
	Genres        []string    `json:"genres,omitempty"`
	Artists       []string    `json:"artists,omitempty"`
	Videos        []string    `json:"videos,omitempty"`
	Movies        []string    `json:"movies,omitempty"`
	Series        []string    `json:"series,omitempty"`
	Status        Status      `json:"status"`
	PriceCents    int64       `json:"price_cents,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// DisplayNumber returns the customer-facing order number, falling back to the ID.
func (o Order) DisplayNumber() string {
	if strings.TrimSpace(o.OrderNumber) != "" {
		return o.OrderNumber
	}
	return o.ID
}

// FacetCount returns the number of customization entries across all facets.
func (o Order) FacetCount() int {
	return len(o.Genres) + len(o.Artists) + len(o.Videos) + len(o.Movies) + len(o.Series)
}

// Validate checks the fields required before an order may be queued.
func (o Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return services.Wrap(services.ErrValidation, "orders", "validate", "order id is required", nil)
	}
	if _, ok := ParseContentType(string(o.ContentType)); !ok {
		return services.Wrap(services.ErrValidation, "orders", "validate",
			fmt.Sprintf("order %s has unknown content type %q", o.ID, o.ContentType), nil)
	}
	if o.Status != "" {
		if _, ok := ParseStatus(string(o.Status)); !ok {
			return services.Wrap(services.ErrValidation, "orders", "validate",
				fmt.Sprintf("order %s has unknown status %q", o.ID, o.Status), nil)
		}
	}
	if o.FacetCount() == 0 {
		return services.Wrap(services.ErrValidation, "orders", "validate",
			fmt.Sprintf("order %s has no content selections", o.ID), nil)
	}
	if o.PriceCents < 0 {
		return services.Wrap(services.ErrValidation, "orders", "validate",
			fmt.Sprintf("order %s has negative price", o.ID), nil)
	}
	return nil
}

// Stats aggregates order counts and revenue for reports.
type Stats struct {
	ByStatus       map[Status]int `json:"by_status"`
	Total          int            `json:"total"`
	RevenueCents   int64          `json:"revenue_cents"`
	PipelineCents  int64          `json:"pipeline_cents"`
	CompletedToday int            `json:"completed_today"`
}
