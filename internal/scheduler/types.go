package scheduler

import (
	"context"
	"time"

	"usbforge/internal/copier"
	"usbforge/internal/orders"
	"usbforge/internal/report"
	"usbforge/internal/usb"
)

// Progress is the copy engine's live job snapshot.
type Progress = copier.Progress

// Persistence is the order store the scheduler reads and updates.
type Persistence interface {
	PendingOrders(ctx context.Context) ([]orders.Order, error)
	List(ctx context.Context, statuses ...orders.Status) ([]orders.Order, error)
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	SaveOrder(ctx context.Context, order orders.Order) error
	UpdateOrderStatus(ctx context.Context, id string, status orders.Status, detail string) error
	ReopenOrder(ctx context.Context, id string) error
	Stats(ctx context.Context) (orders.Stats, error)
}

// FailureRecorder is implemented by persistence layers that want the
// classified failure cause instead of a plain error message.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, id string, cause error) error
}

// DeviceManager allocates and prepares removable devices.
type DeviceManager interface {
	FindAvailable(ctx context.Context) (usb.Device, bool)
	Format(ctx context.Context, dev usb.Device, label string) (usb.Device, error)
	Release(dev usb.Device)
	Status(ctx context.Context) usb.Status
}

// CopyRunner executes copy plans.
type CopyRunner interface {
	Run(ctx context.Context, plan copier.Plan) (copier.Result, error)
	Progress(jobID string) (copier.Progress, bool)
	Cancel(jobID string) bool
}

// ReportWriter persists the daily health report.
type ReportWriter interface {
	Write(r report.Report) (string, error)
}

// Options configures scheduler cadence and thresholds.
type Options struct {
	TickInterval        time.Duration
	RefreshInterval     time.Duration
	HealthInterval      time.Duration
	OrderTimeout        time.Duration
	QueueAlertThreshold int
}

// QueueEntry summarises one queued order.
type QueueEntry struct {
	OrderID      string             `json:"order_id"`
	OrderNumber  string             `json:"order_number,omitempty"`
	CustomerName string             `json:"customer_name,omitempty"`
	ContentType  orders.ContentType `json:"content_type"`
	Status       orders.Status      `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	Forced       bool               `json:"forced,omitempty"`
}

// ActiveJob describes the order being fulfilled.
type ActiveJob struct {
	OrderID     string           `json:"order_id"`
	OrderNumber string           `json:"order_number,omitempty"`
	Device      string           `json:"device,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	Progress    *copier.Progress `json:"progress,omitempty"`
}

// Status is the externally visible scheduler state.
type Status struct {
	Processing  bool         `json:"processing"`
	Paused      bool         `json:"paused"`
	Length      int          `json:"length"`
	HeadOrderID string       `json:"head_order_id,omitempty"`
	Queue       []QueueEntry `json:"queue"`
	Active      *ActiveJob   `json:"active,omitempty"`
}

// HealthReport is the outcome of one health check.
type HealthReport struct {
	CheckedAt   time.Time  `json:"checked_at"`
	Devices     usb.Status `json:"devices"`
	QueueLength int        `json:"queue_length"`
	Alerts      []string   `json:"alerts,omitempty"`
	ReportPath  string     `json:"report_path,omitempty"`
}
