package ipc

import (
	"usbforge/internal/daemon"
	"usbforge/internal/orders"
	"usbforge/internal/scheduler"
	"usbforge/internal/usb"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse carries combined daemon, queue, order, and device state.
type StatusResponse struct {
	daemon.Status
}

// QueueStatusRequest fetches the scheduler snapshot.
type QueueStatusRequest struct{}

// QueueStatusResponse contains the queue snapshot.
type QueueStatusResponse struct {
	Queue scheduler.Status `json:"queue"`
}

// CopyProgressRequest identifies the order whose copy job to inspect.
type CopyProgressRequest struct {
	OrderID string `json:"order_id"`
}

// CopyProgressResponse reports live copy progress. Found is false when no
// job is running for the order.
type CopyProgressResponse struct {
	Found    bool               `json:"found"`
	Progress scheduler.Progress `json:"progress"`
}

// CancelCopyRequest identifies the copy job to abort.
type CancelCopyRequest struct {
	OrderID string `json:"order_id"`
}

// CancelCopyResponse reports whether a running job was signalled.
type CancelCopyResponse struct {
	Cancelled bool `json:"cancelled"`
}

// PauseRequest stops new dispatches.
type PauseRequest struct{}

// ResumeRequest re-enables dispatch.
type ResumeRequest struct{}

// DispatchStateResponse reports the dispatch state after pause or resume.
type DispatchStateResponse struct {
	Paused bool `json:"paused"`
}

// ForceProcessRequest moves an order to the head of the queue.
type ForceProcessRequest struct {
	OrderID string `json:"order_id"`
}

// ForceProcessResponse reports the override outcome.
type ForceProcessResponse struct {
	Queued  bool   `json:"queued"`
	Message string `json:"message"`
}

// AddOrderRequest submits an order for fulfilment.
type AddOrderRequest struct {
	Order orders.Order `json:"order"`
}

// AddOrderResponse reports whether the order joined the queue.
type AddOrderResponse struct {
	OrderID string `json:"order_id"`
	Added   bool   `json:"added"`
}

// DevicesRequest lists connected devices.
type DevicesRequest struct{}

// DevicesResponse contains device state.
type DevicesResponse struct {
	Devices usb.Status `json:"devices"`
}

// OrderListRequest filters persisted orders by status.
type OrderListRequest struct {
	Statuses []string `json:"statuses"`
}

// OrderListResponse contains persisted orders.
type OrderListResponse struct {
	Orders []orders.Order `json:"orders"`
}

// RefreshRequest reconciles the queue with persistence.
type RefreshRequest struct{}

// RefreshResponse reports the queue length after reconciliation.
type RefreshResponse struct {
	Length int `json:"length"`
}

// HealthRequest runs a health check.
type HealthRequest struct{}

// HealthResponse contains the health check outcome.
type HealthResponse struct {
	Report scheduler.HealthReport `json:"report"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the notification result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
