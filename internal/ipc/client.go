package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"usbforge/internal/orders"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// QueueStatus retrieves the scheduler snapshot.
func (c *Client) QueueStatus() (*QueueStatusResponse, error) {
	return call[QueueStatusResponse](c, "QueueStatus", QueueStatusRequest{})
}

// CopyProgress returns live copy progress for an order.
func (c *Client) CopyProgress(orderID string) (*CopyProgressResponse, error) {
	return call[CopyProgressResponse](c, "CopyProgress", CopyProgressRequest{OrderID: orderID})
}

// CancelCopy aborts the running copy for an order.
func (c *Client) CancelCopy(orderID string) (*CancelCopyResponse, error) {
	return call[CancelCopyResponse](c, "CancelCopy", CancelCopyRequest{OrderID: orderID})
}

// Pause stops new dispatches.
func (c *Client) Pause() (*DispatchStateResponse, error) {
	return call[DispatchStateResponse](c, "Pause", PauseRequest{})
}

// Resume re-enables dispatch.
func (c *Client) Resume() (*DispatchStateResponse, error) {
	return call[DispatchStateResponse](c, "Resume", ResumeRequest{})
}

// ForceProcess moves an order to the head of the queue.
func (c *Client) ForceProcess(orderID string) (*ForceProcessResponse, error) {
	return call[ForceProcessResponse](c, "ForceProcess", ForceProcessRequest{OrderID: orderID})
}

// AddOrder submits an order for fulfilment.
func (c *Client) AddOrder(order orders.Order) (*AddOrderResponse, error) {
	return call[AddOrderResponse](c, "AddOrder", AddOrderRequest{Order: order})
}

// Devices lists connected devices.
func (c *Client) Devices() (*DevicesResponse, error) {
	return call[DevicesResponse](c, "Devices", DevicesRequest{})
}

// OrderList returns persisted orders optionally filtered by statuses.
func (c *Client) OrderList(statuses []string) (*OrderListResponse, error) {
	return call[OrderListResponse](c, "OrderList", OrderListRequest{Statuses: statuses})
}

// Refresh reconciles the queue with persistence.
func (c *Client) Refresh() (*RefreshResponse, error) {
	return call[RefreshResponse](c, "Refresh", RefreshRequest{})
}

// Health runs a health check and writes the daily report.
func (c *Client) Health() (*HealthResponse, error) {
	return call[HealthResponse](c, "Health", HealthRequest{})
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
