package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"usbforge/internal/daemon"
	"usbforge/internal/logging"
	"usbforge/internal/orders"
	"usbforge/internal/services"
)

// ServiceName is the JSON-RPC service prefix.
const ServiceName = "UsbForge"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the server is closed.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) QueueStatus(_ QueueStatusRequest, resp *QueueStatusResponse) error {
	resp.Queue = s.daemon.QueueStatus()
	return nil
}

func (s *service) CopyProgress(req CopyProgressRequest, resp *CopyProgressResponse) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return errors.New("order id is required")
	}
	resp.Progress, resp.Found = s.daemon.CopyProgress(req.OrderID)
	return nil
}

func (s *service) CancelCopy(req CancelCopyRequest, resp *CancelCopyResponse) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return errors.New("order id is required")
	}
	resp.Cancelled = s.daemon.CancelCopy(req.OrderID)
	s.logger.Info("copy cancel via IPC",
		logging.String(logging.FieldOrderID, req.OrderID),
		logging.Bool("cancelled", resp.Cancelled),
		logging.String(logging.FieldEventType, "ipc_cancel_copy"),
	)
	return nil
}

func (s *service) Pause(_ PauseRequest, resp *DispatchStateResponse) error {
	s.daemon.Pause()
	resp.Paused = s.daemon.QueueStatus().Paused
	return nil
}

func (s *service) Resume(_ ResumeRequest, resp *DispatchStateResponse) error {
	s.daemon.Resume()
	resp.Paused = s.daemon.QueueStatus().Paused
	return nil
}

func (s *service) ForceProcess(req ForceProcessRequest, resp *ForceProcessResponse) error {
	if err := s.daemon.ForceProcess(s.ctx, req.OrderID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			resp.Message = fmt.Sprintf("order %s not found", strings.TrimSpace(req.OrderID))
			return nil
		}
		return err
	}
	resp.Queued = true
	resp.Message = "order moved to the head of the queue"
	s.logger.Info("order forced via IPC",
		logging.String(logging.FieldOrderID, req.OrderID),
		logging.String(logging.FieldEventType, "ipc_force_process"),
	)
	return nil
}

func (s *service) AddOrder(req AddOrderRequest, resp *AddOrderResponse) error {
	added, err := s.daemon.AddOrder(s.ctx, req.Order)
	if err != nil {
		return err
	}
	resp.OrderID = strings.TrimSpace(req.Order.ID)
	resp.Added = added
	return nil
}

func (s *service) Devices(_ DevicesRequest, resp *DevicesResponse) error {
	resp.Devices = s.daemon.Devices(s.ctx)
	return nil
}

func (s *service) OrderList(req OrderListRequest, resp *OrderListResponse) error {
	statuses := make([]orders.Status, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		status, ok := orders.ParseStatus(value)
		if !ok {
			return fmt.Errorf("unknown order status %q", value)
		}
		statuses = append(statuses, status)
	}
	list, err := s.daemon.Orders(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Orders = list
	return nil
}

func (s *service) Refresh(_ RefreshRequest, resp *RefreshResponse) error {
	length, err := s.daemon.Refresh(s.ctx)
	if err != nil {
		return err
	}
	resp.Length = length
	return nil
}

func (s *service) Health(_ HealthRequest, resp *HealthResponse) error {
	resp.Report = s.daemon.Health(s.ctx)
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
