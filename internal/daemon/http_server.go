package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"usbforge/internal/logging"
)

type httpServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newHTTPServer(bind string, d *Daemon, logger *slog.Logger) *httpServer {
	srv := &httpServer{
		bind:   strings.TrimSpace(bind),
		logger: logging.NewComponentLogger(logger, "http"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *httpServer) routes() http.Handler {
	router := chi.NewRouter()
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Get("/healthz", s.handleHealth)
	router.Get("/status", s.handleStatus)
	return router
}

func (s *httpServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.logger.Info("metrics endpoint listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "metrics_listening"),
	)
	return nil
}

func (s *httpServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *httpServer) stop() {
	if s == nil {
		return
	}
	s.shutdown()
}

func (s *httpServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status      string `json:"status"`
	Running     bool   `json:"running"`
	Paused      bool   `json:"paused"`
	QueueLength int    `json:"queue_length"`
	Processing  bool   `json:"processing"`
}

func (s *httpServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	queue := s.daemon.QueueStatus()
	resp := healthResponse{
		Status:      "ok",
		Running:     s.daemon.Running(),
		Paused:      queue.Paused,
		QueueLength: queue.Length,
		Processing:  queue.Processing,
	}
	code := http.StatusOK
	if !resp.Running {
		resp.Status = "stopped"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *httpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *httpServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}
