package daemon_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"usbforge/internal/config"
	"usbforge/internal/daemon"
	"usbforge/internal/logging"
	"usbforge/internal/orders"
	"usbforge/internal/testsupport"
)

func buildDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	d, err := daemon.Build(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.Build: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Metrics.Enabled = true
	d := buildDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.MetricsAddr == "" {
		t.Fatal("expected metrics endpoint address")
	}
	if status.LockPath != cfg.LockPath() || status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("unexpected paths %+v", status)
	}

	resp, err := http.Get("http://" + status.MetricsAddr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + status.MetricsAddr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "usbforge_queue_length") {
		t.Fatal("expected scheduler metrics in /metrics output")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Metrics.Enabled = false
	first := buildDaemon(t, cfg)
	second := buildDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
	second.Stop()
}

func TestDaemonAddOrderAndRefresh(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := buildDaemon(t, cfg)
	ctx := context.Background()

	added, err := d.AddOrder(ctx, testsupport.NewOrder("ord-1", time.Now()))
	if err != nil || !added {
		t.Fatalf("AddOrder: added=%v err=%v", added, err)
	}
	list, err := d.Orders(ctx, []orders.Status{orders.StatusPending})
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(list) != 1 || list[0].ID != "ord-1" {
		t.Fatalf("unexpected orders %+v", list)
	}
	n, err := d.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != 1 || d.QueueStatus().HeadOrderID != "ord-1" {
		t.Fatalf("expected ord-1 queued, got %d %+v", n, d.QueueStatus())
	}

	if err := d.ForceProcess(ctx, "missing"); err == nil {
		t.Fatal("expected error forcing unknown order")
	}
	if d.CancelCopy("ord-1") {
		t.Fatal("no copy job should be running")
	}
}

func TestDaemonTestNotification(t *testing.T) {
	d := buildDaemon(t, testsupport.NewConfig(t))
	sent, message, err := d.TestNotification(context.Background())
	if err != nil || sent || message != "ntfy topic not configured" {
		t.Fatalf("unexpected result sent=%v message=%q err=%v", sent, message, err)
	}

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d = buildDaemon(t, testsupport.NewConfig(t, testsupport.WithNtfyTopic(srv.URL)))
	sent, _, err = d.TestNotification(context.Background())
	if err != nil || !sent {
		t.Fatalf("expected notification sent, got sent=%v err=%v", sent, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 ntfy request, got %d", hits.Load())
	}
}

func TestDaemonMirrorsRemoteOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/pending" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"orders": []map[string]any{{
					"order_id":     "remote-1",
					"order_number": "R-1",
					"product_type": "music",
					"genres":       []string{"Salsa"},
					"price":        25.5,
					"created_at":   "2026-04-01T08:00:00Z",
				}},
				"pagination": map[string]any{"page": 1, "per_page": 50, "total": 1, "total_pages": 1},
			},
		})
	}))
	defer srv.Close()

	d := buildDaemon(t, testsupport.NewConfig(t, testsupport.WithOrderAPI(srv.URL, "key")))
	ctx := context.Background()

	if got := d.Status(ctx).OrderAPI; got != srv.URL {
		t.Fatalf("expected order api %q, got %q", srv.URL, got)
	}
	n, err := d.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != 1 || d.QueueStatus().HeadOrderID != "remote-1" {
		t.Fatalf("expected remote order queued, got %d %+v", n, d.QueueStatus())
	}
	list, err := d.Orders(ctx, nil)
	if err != nil || len(list) != 1 || list[0].PriceCents != 2550 {
		t.Fatalf("expected mirrored order in local store, got %+v err=%v", list, err)
	}
}
