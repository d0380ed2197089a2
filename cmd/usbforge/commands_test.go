package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"usbforge/internal/daemon"
	"usbforge/internal/orders"
	"usbforge/internal/scheduler"
	"usbforge/internal/usb"
)

func TestStatusCommandRendersDaemonState(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Daemon:")
	requireContains(t, out, "stopped")
	requireContains(t, out, "0 waiting")
	requireContains(t, out, "local store only")

	out, err = env.run(t, "--json", "status")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status daemon.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if status.SocketPath != env.socketPath {
		t.Fatalf("socket path = %q, want %q", status.SocketPath, env.socketPath)
	}
}

func TestQueueAddListForce(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "pause"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	out, err := env.run(t, "queue", "add", "--id", "ord-1", "--number", "A-100",
		"--customer", "Rosa", "--type", "music", "--genre", "Salsa", "--genre", "Bachata", "--price", "25.50")
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	requireContains(t, out, "Order ord-1 queued")

	if _, err := env.run(t, "queue", "add", "--id", "ord-2", "--type", "movies", "--movie", "Matrix"); err != nil {
		t.Fatalf("queue add ord-2: %v", err)
	}

	out, err = env.run(t, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "ord-1")
	requireContains(t, out, "A-100")
	requireContains(t, out, "Rosa")

	out, err = env.run(t, "queue", "force", "ord-2")
	if err != nil {
		t.Fatalf("queue force: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("expected force message")
	}

	out, err = env.run(t, "--json", "queue", "list")
	if err != nil {
		t.Fatalf("queue list --json: %v", err)
	}
	var status scheduler.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if len(status.Queue) != 2 || status.Queue[0].OrderID != "ord-2" || !status.Queue[0].Forced {
		t.Fatalf("forced order should lead the queue: %+v", status.Queue)
	}

	out, err = env.run(t, "orders", "--status", "pending")
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	requireContains(t, out, "$25.50")
}

func TestQueueAddRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "queue", "add", "--type", "vinyl", "--genre", "Salsa"); err == nil {
		t.Fatal("expected unknown content type error")
	}
	if _, err := env.run(t, "queue", "add", "--type", "music"); err == nil {
		t.Fatal("expected error for order without selections")
	}
	if _, err := env.run(t, "queue", "add", "--type", "music", "--genre", "Salsa", "--price", "-1"); err == nil {
		t.Fatal("expected negative price error")
	}
}

func TestQueueForceUnknownOrder(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "queue", "force", "missing")
	if err == nil {
		t.Fatal("expected error for unknown order")
	}
	requireContains(t, out, "not found")
}

func TestQueueAddGeneratesID(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "--json", "queue", "add", "--type", "series", "--series", "Friends")
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	var resp struct {
		OrderID string `json:"order_id"`
		Added   bool   `json:"added"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.OrderID) != 36 || !resp.Added {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestControlCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "pause")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	requireContains(t, out, "Dispatch paused")

	out, err = env.run(t, "resume")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	requireContains(t, out, "Dispatch resumed")

	out, err = env.run(t, "refresh")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	requireContains(t, out, "Queue refreshed: 0 waiting")

	out, err = env.run(t, "progress", "ord-x")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	requireContains(t, out, "No copy running for order ord-x")

	out, err = env.run(t, "cancel", "ord-x")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "No copy running for order ord-x")

	if _, err := env.run(t, "progress"); err == nil {
		t.Fatal("progress without an order id should fail")
	}
}

func TestDevicesAndHealthCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "--json", "devices")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	var devices usb.Status
	if err := json.Unmarshal([]byte(out), &devices); err != nil {
		t.Fatalf("decode devices: %v", err)
	}
	if devices.Connected != len(devices.Devices) {
		t.Fatalf("connected %d does not match %d devices", devices.Connected, len(devices.Devices))
	}

	out, err = env.run(t, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	requireContains(t, out, "Devices:")
	requireContains(t, out, "Queue:")
}

func TestOrdersCommandValidatesStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "orders", "--status", "shipped")
	if err == nil {
		t.Fatal("expected unknown status error")
	}
	requireContains(t, err.Error(), "unknown status")
}

func TestOrdersCommandEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "orders")
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	requireContains(t, out, "No orders found")

	out, err = env.run(t, "--json", "orders", "--status", string(orders.StatusCompleted))
	if err != nil {
		t.Fatalf("orders --json: %v", err)
	}
	if strings.TrimSpace(out) != "null" && strings.TrimSpace(out) != "[]" {
		t.Fatalf("unexpected json %q", out)
	}
}

func TestNotifyTestWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "notify", "test")
	if err == nil {
		t.Fatal("expected failure without a topic")
	}
	requireContains(t, out, "ntfy topic not configured")
}

func TestMissingSocketReportsHint(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"status"}, filepath.Join(t.TempDir(), "absent.sock"), env.configPath)
	if err == nil {
		t.Fatal("expected dial error")
	}
	requireContains(t, err.Error(), "start usbforged first")
}

func TestConfigInitValidateShow(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "conf", "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected error when config exists")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "", ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	out, err = env.run(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Config path: "+env.configPath)
	requireContains(t, out, "Configuration valid")

	env.cfg.OrderAPI.APIKey = "secret-key"
	writeTestConfig(t, env.configPath, env.cfg)
	out, err = env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[devices]")
	requireContains(t, out, redacted)
	if strings.Contains(out, "secret-key") {
		t.Fatal("api key must be redacted")
	}
}

func TestRenderDaemonStatusActiveJob(t *testing.T) {
	status := daemon.Status{
		Running: true,
		PID:     42,
		Queue: scheduler.Status{
			Length:      1,
			HeadOrderID: "ord-2",
			Active:      &scheduler.ActiveJob{OrderID: "ord-1", Device: "/dev/sdb1"},
		},
		Devices: usb.Status{Connected: 1},
	}
	lines := strings.Join(renderDaemonStatus(status, false), "\n")
	requireContains(t, lines, "running (pid 42)")
	requireContains(t, lines, "1 waiting, next ord-2")
	requireContains(t, lines, "order ord-1 on /dev/sdb1")
	requireContains(t, lines, "[WARN] 1 connected, 0 empty")
}

func TestFormatHelpers(t *testing.T) {
	if got := formatCents(123456); got != "$1,234.56" {
		t.Fatalf("formatCents = %q", got)
	}
	if got := formatBytes(0); got != "-" {
		t.Fatalf("formatBytes(0) = %q", got)
	}
	if got := formatBytes(2048); got != "2.0 KiB" {
		t.Fatalf("formatBytes(2048) = %q", got)
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestCheckCommandRunsLocally(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"check"}, filepath.Join(t.TempDir(), "absent.sock"), env.configPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "State directory:")
	requireContains(t, out, "Music library:")
}
