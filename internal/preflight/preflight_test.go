package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"usbforge/internal/logging"
	"usbforge/internal/orderapi"
	"usbforge/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	result := CheckDirectoryAccess("test", t.TempDir(), AccessReadWrite)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"), AccessRead)
	if result.Passed || result.Detail == "" {
		t.Fatalf("expected failure with detail, got %+v", result)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckDirectoryAccess("test", f, AccessRead); result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary", Optional: true},
		{Name: "Blank"},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Passed {
		t.Fatalf("expected present binary to pass: %+v", results[0])
	}
	if results[1].Passed || !results[1].Optional || results[1].Detail == "" {
		t.Fatalf("unexpected missing result %+v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected blank result %+v", results[2])
	}

	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Blank" {
		t.Fatalf("optional failures must not count: %+v", failed)
	}
}

func TestSystemRequirementsFollowsFormatting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if reqs := SystemRequirements(cfg); len(reqs) != 1 {
		t.Fatalf("expected only lsblk, got %+v", reqs)
	}
	cfg.Devices.FormatEnabled = true
	cfg.Devices.Filesystem = "exfat"
	reqs := SystemRequirements(cfg)
	if len(reqs) != 2 || reqs[1].Command != "mkfs.exfat" || reqs[1].Optional {
		t.Fatalf("expected required mkfs.exfat, got %+v", reqs)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestCheckOrderAPI(t *testing.T) {
	if result := CheckOrderAPI(context.Background(), stubPinger{}); !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}
	bad := CheckOrderAPI(context.Background(), stubPinger{err: &orderapi.APIError{StatusCode: 401, Code: orderapi.CodeInvalidAPIKey}})
	if bad.Passed || bad.Detail != "auth failed (invalid api key)" {
		t.Fatalf("unexpected result %+v", bad)
	}
	timeout := CheckOrderAPI(context.Background(), stubPinger{err: context.DeadlineExceeded})
	if timeout.Detail != "health check timed out" {
		t.Fatalf("unexpected timeout detail %q", timeout.Detail)
	}
	other := CheckOrderAPI(context.Background(), stubPinger{err: errors.New("boom")})
	if other.Detail != "boom" {
		t.Fatalf("unexpected detail %q", other.Detail)
	}
}

func TestRunAllCoversConfiguredPaths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithOrderAPI(server.URL, "key"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}

	results := RunAll(context.Background(), cfg, logging.NewNop())
	names := map[string]Result{}
	for _, r := range results {
		names[r.Name] = r
	}
	for _, name := range []string{"State directory", "Report directory", "Music library", "Series library", "Mount root", "lsblk", "Order API"} {
		if _, ok := names[name]; !ok {
			t.Fatalf("missing check %q in %+v", name, results)
		}
	}
	if !names["Music library"].Passed || !names["Order API"].Passed {
		t.Fatalf("expected passing checks: %+v", results)
	}
	if len(Failed(results)) != 0 {
		t.Fatalf("unexpected failures: %+v", Failed(results))
	}
}
