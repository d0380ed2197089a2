package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"usbforge/internal/config"
	"usbforge/internal/copier"
	"usbforge/internal/logging"
	"usbforge/internal/notifications"
	"usbforge/internal/orders"
	"usbforge/internal/report"
	"usbforge/internal/testsupport"
	"usbforge/internal/usb"
)

type fakeDevices struct {
	mu        sync.Mutex
	available []usb.Device
	formatErr error
	labels    []string
	released  []string
	status    usb.Status
}

func (f *fakeDevices) FindAvailable(context.Context) (usb.Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.available) == 0 {
		return usb.Device{}, false
	}
	return f.available[0], true
}

func (f *fakeDevices) Format(_ context.Context, dev usb.Device, label string) (usb.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, label)
	if f.formatErr != nil {
		return usb.Device{}, f.formatErr
	}
	dev.Label = label
	return dev, nil
}

func (f *fakeDevices) Release(dev usb.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, dev.Path)
}

func (f *fakeDevices) Status(context.Context) usb.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeCopier struct {
	mu    sync.Mutex
	plans []copier.Plan
	run   func(ctx context.Context, plan copier.Plan) (copier.Result, error)
}

func (f *fakeCopier) Run(ctx context.Context, plan copier.Plan) (copier.Result, error) {
	f.mu.Lock()
	f.plans = append(f.plans, plan)
	run := f.run
	f.mu.Unlock()
	if run != nil {
		return run(ctx, plan)
	}
	return copier.Result{JobID: plan.JobID, CopiedFiles: 1, Verification: copier.Verification{Checked: 1}}, nil
}

func (f *fakeCopier) Progress(jobID string) (copier.Progress, bool) {
	return copier.Progress{JobID: jobID}, false
}

func (f *fakeCopier) Cancel(string) bool { return false }

func (f *fakeCopier) jobIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.plans))
	for _, plan := range f.plans {
		ids = append(ids, plan.JobID)
	}
	return ids
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	alerts []string
}

func (r *recordingNotifier) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) NotifyOrderProcessing(_ context.Context, order orders.Order) error {
	r.add("processing:" + order.ID)
	return nil
}

func (r *recordingNotifier) NotifyOrderCompleted(_ context.Context, order orders.Order, _ notifications.CopySummary) error {
	r.add("completed:" + order.ID)
	return nil
}

func (r *recordingNotifier) NotifyOrderError(_ context.Context, order orders.Order, _ error) error {
	r.add("error:" + order.ID)
	return nil
}

func (r *recordingNotifier) NotifyAdminAlert(_ context.Context, key, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, key)
	return nil
}

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

func (r *recordingNotifier) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]string(nil), r.alerts...)
}

type fakeReports struct {
	mu      sync.Mutex
	written []report.Report
}

func (f *fakeReports) Write(r report.Report) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, r)
	return fmt.Sprintf("report-%d.json", len(f.written)), nil
}

type harness struct {
	cfg      *config.Config
	sched    *Scheduler
	store    *orders.Store
	devices  *fakeDevices
	copier   *fakeCopier
	notifier *recordingNotifier
	reports  *fakeReports
	mount    string
}

func newHarness(t *testing.T, withDevice bool) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mount := filepath.Join(testsupport.MountRoot(cfg), "USB1")
	h := &harness{
		cfg:      cfg,
		store:    store,
		devices:  &fakeDevices{},
		copier:   &fakeCopier{},
		notifier: &recordingNotifier{},
		reports:  &fakeReports{},
		mount:    mount,
	}
	if withDevice {
		h.devices.available = []usb.Device{{Path: "/dev/sdz1", MountPoint: mount, Empty: true, Ready: true}}
	}
	h.sched = New(Options{QueueAlertThreshold: 2}, Dependencies{
		Store:    store,
		Devices:  h.devices,
		Copier:   h.copier,
		Notifier: h.notifier,
		Reports:  h.reports,
	}, logging.NewNop())
	return h
}

func (h *harness) seed(t *testing.T, ids ...string) {
	t.Helper()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range ids {
		testsupport.SaveOrder(t, h.store, testsupport.NewOrder(id, base.Add(time.Duration(i)*time.Minute)))
	}
	if _, err := h.sched.RefreshQueue(context.Background()); err != nil {
		t.Fatalf("RefreshQueue: %v", err)
	}
}

func (h *harness) status(t *testing.T, id string) orders.Status {
	t.Helper()
	order, err := h.store.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("GetOrder(%s): %v", id, err)
	}
	return order.Status
}

func queueIDs(status Status) []string {
	ids := make([]string, 0, len(status.Queue))
	for _, entry := range status.Queue {
		ids = append(ids, entry.OrderID)
	}
	return ids
}

func drainWake(s *Scheduler) bool {
	select {
	case <-s.wakeCh:
		return true
	default:
		return false
	}
}
