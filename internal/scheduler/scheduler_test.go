package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"usbforge/internal/copier"
	"usbforge/internal/locator"
	"usbforge/internal/logging"
	"usbforge/internal/orders"
	"usbforge/internal/services"
	"usbforge/internal/testsupport"
	"usbforge/internal/usb"
)

func TestTickCompletesOrderWithRealCopier(t *testing.T) {
	h := newHarness(t, true)
	content := h.cfg.Content
	testsupport.WriteFile(t, filepath.Join(content.MusicDir, "Latin", "Salsa Uno.mp3"), 4096)
	testsupport.WriteFile(t, filepath.Join(content.MusicDir, "Latin", "Salsa Dos.mp3"), 4096)
	testsupport.WriteFile(t, filepath.Join(content.MusicDir, "Rock", "Highway.mp3"), 4096)

	engine := copier.New(copier.Options{
		MusicRoot:        content.MusicDir,
		VideosRoot:       content.VideosDir,
		MoviesRoot:       content.MoviesDir,
		SeriesRoot:       content.SeriesDir,
		MusicExtensions:  []string{".mp3"},
		VideoExtensions:  []string{".mp4"},
		Attempts:         1,
		MaxFileBytes:     1 << 20,
		MinVerifiedBytes: 1024,
	}, locator.New(locator.Options{}, logging.NewNop()), logging.NewNop())
	h.sched.copier = engine

	h.seed(t, "ord-1")
	if !h.sched.Tick(context.Background()) {
		t.Fatal("expected dispatch")
	}

	if got := h.status(t, "ord-1"); got != orders.StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	files := testsupport.ListFiles(t, filepath.Join(h.mount, copier.DirMusic, "SALSA"))
	if len(files) != 2 {
		t.Fatalf("expected 2 copied files, got %v", files)
	}
	events, alerts := h.notifier.snapshot()
	if !slices.Equal(events, []string{"processing:ord-1", "completed:ord-1"}) {
		t.Fatalf("unexpected notifications %v", events)
	}
	if len(alerts) != 0 {
		t.Fatalf("unexpected alerts %v", alerts)
	}
	if len(h.devices.released) != 1 {
		t.Fatalf("expected device release, got %v", h.devices.released)
	}
	if len(h.devices.labels) != 1 || !strings.HasPrefix(h.devices.labels[0], "NORD1") {
		t.Fatalf("unexpected device labels %v", h.devices.labels)
	}
	status := h.sched.QueueStatus()
	if status.Processing || status.Active != nil || status.Length != 0 {
		t.Fatalf("expected idle empty scheduler, got %+v", status)
	}
}

func TestTickDefersWhenNoEmptyDevice(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, "ord-1")
	drainWake(h.sched)

	if !h.sched.Tick(context.Background()) {
		t.Fatal("expected dispatch attempt")
	}

	if got := h.status(t, "ord-1"); got != orders.StatusAwaitingUSB {
		t.Fatalf("expected awaiting_usb, got %s", got)
	}
	status := h.sched.QueueStatus()
	if status.Length != 1 || status.HeadOrderID != "ord-1" {
		t.Fatalf("expected deferred order requeued, got %+v", status)
	}
	if status.Processing {
		t.Fatal("expected no order in flight after deferral")
	}
	_, alerts := h.notifier.snapshot()
	if !slices.Contains(alerts, "no_empty_devices") {
		t.Fatalf("expected no_empty_devices alert, got %v", alerts)
	}
	if drainWake(h.sched) {
		t.Fatal("deferral must not wake the dispatcher")
	}
	if len(h.copier.jobIDs()) != 0 {
		t.Fatal("copier must not run without a device")
	}
}

func TestDeferredOrderCompletesOnceDeviceArrives(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, "ord-1")
	h.sched.Tick(context.Background())

	h.devices.mu.Lock()
	h.devices.available = []usb.Device{{Path: "/dev/sdz1", MountPoint: h.mount, Empty: true}}
	h.devices.mu.Unlock()
	h.sched.Tick(context.Background())

	if got := h.status(t, "ord-1"); got != orders.StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	events, _ := h.notifier.snapshot()
	if !slices.Equal(events, []string{"processing:ord-1", "completed:ord-1"}) {
		t.Fatalf("processing must be announced once, got %v", events)
	}
}

func TestForceProcessOrderJumpsQueue(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, "ord-a", "ord-b", "ord-c")
	drainWake(h.sched)

	if err := h.sched.ForceProcessOrder(context.Background(), "ord-c"); err != nil {
		t.Fatalf("ForceProcessOrder: %v", err)
	}
	status := h.sched.QueueStatus()
	if got := queueIDs(status); !slices.Equal(got, []string{"ord-c", "ord-a", "ord-b"}) {
		t.Fatalf("unexpected queue order %v", got)
	}
	if !status.Queue[0].Forced {
		t.Fatal("expected head entry marked forced")
	}
	if !drainWake(h.sched) {
		t.Fatal("force while idle must wake the dispatcher")
	}

	h.sched.Tick(context.Background())
	if got := h.copier.jobIDs(); !slices.Equal(got, []string{"ord-c"}) {
		t.Fatalf("expected ord-c dispatched first, got %v", got)
	}
}

func TestRefreshKeepsForcedEntryAtHead(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, "ord-a", "ord-b")
	if err := h.sched.ForceProcessOrder(context.Background(), "ord-b"); err != nil {
		t.Fatalf("ForceProcessOrder: %v", err)
	}
	testsupport.SaveOrder(t, h.store, testsupport.NewOrder("ord-0", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	if _, err := h.sched.RefreshQueue(context.Background()); err != nil {
		t.Fatalf("RefreshQueue: %v", err)
	}
	if got := queueIDs(h.sched.QueueStatus()); !slices.Equal(got, []string{"ord-b", "ord-0", "ord-a"}) {
		t.Fatalf("unexpected queue order %v", got)
	}
}

type duplicatingStore struct {
	*orders.Store
}

func (d duplicatingStore) PendingOrders(ctx context.Context) ([]orders.Order, error) {
	pending, err := d.Store.PendingOrders(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]orders.Order(nil), pending...)
	slices.Reverse(out)
	return append(out, pending...), nil
}

func TestRefreshDeduplicatesAndSortsOldestFirst(t *testing.T) {
	h := newHarness(t, true)
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	testsupport.SaveOrder(t, h.store, testsupport.NewOrder("late", base.Add(time.Hour)))
	testsupport.SaveOrder(t, h.store, testsupport.NewOrder("early", base))
	h.sched.store = duplicatingStore{h.store}

	n, err := h.sched.RefreshQueue(context.Background())
	if err != nil {
		t.Fatalf("RefreshQueue: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 queued, got %d", n)
	}
	if got := queueIDs(h.sched.QueueStatus()); !slices.Equal(got, []string{"early", "late"}) {
		t.Fatalf("unexpected queue order %v", got)
	}
}

func TestRefreshExcludesInFlightOrder(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, "ord-1", "ord-2")
	h.copier.run = func(ctx context.Context, plan copier.Plan) (copier.Result, error) {
		if _, err := h.sched.RefreshQueue(ctx); err != nil {
			t.Errorf("RefreshQueue: %v", err)
		}
		if got := queueIDs(h.sched.QueueStatus()); slices.Contains(got, plan.JobID) {
			t.Errorf("in-flight order %s requeued: %v", plan.JobID, got)
		}
		if h.sched.Tick(ctx) {
			t.Error("second dispatch while an order is in flight")
		}
		return copier.Result{JobID: plan.JobID, CopiedFiles: 1}, nil
	}

	h.sched.Tick(context.Background())
	if got := h.copier.jobIDs(); !slices.Equal(got, []string{"ord-1"}) {
		t.Fatalf("expected only ord-1 dispatched, got %v", got)
	}
}

// staleSnapshotStore completes the pending orders between reading them and
// handing them back, so the refresh queues orders that are already done.
type staleSnapshotStore struct {
	*orders.Store
	during func(ctx context.Context)
}

func (s *staleSnapshotStore) PendingOrders(ctx context.Context) ([]orders.Order, error) {
	pending, err := s.Store.PendingOrders(ctx)
	if err != nil {
		return nil, err
	}
	if during := s.during; during != nil {
		s.during = nil
		during(ctx)
	}
	return pending, nil
}

func TestStaleRefreshDoesNotRefulfilCompletedOrder(t *testing.T) {
	h := newHarness(t, true)
	testsupport.SaveOrder(t, h.store, testsupport.NewOrder("ord-1", time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)))
	h.sched.store = &staleSnapshotStore{Store: h.store, during: func(ctx context.Context) {
		if _, err := h.sched.AddOrderToQueue(ctx, testsupport.NewOrder("ord-1", time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))); err != nil {
			t.Errorf("AddOrderToQueue: %v", err)
		}
		if !h.sched.Tick(ctx) {
			t.Error("expected dispatch inside refresh")
		}
	}}

	if _, err := h.sched.RefreshQueue(context.Background()); err != nil {
		t.Fatalf("RefreshQueue: %v", err)
	}
	if got := h.status(t, "ord-1"); got != orders.StatusCompleted {
		t.Fatalf("expected completed order, got %s", got)
	}
	h.sched.Tick(context.Background())

	if got := h.copier.jobIDs(); !slices.Equal(got, []string{"ord-1"}) {
		t.Fatalf("expected a single copy job, got %v", got)
	}
	events, _ := h.notifier.snapshot()
	if !slices.Equal(events, []string{"processing:ord-1", "completed:ord-1"}) {
		t.Fatalf("unexpected notifications %v", events)
	}
	if got := h.status(t, "ord-1"); got != orders.StatusCompleted {
		t.Fatalf("expected order to stay completed, got %s", got)
	}
	if got := h.sched.QueueStatus().Length; got != 0 {
		t.Fatalf("expected empty queue, got %d", got)
	}
}

func TestAddOrderToQueueIsIdempotent(t *testing.T) {
	h := newHarness(t, true)
	order := testsupport.NewOrder("ord-1", time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))

	added, err := h.sched.AddOrderToQueue(context.Background(), order)
	if err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	added, err = h.sched.AddOrderToQueue(context.Background(), order)
	if err != nil || added {
		t.Fatalf("second add: added=%v err=%v", added, err)
	}
	if got := h.sched.QueueStatus().Length; got != 1 {
		t.Fatalf("expected 1 queued, got %d", got)
	}
	if got := h.status(t, "ord-1"); got != orders.StatusPending {
		t.Fatalf("expected persisted pending order, got %s", got)
	}
}

func TestAddOrderToQueueSkipsTerminalOrders(t *testing.T) {
	h := newHarness(t, true)
	order := testsupport.SaveOrder(t, h.store, testsupport.NewOrder("ord-1", time.Now()))
	ctx := context.Background()
	if err := h.store.UpdateOrderStatus(ctx, order.ID, orders.StatusProcessing, ""); err != nil {
		t.Fatal(err)
	}
	if err := h.store.UpdateOrderStatus(ctx, order.ID, orders.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}

	added, err := h.sched.AddOrderToQueue(ctx, order)
	if err != nil {
		t.Fatalf("AddOrderToQueue: %v", err)
	}
	if added || h.sched.QueueStatus().Length != 0 {
		t.Fatal("terminal order must not be queued")
	}
}

func TestForceProcessOrderReopensTerminalOrder(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	order := testsupport.SaveOrder(t, h.store, testsupport.NewOrder("ord-1", time.Now()))
	if err := h.store.UpdateOrderStatus(ctx, order.ID, orders.StatusProcessing, ""); err != nil {
		t.Fatal(err)
	}
	if err := h.store.UpdateOrderStatus(ctx, order.ID, orders.StatusError, "copy failed"); err != nil {
		t.Fatal(err)
	}

	if err := h.sched.ForceProcessOrder(ctx, "ord-1"); err != nil {
		t.Fatalf("ForceProcessOrder: %v", err)
	}
	h.sched.Tick(ctx)
	if got := h.status(t, "ord-1"); got != orders.StatusCompleted {
		t.Fatalf("expected forced order completed, got %s", got)
	}
}

func TestForceProcessOrderErrors(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	if err := h.sched.ForceProcessOrder(ctx, " "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := h.sched.ForceProcessOrder(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	h.seed(t, "ord-1")
	h.copier.run = func(ctx context.Context, plan copier.Plan) (copier.Result, error) {
		if err := h.sched.ForceProcessOrder(ctx, plan.JobID); !errors.Is(err, ErrAlreadyActive) {
			t.Errorf("expected ErrAlreadyActive, got %v", err)
		}
		return copier.Result{JobID: plan.JobID}, nil
	}
	h.sched.Tick(ctx)
}

func TestTickFailsOrderOnFormatError(t *testing.T) {
	h := newHarness(t, true)
	h.devices.formatErr = services.Wrap(services.ErrExternalTool, "usb", "format", "mkfs failed", nil)
	h.seed(t, "ord-1")

	h.sched.Tick(context.Background())

	order, err := h.store.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != orders.StatusError || !strings.Contains(order.ErrorMessage, "mkfs failed") {
		t.Fatalf("expected error status with cause, got %s %q", order.Status, order.ErrorMessage)
	}
	events, alerts := h.notifier.snapshot()
	if !slices.Contains(events, "error:ord-1") {
		t.Fatalf("expected customer error notification, got %v", events)
	}
	if !slices.Contains(alerts, "order_failed:ord-1") {
		t.Fatalf("expected operator alert, got %v", alerts)
	}
	if len(h.devices.released) != 1 {
		t.Fatal("device must be released after failure")
	}
	if len(h.copier.jobIDs()) != 0 {
		t.Fatal("copier must not run after a format failure")
	}
}

func TestTickFailsOrderOnVerificationMismatch(t *testing.T) {
	h := newHarness(t, true)
	h.copier.run = func(_ context.Context, plan copier.Plan) (copier.Result, error) {
		return copier.Result{
			JobID:        plan.JobID,
			CopiedFiles:  2,
			Verification: copier.Verification{Checked: 2, Missing: []string{"MUSICA/SALSA/a.mp3"}},
		}, nil
	}
	h.seed(t, "ord-1")

	h.sched.Tick(context.Background())

	order, err := h.store.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != orders.StatusError || !strings.Contains(order.ErrorMessage, "1 missing") {
		t.Fatalf("expected verification failure, got %s %q", order.Status, order.ErrorMessage)
	}
}

func TestTickRecoversFromPanic(t *testing.T) {
	h := newHarness(t, true)
	h.copier.run = func(context.Context, copier.Plan) (copier.Result, error) {
		panic("boom")
	}
	h.seed(t, "ord-1", "ord-2")

	h.sched.Tick(context.Background())

	if got := h.status(t, "ord-1"); got != orders.StatusError {
		t.Fatalf("expected error after panic, got %s", got)
	}
	status := h.sched.QueueStatus()
	if status.Processing {
		t.Fatal("in-flight flag must clear after a panic")
	}
	if len(h.devices.released) != 1 {
		t.Fatal("device must be released after a panic")
	}
	if !drainWake(h.sched) {
		t.Fatal("expected wake after failure")
	}
	h.copier.run = nil
	h.sched.Tick(context.Background())
	if got := h.status(t, "ord-2"); got != orders.StatusCompleted {
		t.Fatalf("expected next order to complete, got %s", got)
	}
}

func TestTickEnforcesOrderDeadline(t *testing.T) {
	h := newHarness(t, true)
	h.sched.opts.OrderTimeout = 20 * time.Millisecond
	h.copier.run = func(ctx context.Context, plan copier.Plan) (copier.Result, error) {
		<-ctx.Done()
		return copier.Result{JobID: plan.JobID}, ctx.Err()
	}
	h.seed(t, "ord-1")

	h.sched.Tick(context.Background())

	if got := h.status(t, "ord-1"); got != orders.StatusError {
		t.Fatalf("expected error after deadline, got %s", got)
	}
}

func TestTickReturnsInterruptedOrderToWaitingSet(t *testing.T) {
	h := newHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.copier.run = func(runCtx context.Context, plan copier.Plan) (copier.Result, error) {
		cancel()
		<-runCtx.Done()
		return copier.Result{JobID: plan.JobID}, runCtx.Err()
	}
	h.seed(t, "ord-1")

	h.sched.Tick(ctx)

	if got := h.status(t, "ord-1"); got != orders.StatusAwaitingUSB {
		t.Fatalf("expected awaiting_usb after shutdown, got %s", got)
	}
	events, _ := h.notifier.snapshot()
	if slices.Contains(events, "error:ord-1") {
		t.Fatal("interrupted order must not be reported as failed")
	}
}

func TestPauseBlocksDispatch(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, "ord-1")
	drainWake(h.sched)

	h.sched.Pause()
	if h.sched.Tick(context.Background()) {
		t.Fatal("paused scheduler dispatched")
	}
	if !h.sched.QueueStatus().Paused {
		t.Fatal("expected paused status")
	}

	h.sched.Resume()
	if !drainWake(h.sched) {
		t.Fatal("resume must wake the dispatcher")
	}
	if !h.sched.Tick(context.Background()) {
		t.Fatal("expected dispatch after resume")
	}
}

func TestCheckHealthRaisesAlertsAndWritesReport(t *testing.T) {
	h := newHarness(t, false)
	h.devices.status = usb.Status{Connected: 1, Empty: 0, Devices: []usb.Device{{Path: "/dev/sdz1"}}}
	h.seed(t, "ord-1", "ord-2", "ord-3")

	health := h.sched.CheckHealth(context.Background())

	if len(health.Alerts) != 2 {
		t.Fatalf("expected device and backlog alerts, got %v", health.Alerts)
	}
	_, alerts := h.notifier.snapshot()
	if !slices.Equal(alerts, []string{"no_empty_devices", "queue_backlog"}) {
		t.Fatalf("unexpected alert keys %v", alerts)
	}
	if health.ReportPath == "" || len(h.reports.written) != 1 {
		t.Fatalf("expected one report, got %q %d", health.ReportPath, len(h.reports.written))
	}
	written := h.reports.written[0]
	if written.Queue.Length != 3 || written.Orders.Total != 3 {
		t.Fatalf("unexpected report contents %+v", written)
	}
}

func TestCheckHealthQuietWhenDevicesAvailable(t *testing.T) {
	h := newHarness(t, true)
	h.devices.status = usb.Status{Connected: 1, Empty: 1}
	h.seed(t, "ord-1")

	health := h.sched.CheckHealth(context.Background())
	if len(health.Alerts) != 0 {
		t.Fatalf("expected no alerts, got %v", health.Alerts)
	}
}

func TestStartReclaimsInterruptedOrders(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	order := testsupport.SaveOrder(t, h.store, testsupport.NewOrder("ord-1", time.Now()))
	if err := h.store.UpdateOrderStatus(ctx, order.ID, orders.StatusProcessing, ""); err != nil {
		t.Fatal(err)
	}
	h.sched.opts.TickInterval = time.Hour
	h.sched.opts.RefreshInterval = time.Hour
	h.sched.opts.HealthInterval = time.Hour

	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.sched.Start(ctx); err == nil {
		t.Fatal("expected error on second Start")
	}
	h.sched.Stop()

	if h.sched.Running() {
		t.Fatal("expected stopped scheduler")
	}
	if got := h.status(t, "ord-1"); got != orders.StatusAwaitingUSB {
		t.Fatalf("expected reclaimed order awaiting_usb, got %s", got)
	}
}

func TestBuildPlanMapsCustomizations(t *testing.T) {
	order := testsupport.NewOrder("ord-1", time.Now(), func(o *orders.Order) {
		o.ContentType = orders.ContentMixed
		o.Genres = []string{"Salsa", " "}
		o.Artists = []string{"Celia Cruz"}
		o.Videos = []string{"Conciertos"}
		o.Movies = []string{"Coco"}
		o.Series = []string{"Dark"}
	})

	plan := buildPlan(order, "/media/usb")
	want := []copier.Facet{
		{Kind: copier.FacetGenre, Keyword: "Salsa"},
		{Kind: copier.FacetArtist, Keyword: "Celia Cruz"},
		{Kind: copier.FacetVideo, Keyword: "Conciertos"},
		{Kind: copier.FacetMovie, Keyword: "Coco"},
		{Kind: copier.FacetSeries, Keyword: "Dark"},
	}
	if plan.JobID != "ord-1" || plan.Destination != "/media/usb" || !slices.Equal(plan.Facets, want) {
		t.Fatalf("unexpected plan %+v", plan)
	}
}
