package orderapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"usbforge/internal/logging"
	"usbforge/internal/orders"
	"usbforge/internal/services"
	"usbforge/internal/testsupport"
)

type remoteCall struct {
	op        string
	id        string
	message   string
	code      string
	retryable bool
}

type fakeRemote struct {
	mu      sync.Mutex
	pending []orders.Order
	pullErr error
	callErr error
	calls   []remoteCall
}

func (f *fakeRemote) AllPendingOrders(context.Context) ([]orders.Order, error) {
	return f.pending, f.pullErr
}

func (f *fakeRemote) record(call remoteCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.callErr
}

func (f *fakeRemote) StartBurning(_ context.Context, id string) error {
	return f.record(remoteCall{op: "start", id: id})
}

func (f *fakeRemote) CompleteBurning(_ context.Context, id, notes string) error {
	return f.record(remoteCall{op: "complete", id: id, message: notes})
}

func (f *fakeRemote) ReportError(_ context.Context, id, message, code string, retryable bool) error {
	return f.record(remoteCall{op: "error", id: id, message: message, code: code, retryable: retryable})
}

func newMirror(t *testing.T, remote *fakeRemote) (*Mirror, *orders.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	return NewMirror(store, remote, logging.NewNop()), store
}

func TestMirrorImportsRemotePending(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	remote := &fakeRemote{pending: []orders.Order{
		testsupport.NewOrder("r-2", base.Add(time.Minute)),
		testsupport.NewOrder("r-1", base),
		testsupport.NewOrder("bad", base, func(o *orders.Order) { o.Genres = nil }),
	}}
	m, _ := newMirror(t, remote)

	got, err := m.PendingOrders(context.Background())
	if err != nil {
		t.Fatalf("PendingOrders: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r-1" || got[1].ID != "r-2" {
		t.Fatalf("pending = %+v", got)
	}
}

func TestMirrorDoesNotResurrectProgressedOrders(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	remote := &fakeRemote{}
	m, store := newMirror(t, remote)
	testsupport.SaveOrder(t, store, testsupport.NewOrder("r-1", base))
	ctx := context.Background()
	if err := m.UpdateOrderStatus(ctx, "r-1", orders.StatusProcessing, ""); err != nil {
		t.Fatalf("processing: %v", err)
	}

	remote.pending = []orders.Order{testsupport.NewOrder("r-1", base)}
	got, err := m.PendingOrders(ctx)
	if err != nil {
		t.Fatalf("PendingOrders: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("in-flight order must not be re-queued, got %+v", got)
	}
}

func TestMirrorFallsBackToLocalWhenRemoteDown(t *testing.T) {
	remote := &fakeRemote{pullErr: &APIError{Code: CodeConnectionError, Message: "refused", Retryable: true}}
	m, store := newMirror(t, remote)
	testsupport.SaveOrder(t, store, testsupport.NewOrder("local", time.Now().UTC()))

	got, err := m.PendingOrders(context.Background())
	if err != nil {
		t.Fatalf("PendingOrders: %v", err)
	}
	if len(got) != 1 || got[0].ID != "local" {
		t.Fatalf("pending = %+v", got)
	}
}

func TestMirrorMirrorsTransitions(t *testing.T) {
	remote := &fakeRemote{}
	m, store := newMirror(t, remote)
	testsupport.SaveOrder(t, store, testsupport.NewOrder("o-1", time.Now().UTC()))
	ctx := context.Background()

	if err := m.UpdateOrderStatus(ctx, "o-1", orders.StatusProcessing, ""); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if err := m.UpdateOrderStatus(ctx, "o-1", orders.StatusCompleted, "42 files"); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if err := m.ReopenOrder(ctx, "o-1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	cause := services.Wrap(services.ErrFormat, "usb", "format", "mkfs failed", nil)
	if err := m.RecordFailure(ctx, "o-1", cause); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	want := []string{"start:o-1", "complete:o-1", "start:o-1", "error:o-1"}
	if len(remote.calls) != len(want) {
		t.Fatalf("calls = %+v", remote.calls)
	}
	for i, call := range remote.calls {
		if got := fmt.Sprintf("%s:%s", call.op, call.id); got != want[i] {
			t.Fatalf("call %d = %s, want %s", i, got, want[i])
		}
	}
	if remote.calls[1].message != "42 files" {
		t.Fatalf("completion notes = %q", remote.calls[1].message)
	}
	last := remote.calls[3]
	if last.code != "FORMAT_ERROR" || !last.retryable {
		t.Fatalf("error report = %+v", last)
	}

	order, err := store.GetOrder(ctx, "o-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Status != orders.StatusError || order.ErrorMessage != cause.Error() {
		t.Fatalf("local order = %s %q", order.Status, order.ErrorMessage)
	}
}

func TestMirrorStartsBurningOnceAcrossDeferrals(t *testing.T) {
	remote := &fakeRemote{}
	m, store := newMirror(t, remote)
	testsupport.SaveOrder(t, store, testsupport.NewOrder("o-1", time.Now().UTC()))
	ctx := context.Background()

	steps := []orders.Status{
		orders.StatusProcessing,
		orders.StatusAwaitingUSB,
		orders.StatusProcessing,
		orders.StatusAwaitingUSB,
		orders.StatusProcessing,
		orders.StatusCompleted,
	}
	for _, step := range steps {
		if err := m.UpdateOrderStatus(ctx, "o-1", step, ""); err != nil {
			t.Fatalf("%s: %v", step, err)
		}
	}

	var got []string
	for _, call := range remote.calls {
		got = append(got, call.op)
	}
	if fmt.Sprint(got) != "[start complete]" {
		t.Fatalf("remote calls = %v, want one start and one complete", got)
	}
}

func TestMirrorRemoteFailureIsNotFatal(t *testing.T) {
	remote := &fakeRemote{callErr: errors.New("backend down")}
	m, store := newMirror(t, remote)
	testsupport.SaveOrder(t, store, testsupport.NewOrder("o-1", time.Now().UTC()))

	if err := m.UpdateOrderStatus(context.Background(), "o-1", orders.StatusProcessing, ""); err != nil {
		t.Fatalf("remote failure must not surface: %v", err)
	}
	order, _ := store.GetOrder(context.Background(), "o-1")
	if order.Status != orders.StatusProcessing {
		t.Fatalf("local status = %s", order.Status)
	}
}

func TestMirrorRejectsInvalidTransitionBeforeRemote(t *testing.T) {
	remote := &fakeRemote{}
	m, store := newMirror(t, remote)
	testsupport.SaveOrder(t, store, testsupport.NewOrder("o-1", time.Now().UTC()))

	err := m.UpdateOrderStatus(context.Background(), "o-1", orders.StatusCompleted, "")
	if !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(remote.calls) != 0 {
		t.Fatalf("remote must not be called, got %+v", remote.calls)
	}
}
