package graph

import (
	"context"
	"testing"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
)

func TestNodeSetThenGetClearsPending(t *testing.T) {
	live := "0"
	n := NewNode("Position", "", true, true, nil,
		func(ctx context.Context) (Value, error) { return live, nil },
		func(ctx context.Context, v Value) error { live = v; return nil })
	n.MarkValid()

	if err := n.Set(context.Background(), "100"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if pv, ok := n.PendingSet(); !ok || pv != "100" {
		t.Fatalf("expected pending set 100, got %v %v", pv, ok)
	}

	v, ev, err := n.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "100" {
		t.Fatalf("expected observed 100, got %q", v)
	}
	if !ev.operationComplete {
		t.Fatalf("expected operationComplete after observed value matches pending")
	}
	if _, ok := n.PendingSet(); ok {
		t.Fatalf("expected pending set cleared")
	}
}

func TestNodeEqualValueNoEvent(t *testing.T) {
	n := NewNode("Temp", "", true, false, nil,
		func(ctx context.Context) (Value, error) { return "20", nil }, nil)
	n.MarkValid()

	_, ev1, _ := n.Get(context.Background())
	if !ev1.valueChanged {
		t.Fatalf("expected first observation to report a change")
	}
	_, ev2, _ := n.Get(context.Background())
	if ev2.valueChanged {
		t.Fatalf("expected repeated equal value to not report a change (P3)")
	}
}

func TestNodeWaitUntilDeadlineExceeded(t *testing.T) {
	n := NewNode("Shutter", "", true, true, nil,
		func(ctx context.Context) (Value, error) { return "closed", nil },
		func(ctx context.Context, v Value) error { return nil })
	n.MarkValid()

	if err := n.Set(context.Background(), "open"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	err := n.WaitUntil(context.Background(), time.Now().Add(20*time.Millisecond))
	if core.KindOf(err) != core.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestNodeWaitUntilClearsOnObservation(t *testing.T) {
	n := NewNode("Wheel", "", true, true, nil, nil,
		func(ctx context.Context, v Value) error { return nil })
	n.MarkValid()

	if err := n.Set(context.Background(), "3"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		n.ObserveExternal("3")
	}()

	err := n.WaitUntil(context.Background(), time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("expected wait to complete, got %v", err)
	}
}

func TestNodeWaitUntilContextCancelled(t *testing.T) {
	n := NewNode("Wheel", "", true, true, nil, nil,
		func(ctx context.Context, v Value) error { return nil })
	n.MarkValid()
	_ = n.Set(context.Background(), "3")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.WaitUntil(ctx, time.Now().Add(time.Second))
	if core.KindOf(err) != core.Cancelled {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestNodeNotReadableNotWritable(t *testing.T) {
	n := NewNode("ReadOnly", "", true, false, nil,
		func(ctx context.Context) (Value, error) { return "x", nil }, nil)
	n.MarkValid()

	if err := n.Set(context.Background(), "y"); core.KindOf(err) != core.InvalidArgument {
		t.Fatalf("expected InvalidArgument setting a read-only node, got %v", err)
	}

	w := NewNode("WriteOnly", "", false, true, nil, nil,
		func(ctx context.Context, v Value) error { return nil })
	w.MarkValid()
	if _, _, err := w.Get(context.Background()); core.KindOf(err) != core.InvalidArgument {
		t.Fatalf("expected InvalidArgument reading a write-only node, got %v", err)
	}
}
