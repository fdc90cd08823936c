package drivers

import (
	"context"
	"testing"
	"time"

	"github.com/sua-org/scope-bus/internal/graph"
)

func TestStageDriverMotionCompletesFilterBlock(t *testing.T) {
	d := newStageDriver("stage")
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer d.Disconnect(context.Background())

	n := d.NodeMap()["FilterBlock"]
	n.MarkValid()

	if err := n.Set(context.Background(), "4"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := n.WaitUntil(context.Background(), time.Now().Add(500*time.Millisecond)); err != nil {
		t.Fatalf("WaitUntil: %v", err)
	}
	v, _, ok := n.GetSnapshot()
	if !ok || v != "4" {
		t.Fatalf("expected snapshot 4, got %q ok=%v", v, ok)
	}
}

func TestStageDriverXYPositionPseudoProperty(t *testing.T) {
	d := newStageDriver("stage")
	_ = d.Connect(context.Background())
	defer d.Disconnect(context.Background())

	raw := d.NodeMap()["RawXYPosition"]
	pos := d.NodeMap()["XYPosition"]
	raw.MarkValid()
	pos.MarkValid()

	// Completion is detected by observed equality, so the set uses the same
	// "%.4f,%.4f" form the driver reports.
	if err := pos.Set(context.Background(), "1.0000,2.0000"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := pos.WaitUntil(context.Background(), time.Now().Add(500*time.Millisecond)); err != nil {
		t.Fatalf("WaitUntil: %v", err)
	}
	v, _, _ := pos.GetSnapshot()
	if v != "1.0000,2.0000" {
		t.Fatalf("expected 1.0000,2.0000, got %q", v)
	}
}

func TestStageDriverIlluminationConfirmsImmediatelyRegardlessOfShutter(t *testing.T) {
	d := newStageDriver("stage")
	_ = d.Connect(context.Background())
	defer d.Disconnect(context.Background())

	illum := d.NodeMap()["IlluminationIntensity"]
	shutter := d.NodeMap()["DiaShutter"]
	illum.MarkValid()
	shutter.MarkValid()

	if err := illum.Set(context.Background(), "80"); err != nil {
		t.Fatalf("Set illum: %v", err)
	}
	// Storing the intensity in memory confirms instantly; the shutter is
	// still closed at this point.
	if err := illum.WaitUntil(context.Background(), time.Now().Add(200*time.Millisecond)); err != nil {
		t.Fatalf("expected illumination set to confirm before the shutter opens: %v", err)
	}

	if err := shutter.Set(context.Background(), "Open"); err != nil {
		t.Fatalf("Set shutter: %v", err)
	}
	if err := shutter.WaitUntil(context.Background(), time.Now().Add(500*time.Millisecond)); err != nil {
		t.Fatalf("WaitUntil shutter: %v", err)
	}
	if err := illum.WaitUntil(context.Background(), time.Now().Add(500*time.Millisecond)); err != nil {
		t.Fatalf("WaitUntil illum: %v", err)
	}
}

var _ graph.Driver = (*stageDriver)(nil)
