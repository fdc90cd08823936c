package channel

import (
	"context"
	"testing"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/drivers"
	"github.com/sua-org/scope-bus/internal/graph"
)

func newTestHub(t *testing.T) *graph.Hub {
	t.Helper()
	hub := graph.NewHub()

	stage, err := drivers.New("stage", "Stage")
	if err != nil {
		t.Fatalf("drivers.New stage: %v", err)
	}
	cam, err := drivers.New("camera", "Camera")
	if err != nil {
		t.Fatalf("drivers.New camera: %v", err)
	}
	if err := hub.AddDevice(graph.NewDevice("Stage", stage)); err != nil {
		t.Fatalf("AddDevice Stage: %v", err)
	}
	if err := hub.AddDevice(graph.NewDevice("Camera", cam)); err != nil {
		t.Fatalf("AddDevice Camera: %v", err)
	}
	if err := hub.ConnectAll(context.Background()); err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}
	if cd, ok := cam.(interface{ AllocBuffer(int) error }); ok {
		_ = cd.AllocBuffer(4)
	}
	return hub
}

func testPresets() map[string]Preset {
	return map[string]Preset{
		"BF": {
			Name:                 "BF",
			PropertyValue:        map[string]string{"/Stage/FilterBlock": "2"},
			ShutterProperty:      "/Stage/DiaShutter",
			IlluminationProperty: "/Stage/IlluminationIntensity",
			DefaultExposureMs:    25,
		},
	}
}

func TestControlSwitchChannel(t *testing.T) {
	hub := newTestHub(t)
	ctrl := NewControl(hub, testPresets())

	if err := ctrl.SwitchChannel(context.Background(), Request{PresetName: "BF", ExposureMs: 25, IlluminationIntensity: 50}); err != nil {
		t.Fatalf("SwitchChannel: %v", err)
	}
	if err := ctrl.WaitSwitchChannel(context.Background()); err != nil {
		t.Fatalf("WaitSwitchChannel: %v", err)
	}

	if ctrl.GetCurrentShutter().String() != "/Stage/DiaShutter" {
		t.Fatalf("expected current shutter /Stage/DiaShutter, got %q", ctrl.GetCurrentShutter().String())
	}

	snap, err := hub.GetSnapshot(core.ParsePropertyPath("/Stage/FilterBlock"))
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	for p, v := range snap {
		if p.String() == "/Stage/FilterBlock" && v != "2" {
			t.Fatalf("expected FilterBlock=2, got %q", v)
		}
	}
}

func TestControlOpenCloseShutter(t *testing.T) {
	hub := newTestHub(t)
	ctrl := NewControl(hub, testPresets())

	if err := ctrl.SwitchChannel(context.Background(), Request{PresetName: "BF", ExposureMs: 25, IlluminationIntensity: 50}); err != nil {
		t.Fatalf("SwitchChannel: %v", err)
	}
	if err := ctrl.WaitSwitchChannel(context.Background()); err != nil {
		t.Fatalf("WaitSwitchChannel: %v", err)
	}

	if err := ctrl.OpenCurrentShutter(context.Background()); err != nil {
		t.Fatalf("OpenCurrentShutter: %v", err)
	}
	if err := ctrl.WaitShutter(context.Background()); err != nil {
		t.Fatalf("WaitShutter: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := ctrl.CloseCurrentShutter(context.Background()); err != nil {
		t.Fatalf("CloseCurrentShutter: %v", err)
	}
}
