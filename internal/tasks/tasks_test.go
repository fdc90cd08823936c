package tasks

import (
	"context"
	"testing"

	"github.com/sua-org/scope-bus/internal/channel"
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
	return hub
}

func testPresets() map[string]channel.Preset {
	return map[string]channel.Preset{
		"BF": {
			Name:                 "BF",
			PropertyValue:        map[string]string{"/Stage/FilterBlock": "1"},
			ShutterProperty:      "/Stage/DiaShutter",
			IlluminationProperty: "/Stage/IlluminationIntensity",
			DefaultExposureMs:    10,
		},
		"GFP": {
			Name:                 "GFP",
			PropertyValue:        map[string]string{"/Stage/FilterBlock": "2"},
			ShutterProperty:      "/Stage/DiaShutter",
			IlluminationProperty: "/Stage/IlluminationIntensity",
			DefaultExposureMs:    10,
		},
	}
}
