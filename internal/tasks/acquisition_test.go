package tasks

import (
	"context"
	"testing"

	"github.com/sua-org/scope-bus/internal/channel"
	"github.com/sua-org/scope-bus/internal/image"
)

func TestMultiChannelTaskAcquireTwoChannels(t *testing.T) {
	hub := newTestHub(t)
	images := image.NewManager()
	ctrl := channel.NewControl(hub, testPresets())
	task := NewMultiChannelTask(hub, images, ctrl, "Camera")

	requests := []channel.Request{
		{PresetName: "BF", ExposureMs: 5, IlluminationIntensity: 40},
		{PresetName: "GFP", ExposureMs: 5, IlluminationIntensity: 60},
	}

	if err := task.Acquire(context.Background(), "exp1", requests, map[string]interface{}{"operator": "test"}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	img, ok := images.GetNDImage("exp1")
	if !ok {
		t.Fatalf("expected NDImage exp1 to exist")
	}
	if n := img.NumImages(); n != 2 {
		t.Fatalf("expected 2 cells, got %d", n)
	}
	for i := 0; i < 2; i++ {
		cell, err := img.GetData(i, 0, 0)
		if err != nil {
			t.Fatalf("GetData(%d,0,0): %v", i, err)
		}
		ch, ok := cell.Metadata["channel"].(map[string]interface{})
		if !ok {
			t.Fatalf("expected channel metadata map, got %+v", cell.Metadata["channel"])
		}
		if ch["preset_name"] != requests[i].PresetName {
			t.Fatalf("expected preset_name %q, got %v", requests[i].PresetName, ch["preset_name"])
		}
		if cell.Metadata["operator"] != "test" {
			t.Fatalf("expected user metadata to be merged in")
		}
		if _, ok := cell.Metadata["device_property"]; !ok {
			t.Fatalf("expected device_property snapshot in metadata")
		}
	}
}

func TestMultiChannelTaskAcquireRejectsEmptyRequest(t *testing.T) {
	hub := newTestHub(t)
	images := image.NewManager()
	ctrl := channel.NewControl(hub, testPresets())
	task := NewMultiChannelTask(hub, images, ctrl, "Camera")

	if err := task.Acquire(context.Background(), "exp1", nil, nil); err == nil {
		t.Fatalf("expected error for empty channel list")
	}
}
