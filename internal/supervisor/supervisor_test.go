package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/sua-org/scope-bus/internal/channel"
	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/drivers"
	"github.com/sua-org/scope-bus/internal/events"
	"github.com/sua-org/scope-bus/internal/graph"
	"github.com/sua-org/scope-bus/internal/image"
	"github.com/sua-org/scope-bus/internal/tasks"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *graph.Hub) {
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

	presets := map[string]channel.Preset{
		"BF": {
			Name:                 "BF",
			PropertyValue:        map[string]string{"/Stage/FilterBlock": "1"},
			ShutterProperty:      "/Stage/DiaShutter",
			IlluminationProperty: "/Stage/IlluminationIntensity",
			DefaultExposureMs:    10,
		},
	}

	control := channel.NewControl(hub, presets)
	images := image.NewManager()
	live := tasks.NewLiveViewTask(hub, images, "Camera")
	multi := tasks.NewMultiChannelTask(hub, images, control, "Camera")

	sup := New(hub, control, live, multi, []string{"Stage", "Camera"})
	return sup, hub
}

func TestStartStopLiveViewIdempotent(t *testing.T) {
	sup, hub := newTestSupervisor(t)
	ctx := context.Background()
	if err := hub.ConnectAll(ctx); err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}

	if err := sup.StartLiveView(ctx); err != nil {
		t.Fatalf("StartLiveView: %v", err)
	}
	if err := sup.StartLiveView(ctx); err != nil {
		t.Fatalf("second StartLiveView should be idempotent, got: %v", err)
	}

	if err := sup.StopLiveView(ctx); err != nil {
		t.Fatalf("StopLiveView: %v", err)
	}
	if err := sup.StopLiveView(ctx); err != nil {
		t.Fatalf("second StopLiveView should be a no-op, got: %v", err)
	}
}

func TestAcquireMultiChannelFailsWhenLiveViewRunning(t *testing.T) {
	sup, hub := newTestSupervisor(t)
	ctx := context.Background()
	if err := hub.ConnectAll(ctx); err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}
	if err := sup.StartLiveView(ctx); err != nil {
		t.Fatalf("StartLiveView: %v", err)
	}
	defer sup.StopLiveView(ctx)

	err := sup.AcquireMultiChannel(ctx, "exp1", []channel.Request{{PresetName: "BF"}}, nil)
	if core.KindOf(err) != core.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestAcquireMultiChannelWaitJoinsResult(t *testing.T) {
	sup, hub := newTestSupervisor(t)
	ctx := context.Background()
	if err := hub.ConnectAll(ctx); err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}

	if err := sup.AcquireMultiChannel(ctx, "exp1", []channel.Request{{PresetName: "BF"}}, nil); err != nil {
		t.Fatalf("AcquireMultiChannel: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sup.WaitMultiChannel(waitCtx); err != nil {
		t.Fatalf("WaitMultiChannel: %v", err)
	}

	if err := sup.StartLiveView(ctx); err != nil {
		t.Fatalf("StartLiveView should succeed once acquisition has completed: %v", err)
	}
	sup.StopLiveView(ctx)
}

func TestWatchDeviceReadinessEmitsReadyOnTransition(t *testing.T) {
	sup, hub := newTestSupervisor(t)

	stream := events.NewStream(16)
	sup.Subscribe(stream, nil)

	received := make(chan core.Event, 16)
	go func() {
		for {
			e, ok := stream.Recv()
			if !ok {
				return
			}
			received <- e
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchStream := events.NewStream(16)
	go sup.WatchDeviceReadiness(ctx, watchStream)

	if err := hub.ConnectAll(context.Background()); err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-received:
			if e.Type == core.EventTaskStateChanged && e.Value == string(core.TaskReady) {
				return
			}
		case <-deadline:
			t.Fatalf("expected TaskStateChanged(Ready) after all required devices connected")
		}
	}
}
