package drivers

import (
	"context"
	"testing"
	"time"

	"github.com/sua-org/scope-bus/internal/graph"
)

func TestCameraDriverSnapSequence(t *testing.T) {
	d := newCameraDriver("camera")
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer d.Disconnect(context.Background())

	if err := d.AllocBuffer(4); err != nil {
		t.Fatalf("AllocBuffer: %v", err)
	}
	exposure := d.nodes["ExposureTime"]
	exposure.MarkValid()
	_ = exposure.Set(context.Background(), "0.001")
	_ = exposure.WaitUntil(context.Background(), time.Now().Add(time.Second))

	if err := d.StartAcquisition(context.Background(), graph.SnapMode(3)); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := d.WaitExposureEnd(context.Background(), time.Second); err != nil {
			t.Fatalf("WaitExposureEnd %d: %v", i, err)
		}
		if err := d.WaitFrameReady(context.Background(), time.Second); err != nil {
			t.Fatalf("WaitFrameReady %d: %v", i, err)
		}
		if _, err := d.GetFrame(i); err != nil {
			t.Fatalf("GetFrame %d: %v", i, err)
		}
	}
}

func TestCameraDriverStopAbortsWait(t *testing.T) {
	d := newCameraDriver("camera")
	_ = d.Connect(context.Background())
	defer d.Disconnect(context.Background())
	_ = d.AllocBuffer(2)

	exposure := d.nodes["ExposureTime"]
	exposure.MarkValid()
	_ = exposure.Set(context.Background(), "5")

	if err := d.StartAcquisition(context.Background(), graph.ContinuousMode()); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- d.WaitFrameReady(context.Background(), 10*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := d.StopAcquisition(context.Background()); err != nil {
		t.Fatalf("StopAcquisition: %v", err)
	}

	select {
	case err := <-errc:
		if err == nil {
			t.Fatalf("expected Cancelled after stop, got nil")
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitFrameReady did not return after stop")
	}
}

func TestCameraDriverSoftwareTrigger(t *testing.T) {
	d := newCameraDriver("camera")
	_ = d.Connect(context.Background())
	defer d.Disconnect(context.Background())
	_ = d.AllocBuffer(2)

	trig := d.nodes["TriggerSource"]
	trig.MarkValid()
	_ = trig.Set(context.Background(), "Software")
	_ = trig.WaitUntil(context.Background(), time.Now().Add(time.Second))

	if err := d.StartAcquisition(context.Background(), graph.SnapMode(1)); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	if err := d.FireTrigger(context.Background()); err != nil {
		t.Fatalf("FireTrigger: %v", err)
	}
	if err := d.WaitFrameReady(context.Background(), time.Second); err != nil {
		t.Fatalf("WaitFrameReady: %v", err)
	}
}

var _ graph.CameraDriver = (*cameraDriver)(nil)
