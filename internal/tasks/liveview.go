// Package tasks implements the acquisition workflows layered on top of the
// property graph and channel control: continuous live view and multi-channel
// timelapse acquisition, grounded on
// original_source/src/task/live_view_task.cpp and
// original_source/src/task/multi_channel_task.cpp.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
	"github.com/sua-org/scope-bus/internal/graph"
	"github.com/sua-org/scope-bus/internal/image"
)

const liveViewBufferFrames = 2

// LiveViewTask runs the camera in free-running internal-trigger mode and
// publishes every captured frame to the image manager's single-slot live
// view buffer, grounded on live_view_task.cpp's Run/Stop pair.
type LiveViewTask struct {
	events.Sender

	hub        *graph.Hub
	images     *image.Manager
	cameraName string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewLiveViewTask(hub *graph.Hub, images *image.Manager, cameraName string) *LiveViewTask {
	return &LiveViewTask{hub: hub, images: images, cameraName: cameraName}
}

func (t *LiveViewTask) camera() (graph.CameraDriver, error) {
	d, err := t.hub.GetDevice(t.cameraName)
	if err != nil {
		return nil, err
	}
	cd, ok := d.CameraDriver()
	if !ok {
		return nil, core.Errorf(core.FailedPrecondition, "LiveViewTask", "device %q is not a camera", t.cameraName)
	}
	return cd, nil
}

// IsRunning reports whether the task's background loop is active.
func (t *LiveViewTask) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start prepares the buffer, forces an internal trigger, begins continuous
// acquisition, and spawns the frame-publishing loop. It returns once
// acquisition has actually started; the loop itself runs in the background
// until Stop is called.
func (t *LiveViewTask) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return core.Errorf(core.FailedPrecondition, "LiveViewTask.Start", "live view already running")
	}
	t.mu.Unlock()

	cam, err := t.camera()
	if err != nil {
		return err
	}

	if err := cam.AllocBuffer(liveViewBufferFrames); err != nil {
		return core.Wrap(core.Unavailable, "LiveViewTask.Start", err)
	}

	if err := t.ensureInternalTrigger(ctx); err != nil {
		return err
	}

	if err := cam.StartAcquisition(ctx, graph.ContinuousMode()); err != nil {
		return core.Wrap(core.Unavailable, "LiveViewTask.Start", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	t.running = true
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	t.Emit(core.Event{Type: core.EventTaskStateChanged, Value: string(core.TaskLive), Time: time.Now()})
	go t.runLoop(loopCtx, cam, done)
	return nil
}

// ensureInternalTrigger forces TriggerSource = Internal if it is not
// already, per live_view_task.cpp's StartAcquisition.
func (t *LiveViewTask) ensureInternalTrigger(ctx context.Context) error {
	path := core.NewPropertyPath(t.cameraName, "TriggerSource")
	v, err := t.hub.GetProperty(ctx, path)
	if err != nil {
		return err
	}
	if v == "Internal" {
		return nil
	}
	if err := t.hub.SetProperty(ctx, map[core.PropertyPath]graph.Value{path: "Internal"}); err != nil {
		return core.Wrap(core.Unavailable, "LiveViewTask.ensureInternalTrigger", err)
	}
	return t.hub.WaitProperty(ctx, []core.PropertyPath{path}, time.Now().Add(time.Second))
}

// runLoop mirrors live_view_task.cpp's Run: repeatedly wait for and fetch
// the latest frame. Cancelled means a clean stop; DeadlineExceeded (no
// frame arrived in time) is treated as a dropped frame and logged, not
// fatal; any other error aborts acquisition.
func (t *LiveViewTask) runLoop(ctx context.Context, cam graph.CameraDriver, done chan struct{}) {
	defer close(done)
	defer t.images.ClearLiveViewFrame()

	for {
		err := cam.WaitFrameReady(ctx, time.Second)
		if err != nil {
			switch core.KindOf(err) {
			case core.Cancelled:
				return
			case core.DeadlineExceeded:
				t.Emit(core.Event{Type: core.EventTaskMessage, Value: "live view: dropped frame", Time: time.Now()})
				continue
			default:
				t.Emit(core.Event{Type: core.EventTaskMessage, Value: "live view stopped: " + err.Error(), Time: time.Now()})
				_ = cam.StopAcquisition(context.Background())
				t.Emit(core.Event{Type: core.EventTaskStateChanged, Value: string(core.TaskError), Time: time.Now()})
				return
			}
		}

		frame, err := cam.GetFrame(-1)
		if err != nil {
			t.Emit(core.Event{Type: core.EventTaskMessage, Value: "live view: " + err.Error(), Time: time.Now()})
			continue
		}
		t.images.SetLiveViewFrame(frame.Data, frame.Width, frame.Height)
	}
}

// Stop cancels the frame loop, waits for it to exit, and stops acquisition.
func (t *LiveViewTask) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	cancel := t.cancel
	done := t.done
	t.running = false
	t.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	cam, err := t.camera()
	if err != nil {
		return err
	}
	if err := cam.StopAcquisition(ctx); err != nil {
		return core.Wrap(core.Unavailable, "LiveViewTask.Stop", err)
	}
	t.Emit(core.Event{Type: core.EventTaskStateChanged, Value: string(core.TaskReady), Time: time.Now()})
	return nil
}
