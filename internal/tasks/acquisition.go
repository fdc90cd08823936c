package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/sua-org/scope-bus/internal/channel"
	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
	"github.com/sua-org/scope-bus/internal/graph"
	"github.com/sua-org/scope-bus/internal/image"
)

const (
	shutterTimeout  = 2 * time.Second
	exposureTimeout = 30 * time.Second
	frameTimeout    = 10 * time.Second
)

// MultiChannelTask runs a one-shot acquisition across a sequence of channel
// presets, pipelining each channel's switch against the previous channel's
// readout. Grounded on original_source/src/task/multi_channel_task.cpp's
// MultiChannelTask::Acquire.
type MultiChannelTask struct {
	events.Sender

	hub        *graph.Hub
	images     *image.Manager
	control    *channel.Control
	cameraName string
}

func NewMultiChannelTask(hub *graph.Hub, images *image.Manager, control *channel.Control, cameraName string) *MultiChannelTask {
	return &MultiChannelTask{hub: hub, images: images, control: control, cameraName: cameraName}
}

func (t *MultiChannelTask) camera() (graph.CameraDriver, error) {
	d, err := t.hub.GetDevice(t.cameraName)
	if err != nil {
		return nil, err
	}
	cd, ok := d.CameraDriver()
	if !ok {
		return nil, core.Errorf(core.FailedPrecondition, "MultiChannelTask", "device %q is not a camera", t.cameraName)
	}
	return cd, nil
}

// enableTrigger forces TriggerSource = Software, the trigger mode the
// per-channel acquisition loop fires explicitly (multi_channel_task.cpp's
// EnableTrigger).
func (t *MultiChannelTask) enableTrigger(ctx context.Context) error {
	path := core.NewPropertyPath(t.cameraName, "TriggerSource")
	v, err := t.hub.GetProperty(ctx, path)
	if err != nil {
		return err
	}
	if v == "Software" {
		return nil
	}
	if err := t.hub.SetProperty(ctx, map[core.PropertyPath]graph.Value{path: "Software"}); err != nil {
		return core.Wrap(core.Unavailable, "MultiChannelTask.enableTrigger", err)
	}
	return t.hub.WaitProperty(ctx, []core.PropertyPath{path}, time.Now().Add(time.Second))
}

// Acquire runs the full sequence: one frame per request, in order, writing
// into a fresh NDImage named imageName with one channel per request.
func (t *MultiChannelTask) Acquire(ctx context.Context, imageName string, requests []channel.Request, userMetadata map[string]interface{}) (err error) {
	if len(requests) == 0 {
		return core.Errorf(core.InvalidArgument, "MultiChannelTask.Acquire", "no channels requested")
	}

	start := time.Now()
	cam, cerr := t.camera()
	if cerr != nil {
		return cerr
	}

	if err := t.enableTrigger(ctx); err != nil {
		return err
	}
	if err := t.control.SwitchChannel(ctx, requests[0]); err != nil {
		return err
	}
	if err := cam.AllocBuffer(len(requests)); err != nil {
		return core.Wrap(core.Unavailable, "MultiChannelTask.Acquire", err)
	}

	channelNames := make([]string, len(requests))
	for i, r := range requests {
		channelNames[i] = r.PresetName
	}
	img := t.images.NewNDImage(imageName, channelNames)

	t.Emit(core.Event{Type: core.EventTaskStateChanged, Value: string(core.TaskRunning), Time: time.Now()})

	if err := cam.StartAcquisition(ctx, graph.SnapMode(len(requests))); err != nil {
		t.reportFailure(err)
		return core.Wrap(core.Unavailable, "MultiChannelTask.Acquire", err)
	}

	defer func() {
		_ = t.control.CloseCurrentShutter(context.Background())
		_ = cam.StopAcquisition(context.Background())
		if err != nil {
			t.reportFailure(err)
		}
	}()

	for i, req := range requests {
		if werr := t.control.WaitSwitchChannel(ctx); werr != nil {
			return werr
		}
		t.Emit(core.Event{Type: core.EventTaskMessage, Value: fmt.Sprintf("acquiring channel %d/%d: %s", i+1, len(requests), req.PresetName), Time: time.Now()})

		snapshot, eerr := t.exposeFrame(ctx, cam)
		if eerr != nil {
			return eerr
		}

		// Start the next channel's switch now, before reading out this
		// frame, so the switch overlaps with GetFrame/AddImage instead of
		// stalling behind them (multi_channel_task.cpp's Acquire loop:
		// the device-property snapshot above happens strictly before this
		// point, which is the ordering invariant the pipelining depends on).
		if i+1 < len(requests) {
			if serr := t.control.SwitchChannel(ctx, requests[i+1]); serr != nil {
				return serr
			}
		}

		frame, ferr := t.getFrame(ctx, cam, i)
		if ferr != nil {
			return ferr
		}

		illum := req.IlluminationIntensity
		meta := image.FrameMetadata(frame.ExposureEnd, image.ChannelMetadata{
			PresetName:            req.PresetName,
			ExposureMs:            req.ExposureMs,
			IlluminationIntensity: &illum,
		}, snapshot, userMetadata)
		t.images.AddImage(img, i, 0, 0, frame.Data, frame.Width, frame.Height, meta)
	}

	t.Emit(core.Event{Type: core.EventTaskStateChanged, Value: string(core.TaskReady), Time: time.Now()})
	t.Emit(core.Event{Type: core.EventTaskMessage, Value: fmt.Sprintf("acquisition complete [%d ms]", time.Since(start).Milliseconds()), Time: time.Now()})
	return nil
}

// exposeFrame drives one exposure: open the shutter, fire the software
// trigger, snapshot every device property, wait for the exposure to end,
// then close the shutter again. The snapshot is taken strictly before the
// exposure-end wait so it reflects the state the frame was actually
// captured under.
func (t *MultiChannelTask) exposeFrame(ctx context.Context, cam graph.CameraDriver) (map[core.PropertyPath]graph.Value, error) {
	if err := t.control.OpenCurrentShutter(ctx); err != nil {
		return nil, err
	}
	if err := t.control.WaitShutter(ctx); err != nil {
		return nil, err
	}
	if err := cam.FireTrigger(ctx); err != nil {
		return nil, err
	}

	snapshot, err := t.hub.GetSnapshot(core.ParsePropertyPath("/"))
	if err != nil {
		return nil, core.Wrap(core.Unavailable, "MultiChannelTask.exposeFrame", err)
	}

	if err := cam.WaitExposureEnd(ctx, exposureTimeout); err != nil {
		return nil, err
	}

	if err := t.control.CloseCurrentShutter(ctx); err != nil {
		return nil, err
	}
	if err := t.control.WaitShutter(ctx); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// getFrame waits for the frame to be ready and fetches it. A timed-out wait
// is logged and the fetch attempted anyway, mirroring multi_channel_task.cpp's
// GetFrame which warns rather than aborts on a late frame.
func (t *MultiChannelTask) getFrame(ctx context.Context, cam graph.CameraDriver, i int) (graph.Frame, error) {
	if err := cam.WaitFrameReady(ctx, frameTimeout); err != nil {
		if core.KindOf(err) == core.Cancelled {
			return graph.Frame{}, err
		}
		t.Emit(core.Event{Type: core.EventTaskMessage, Value: fmt.Sprintf("frame %d: %v", i, err), Time: time.Now()})
	}
	return cam.GetFrame(i)
}

func (t *MultiChannelTask) reportFailure(err error) {
	t.Emit(core.Event{Type: core.EventTaskStateChanged, Value: string(core.TaskError), Time: time.Now()})
	t.Emit(core.Event{Type: core.EventTaskMessage, Value: "acquisition failed: " + err.Error(), Time: time.Now()})
}
