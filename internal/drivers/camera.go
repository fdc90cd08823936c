package drivers

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/graph"
)

func init() {
	Register("camera", func(name string) (graph.Driver, error) {
		return newCameraDriver(name), nil
	})
}

// genCond is a generation-counter condition variable: Signal bumps the
// generation and wakes every waiter; Wait blocks until the generation
// moves past the value observed on entry, a deadline, or ctx cancellation.
// Used for wait_exposure_end / wait_frame_ready (spec.md §4.2), which need
// both a timeout and cancellation that sync.Cond alone cannot express.
type genCond struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  int
}

func newGenCond() *genCond {
	g := &genCond{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *genCond) Signal() {
	g.mu.Lock()
	g.gen++
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *genCond) Wait(ctx context.Context, timeout time.Duration, op string) error {
	g.mu.Lock()
	start := g.gen
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.mu.Lock()
		for g.gen == start {
			g.cond.Wait()
		}
		g.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return core.Errorf(core.DeadlineExceeded, op, "timed out after %s", timeout)
	case <-ctx.Done():
		return core.Wrap(core.Cancelled, op, ctx.Err())
	}
}

// cameraDriver simulates a scientific camera: ring buffer, snap/continuous
// acquisition state machine, software/internal trigger, grounded on
// original_source/src/device/hamamatsu/hamamatsu_dcam.h's operation set
// (AllocBuffer, StartAcquisition, WaitExposureEnd/WaitFrameReady, GetFrame).
type cameraDriver struct {
	name string

	mu            sync.Mutex
	connected     bool
	exposureSec   float64
	triggerSource string // "Internal" | "Software"

	buffer   []graph.Frame
	bufCap   int
	written  int
	mode     graph.AcquisitionMode
	running  bool
	stopping bool

	exposureEnd *genCond
	frameReady  *genCond
	triggerCh   chan struct{}
	runLoopDone chan struct{}

	statusHandler func(core.ConnectionState, string)
	nodes         map[string]*graph.Node
}

func newCameraDriver(name string) *cameraDriver {
	d := &cameraDriver{
		name:          name,
		exposureSec:   0.01,
		triggerSource: "Internal",
		exposureEnd:   newGenCond(),
		frameReady:    newGenCond(),
		triggerCh:     make(chan struct{}, 1),
	}
	d.nodes = map[string]*graph.Node{
		"ExposureTime":  graph.NewNode("ExposureTime", "exposure time, seconds", true, true, nil, d.getExposure, d.setExposure),
		"TriggerSource": graph.NewNode("TriggerSource", "acquisition trigger source", true, true, []string{"Internal", "Software"}, d.getTriggerSource, d.setTriggerSource),
	}
	return d
}

func (d *cameraDriver) SetStatusHandler(h func(state core.ConnectionState, reason string)) {
	d.statusHandler = h
}

func (d *cameraDriver) DetectDevice(ctx context.Context) bool { return true }

func (d *cameraDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	return nil
}

func (d *cameraDriver) Disconnect(ctx context.Context) error {
	_ = d.StopAcquisition(ctx)
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

func (d *cameraDriver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *cameraDriver) NodeMap() map[string]*graph.Node { return d.nodes }

func (d *cameraDriver) getExposure(ctx context.Context) (graph.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strconv.FormatFloat(d.exposureSec, 'g', 6, 64), nil
}

func (d *cameraDriver) setExposure(ctx context.Context, v graph.Value) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return core.Errorf(core.InvalidArgument, "cameraDriver.setExposure", "invalid exposure %q", v)
	}
	d.mu.Lock()
	d.exposureSec = f
	d.mu.Unlock()
	go func() {
		time.Sleep(time.Millisecond)
		d.nodes["ExposureTime"].ObserveExternal(v)
	}()
	return nil
}

func (d *cameraDriver) getTriggerSource(ctx context.Context) (graph.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggerSource, nil
}

func (d *cameraDriver) setTriggerSource(ctx context.Context, v graph.Value) error {
	d.mu.Lock()
	d.triggerSource = v
	d.mu.Unlock()
	go func() {
		time.Sleep(time.Millisecond)
		d.nodes["TriggerSource"].ObserveExternal(v)
	}()
	return nil
}

// AllocBuffer is idempotent if the ring is already at least n deep,
// otherwise it releases and reallocates (spec.md §4.2).
func (d *cameraDriver) AllocBuffer(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bufCap >= n {
		return nil
	}
	d.buffer = make([]graph.Frame, n)
	d.bufCap = n
	d.written = 0
	return nil
}

func (d *cameraDriver) ReleaseBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = nil
	d.bufCap = 0
	d.written = 0
	return nil
}

func (d *cameraDriver) StartAcquisition(ctx context.Context, mode graph.AcquisitionMode) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return core.Errorf(core.FailedPrecondition, "cameraDriver.StartAcquisition", "acquisition already running")
	}
	if d.bufCap == 0 {
		d.mu.Unlock()
		return core.Errorf(core.FailedPrecondition, "cameraDriver.StartAcquisition", "buffer not allocated")
	}
	d.mode = mode
	d.running = true
	d.stopping = false
	trigger := d.triggerSource
	d.runLoopDone = make(chan struct{})
	d.mu.Unlock()

	go d.runLoop(trigger)
	return nil
}

// runLoop drives one simulated frame per exposure cycle: if the trigger
// source is Internal it free-runs at the configured exposure interval; if
// Software it waits for FireTrigger. Each cycle signals exposureEnd then
// writes a frame and signals frameReady, matching the two suspension
// points callers rely on.
func (d *cameraDriver) runLoop(trigger string) {
	defer close(d.runLoopDone)
	for {
		d.mu.Lock()
		if d.stopping {
			d.running = false
			d.mu.Unlock()
			return
		}
		exposure := time.Duration(d.exposureSec * float64(time.Second))
		mode := d.mode
		ringCap := d.bufCap
		d.mu.Unlock()

		if trigger == "Software" {
			select {
			case <-d.triggerCh:
			case <-time.After(2 * time.Second):
				continue
			}
		}
		if exposure <= 0 {
			exposure = time.Millisecond
		}
		// Sleep through the exposure in short slices so StopAcquisition
		// aborts a long exposure instead of waiting it out.
		for end := time.Now().Add(exposure); time.Now().Before(end) && !d.isStopping(); {
			time.Sleep(time.Millisecond)
		}

		d.mu.Lock()
		if d.stopping {
			d.running = false
			d.mu.Unlock()
			return
		}
		idx := d.written % ringCap
		now := time.Now()
		d.buffer[idx] = graph.Frame{Index: d.written, Data: []byte{}, Width: 0, Height: 0, ExposureEnd: now}
		d.written++
		written := d.written
		d.mu.Unlock()

		d.exposureEnd.Signal()
		d.frameReady.Signal()

		if !mode.Continuous && written >= mode.Count {
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			return
		}
	}
}

func (d *cameraDriver) StopAcquisition(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.stopping = true
	done := d.runLoopDone
	d.mu.Unlock()

	d.exposureEnd.Signal()
	d.frameReady.Signal()

	select {
	case <-done:
		return nil
	case <-time.After(time.Second):
		return core.Errorf(core.DeadlineExceeded, "cameraDriver.StopAcquisition", "acquisition did not stop within 1s")
	}
}

func (d *cameraDriver) isStopping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopping
}

func (d *cameraDriver) WaitExposureEnd(ctx context.Context, timeout time.Duration) error {
	if err := d.exposureEnd.Wait(ctx, timeout, "cameraDriver.WaitExposureEnd"); err != nil {
		return err
	}
	if d.isStopping() {
		return core.Errorf(core.Cancelled, "cameraDriver.WaitExposureEnd", "acquisition stopped")
	}
	return nil
}

func (d *cameraDriver) WaitFrameReady(ctx context.Context, timeout time.Duration) error {
	if err := d.frameReady.Wait(ctx, timeout, "cameraDriver.WaitFrameReady"); err != nil {
		return err
	}
	if d.isStopping() {
		return core.Errorf(core.Cancelled, "cameraDriver.WaitFrameReady", "acquisition stopped")
	}
	return nil
}

func (d *cameraDriver) GetFrame(i int) (graph.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.written == 0 {
		return graph.Frame{}, core.Errorf(core.FailedPrecondition, "cameraDriver.GetFrame", "no frames captured yet")
	}
	if i == -1 {
		idx := (d.written - 1) % d.bufCap
		return d.buffer[idx], nil
	}
	if i < 0 || i >= d.written {
		return graph.Frame{}, core.Errorf(core.InvalidArgument, "cameraDriver.GetFrame", "frame index %d out of range", i)
	}
	idx := i % d.bufCap
	return d.buffer[idx], nil
}

func (d *cameraDriver) FireTrigger(ctx context.Context) error {
	d.mu.Lock()
	src := d.triggerSource
	d.mu.Unlock()
	if src != "Software" {
		return core.Errorf(core.FailedPrecondition, "cameraDriver.FireTrigger", "trigger source is %q, not Software", src)
	}
	select {
	case d.triggerCh <- struct{}{}:
	default:
	}
	return nil
}
