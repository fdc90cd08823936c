package channel

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
	"github.com/sua-org/scope-bus/internal/graph"
)

// exposureTimePath is the property every preset's effective map implicitly
// writes, per spec.md §4.5 step 2 ("Add /Camera/ExposureTime ← exposure_ms
// × 1e-3"). The camera device must be registered under this name.
const exposureTimePath = "/Camera/ExposureTime"

const switchTimeout = 5 * time.Second

type switchHandle struct {
	done chan struct{}
	err  error
}

// Control is the channel-switch engine of spec.md §4.5: a fixed preset
// catalog, the shutter currently owned by the most recently committed
// preset, and an at-most-one in-flight switch. Grounded directly on
// original_source/src/task/channelcontrol.{h,cpp}.
type Control struct {
	events.Sender

	hub     *graph.Hub
	presets map[string]Preset
	names   []string

	shutterMu      sync.RWMutex
	currentShutter core.PropertyPath

	switchMu sync.Mutex
	inFlight *switchHandle
}

func NewControl(hub *graph.Hub, presets map[string]Preset) *Control {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Control{hub: hub, presets: presets, names: names}
}

func (c *Control) ListPresetNames() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

func (c *Control) GetPreset(name string) (Preset, error) {
	p, ok := c.presets[name]
	if !ok {
		return Preset{}, core.Errorf(core.InvalidArgument, "Control.GetPreset", "unknown preset %q", name)
	}
	return p, nil
}

// SwitchChannel joins any still-running previous switch (logging its
// failure via TaskMessage rather than propagating it) and then launches
// the new switch asynchronously, storing its handle for WaitSwitchChannel.
func (c *Control) SwitchChannel(ctx context.Context, req Request) error {
	preset, err := c.GetPreset(req.PresetName)
	if err != nil {
		return err
	}

	c.switchMu.Lock()
	prev := c.inFlight
	c.switchMu.Unlock()
	if prev != nil {
		<-prev.done
		if prev.err != nil {
			c.Emit(core.Event{Type: core.EventTaskMessage, Value: fmt.Sprintf("ignoring error in previous switch channel: %v", prev.err), Time: time.Now()})
		}
	}

	h := &switchHandle{done: make(chan struct{})}
	c.switchMu.Lock()
	c.inFlight = h
	c.switchMu.Unlock()

	go func() {
		h.err = c.runSwitchChannel(ctx, preset, req)
		close(h.done)
	}()
	return nil
}

// WaitSwitchChannel joins the most recently started switch.
func (c *Control) WaitSwitchChannel(ctx context.Context) error {
	c.switchMu.Lock()
	h := c.inFlight
	c.switchMu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return core.Wrap(core.Cancelled, "Control.WaitSwitchChannel", ctx.Err())
	}
}

func (c *Control) runSwitchChannel(ctx context.Context, preset Preset, req Request) error {
	start := time.Now()

	effective := c.effectivePropertyValue(preset, req)
	snapshot, err := c.hub.GetSnapshot(core.ParsePropertyPath("/"))
	if err != nil {
		return core.Wrap(core.Unavailable, "Control.runSwitchChannel", err)
	}
	diff := diffSnapshot(snapshot, effective)

	c.shutterMu.Lock()
	c.currentShutter = core.ParsePropertyPath(preset.ShutterProperty)
	c.shutterMu.Unlock()

	if len(diff) == 0 {
		c.Emit(core.Event{Type: core.EventTaskChannelChanged, Value: preset.Name, Time: time.Now()})
		return nil
	}

	if err := c.hub.SetProperty(ctx, diff); err != nil {
		return core.Wrap(core.Unavailable, "Control.runSwitchChannel", fmt.Errorf("switch to channel %s: %w", preset.Name, err))
	}

	paths := make([]core.PropertyPath, 0, len(diff))
	for p := range diff {
		paths = append(paths, p)
	}
	if err := c.hub.WaitProperty(ctx, paths, time.Now().Add(switchTimeout)); err != nil {
		message := fmt.Sprintf("timeout switching to channel %s: %v", preset.Name, err)
		c.Emit(core.Event{Type: core.EventTaskMessage, Value: message, Time: time.Now()})
		return core.Errorf(core.DeadlineExceeded, "Control.runSwitchChannel", "%s", message)
	}

	message := fmt.Sprintf("switched to channel %s [%d ms]", preset.Name, time.Since(start).Milliseconds())
	c.Emit(core.Event{Type: core.EventTaskChannelChanged, Value: preset.Name, Time: time.Now()})
	c.Emit(core.Event{Type: core.EventTaskMessage, Value: message, Time: time.Now()})
	return nil
}

// effectivePropertyValue computes the property-value map a preset
// actually commits: its own map, plus illumination (if any) and exposure
// time, per spec.md §4.5 step 2. The shutter property is deliberately
// excluded.
func (c *Control) effectivePropertyValue(preset Preset, req Request) map[core.PropertyPath]graph.Value {
	out := make(map[core.PropertyPath]graph.Value, len(preset.PropertyValue)+2)
	for path, value := range preset.PropertyValue {
		out[core.ParsePropertyPath(path)] = value
	}
	if preset.IlluminationProperty != "" {
		out[core.ParsePropertyPath(preset.IlluminationProperty)] = strconv.Itoa(int(math.Round(req.IlluminationIntensity)))
	}
	exposureSec := req.ExposureMs / 1000.0
	out[core.ParsePropertyPath(exposureTimePath)] = strconv.FormatFloat(exposureSec, 'g', 6, 64)
	return out
}

func diffSnapshot(snapshot, wanted map[core.PropertyPath]graph.Value) map[core.PropertyPath]graph.Value {
	diff := make(map[core.PropertyPath]graph.Value)
	for path, value := range wanted {
		if cur, ok := snapshot[path]; !ok || cur != value {
			diff[path] = value
		}
	}
	return diff
}

func (c *Control) GetCurrentShutter() core.PropertyPath {
	c.shutterMu.RLock()
	defer c.shutterMu.RUnlock()
	return c.currentShutter
}

// OpenCurrentShutter / CloseCurrentShutter / WaitShutter are no-ops when no
// preset has been committed yet (empty current_shutter), per
// channelcontrol.cpp.
func (c *Control) OpenCurrentShutter(ctx context.Context) error {
	return c.setShutter(ctx, "Open")
}

func (c *Control) CloseCurrentShutter(ctx context.Context) error {
	return c.setShutter(ctx, "Closed")
}

func (c *Control) setShutter(ctx context.Context, value graph.Value) error {
	shutter := c.GetCurrentShutter()
	if shutter.Empty() {
		return nil
	}
	return c.hub.SetProperty(ctx, map[core.PropertyPath]graph.Value{shutter: value})
}

func (c *Control) WaitShutter(ctx context.Context) error {
	shutter := c.GetCurrentShutter()
	if shutter.Empty() {
		return nil
	}
	return c.hub.WaitProperty(ctx, []core.PropertyPath{shutter}, time.Now().Add(300*time.Millisecond))
}
