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
	Register("microscope", func(name string) (graph.Driver, error) {
		return newMicroscopeDriver(name), nil
	})
}

const microscopeMotionTime = 25 * time.Millisecond

type microscopeMotionBit int

const (
	microscopeMotionFocus microscopeMotionBit = iota
	microscopeMotionTurret
	microscopeMotionCount
)

// microscopeDriver simulates the motorized microscope body: focus drive,
// objective nosepiece, and the eyepiece/camera light-path switch.
// Grounded on the same PropertyNode/motion-status shape as stageDriver;
// original_source does not carry a dedicated microscope-body header so
// this follows device.h's generic Device contract directly.
type microscopeDriver struct {
	name string

	mu        sync.Mutex
	connected bool
	moving    [microscopeMotionCount]bool

	focusUm   int
	turret    string
	lightPath string

	statusHandler func(core.ConnectionState, string)
	stop          chan struct{}
	nodes         map[string]*graph.Node
}

func newMicroscopeDriver(name string) *microscopeDriver {
	d := &microscopeDriver{
		name:      name,
		turret:    "1",
		lightPath: "Eye",
	}
	d.nodes = map[string]*graph.Node{
		"Focus":          graph.NewNode("Focus", "Z focus position, microns", true, true, nil, d.getFocus, d.setFocus),
		"ObjectiveTurret": graph.NewNode("ObjectiveTurret", "nosepiece position", true, true, []string{"1", "2", "3", "4", "5", "6"}, d.getTurret, d.setTurret),
		"LightPath":       graph.NewNode("LightPath", "eyepiece/camera beam switch", true, true, []string{"Eye", "Camera"}, d.getLightPath, d.setLightPath),
		"MotionStatus":    graph.NewNode("MotionStatus", "composite motion-done byte", true, false, nil, d.getMotionStatus, nil),
	}
	return d
}

func (d *microscopeDriver) SetStatusHandler(h func(state core.ConnectionState, reason string)) {
	d.statusHandler = h
}

func (d *microscopeDriver) DetectDevice(ctx context.Context) bool { return true }

func (d *microscopeDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	d.connected = true
	d.stop = make(chan struct{})
	stop := d.stop
	d.mu.Unlock()
	go pollLoop(statusPollInterval, stop, d.pollMotionStatus)
	return nil
}

func (d *microscopeDriver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	d.connected = false
	return nil
}

func (d *microscopeDriver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *microscopeDriver) NodeMap() map[string]*graph.Node { return d.nodes }

func (d *microscopeDriver) pollMotionStatus() {
	var done []microscopeMotionBit
	d.mu.Lock()
	for b := microscopeMotionBit(0); b < microscopeMotionCount; b++ {
		if !d.moving[b] {
			done = append(done, b)
		}
	}
	d.mu.Unlock()

	for _, b := range done {
		switch b {
		case microscopeMotionFocus:
			d.nodes["Focus"].ObserveExternal(d.snapshotFocus())
		case microscopeMotionTurret:
			d.nodes["ObjectiveTurret"].ObserveExternal(d.snapshotTurret())
		}
	}
}

func (d *microscopeDriver) snapshotFocus() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strconv.Itoa(d.focusUm)
}

func (d *microscopeDriver) snapshotTurret() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.turret
}

func (d *microscopeDriver) getFocus(ctx context.Context) (graph.Value, error) {
	return d.snapshotFocus(), nil
}

func (d *microscopeDriver) setFocus(ctx context.Context, v graph.Value) error {
	target, err := strconv.Atoi(v)
	if err != nil {
		return core.Errorf(core.InvalidArgument, "microscopeDriver.setFocus", "invalid focus %q", v)
	}
	d.mu.Lock()
	d.moving[microscopeMotionFocus] = true
	d.mu.Unlock()
	go func() {
		time.Sleep(microscopeMotionTime)
		d.mu.Lock()
		d.focusUm = target
		d.moving[microscopeMotionFocus] = false
		d.mu.Unlock()
	}()
	return nil
}

func (d *microscopeDriver) getTurret(ctx context.Context) (graph.Value, error) {
	return d.snapshotTurret(), nil
}

func (d *microscopeDriver) setTurret(ctx context.Context, v graph.Value) error {
	d.mu.Lock()
	d.moving[microscopeMotionTurret] = true
	d.mu.Unlock()
	go func() {
		time.Sleep(microscopeMotionTime)
		d.mu.Lock()
		d.turret = v
		d.moving[microscopeMotionTurret] = false
		d.mu.Unlock()
	}()
	return nil
}

func (d *microscopeDriver) getLightPath(ctx context.Context) (graph.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lightPath, nil
}

func (d *microscopeDriver) setLightPath(ctx context.Context, v graph.Value) error {
	d.mu.Lock()
	d.lightPath = v
	d.mu.Unlock()
	// The beam switch is near-instant mechanically; confirm it with an
	// observation shortly after Set returns (the motion-status poller does
	// not track LightPath), so node.Set's pending-set bookkeeping is in
	// place before the observation arrives.
	go func() {
		time.Sleep(time.Millisecond)
		d.nodes["LightPath"].ObserveExternal(v)
	}()
	return nil
}

func (d *microscopeDriver) getMotionStatus(ctx context.Context) (graph.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := make([]byte, microscopeMotionCount)
	for i, moving := range d.moving {
		if moving {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b), nil
}
