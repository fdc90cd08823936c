package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
)

// Driver is the interface a vendor adapter implements, consumed by Device.
// It is the "device driver variant" of spec.md §6: everything beyond
// connect/disconnect/node access is opaque to the core.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	NodeMap() map[string]*Node
}

// Detector is an optional probe a driver can implement to fail fast before
// a real Connect attempt (spec.md §6).
type Detector interface {
	DetectDevice(ctx context.Context) bool
}

// StatusAwareDriver lets a driver push connection-state updates
// asynchronously (e.g. from a poll loop detecting a dropped link).
type StatusAwareDriver interface {
	SetStatusHandler(func(state core.ConnectionState, reason string))
}

// Device is one entry in the hub's registry: a name, connection state, and
// the property nodes its driver exposes. The device owns its nodes as
// values reached through the driver's NodeMap (no separate node-ownership
// layer), per spec.md §3 and §9's device/property-node cycle removal.
type Device struct {
	events.Sender

	Name   string
	driver Driver

	mu    sync.RWMutex
	state core.ConnectionState
}

func NewDevice(name string, driver Driver) *Device {
	d := &Device{Name: name, driver: driver, state: core.NotConnected}
	if aware, ok := driver.(StatusAwareDriver); ok {
		aware.SetStatusHandler(d.handleStatusUpdate)
	}
	return d
}

func (d *Device) handleStatusUpdate(state core.ConnectionState, reason string) {
	d.setState(state)
	d.Emit(core.Event{
		Type:  core.EventDeviceConnectionStateChanged,
		Value: string(state),
		Time:  time.Now(),
	})
	_ = reason
}

func (d *Device) setState(s core.ConnectionState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Device) State() core.ConnectionState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Device) IsConnected() bool {
	return d.State() == core.Connected
}

// Connect runs the driver's detect-then-connect sequence and, on success,
// marks every node the driver exposes as valid (spec.md §3: "a node is
// valid iff at least one connection attempt on its device has completed
// past enumeration").
func (d *Device) Connect(ctx context.Context) error {
	if detector, ok := d.driver.(Detector); ok {
		if !detector.DetectDevice(ctx) {
			return core.Errorf(core.Unavailable, "Device.Connect", "device %q not detected", d.Name)
		}
	}

	d.setState(core.Connecting)
	d.Emit(core.Event{Type: core.EventDeviceConnectionStateChanged, Value: string(core.Connecting), Time: time.Now()})

	if err := d.driver.Connect(ctx); err != nil {
		d.setState(core.NotConnected)
		d.Emit(core.Event{Type: core.EventDeviceConnectionStateChanged, Value: string(core.NotConnected), Time: time.Now()})
		return core.Wrap(core.Unavailable, "Device.Connect", err)
	}

	for _, node := range d.driver.NodeMap() {
		node.MarkValid()
	}

	d.setState(core.Connected)
	d.Emit(core.Event{Type: core.EventDeviceConnectionStateChanged, Value: string(core.Connected), Time: time.Now()})
	return nil
}

func (d *Device) Disconnect(ctx context.Context) error {
	if !d.IsConnected() {
		return nil
	}
	d.setState(core.Disconnecting)
	d.Emit(core.Event{Type: core.EventDeviceConnectionStateChanged, Value: string(core.Disconnecting), Time: time.Now()})

	err := d.driver.Disconnect(ctx)
	d.setState(core.NotConnected)
	d.Emit(core.Event{Type: core.EventDeviceConnectionStateChanged, Value: string(core.NotConnected), Time: time.Now()})
	if err != nil {
		return core.Wrap(core.Unavailable, "Device.Disconnect", err)
	}
	return nil
}

// Node returns the named property node, or nil if it does not exist.
func (d *Device) Node(name string) *Node {
	return d.driver.NodeMap()[name]
}

// HasProperty reports whether name names a valid property on this device.
func (d *Device) HasProperty(name string) bool {
	n := d.Node(name)
	return n != nil && n.Valid()
}

// ListProperty returns the names of every valid property, sorted.
func (d *Device) ListProperty() []string {
	nodes := d.driver.NodeMap()
	names := make([]string, 0, len(nodes))
	for name, n := range nodes {
		if n.Valid() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// GetProperty fails fast with FailedPrecondition when the device is not
// connected, except this is the one path that does touch the device, per
// spec.md §4.1 "connection gating".
func (d *Device) GetProperty(ctx context.Context, name string) (Value, error) {
	if !d.IsConnected() {
		return "", core.Errorf(core.FailedPrecondition, "Device.GetProperty", "device %q not connected", d.Name)
	}
	n := d.Node(name)
	if n == nil || !n.Valid() {
		return "", core.Errorf(core.NotFound, "Device.GetProperty", "property %q not found on %q", name, d.Name)
	}
	v, ev, err := n.Get(ctx)
	if err != nil {
		return "", err
	}
	d.emitObservation(name, v, ev)
	return v, nil
}

func (d *Device) emitObservation(property string, v Value, ev observationEvents) {
	path := core.NewPropertyPath("", property)
	if ev.valueChanged {
		d.Emit(core.Event{Type: core.EventDevicePropertyValueUpdate, Path: path, Value: v, Time: time.Now()})
	}
	if ev.operationComplete {
		d.Emit(core.Event{Type: core.EventDeviceOperationComplete, Path: path, Value: ev.completedValue, Time: time.Now()})
	}
}

// SetProperty dispatches a single write. It does not wait for completion.
func (d *Device) SetProperty(ctx context.Context, name string, value Value) error {
	if !d.IsConnected() {
		return core.Errorf(core.FailedPrecondition, "Device.SetProperty", "device %q not connected", d.Name)
	}
	n := d.Node(name)
	if n == nil || !n.Valid() {
		return core.Errorf(core.NotFound, "Device.SetProperty", "property %q not found on %q", name, d.Name)
	}
	return n.Set(ctx, value)
}

// SetProperties applies a batch of property writes under the device's
// serialization: the caller (the hub) is responsible for issuing at most
// one batch per device at a time. The device reports the first failing
// property as the overall status, per spec.md §4.3.
func (d *Device) SetProperties(ctx context.Context, values map[string]Value) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := d.SetProperty(ctx, name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

// WaitProperties blocks until every named property's pending set clears or
// the deadline passes, returning on first failure.
func (d *Device) WaitProperties(ctx context.Context, names []string, deadline time.Time) error {
	for _, name := range names {
		n := d.Node(name)
		if n == nil || !n.Valid() {
			return core.Errorf(core.NotFound, "Device.WaitProperties", "property %q not found on %q", name, d.Name)
		}
		if err := n.WaitUntil(ctx, deadline); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot aggregates the cached value of every valid node.
func (d *Device) Snapshot() map[string]Value {
	out := make(map[string]Value)
	for name, n := range d.driver.NodeMap() {
		if !n.Valid() {
			continue
		}
		if v, _, ok := n.GetSnapshot(); ok {
			out[name] = v
		}
	}
	return out
}
