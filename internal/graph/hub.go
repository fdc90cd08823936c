package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
)

// Hub is the process-wide device registry of spec.md §4.3: it resolves
// PropertyPaths against registered devices and fans batched requests out
// to however many devices they touch concurrently, merging per-device
// results with AggregateError. Grounded on
// original_source/src/device/devicehub.{h,cpp}.
type Hub struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

func NewHub() *Hub {
	return &Hub{devices: make(map[string]*Device)}
}

// AddDevice registers d under its own name. It is an error to register the
// same name twice.
func (h *Hub) AddDevice(d *Device) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.devices[d.Name]; exists {
		return core.Errorf(core.InvalidArgument, "Hub.AddDevice", "device %q already registered", d.Name)
	}
	h.devices[d.Name] = d
	return nil
}

func (h *Hub) GetDevice(name string) (*Device, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.devices[name]
	if !ok {
		return nil, core.Errorf(core.NotFound, "Hub.GetDevice", "device %q not registered", name)
	}
	return d, nil
}

// ListDevices returns every registered device name, sorted.
func (h *Hub) ListDevices() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.devices))
	for name := range h.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListConnected returns the sorted names of currently connected devices.
func (h *Hub) ListConnected() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.devices))
	for name, d := range h.devices {
		if d.IsConnected() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (h *Hub) snapshotDevices() map[string]*Device {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*Device, len(h.devices))
	for name, d := range h.devices {
		out[name] = d
	}
	return out
}

// ConnectAll connects every registered device concurrently, one goroutine
// per device, merging results with AggregateError (devicehub.cpp's
// runDeviceConnect).
func (h *Hub) ConnectAll(ctx context.Context) error {
	devices := h.snapshotDevices()
	var wg sync.WaitGroup
	var mu sync.Mutex
	causes := make(map[string]error)

	for name, d := range devices {
		wg.Add(1)
		go func(name string, d *Device) {
			defer wg.Done()
			err := d.Connect(ctx)
			mu.Lock()
			causes[name] = err
			mu.Unlock()
		}(name, d)
	}
	wg.Wait()
	return core.AggregateError("Hub.ConnectAll", causes)
}

// DisconnectAll mirrors ConnectAll for teardown.
func (h *Hub) DisconnectAll(ctx context.Context) error {
	devices := h.snapshotDevices()
	var wg sync.WaitGroup
	var mu sync.Mutex
	causes := make(map[string]error)

	for name, d := range devices {
		wg.Add(1)
		go func(name string, d *Device) {
			defer wg.Done()
			err := d.Disconnect(ctx)
			mu.Lock()
			causes[name] = err
			mu.Unlock()
		}(name, d)
	}
	wg.Wait()
	return core.AggregateError("Hub.DisconnectAll", causes)
}

// groupByDevice splits a set of PropertyPaths by device name. Paths that
// are not fully qualified (device+property) are rejected up front.
func groupByDevice(paths []core.PropertyPath) (map[string][]core.PropertyPath, error) {
	grouped := make(map[string][]core.PropertyPath)
	for _, p := range paths {
		if p.Device() == "" || p.Property() == "" {
			return nil, core.Errorf(core.InvalidArgument, "Hub", "path %q is not a fully qualified device property", p.String())
		}
		grouped[p.Device()] = append(grouped[p.Device()], p)
	}
	return grouped, nil
}

// SetProperty writes a batch of path/value pairs, grouped by device and
// dispatched concurrently per device (each device itself applies its own
// batch serially), merging failures with AggregateError. Per spec.md §4.3,
// a set never blocks for completion.
func (h *Hub) SetProperty(ctx context.Context, values map[core.PropertyPath]Value) error {
	paths := make([]core.PropertyPath, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	grouped, err := groupByDevice(paths)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	causes := make(map[string]error)

	for deviceName, devicePaths := range grouped {
		d, derr := h.GetDevice(deviceName)
		if derr != nil {
			mu.Lock()
			causes[deviceName] = derr
			mu.Unlock()
			continue
		}
		batch := make(map[string]Value, len(devicePaths))
		for _, p := range devicePaths {
			batch[p.Property()] = values[p]
		}
		wg.Add(1)
		go func(name string, d *Device, batch map[string]Value) {
			defer wg.Done()
			err := d.SetProperties(ctx, batch)
			mu.Lock()
			causes[name] = err
			mu.Unlock()
		}(deviceName, d, batch)
	}
	wg.Wait()
	return core.AggregateError("Hub.SetProperty", causes)
}

// WaitProperty blocks until every named path's pending set clears, grouped
// and dispatched per device concurrently, merging failures.
func (h *Hub) WaitProperty(ctx context.Context, paths []core.PropertyPath, deadline time.Time) error {
	grouped, err := groupByDevice(paths)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	causes := make(map[string]error)

	for deviceName, devicePaths := range grouped {
		d, derr := h.GetDevice(deviceName)
		if derr != nil {
			mu.Lock()
			causes[deviceName] = derr
			mu.Unlock()
			continue
		}
		names := make([]string, len(devicePaths))
		for i, p := range devicePaths {
			names[i] = p.Property()
		}
		wg.Add(1)
		go func(name string, d *Device, names []string) {
			defer wg.Done()
			err := d.WaitProperties(ctx, names, deadline)
			mu.Lock()
			causes[name] = err
			mu.Unlock()
		}(deviceName, d, names)
	}
	wg.Wait()
	return core.AggregateError("Hub.WaitProperty", causes)
}

// GetProperty reads a single fully-qualified path through its device.
func (h *Hub) GetProperty(ctx context.Context, path core.PropertyPath) (Value, error) {
	d, err := h.GetDevice(path.Device())
	if err != nil {
		return "", err
	}
	return d.GetProperty(ctx, path.Property())
}

// ListProperty resolves a path to the set of property paths it denotes:
// root lists every device's properties, a bare device lists that device's
// properties, a fully qualified path is returned as-is if valid.
func (h *Hub) ListProperty(path core.PropertyPath) ([]core.PropertyPath, error) {
	if path.IsRoot() || path.Empty() {
		var out []core.PropertyPath
		for _, name := range h.ListDevices() {
			d, _ := h.GetDevice(name)
			for _, prop := range d.ListProperty() {
				out = append(out, core.NewPropertyPath(name, prop))
			}
		}
		return out, nil
	}
	if path.IsDevice() {
		d, err := h.GetDevice(path.Device())
		if err != nil {
			return nil, err
		}
		var out []core.PropertyPath
		for _, prop := range d.ListProperty() {
			out = append(out, core.NewPropertyPath(path.Device(), prop))
		}
		return out, nil
	}
	d, err := h.GetDevice(path.Device())
	if err != nil {
		return nil, err
	}
	if !d.HasProperty(path.Property()) {
		return nil, core.Errorf(core.NotFound, "Hub.ListProperty", "property %q not found on %q", path.Property(), path.Device())
	}
	return []core.PropertyPath{path}, nil
}

// GetSnapshot aggregates the cached values of every property under path
// (root, a device, or a single property).
func (h *Hub) GetSnapshot(path core.PropertyPath) (map[core.PropertyPath]Value, error) {
	paths, err := h.ListProperty(path)
	if err != nil {
		return nil, err
	}
	out := make(map[core.PropertyPath]Value, len(paths))
	for _, p := range paths {
		d, err := h.GetDevice(p.Device())
		if err != nil {
			continue
		}
		n := d.Node(p.Property())
		if n == nil {
			continue
		}
		if v, _, ok := n.GetSnapshot(); ok {
			out[p] = v
		}
	}
	return out, nil
}

// Subscribe attaches stream to every registered device, wrapping the
// caller's middleware so each forwarded event is stamped with its source
// device name and has that device name prepended onto its path (spec.md
// §4.3), mirroring devicehub.cpp's SubscribeEvents closure.
func (h *Hub) Subscribe(stream *events.Stream, middleware events.Middleware) {
	for name, d := range h.snapshotDevices() {
		deviceName := name
		d.Subscribe(stream, func(e *core.Event) {
			e.Device = deviceName
			e.Path = core.NewPropertyPath(deviceName, e.Path.Property())
			if middleware != nil {
				middleware(e)
			}
		})
	}
}
