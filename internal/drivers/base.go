// Package drivers provides the simulated device adapters that exercise the
// property-graph core without a vendor SDK: a stage/filter/illuminator
// unit, a microscope body, and a scientific camera. Real hardware
// adapters are external collaborators per spec.md §1; these stand in for
// them in-process, grounded on the node shapes described in
// original_source/src/device/prior/prior_proscan.h and
// original_source/src/device/hamamatsu/hamamatsu_dcam.h.
package drivers

import (
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/graph"
)

// Factory builds a new driver instance, mirroring the teacher's
// DriverFactory registry (internal/drivers/base.go in the teacher repo)
// but keyed by a single kind string since there is one simulated
// implementation per device role rather than one per vendor/model.
type Factory func(name string) (graph.Driver, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register adds a driver factory under kind. Called from each driver
// file's init(), matching the teacher's RegisterDriver pattern.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// New builds a driver of the given kind.
func New(kind, name string) (graph.Driver, error) {
	registryMu.Lock()
	f, ok := registry[kind]
	registryMu.Unlock()
	if !ok {
		return nil, core.Errorf(core.NotFound, "drivers.New", "no driver registered for kind %q", kind)
	}
	return f(name)
}

// pollLoop runs tick on every tick of interval until stop closes, the
// pattern shared by the stage's and the microscope's motion-status pollers.
func pollLoop(interval time.Duration, stop <-chan struct{}, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tick()
		}
	}
}
