package image

import (
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
)

// AnalysisHook runs against a freshly-added cell, grounded on
// original_source/src/imagingcontrol.h's call into the analysis engine
// manager immediately after AddImage (spec.md §4.6/§4.7).
type AnalysisHook func(img *NDImage, iCh, iZ, iT int, cell Cell)

// Manager owns every NDImage created during the process lifetime plus the
// single-slot live-view frame, and emits NDImageCreated/NDImageChanged so
// subscribers (the MQTT bridge, export) can follow acquisition progress.
// Grounded on original_source/src/imagingcontrol.h's ImageManager
// (NewNDImage/AddImage/SetLiveViewFrame).
type Manager struct {
	events.Sender

	mu     sync.RWMutex
	images map[string]*NDImage

	liveMu    sync.RWMutex
	liveFrame *Cell

	hookMu sync.RWMutex
	hooks  []AnalysisHook
}

func NewManager() *Manager {
	return &Manager{images: make(map[string]*NDImage)}
}

// AddAnalysisHook registers a function to run against every cell added via
// AddImage, in registration order.
func (m *Manager) AddAnalysisHook(h AnalysisHook) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.hooks = append(m.hooks, h)
}

// NewNDImage creates and registers a fresh volume under name, overwriting
// any previous volume of the same name.
func (m *Manager) NewNDImage(name string, channelNames []string) *NDImage {
	img := NewNDImage(name, channelNames)
	m.mu.Lock()
	m.images[name] = img
	m.mu.Unlock()
	m.Emit(core.Event{Type: core.EventNDImageCreated, Value: name, Time: time.Now()})
	return img
}

func (m *Manager) GetNDImage(name string) (*NDImage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[name]
	return img, ok
}

// AddImage stores the cell, emits NDImageChanged, and runs every registered
// analysis hook against it, recovering from hook panics so one broken
// analyzer cannot abort acquisition (spec.md §4.6 "Non-goals" carve-out
// still requires the ambient supervision the teacher's engine manager
// applies to its own plugin calls).
func (m *Manager) AddImage(img *NDImage, iCh, iZ, iT int, data []byte, width, height int, metadata map[string]interface{}) {
	img.AddImage(iCh, iZ, iT, data, width, height, metadata)
	m.Emit(core.Event{Type: core.EventNDImageChanged, Value: img.Name, Time: time.Now()})

	cell, _ := img.GetData(iCh, iZ, iT)
	m.hookMu.RLock()
	hooks := make([]AnalysisHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.hookMu.RUnlock()
	for _, h := range hooks {
		runHookSafely(h, img, iCh, iZ, iT, cell)
	}
}

func runHookSafely(h AnalysisHook, img *NDImage, iCh, iZ, iT int, cell Cell) {
	defer func() { _ = recover() }()
	h(img, iCh, iZ, iT, cell)
}

// SetLiveViewFrame publishes the latest live-view frame, replacing whatever
// was there before.
func (m *Manager) SetLiveViewFrame(data []byte, width, height int) {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()
	m.liveFrame = &Cell{Data: data, Width: width, Height: height}
}

// ClearLiveViewFrame empties the live-view slot, called when the live-view
// task stops.
func (m *Manager) ClearLiveViewFrame() {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()
	m.liveFrame = nil
}

// GetLiveViewFrame returns the current live-view frame, if any.
func (m *Manager) GetLiveViewFrame() (Cell, bool) {
	m.liveMu.RLock()
	defer m.liveMu.RUnlock()
	if m.liveFrame == nil {
		return Cell{}, false
	}
	return *m.liveFrame, true
}
