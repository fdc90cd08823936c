// Package image implements the N-dimensional image volume and the manager
// that owns it, grounded on original_source/src/image/ndimage.h and the
// ImageManager call sites in
// original_source/src/task/multi_channel_task.cpp and
// original_source/src/task/live_view_task.cpp.
package image

import (
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
)

// Cell is one (channel, z, t) frame plus its metadata blob, moved into the
// NDImage at insertion (spec.md §3 "cells are owned by the image manager").
type Cell struct {
	Data     []byte
	Width    int
	Height   int
	Metadata map[string]interface{}
}

// NDImage is a four-dimensional array indexed by (channel, z, t). Its
// dimensions grow monotonically as cells are added; it never shrinks.
type NDImage struct {
	Name         string
	ChannelNames []string

	mu     sync.RWMutex
	nCh    int
	nZ, nT int
	cells  map[[3]int]Cell
}

func NewNDImage(name string, channelNames []string) *NDImage {
	return &NDImage{
		Name:         name,
		ChannelNames: channelNames,
		nCh:          len(channelNames),
		cells:        make(map[[3]int]Cell),
	}
}

func (img *NDImage) grow(iCh, iZ, iT int) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if iCh+1 > img.nCh {
		img.nCh = iCh + 1
	}
	if iZ+1 > img.nZ {
		img.nZ = iZ + 1
	}
	if iT+1 > img.nT {
		img.nT = iT + 1
	}
}

// AddImage moves data/metadata into the cell at (iCh, iZ, iT), growing the
// volume's dimensions if needed.
func (img *NDImage) AddImage(iCh, iZ, iT int, data []byte, width, height int, metadata map[string]interface{}) {
	img.grow(iCh, iZ, iT)
	img.mu.Lock()
	defer img.mu.Unlock()
	img.cells[[3]int{iCh, iZ, iT}] = Cell{Data: data, Width: width, Height: height, Metadata: metadata}
}

func (img *NDImage) HasData(iCh, iZ, iT int) bool {
	img.mu.RLock()
	defer img.mu.RUnlock()
	_, ok := img.cells[[3]int{iCh, iZ, iT}]
	return ok
}

func (img *NDImage) GetData(iCh, iZ, iT int) (Cell, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()
	c, ok := img.cells[[3]int{iCh, iZ, iT}]
	if !ok {
		return Cell{}, core.Errorf(core.NotFound, "NDImage.GetData", "no cell at (%d,%d,%d)", iCh, iZ, iT)
	}
	return c, nil
}

func (img *NDImage) NumImages() int {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return len(img.cells)
}

func (img *NDImage) Dimensions() (nCh, nZ, nT int) {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.nCh, img.nZ, img.nT
}

// ChannelMetadata is the "channel" field of a frame's metadata blob,
// per spec.md §4.7 step i.
type ChannelMetadata struct {
	PresetName            string
	ExposureMs            float64
	IlluminationIntensity *float64
}

// FrameMetadata assembles one frame's full metadata blob: timestamp,
// channel descriptor, the flattened device-property snapshot, and any
// user-supplied keys merged on top (spec.md §4.7 step i).
func FrameMetadata(exposureEnd time.Time, ch ChannelMetadata, deviceProperty map[core.PropertyPath]string, user map[string]interface{}) map[string]interface{} {
	meta := map[string]interface{}{
		"timestamp": exposureEnd.Format(time.RFC3339),
	}
	chMeta := map[string]interface{}{
		"preset_name": ch.PresetName,
		"exposure_ms": ch.ExposureMs,
	}
	if ch.IlluminationIntensity != nil {
		chMeta["illumination_intensity"] = *ch.IlluminationIntensity
	}
	meta["channel"] = chMeta

	flat := make(map[string]string, len(deviceProperty))
	for path, value := range deviceProperty {
		flat[path.String()] = value
	}
	meta["device_property"] = flat

	for k, v := range user {
		meta[k] = v
	}
	return meta
}
