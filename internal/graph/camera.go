package graph

import (
	"context"
	"time"
)

// AcquisitionMode selects how a camera's acquisition loop terminates,
// spec.md §4.2.
type AcquisitionMode struct {
	Continuous bool
	Count      int // frames to capture when !Continuous
}

func SnapMode(n int) AcquisitionMode    { return AcquisitionMode{Count: n} }
func ContinuousMode() AcquisitionMode   { return AcquisitionMode{Continuous: true} }

// Frame is one captured image copied out of the driver's ring buffer,
// together with the exposure-end timestamp the camera recorded.
type Frame struct {
	Index         int
	Data          []byte
	Width, Height int
	ExposureEnd   time.Time
}

// CameraDriver extends Driver with the acquisition operations of
// spec.md §4.2. Not every Driver implements it; callers type-assert.
type CameraDriver interface {
	Driver

	AllocBuffer(n int) error
	ReleaseBuffer() error
	StartAcquisition(ctx context.Context, mode AcquisitionMode) error
	StopAcquisition(ctx context.Context) error
	WaitExposureEnd(ctx context.Context, timeout time.Duration) error
	WaitFrameReady(ctx context.Context, timeout time.Duration) error
	GetFrame(i int) (Frame, error)
	FireTrigger(ctx context.Context) error
}

// CameraDriver returns the device's underlying driver as a CameraDriver, if
// it implements the camera specialization.
func (d *Device) CameraDriver() (CameraDriver, bool) {
	cd, ok := d.driver.(CameraDriver)
	return cd, ok
}
