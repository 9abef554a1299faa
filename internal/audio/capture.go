package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the capture device refuses access.
	ErrPermissionDenied = errors.New("capture permission denied")
	// ErrDeviceError is returned for any other failure of the capture device.
	ErrDeviceError = errors.New("capture device error")
)

// Quality names a capture quality preset
type Quality string

const (
	QualityLow  Quality = "low"
	QualityHigh Quality = "high"
)

// CaptureOptions configures a capture resource when it is acquired
type CaptureOptions struct {
	Quality         Quality
	MeteringEnabled bool
}

// CaptureHandle identifies one acquired capture resource.
type CaptureHandle string

// CaptureStatus is what a capture resource reports about itself. MeteringDB
// is nil when metering is disabled or no audio buffer has been measured yet.
type CaptureStatus struct {
	Active        bool
	ElapsedMillis int64
	MeteringDB    *float64
}

// Capture is the audio capture engine the session controller drives.
//
// Status callbacks registered with OnStatusUpdate are delivered in order for
// a given handle, at the cadence of the underlying audio buffer.
type Capture interface {
	Acquire(ctx context.Context, opts CaptureOptions) (CaptureHandle, error)
	Pause(ctx context.Context, h CaptureHandle) error
	Resume(ctx context.Context, h CaptureHandle) error
	// Finalize stops the capture and returns the location of the written
	// file. The handle is released whether or not an error is returned.
	Finalize(ctx context.Context, h CaptureHandle) (string, error)
	Status(ctx context.Context, h CaptureHandle) (CaptureStatus, error)
	OnStatusUpdate(h CaptureHandle, fn func(CaptureStatus))
}
