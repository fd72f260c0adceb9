// Package camera provides still-image capture devices and camera authorizers.
//
// Captured stills are held in memory only and are never written to disk by this package.
package camera

import (
	"context"
	"errors"
	"fmt"
)

// Default capture settings for the liveliness flow.
const (
	DefaultQuality = 0.8

	ContentTypeJPEG = "image/jpeg"
)

// Permission is the outcome of an authorization request.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// CaptureOptions controls a single still capture.
type CaptureOptions struct {
	// Quality is the encoder quality in [0,1].
	Quality float64
	// SkipPostProcessing asks the device to return the raw frame quickly.
	SkipPostProcessing bool
}

// DefaultCaptureOptions returns quality 0.8 with post-processing skipped.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{Quality: DefaultQuality, SkipPostProcessing: true}
}

// Still is an in-memory captured image.
type Still struct {
	Data        []byte
	ContentType string
}

// Zero overwrites the image bytes and drops the buffer.
func (s *Still) Zero() {
	if s == nil {
		return
	}
	clear(s.Data)
	s.Data = nil
}

// Device captures stills.
type Device interface {
	CaptureStill(ctx context.Context, opts CaptureOptions) (Still, error)
}

// Authorizer requests access to the camera.
type Authorizer interface {
	Authorize(ctx context.Context) (Permission, error)
}

var (
	// ErrCaptureFailed is the sentinel for every capture failure.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrDeviceUnavailable is returned by authorizers when no usable device exists.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
)

// DeviceError wraps a capture failure with the device and operation that failed.
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camera %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCaptureFailed) match any DeviceError.
func (e *DeviceError) Is(target error) bool { return target == ErrCaptureFailed }

func validQuality(q float64) error {
	if q < 0 || q > 1 {
		return fmt.Errorf("quality out of range: %v", q)
	}
	return nil
}
