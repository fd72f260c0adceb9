package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const maxStillBytes = 16 << 20

// FileDevice serves stills from a fixed image file. Used for kiosks fed by an external
// frame grabber that keeps the latest frame at a known path, and for demos.
type FileDevice struct {
	path string
}

// NewFileDevice constructs a FileDevice reading path.
func NewFileDevice(path string) (*FileDevice, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("camera: empty file path")
	}
	return &FileDevice{path: filepath.Clean(path)}, nil
}

// CaptureStill reads the file into memory.
func (d *FileDevice) CaptureStill(ctx context.Context, opts CaptureOptions) (Still, error) {
	if err := ctx.Err(); err != nil {
		return Still{}, &DeviceError{Device: d.path, Op: "capture", Err: err}
	}
	if err := validQuality(opts.Quality); err != nil {
		return Still{}, &DeviceError{Device: d.path, Op: "capture", Err: err}
	}

	f, err := os.Open(d.path)
	if err != nil {
		return Still{}, &DeviceError{Device: d.path, Op: "open", Err: err}
	}
	defer func() { _ = f.Close() }()

	b, err := io.ReadAll(io.LimitReader(f, maxStillBytes+1))
	if err != nil {
		return Still{}, &DeviceError{Device: d.path, Op: "read", Err: err}
	}
	if len(b) == 0 {
		return Still{}, &DeviceError{Device: d.path, Op: "read", Err: errors.New("empty frame")}
	}
	if len(b) > maxStillBytes {
		return Still{}, &DeviceError{Device: d.path, Op: "read", Err: fmt.Errorf("frame exceeds %d bytes", maxStillBytes)}
	}
	return Still{Data: b, ContentType: ContentTypeJPEG}, nil
}

// Authorize grants access when the file is readable.
func (d *FileDevice) Authorize(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return PermissionDenied, err
	}
	f, err := os.Open(d.path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return PermissionDenied, nil
		}
		return PermissionDenied, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	_ = f.Close()
	return PermissionGranted, nil
}
