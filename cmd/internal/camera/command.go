package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// CommandDevice captures by running an external program that writes a JPEG to stdout,
// e.g. "fswebcam -q --jpeg {quality} --no-banner -" or "libcamera-still -o - -q {quality}".
//
// Placeholders: {quality} is replaced with the quality scaled to 0-100, {skip} with
// "1" or "0" for SkipPostProcessing.
type CommandDevice struct {
	argv []string
	node string
}

// NewCommandDevice parses cmdline (whitespace separated) and binds it to the device node
// used for authorization checks (may be empty to skip the node check).
func NewCommandDevice(cmdline, node string) (*CommandDevice, error) {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil, errors.New("camera: empty capture command")
	}
	return &CommandDevice{argv: argv, node: strings.TrimSpace(node)}, nil
}

func (d *CommandDevice) name() string {
	if d.node != "" {
		return d.node
	}
	return d.argv[0]
}

func (d *CommandDevice) expand(opts CaptureOptions) []string {
	q := strconv.Itoa(int(opts.Quality*100 + 0.5))
	skip := "0"
	if opts.SkipPostProcessing {
		skip = "1"
	}
	out := make([]string, len(d.argv))
	for i, a := range d.argv {
		a = strings.ReplaceAll(a, "{quality}", q)
		a = strings.ReplaceAll(a, "{skip}", skip)
		out[i] = a
	}
	return out
}

// CaptureStill runs the capture command and returns its stdout as the still.
func (d *CommandDevice) CaptureStill(ctx context.Context, opts CaptureOptions) (Still, error) {
	if err := validQuality(opts.Quality); err != nil {
		return Still{}, &DeviceError{Device: d.name(), Op: "capture", Err: err}
	}
	args := d.expand(opts)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return Still{}, &DeviceError{Device: d.name(), Op: "exec", Err: err}
	}
	if stdout.Len() == 0 {
		return Still{}, &DeviceError{Device: d.name(), Op: "exec", Err: errors.New("empty frame")}
	}
	if stdout.Len() > maxStillBytes {
		return Still{}, &DeviceError{Device: d.name(), Op: "exec", Err: fmt.Errorf("frame exceeds %d bytes", maxStillBytes)}
	}
	return Still{Data: stdout.Bytes(), ContentType: ContentTypeJPEG}, nil
}

// Authorize checks that the capture program is on PATH and the device node is accessible.
func (d *CommandDevice) Authorize(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return PermissionDenied, err
	}
	if _, err := exec.LookPath(d.argv[0]); err != nil {
		return PermissionDenied, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if d.node == "" {
		return PermissionGranted, nil
	}
	f, err := os.OpenFile(d.node, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return PermissionDenied, nil
		}
		return PermissionDenied, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	_ = f.Close()
	return PermissionGranted, nil
}

// StaticAuthorizer always returns the configured permission.
type StaticAuthorizer Permission

// Authorize implements Authorizer.
func (a StaticAuthorizer) Authorize(context.Context) (Permission, error) {
	return Permission(a), nil
}
