package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFileDevice_CaptureStill(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xd9}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	dev, err := NewFileDevice(path)
	if err != nil {
		t.Fatalf("NewFileDevice: %v", err)
	}
	still, err := dev.CaptureStill(context.Background(), DefaultCaptureOptions())
	if err != nil {
		t.Fatalf("CaptureStill: %v", err)
	}
	if still.ContentType != ContentTypeJPEG || len(still.Data) != 4 {
		t.Fatalf("unexpected still: %+v", still)
	}

	perm, err := dev.Authorize(context.Background())
	if err != nil || perm != PermissionGranted {
		t.Fatalf("Authorize()=%v,%v", perm, err)
	}
}

func TestFileDevice_MissingFile(t *testing.T) {
	dev, _ := NewFileDevice(filepath.Join(t.TempDir(), "missing.jpg"))

	_, err := dev.CaptureStill(context.Background(), DefaultCaptureOptions())
	if !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
	var de *DeviceError
	if !errors.As(err, &de) || de.Op != "open" {
		t.Fatalf("expected open DeviceError, got %v", err)
	}

	if _, err := dev.Authorize(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestFileDevice_RejectsBadQuality(t *testing.T) {
	dev, _ := NewFileDevice("frame.jpg")
	if _, err := dev.CaptureStill(context.Background(), CaptureOptions{Quality: 1.5}); !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
}

func TestCommandDevice_Expand(t *testing.T) {
	dev, err := NewCommandDevice("grab --q {quality} --fast={skip} -", "")
	if err != nil {
		t.Fatalf("NewCommandDevice: %v", err)
	}
	got := dev.expand(DefaultCaptureOptions())
	want := []string{"grab", "--q", "80", "--fast=1", "-"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expand=%v want=%v", got, want)
	}
}

func TestCommandDevice_EmptyCommand(t *testing.T) {
	if _, err := NewCommandDevice("   ", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStill_Zero(t *testing.T) {
	buf := []byte{1, 2, 3}
	s := Still{Data: buf}
	s.Zero()
	if s.Data != nil {
		t.Fatalf("expected nil data")
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("buffer not zeroed: %v", buf)
		}
	}
}

func TestStaticAuthorizer(t *testing.T) {
	p, err := StaticAuthorizer(PermissionDenied).Authorize(context.Background())
	if err != nil || p != PermissionDenied {
		t.Fatalf("Authorize()=%v,%v", p, err)
	}
}
