package liveliness

import "errors"

var (
	// ErrBusy is returned by Start when a session is already running.
	ErrBusy = errors.New("liveliness session already running")
	// ErrEmptyToken is returned by Start without a scan token.
	ErrEmptyToken = errors.New("empty scan token")
	// ErrNoResult is returned by Acknowledge outside ResultReady.
	ErrNoResult = errors.New("no result to acknowledge")
	// ErrResultPending is returned by Cancel while a result awaits acknowledgment.
	ErrResultPending = errors.New("result pending acknowledgment")
	// ErrPermissionDenied is recorded when camera authorization is refused or fails.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("liveliness machine closed")
)
