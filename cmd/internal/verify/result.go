// Package verify captures a still and submits it to the remote face verifier.
package verify

import (
	"errors"

	"presence/cmd/internal/camera"
)

// Outcome is the terminal result of one capture-and-verify attempt.
type Outcome string

const (
	OutcomeVerified    Outcome = "verified"
	OutcomeNotVerified Outcome = "not_verified"
	OutcomeErrored     Outcome = "errored"
)

var (
	// ErrCaptureFailed is reported when the camera could not produce a still.
	ErrCaptureFailed = camera.ErrCaptureFailed
	// ErrVerificationTransportFailed is reported when the verifier could not be reached
	// or answered with a non-2xx status.
	ErrVerificationTransportFailed = errors.New("verification transport failed")
	// ErrVerificationRejected is reported when the verifier answered verified=false.
	ErrVerificationRejected = errors.New("verification rejected")
)

// Result carries the outcome and, when not verified, the reason.
type Result struct {
	Outcome Outcome
	Err     error
}

// Verified reports whether the identity was confirmed.
func (r Result) Verified() bool { return r.Outcome == OutcomeVerified }

// Reason returns a stable short reason for logs and audit rows.
func (r Result) Reason() string {
	switch {
	case r.Outcome == OutcomeVerified:
		return ""
	case errors.Is(r.Err, ErrCaptureFailed):
		return "capture_failed"
	case errors.Is(r.Err, ErrVerificationTransportFailed):
		return "transport_failed"
	case errors.Is(r.Err, ErrVerificationRejected):
		return "rejected"
	default:
		return "unknown"
	}
}
