package attendance

import (
	"errors"
	"time"

	"presence/cmd/internal/verify"
)

// NoticeKind identifies what the presentation layer should show.
type NoticeKind string

const (
	// NoticeChallenge carries the liveliness instruction to display.
	NoticeChallenge NoticeKind = "challenge"
	// NoticeVerification is the verification result dialog.
	NoticeVerification NoticeKind = "verification"
	// NoticeRetry offers a retry or a decline.
	NoticeRetry NoticeKind = "retry"
	// NoticeCommitted carries the ledger's confirmation message.
	NoticeCommitted NoticeKind = "committed"
	// NoticeUnavailable reports that the camera cannot be used. It carries no
	// Retry; Cancel or DeclineRetry dismisses it and ends the run.
	NoticeUnavailable NoticeKind = "unavailable"
)

// RetryKind tells the caller what a retry would do.
type RetryKind string

const (
	RetryVerification RetryKind = "verification"
	RetryCommit       RetryKind = "commit"
)

// Notice is a user-facing message produced by the orchestrator.
type Notice struct {
	RunID    string     `json:"run_id"`
	Kind     NoticeKind `json:"kind"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Verified bool       `json:"verified,omitempty"`
	Retry    RetryKind  `json:"retry,omitempty"`
	At       time.Time  `json:"at"`
}

// Presenter renders notices. Present is never called with the orchestrator lock held.
type Presenter interface {
	Present(Notice)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Notice)

func (f PresenterFunc) Present(n Notice) { f(n) }

const (
	titleVerified  = "Verification Successful"
	titleFailed    = "Verification Failed"
	titleSuccess   = "Success"
	titleError     = "Error"
	titleNoCamera  = "Camera Unavailable"
	titleChallenge = "Liveliness Check"
	msgVerified    = "Your identity has been verified successfully."
	msgRejected    = "We could not verify your identity. Please try again."
	msgCaptureFail = "Failed to capture image. Please try again."
	msgTransport   = "Could not reach the verification service. Please try again."
	msgMarked      = "Attendance marked."
)

func verificationNotice(res verify.Result) Notice {
	if res.Verified() {
		return Notice{Kind: NoticeVerification, Title: titleVerified, Message: msgVerified, Verified: true}
	}
	return Notice{Kind: NoticeVerification, Title: titleFailed, Message: failureMessage(res)}
}

func failureMessage(res verify.Result) string {
	switch {
	case errors.Is(res.Err, verify.ErrCaptureFailed):
		return msgCaptureFail
	case errors.Is(res.Err, verify.ErrVerificationTransportFailed):
		return msgTransport
	default:
		return msgRejected
	}
}
