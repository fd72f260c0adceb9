package attendance

import "errors"

var (
	// ErrNoResult is returned by DismissResult when no verification result is showing.
	ErrNoResult = errors.New("no verification result to dismiss")
	// ErrNoRetry is returned when no retry prompt is active.
	ErrNoRetry = errors.New("no retry prompt active")
	// ErrResultPending is returned by Cancel while the result dialog is showing.
	ErrResultPending = errors.New("verification result pending dismissal")
	// ErrInvalidConfig is returned by New for missing collaborators.
	ErrInvalidConfig = errors.New("invalid orchestrator config")
)
