package ledger

import (
	"errors"
	"fmt"

	"presence/cmd/internal/apiclient"
)

var (
	// ErrLedgerRejected is returned when the ledger answered with a non-2xx status.
	ErrLedgerRejected = errors.New("ledger rejected")
	// ErrLedgerUnreachable is returned when the ledger could not be reached.
	ErrLedgerUnreachable = errors.New("ledger unreachable")
)

// FallbackMessage is shown when the ledger gave no usable message.
const FallbackMessage = "Failed to mark attendance."

// CommitError wraps a failed commit. It matches ErrLedgerRejected or ErrLedgerUnreachable
// via errors.Is and carries the server-provided message when one was returned.
type CommitError struct {
	Kind          error
	ServerMessage string
	Err           error
}

func (e *CommitError) Error() string {
	if e.ServerMessage != "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.ServerMessage)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *CommitError) Unwrap() []error { return []error{e.Kind, e.Err} }

func classify(err error) *CommitError {
	if he, ok := apiclient.AsHTTPError(err); ok {
		return &CommitError{Kind: ErrLedgerRejected, ServerMessage: he.ServerMessage(), Err: err}
	}
	return &CommitError{Kind: ErrLedgerUnreachable, Err: err}
}

// UserMessage returns the text to show the student for a failed commit.
func UserMessage(err error) string {
	var ce *CommitError
	if errors.As(err, &ce) && ce.ServerMessage != "" {
		return ce.ServerMessage
	}
	return FallbackMessage
}
