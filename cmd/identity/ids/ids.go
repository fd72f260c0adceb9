// Package ids provides the identifier primitives used across presence.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new ULID string (26 chars).
// IDs minted within the same millisecond stay strictly increasing, so run logs sort in
// the order the pipeline produced them.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRunID returns the identifier of one scan-to-commit pipeline run.
func NewRunID(now time.Time) (string, error) {
	return NewULID(now)
}

// NewSessionID returns the identifier of one liveliness session.
func NewSessionID(now time.Time) (string, error) {
	return NewULID(now)
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
