// Package audit persists one record per finished scan-to-commit run.
//
// Records carry the scan-token fingerprint, never the raw token, and never any image data.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCommitted    Outcome = "committed"
	OutcomeVerifyFailed Outcome = "verify_failed"
	OutcomeCommitFailed Outcome = "commit_failed"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeUnavailable  Outcome = "unavailable"
)

// RunRecord is the persisted summary of one run.
type RunRecord struct {
	ID             int64     `json:"id,omitempty"`
	RunID          string    `json:"run_id"`
	TokenFP        string    `json:"token_fp"`
	CourseID       string    `json:"course_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Challenge      string    `json:"challenge,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	Message        string    `json:"message,omitempty"`
	CommitAttempts int       `json:"commit_attempts"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Store records and lists runs.
type Store interface {
	Record(ctx context.Context, rec RunRecord) error
	List(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

var (
	ErrInvalidRecord = errors.New("audit: invalid record")
	ErrInvalidLimit  = errors.New("audit: limit must be greater than zero")
)

// MaxListLimit caps List.
const MaxListLimit = 500

func normalize(rec RunRecord) (RunRecord, error) {
	rec.RunID = strings.TrimSpace(rec.RunID)
	rec.TokenFP = strings.TrimSpace(rec.TokenFP)
	rec.CourseID = strings.TrimSpace(rec.CourseID)
	rec.Reason = strings.TrimSpace(rec.Reason)
	if rec.RunID == "" || rec.Outcome == "" {
		return RunRecord{}, ErrInvalidRecord
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}
	rec.StartedAt = rec.StartedAt.UTC()
	rec.FinishedAt = rec.FinishedAt.UTC()
	return rec, nil
}

func clampLimit(limit int) (int, error) {
	if limit <= 0 {
		return 0, ErrInvalidLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, nil
}
