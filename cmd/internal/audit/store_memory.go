package audit

import (
	"context"
	"sync"
)

const memMaxRecords = 10_000

// InMemoryStore is the fallback when no audit DSN is configured.
// It keeps the newest memMaxRecords runs.
type InMemoryStore struct {
	mu   sync.Mutex
	next int64
	recs []RunRecord
}

// NewInMemoryStore constructs an InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{recs: make([]RunRecord, 0, 64)}
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

// Record implements Store.
func (s *InMemoryStore) Record(ctx context.Context, rec RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := normalize(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	rec.ID = s.next
	s.recs = append(s.recs, rec)
	if len(s.recs) > memMaxRecords {
		s.recs = append(s.recs[:0:0], s.recs[len(s.recs)-memMaxRecords:]...)
	}
	return nil
}

// List implements Store, newest first.
func (s *InMemoryStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := min(limit, len(s.recs))
	out := make([]RunRecord, 0, n)
	for i := len(s.recs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.recs[i])
	}
	return out, nil
}
