package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func sampleRecords(now time.Time) []RunRecord {
	return []RunRecord{
		{
			RunID:      "run-1",
			TokenFP:    "aaaa",
			CourseID:   "CS101",
			SessionID:  "sess-1",
			Challenge:  "smile",
			Outcome:    OutcomeVerifyFailed,
			Reason:     "rejected",
			StartedAt:  now,
			FinishedAt: now.Add(5 * time.Second),
		},
		{
			RunID:          "run-2",
			TokenFP:        "bbbb",
			CourseID:       "CS101",
			Outcome:        OutcomeCommitted,
			Message:        "Attendance marked",
			CommitAttempts: 2,
			StartedAt:      now.Add(time.Minute),
			FinishedAt:     now.Add(time.Minute + 6*time.Second),
		},
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, rec := range sampleRecords(now) {
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", rec.RunID, err)
		}
	}

	runs, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs len = %d, want 2", len(runs))
	}
	if runs[0].RunID != "run-2" || runs[0].Outcome != OutcomeCommitted || runs[0].CommitAttempts != 2 {
		t.Fatalf("runs[0] = %+v", runs[0])
	}
	if runs[1].Reason != "rejected" || runs[1].Challenge != "smile" {
		t.Fatalf("runs[1] = %+v", runs[1])
	}
	if !runs[1].FinishedAt.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("finished_at = %v", runs[1].FinishedAt)
	}

	one, err := store.List(ctx, 1)
	if err != nil || len(one) != 1 {
		t.Fatalf("list limit 1: %v len=%d", err, len(one))
	}

	if err := store.Record(ctx, RunRecord{}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if _, err := store.List(ctx, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, openTempStore(t))
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	st, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Record(context.Background(), RunRecord{RunID: "run-x", Outcome: OutcomeCancelled}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = st.Close()

	st, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	runs, err := st.List(context.Background(), 5)
	if err != nil || len(runs) != 1 || runs[0].RunID != "run-x" {
		t.Fatalf("runs=%+v err=%v", runs, err)
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	st, closeFn, err := Open(ctx, "", nil)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	closeFn()
	if _, ok := st.(*InMemoryStore); !ok {
		t.Fatalf("expected InMemoryStore, got %T", st)
	}

	st, closeFn, err = Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "a.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*SQLiteStore); !ok {
		t.Fatalf("expected SQLiteStore, got %T", st)
	}

	if _, _, err := Open(ctx, "mysql://x", nil); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
	if _, _, err := Open(ctx, "postgres://localhost/x", nil); err == nil {
		t.Fatalf("expected missing pool constructor error")
	}
}

func openTempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		dsn     string
		want    string
		wantErr bool
	}{
		{dsn: "", want: KindMemory},
		{dsn: "  ", want: KindMemory},
		{dsn: "sqlite:/var/lib/presence/audit.db", want: KindSQLite},
		{dsn: "postgres://u:p@db/presence", want: KindPostgres},
		{dsn: "postgresql://db/presence", want: KindPostgres},
		{dsn: "mysql://db", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Kind(tc.dsn)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("Kind(%q)=%q,%v want %q (err=%v)", tc.dsn, got, err, tc.want, tc.wantErr)
		}
	}
}
