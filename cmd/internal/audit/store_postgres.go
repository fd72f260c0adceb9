package audit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// PostgresStore does NOT own the pgx pool; the caller closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "presence").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("audit: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("audit: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "presence",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("audit: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the schema and table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := pgx.Identifier{s.schema}.Sanitize()
	runs := pgIdent(s.schema, "attendance_runs")

	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+runs+` (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL UNIQUE,
	token_fp TEXT NOT NULL,
	course_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	challenge TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	commit_attempts INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, rec RunRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("audit: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := normalize(rec)
	if err != nil {
		return err
	}

	runs := pgIdent(s.schema, "attendance_runs")
	_, err = s.pool.Exec(ctx, `
INSERT INTO `+runs+` (
	run_id, token_fp, course_id, session_id, challenge, outcome,
	reason, message, commit_attempts, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (run_id) DO NOTHING`,
		rec.RunID,
		rec.TokenFP,
		rec.CourseID,
		rec.SessionID,
		rec.Challenge,
		string(rec.Outcome),
		rec.Reason,
		rec.Message,
		rec.CommitAttempts,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// List implements Store, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("audit: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}

	runs := pgIdent(s.schema, "attendance_runs")
	rows, err := s.pool.Query(ctx, `
SELECT id, run_id, token_fp, course_id, session_id, challenge, outcome,
       reason, message, commit_attempts, started_at, finished_at
FROM `+runs+`
ORDER BY finished_at DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunRecord, 0, limit)
	for rows.Next() {
		var rec RunRecord
		var outcome string
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.TokenFP, &rec.CourseID, &rec.SessionID, &rec.Challenge, &outcome,
			&rec.Reason, &rec.Message, &rec.CommitAttempts, &rec.StartedAt, &rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Outcome = Outcome(outcome)
		rec.StartedAt = rec.StartedAt.UTC()
		rec.FinishedAt = rec.FinishedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
