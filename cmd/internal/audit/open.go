package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store kinds reported by Kind.
const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Kind classifies dsn:
//   - ""                         memory
//   - "sqlite:<path>"            local SQLite file
//   - "postgres://..." / "postgresql://..."  PostgreSQL
func Kind(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return KindMemory, nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return KindSQLite, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return KindPostgres, nil
	default:
		return "", fmt.Errorf("audit: unsupported dsn scheme: %q", dsn)
	}
}

// Open selects a Store from dsn (see Kind). For postgres the pool is built with
// newPool and owned by the returned closer.
func Open(ctx context.Context, dsn string, newPool func(context.Context, string) (*pgxpool.Pool, error)) (Store, func(), error) {
	dsn = strings.TrimSpace(dsn)
	kind, err := Kind(dsn)
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case KindSQLite:
		st, err := OpenSQLite(strings.TrimPrefix(dsn, "sqlite:"))
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil

	case KindPostgres:
		if newPool == nil {
			return nil, nil, fmt.Errorf("audit: no pool constructor for postgres dsn")
		}
		pool, err := newPool(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("audit: connect postgres: %w", err)
		}
		st, err := NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil

	default:
		return NewInMemoryStore(), func() {}, nil
	}
}
