// Package sqlitestore implements store.Store on a single SQLite
// database. It suits hosts where the sandbox and the daemon share the
// same kernel and can open one WAL-mode database file; the file-based
// store remains the portable default.
package sqlitestore

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tinyland-inc/hostbridge/pkg/logger"
	"github.com/tinyland-inc/hostbridge/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	kind        TEXT    NOT NULL,
	key         TEXT    NOT NULL,
	body        BLOB    NOT NULL,
	modified_at INTEGER NOT NULL,
	PRIMARY KEY (kind, key)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS records_by_time ON records (kind, modified_at, key);
`

var pragmas = []string{
	"PRAGMA busy_timeout=5000",
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA temp_store=MEMORY",
}

type Store struct {
	pool *sqlitex.Pool
	path string
	now  func() time.Time
}

type Config struct {
	// Path is the database file. Its parent directory must exist.
	Path string

	// PoolSize defaults to max(NumCPU, 4).
	PoolSize int

	// Now stamps modified_at. Defaults to time.Now.
	Now func() time.Time
}

// Open opens or creates the database at cfg.Path and ensures the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitestore: Path is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", cfg.Path, err)
	}

	logger.DebugCF("store", "SQLite store opened", map[string]any{
		"path":      cfg.Path,
		"pool_size": poolSize,
	})
	return &Store{pool: pool, path: cfg.Path, now: now}, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlitestore: creating schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, kind store.Kind, key string, record []byte) error {
	if err := store.CheckKey(kind, key); err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO records (kind, key, body, modified_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, key) DO NOTHING`,
		&sqlitex.ExecOptions{Args: []any{string(kind), key, record, s.now().UnixNano()}})
	if err != nil {
		return fmt.Errorf("sqlitestore: create %s/%s: %w", kind, key, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("sqlitestore: %s/%s: %w", kind, key, store.ErrExists)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, kind store.Kind, key string, record []byte) error {
	if err := store.CheckKey(kind, key); err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO records (kind, key, body, modified_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, key) DO UPDATE SET body = excluded.body, modified_at = excluded.modified_at`,
		&sqlitex.ExecOptions{Args: []any{string(kind), key, record, s.now().UnixNano()}})
	if err != nil {
		return fmt.Errorf("sqlitestore: put %s/%s: %w", kind, key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, kind store.Kind, key string) ([]byte, error) {
	if err := store.CheckKey(kind, key); err != nil {
		return nil, err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	var body []byte
	found := false
	err = sqlitex.Execute(conn, `SELECT body FROM records WHERE kind = ? AND key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(kind), key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				body = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, body)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get %s/%s: %w", kind, key, err)
	}
	if !found {
		return nil, fmt.Errorf("sqlitestore: %s/%s: %w", kind, key, store.ErrNotFound)
	}
	return body, nil
}

func (s *Store) Delete(ctx context.Context, kind store.Kind, key string) error {
	if err := store.CheckKey(kind, key); err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM records WHERE kind = ? AND key = ?`,
		&sqlitex.ExecOptions{Args: []any{string(kind), key}})
	if err != nil {
		return fmt.Errorf("sqlitestore: delete %s/%s: %w", kind, key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, kind store.Kind) ([]store.Entry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("sqlitestore: invalid kind %q", kind)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	var entries []store.Entry
	err = sqlitex.Execute(conn,
		`SELECT key, modified_at FROM records WHERE kind = ? ORDER BY modified_at, key`,
		&sqlitex.ExecOptions{
			Args: []any{string(kind)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entries = append(entries, store.Entry{
					Key:     stmt.ColumnText(0),
					ModTime: time.Unix(0, stmt.ColumnInt64(1)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list %s: %w", kind, err)
	}
	return entries, nil
}

// Close blocks until every borrowed connection is returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlitestore: closing %s: %w", s.path, err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
