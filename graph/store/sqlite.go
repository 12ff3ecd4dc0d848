package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S] and SessionStore.
//
// It keeps the current checkpoint of every thread in a single-file database.
// Designed for:
//   - Development and single-process deployments
//   - Human review pauses that must survive a restart on one machine
//   - Tests that need the durable code path without external services
//
// Features:
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//   - Version checks inside a transaction
//
// Schema:
//   - checkpoints: thread_id, checkpoint_data, metadata, version, created_at, updated_at
//   - sessions: run-tracking records keyed by thread_id
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path.
//
// Use ":memory:" for a throwaway database. The connection pool is limited to
// one connection because SQLite allows a single writer.
//
// Example:
//
//	st, err := store.NewSQLiteStore[MyState](ctx, "./checkpoints.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](ctx context.Context, path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path, now: time.Now}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL PRIMARY KEY,
			checkpoint_data TEXT NOT NULL,
			metadata TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			thread_id TEXT NOT NULL PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			component TEXT NOT NULL DEFAULT '',
			start_time TEXT NOT NULL,
			last_activity TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, last_activity)",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Get returns the current checkpoint for threadID.
func (s *SQLiteStore[S]) Get(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	var state, meta string
	var version int64
	err := s.db.QueryRowContext(ctx,
		"SELECT checkpoint_data, metadata, version FROM checkpoints WHERE thread_id = ?",
		threadID,
	).Scan(&state, &meta, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint[S](threadID, []byte(state), []byte(meta), version)
}

// Put writes cp inside a transaction that re-reads the current version.
func (s *SQLiteStore[S]) Put(ctx context.Context, threadID string, cp Checkpoint[S]) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	now := s.now()
	stamp(&cp, now)
	state, meta, err := encodeCheckpoint(cp)
	if err != nil {
		return Checkpoint[S]{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM checkpoints WHERE thread_id = ?", threadID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, fmt.Errorf("failed to read version: %w", err)
	}
	version, err := nextVersion(current, cp.Version)
	if err != nil {
		return Checkpoint[S]{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_data, metadata, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			checkpoint_data = excluded.checkpoint_data,
			metadata = excluded.metadata,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, threadID, string(state), string(meta), version, formatTime(now), formatTime(now))
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	cp.ThreadID = threadID
	cp.Version = version
	cp.Persisted = true
	return cp, nil
}

// List returns thread IDs in lexical order.
func (s *SQLiteStore[S]) List(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return queryIDs(ctx, s.db, "SELECT thread_id FROM checkpoints ORDER BY thread_id")
}

// Delete removes the checkpoint of threadID.
func (s *SQLiteStore[S]) Delete(ctx context.Context, threadID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return execDelete(ctx, s.db, "DELETE FROM checkpoints WHERE thread_id = ?", threadID)
}

// Durable reports true.
func (s *SQLiteStore[S]) Durable() bool { return true }

// SaveSession upserts a session record.
func (s *SQLiteStore[S]) SaveSession(ctx context.Context, sess Session) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if sess.ThreadID == "" {
		return fmt.Errorf("session thread id is required")
	}
	meta, err := encodeSessionMeta(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (thread_id, user_id, status, component, start_time, last_activity, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			user_id = excluded.user_id,
			status = excluded.status,
			component = excluded.component,
			last_activity = excluded.last_activity,
			metadata = excluded.metadata
	`, sess.ThreadID, sess.UserID, string(sess.Status), sess.Component,
		formatTime(sess.StartTime), formatTime(sess.LastActivity), string(meta))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the session for threadID.
func (s *SQLiteStore[S]) GetSession(ctx context.Context, threadID string) (Session, error) {
	if err := s.checkOpen(); err != nil {
		return Session{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, user_id, status, component, start_time, last_activity, metadata
		FROM sessions WHERE thread_id = ?
	`, threadID)
	sess, err := scanTextSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// ListSessions returns sessions with the given status (all when empty).
func (s *SQLiteStore[S]) ListSessions(ctx context.Context, status ThreadStatus) ([]Session, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, user_id, status, component, start_time, last_activity, metadata
		FROM sessions WHERE (? = '' OR status = ?)
	`, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Session, 0)
	for rows.Next() {
		sess, err := scanTextSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	sortSessions(out)
	return out, nil
}

// Close closes the database. Calling Close more than once is a no-op.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTextSession(r rowScanner) (Session, error) {
	var sess Session
	var status, start, last, meta string
	if err := r.Scan(&sess.ThreadID, &sess.UserID, &status, &sess.Component, &start, &last, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("failed to scan session: %w", err)
	}
	var err error
	sess.Status = ThreadStatus(status)
	if sess.StartTime, err = parseTime(start); err != nil {
		return Session{}, err
	}
	if sess.LastActivity, err = parseTime(last); err != nil {
		return Session{}, err
	}
	if sess.Metadata, err = decodeSessionMeta([]byte(meta)); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func queryIDs(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread rows: %w", err)
	}
	return ids, nil
}

func execDelete(ctx context.Context, db *sql.DB, query, threadID string) error {
	res, err := db.ExecContext(ctx, query, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
