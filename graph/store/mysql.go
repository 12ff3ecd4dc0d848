package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S] and SessionStore.
//
// Designed for:
//   - Production workflows whose pauses outlive any single process
//   - Several workers sharing one checkpoint database
//   - Operators inspecting thread status with plain SQL
//
// Put locks the thread's row with SELECT ... FOR UPDATE, so two writers on the
// same thread are ordered by InnoDB while writers on different threads do not
// block each other.
//
// Schema:
//   - checkpoints: thread_id, checkpoint_data JSON, metadata JSON, version, timestamps
//   - sessions: run-tracking records keyed by thread_id
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// NewMySQLStore connects to dsn and creates the schema if needed.
//
// The DSN format is the go-sql-driver one:
//
//	user:password@tcp(localhost:3306)/workflows
//
// parseTime is always switched on because timestamps are scanned into
// time.Time. Never hardcode credentials; load the DSN from configuration.
func NewMySQLStore[S any](ctx context.Context, dsn string) (*MySQLStore[S], error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s, err := NewMySQLStoreFromDB[S](ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewMySQLStoreFromDB wraps an existing pool and runs the migrations.
func NewMySQLStoreFromDB[S any](ctx context.Context, db *sql.DB) (*MySQLStore[S], error) {
	s := &MySQLStore[S]{db: db, now: time.Now}
	if err := s.createTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	checkpoints := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
			checkpoint_data JSON NOT NULL,
			metadata JSON NOT NULL,
			version BIGINT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_checkpoints_updated (updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpoints); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	sessions := `
		CREATE TABLE IF NOT EXISTS sessions (
			thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			component VARCHAR(255) NOT NULL DEFAULT '',
			start_time DATETIME(6) NOT NULL,
			last_activity DATETIME(6) NOT NULL,
			metadata JSON NOT NULL,
			INDEX idx_sessions_status (status, last_activity)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, sessions); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Get returns the current checkpoint for threadID.
func (m *MySQLStore[S]) Get(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := m.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	var state, meta []byte
	var version int64
	err := m.db.QueryRowContext(ctx,
		"SELECT checkpoint_data, metadata, version FROM checkpoints WHERE thread_id = ?",
		threadID,
	).Scan(&state, &meta, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint[S](threadID, state, meta, version)
}

// Put writes cp after locking the current row.
func (m *MySQLStore[S]) Put(ctx context.Context, threadID string, cp Checkpoint[S]) (Checkpoint[S], error) {
	if err := m.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	now := m.now().UTC()
	stamp(&cp, now)
	state, meta, err := encodeCheckpoint(cp)
	if err != nil {
		return Checkpoint[S]{}, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx,
		"SELECT version FROM checkpoints WHERE thread_id = ? FOR UPDATE", threadID,
	).Scan(&current)
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
		ON DUPLICATE KEY UPDATE
			checkpoint_data = VALUES(checkpoint_data),
			metadata = VALUES(metadata),
			version = VALUES(version),
			updated_at = VALUES(updated_at)
	`, threadID, state, meta, version, now, now)
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
func (m *MySQLStore[S]) List(ctx context.Context) ([]string, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return queryIDs(ctx, m.db, "SELECT thread_id FROM checkpoints ORDER BY thread_id")
}

// Delete removes the checkpoint of threadID.
func (m *MySQLStore[S]) Delete(ctx context.Context, threadID string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return execDelete(ctx, m.db, "DELETE FROM checkpoints WHERE thread_id = ?", threadID)
}

// Durable reports true.
func (m *MySQLStore[S]) Durable() bool { return true }

// SaveSession upserts a session record.
func (m *MySQLStore[S]) SaveSession(ctx context.Context, sess Session) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if sess.ThreadID == "" {
		return fmt.Errorf("session thread id is required")
	}
	meta, err := encodeSessionMeta(sess)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO sessions (thread_id, user_id, status, component, start_time, last_activity, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			user_id = VALUES(user_id),
			status = VALUES(status),
			component = VALUES(component),
			last_activity = VALUES(last_activity),
			metadata = VALUES(metadata)
	`, sess.ThreadID, sess.UserID, string(sess.Status), sess.Component,
		sess.StartTime.UTC(), sess.LastActivity.UTC(), meta)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the session for threadID.
func (m *MySQLStore[S]) GetSession(ctx context.Context, threadID string) (Session, error) {
	if err := m.checkOpen(); err != nil {
		return Session{}, err
	}
	row := m.db.QueryRowContext(ctx, `
		SELECT thread_id, user_id, status, component, start_time, last_activity, metadata
		FROM sessions WHERE thread_id = ?
	`, threadID)
	sess, err := scanSQLSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// ListSessions returns sessions with the given status (all when empty),
// newest activity first.
func (m *MySQLStore[S]) ListSessions(ctx context.Context, status ThreadStatus) ([]Session, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT thread_id, user_id, status, component, start_time, last_activity, metadata
		FROM sessions WHERE (? = '' OR status = ?)
		ORDER BY last_activity DESC
	`, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Session, 0)
	for rows.Next() {
		sess, err := scanSQLSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return out, nil
}

// Close closes the pool. Calling Close more than once is a no-op.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

func scanSQLSession(r rowScanner) (Session, error) {
	var sess Session
	var status string
	var meta []byte
	err := r.Scan(&sess.ThreadID, &sess.UserID, &status, &sess.Component, &sess.StartTime, &sess.LastActivity, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.Status = ThreadStatus(status)
	if sess.Metadata, err = decodeSessionMeta(meta); err != nil {
		return Session{}, err
	}
	return sess, nil
}
