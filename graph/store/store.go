package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested thread or session does not exist.
//
// It is distinct from read failures: callers treat ErrNotFound as "start a new
// thread" and every other error as a storage fault.
var ErrNotFound = errors.New("not found")

// ErrStaleVersion is returned by Put when the caller supplies an explicit
// version that is not strictly greater than the stored one.
var ErrStaleVersion = errors.New("stale checkpoint version")

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("store is closed")

// ThreadStatus is the lifecycle status persisted alongside a checkpoint.
type ThreadStatus string

const (
	StatusRunning     ThreadStatus = "running"
	StatusInterrupted ThreadStatus = "interrupted"
	StatusResuming    ThreadStatus = "resuming"
	StatusCompleted   ThreadStatus = "completed"
	StatusFailed      ThreadStatus = "failed"
)

// Terminal reports whether no further steps may run for the thread.
func (s ThreadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Store persists the current checkpoint of each workflow thread.
//
// Exactly one current checkpoint exists per thread ID. Versions strictly
// increase per thread; Put never replaces a higher version with a lower one.
// Writes for different threads never contend on a shared lock in the
// in-process adapters.
//
// Implementations:
//   - MemStore: volatile, used for tests and as the fallback store
//   - SQLiteStore: single-file durable store
//   - MySQLStore: pooled relational store for multi-process deployments
//   - RedisStore: key-value store with a sorted-set thread index
//
// Type parameter S is the workflow state type (must be JSON-serializable).
type Store[S any] interface {
	// Get returns the current checkpoint for threadID.
	//
	// Returns ErrNotFound if the thread has never been written.
	Get(ctx context.Context, threadID string) (Checkpoint[S], error)

	// Put writes a new current checkpoint for threadID and echoes the stored
	// record back as the acknowledgment.
	//
	// Version handling:
	//   - cp.Version == 0: the store assigns current+1
	//   - cp.Version > current: stored as given
	//   - otherwise: ErrStaleVersion, nothing is written
	//
	// The returned checkpoint carries ThreadID, the assigned Version and the
	// Persisted flag of the backend.
	Put(ctx context.Context, threadID string, cp Checkpoint[S]) (Checkpoint[S], error)

	// List returns the IDs of every thread with a current checkpoint.
	List(ctx context.Context) ([]string, error)

	// Delete removes the thread's checkpoint. Returns ErrNotFound for unknown IDs.
	Delete(ctx context.Context, threadID string) error

	// Durable reports whether writes survive a process restart.
	Durable() bool
}

// SessionStore persists run-tracking records that sit beside checkpoints.
type SessionStore interface {
	SaveSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, threadID string) (Session, error)
	// ListSessions returns sessions ordered by last activity, newest first.
	// An empty status matches every session.
	ListSessions(ctx context.Context, status ThreadStatus) ([]Session, error)
}

// Checkpoint is a durable snapshot of a thread's state.
type Checkpoint[S any] struct {
	// ThreadID identifies the workflow thread.
	ThreadID string `json:"thread_id"`

	// State is the opaque workflow state.
	State S `json:"state"`

	// Metadata describes where the snapshot came from.
	Metadata Metadata `json:"metadata"`

	// Version increases by at least one on every write.
	Version int64 `json:"version"`

	// Persisted is false when the checkpoint only lives in process memory.
	Persisted bool `json:"-"`
}

// Metadata is stored in the metadata column next to the state.
type Metadata struct {
	Source    string       `json:"source,omitempty"`
	Step      int          `json:"step"`
	Node      string       `json:"node,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Status    ThreadStatus `json:"status,omitempty"`

	// Interrupt is the pause record of an interrupted thread. It is kept after
	// resolution so a second resume can be rejected.
	Interrupt *Interrupt `json:"interrupt,omitempty"`

	// Resources holds resource counters when usage persistence is enabled.
	Resources map[string]float64 `json:"resources,omitempty"`
}

// Interrupt is the persisted form of a human review point.
type Interrupt struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Question   string          `json:"question"`
	Options    []string        `json:"options,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	Resolution string          `json:"resolution,omitempty"`
}

// Outstanding reports whether the interrupt still awaits a resume.
func (i *Interrupt) Outstanding() bool {
	return i != nil && i.ResolvedAt == nil
}

// Session is the run-tracking record kept per thread.
type Session struct {
	ThreadID     string         `json:"thread_id"`
	UserID       string         `json:"user_id"`
	Status       ThreadStatus   `json:"status"`
	Component    string         `json:"component"`
	StartTime    time.Time      `json:"start_time"`
	LastActivity time.Time      `json:"last_activity"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// nextVersion applies the Put version rules against the current version.
func nextVersion(current, requested int64) (int64, error) {
	if requested == 0 {
		return current + 1, nil
	}
	if requested <= current {
		return 0, ErrStaleVersion
	}
	return requested, nil
}
