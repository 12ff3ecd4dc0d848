package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S] and SessionStore.
//
// Each thread owns a slot with its own mutex, so writes to different threads
// never wait on each other. The slot map itself is a sync.Map.
//
// Checkpoints returned by MemStore always carry Persisted=false: data is lost
// when the process exits. MemStore is the fallback used by Open when the
// configured backend cannot be reached.
type MemStore[S any] struct {
	slots    sync.Map // threadID -> *memSlot[S]
	sessions sync.Map // threadID -> Session
	now      func() time.Time
}

type memSlot[S any] struct {
	mu      sync.Mutex
	cp      Checkpoint[S]
	present bool
}

// NewMemStore creates an empty in-memory store.
//
// Example:
//
//	st := store.NewMemStore[MyState]()
//	orch, err := graph.New[MyState](st)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{now: time.Now}
}

func (m *MemStore[S]) slot(threadID string) *memSlot[S] {
	v, _ := m.slots.LoadOrStore(threadID, &memSlot[S]{})
	return v.(*memSlot[S])
}

// Get returns the current checkpoint for threadID.
func (m *MemStore[S]) Get(_ context.Context, threadID string) (Checkpoint[S], error) {
	v, ok := m.slots.Load(threadID)
	if !ok {
		return Checkpoint[S]{}, ErrNotFound
	}
	sl := v.(*memSlot[S])
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.present {
		return Checkpoint[S]{}, ErrNotFound
	}
	return sl.cp, nil
}

// Put stores cp as the current checkpoint of threadID.
func (m *MemStore[S]) Put(ctx context.Context, threadID string, cp Checkpoint[S]) (Checkpoint[S], error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint[S]{}, err
	}
	sl := m.slot(threadID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var current int64
	if sl.present {
		current = sl.cp.Version
	}
	version, err := nextVersion(current, cp.Version)
	if err != nil {
		return Checkpoint[S]{}, err
	}

	cp.ThreadID = threadID
	cp.Version = version
	cp.Persisted = false
	if cp.Metadata.Timestamp.IsZero() {
		cp.Metadata.Timestamp = m.now()
	}
	sl.cp = cp
	sl.present = true
	return cp, nil
}

// List returns thread IDs in lexical order.
func (m *MemStore[S]) List(_ context.Context) ([]string, error) {
	ids := make([]string, 0)
	m.slots.Range(func(key, value any) bool {
		sl := value.(*memSlot[S])
		sl.mu.Lock()
		present := sl.present
		sl.mu.Unlock()
		if present {
			ids = append(ids, key.(string))
		}
		return true
	})
	sort.Strings(ids)
	return ids, nil
}

// Delete removes threadID. The slot itself is kept so a concurrent writer
// still serializes on the same mutex.
func (m *MemStore[S]) Delete(_ context.Context, threadID string) error {
	v, ok := m.slots.Load(threadID)
	if !ok {
		return ErrNotFound
	}
	sl := v.(*memSlot[S])
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.present {
		return ErrNotFound
	}
	sl.present = false
	sl.cp = Checkpoint[S]{}
	return nil
}

// Durable always reports false.
func (m *MemStore[S]) Durable() bool { return false }

// SaveSession upserts a session record.
func (m *MemStore[S]) SaveSession(_ context.Context, s Session) error {
	if s.ThreadID == "" {
		return fmt.Errorf("session thread id is required")
	}
	m.sessions.Store(s.ThreadID, s)
	return nil
}

// GetSession returns the session for threadID or ErrNotFound.
func (m *MemStore[S]) GetSession(_ context.Context, threadID string) (Session, error) {
	v, ok := m.sessions.Load(threadID)
	if !ok {
		return Session{}, ErrNotFound
	}
	return v.(Session), nil
}

// ListSessions returns matching sessions, newest activity first.
func (m *MemStore[S]) ListSessions(_ context.Context, status ThreadStatus) ([]Session, error) {
	out := make([]Session, 0)
	m.sessions.Range(func(_, value any) bool {
		s := value.(Session)
		if status == "" || s.Status == status {
			out = append(out, s)
		}
		return true
	})
	sortSessions(out)
	return out, nil
}

// MarshalJSON exports every current checkpoint, keyed by thread ID.
//
// Useful for dumping a fallback store before shutdown.
func (m *MemStore[S]) MarshalJSON() ([]byte, error) {
	snapshot := make(map[string]Checkpoint[S])
	m.slots.Range(func(key, value any) bool {
		sl := value.(*memSlot[S])
		sl.mu.Lock()
		if sl.present {
			snapshot[key.(string)] = sl.cp
		}
		sl.mu.Unlock()
		return true
	})
	return json.Marshal(snapshot)
}

// UnmarshalJSON replaces the store contents with a MarshalJSON export.
func (m *MemStore[S]) UnmarshalJSON(data []byte) error {
	var snapshot map[string]Checkpoint[S]
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoints: %w", err)
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.slots.Range(func(key, _ any) bool {
		m.slots.Delete(key)
		return true
	})
	for id, cp := range snapshot {
		cp.ThreadID = id
		m.slots.Store(id, &memSlot[S]{cp: cp, present: true})
	}
	return nil
}

func sortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
}
