package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of Store[S] and SessionStore.
//
// Each checkpoint is a JSON string under <prefix>checkpoint:<threadID>; a
// sorted set indexes thread IDs for List. Put runs inside WATCH/MULTI so a
// concurrent writer on the same thread makes the transaction fail instead of
// silently overwriting a newer version. Failed transactions surface as
// errors and are retried by RetryStore.
type RedisStore[S any] struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
	ttl    time.Duration
}

// WithPrefix sets the key prefix (default "checkpointer:").
func WithPrefix(prefix string) RedisOption {
	return func(o *redisOptions) { o.prefix = prefix }
}

// WithTTL expires idle threads after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(o *redisOptions) { o.ttl = ttl }
}

// NewRedisStore connects to addr and verifies the connection with PING.
func NewRedisStore[S any](ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisStore[S], error) {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStoreFromClient[S](client, opts...), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient[S any](client backend.UniversalClient, opts ...RedisOption) *RedisStore[S] {
	o := redisOptions{prefix: "checkpointer:"}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[S]{client: client, prefix: o.prefix, ttl: o.ttl, now: time.Now}
}

type redisRecord struct {
	State     json.RawMessage `json:"checkpoint_data"`
	Metadata  json.RawMessage `json:"metadata"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (r *RedisStore[S]) key(threadID string) string {
	return r.prefix + "checkpoint:" + threadID
}

func (r *RedisStore[S]) indexKey() string {
	return r.prefix + "threads"
}

func (r *RedisStore[S]) sessionKey(threadID string) string {
	return r.prefix + "session:" + threadID
}

func (r *RedisStore[S]) sessionIndexKey() string {
	return r.prefix + "sessions"
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *backend.StringCmd
}

func (r *RedisStore[S]) load(ctx context.Context, c getter, threadID string) (redisRecord, error) {
	raw, err := c.Get(ctx, r.key(threadID)).Bytes()
	if errors.Is(err, backend.Nil) {
		return redisRecord{}, ErrNotFound
	}
	if err != nil {
		return redisRecord{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return redisRecord{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// Get returns the current checkpoint for threadID.
func (r *RedisStore[S]) Get(ctx context.Context, threadID string) (Checkpoint[S], error) {
	rec, err := r.load(ctx, r.client, threadID)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	return decodeCheckpoint[S](threadID, rec.State, rec.Metadata, rec.Version)
}

// Put writes cp with an optimistic WATCH on the thread key.
func (r *RedisStore[S]) Put(ctx context.Context, threadID string, cp Checkpoint[S]) (Checkpoint[S], error) {
	now := r.now().UTC()
	stamp(&cp, now)
	state, meta, err := encodeCheckpoint(cp)
	if err != nil {
		return Checkpoint[S]{}, err
	}

	var version int64
	key := r.key(threadID)
	txf := func(tx *backend.Tx) error {
		prev, err := r.load(ctx, tx, threadID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		version, err = nextVersion(prev.Version, cp.Version)
		if err != nil {
			return err
		}
		created := prev.CreatedAt
		if created.IsZero() {
			created = now
		}
		data, err := json.Marshal(redisRecord{
			State:     state,
			Metadata:  meta,
			Version:   version,
			CreatedAt: created,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: 0, Member: threadID})
			return nil
		})
		return err
	}

	if err := r.client.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, ErrStaleVersion) {
			return Checkpoint[S]{}, err
		}
		return Checkpoint[S]{}, fmt.Errorf("failed to save to redis: %w", err)
	}

	cp.ThreadID = threadID
	cp.Version = version
	cp.Persisted = true
	return cp, nil
}

// List returns indexed thread IDs in lexical order, pruning expired ones.
func (r *RedisStore[S]) List(ctx context.Context) ([]string, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	if r.ttl == 0 || len(ids) == 0 {
		return ids, nil
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := r.client.Exists(ctx, r.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check thread %s: %w", id, err)
		}
		if n == 0 {
			r.client.ZRem(ctx, r.indexKey(), id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

// Delete removes the checkpoint of threadID.
func (r *RedisStore[S]) Delete(ctx context.Context, threadID string) error {
	var del *backend.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		del = pipe.Del(ctx, r.key(threadID))
		pipe.ZRem(ctx, r.indexKey(), threadID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Durable reports true.
func (r *RedisStore[S]) Durable() bool { return true }

// SaveSession upserts a session record.
func (r *RedisStore[S]) SaveSession(ctx context.Context, s Session) error {
	if s.ThreadID == "" {
		return fmt.Errorf("session thread id is required")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(s.ThreadID), data, r.ttl)
		pipe.ZAdd(ctx, r.sessionIndexKey(), backend.Z{
			Score:  float64(s.LastActivity.UnixMilli()),
			Member: s.ThreadID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the session for threadID.
func (r *RedisStore[S]) GetSession(ctx context.Context, threadID string) (Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(threadID)).Bytes()
	if errors.Is(err, backend.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return s, nil
}

// ListSessions returns sessions newest activity first.
func (r *RedisStore[S]) ListSessions(ctx context.Context, status ThreadStatus) ([]Session, error) {
	ids, err := r.client.ZRevRange(ctx, r.sessionIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSession(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if status == "" || s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

// Close closes the underlying client.
func (r *RedisStore[S]) Close() error {
	return r.client.Close()
}
