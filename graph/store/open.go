package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
)

// Config selects and tunes the checkpoint backend.
type Config struct {
	// Backend is one of memory, sqlite, mysql or redis.
	Backend string

	// DSN is the SQLite path or the MySQL DSN.
	DSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Retry bounds write retries. A zero policy disables retrying.
	Retry RetryPolicy

	// OnRetry is called before each retried write.
	OnRetry func(op string, attempt int, err error)

	// OnFallback is called when the backend is unreachable and Open switches
	// to the in-memory store.
	OnFallback func(err *StorageUnavailableError)
}

// Opened is the result of Open.
type Opened[S any] struct {
	Store Store[S]

	// Backend is the backend actually in use ("memory" after a fallback).
	Backend string

	// Fallback is set when the configured backend could not be reached.
	Fallback *StorageUnavailableError
}

// Open builds the configured backend wrapped in a RetryStore.
//
// If the backend cannot be reached, Open logs a warning, reports a
// StorageUnavailableError through OnFallback and returns a MemStore instead.
// Execution is never blocked on storage provisioning; the fallback is visible
// through Store.Durable() and the Persisted flag of every checkpoint.
//
// Only invalid configuration (unknown backend, bad retry policy) is returned
// as an error.
func Open[S any](ctx context.Context, cfg Config, logger *zap.Logger) (Opened[S], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "checkpoint_store"))

	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendMemory
	}

	var (
		inner Store[S]
		err   error
	)
	switch backend {
	case BackendMemory:
		inner = NewMemStore[S]()
	case BackendSQLite:
		if cfg.DSN == "" {
			return Opened[S]{}, fmt.Errorf("sqlite backend requires a DSN (file path)")
		}
		inner, err = NewSQLiteStore[S](ctx, cfg.DSN)
	case BackendMySQL:
		if cfg.DSN == "" {
			return Opened[S]{}, fmt.Errorf("mysql backend requires a DSN")
		}
		inner, err = NewMySQLStore[S](ctx, cfg.DSN)
	case BackendRedis:
		var opts []RedisOption
		if cfg.RedisPrefix != "" {
			opts = append(opts, WithPrefix(cfg.RedisPrefix))
		}
		inner, err = NewRedisStore[S](ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)
	default:
		return Opened[S]{}, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}

	out := Opened[S]{Backend: backend}
	if err != nil {
		unavailable := &StorageUnavailableError{Backend: backend, Err: err}
		logger.Warn("checkpoint backend unavailable, falling back to in-memory store; checkpoints will not survive a restart",
			zap.String("backend", backend),
			zap.Error(err),
		)
		if cfg.OnFallback != nil {
			cfg.OnFallback(unavailable)
		}
		inner = NewMemStore[S]()
		out.Backend = BackendMemory
		out.Fallback = unavailable
	}

	// zero retries still wraps, so exhausted writes surface as
	// *StorageWriteError either way
	retrying, err := NewRetryStore(inner, cfg.Retry, cfg.OnRetry)
	if err != nil {
		if c, ok := inner.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return Opened[S]{}, err
	}
	out.Store = retrying
	return out, nil
}
