package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy bounds how transient write failures are retried.
//
// The delay before retry n is BaseDelay * 2^(n-1), capped at MaxDelay.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retrying.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy matches CHECKPOINTER_MAX_RETRIES=3 and
// CHECKPOINTER_RETRY_DELAY_MS=100.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Validate checks the policy for negative or inconsistent values.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must be >= 0, got %v", p.BaseDelay)
	}
	if p.MaxDelay != 0 && p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay (%v) must be >= base delay (%v)", p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// Retryable reports whether err is worth another attempt. Version conflicts,
// missing threads, a closed store and context cancellation are final.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrStaleVersion),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// RetryStore decorates a Store with bounded exponential-backoff retries on
// writes. Reads pass through unchanged.
//
// When every attempt fails, the write returns *StorageWriteError wrapping
// the last error. Non-retryable errors are returned as-is after the first
// attempt.
type RetryStore[S any] struct {
	inner   Store[S]
	policy  RetryPolicy
	onRetry func(op string, attempt int, err error)
}

// NewRetryStore wraps inner. onRetry may be nil; it is called before each
// retry with the 1-based retry number.
func NewRetryStore[S any](inner Store[S], policy RetryPolicy, onRetry func(op string, attempt int, err error)) (*RetryStore[S], error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	return &RetryStore[S]{inner: inner, policy: policy, onRetry: onRetry}, nil
}

// Unwrap returns the decorated store.
func (r *RetryStore[S]) Unwrap() Store[S] { return r.inner }

func (r *RetryStore[S]) options(ctx context.Context, op string) []retry.Option {
	opts := []retry.Option{
		retry.Attempts(uint(r.policy.MaxRetries + 1)),
		retry.Context(ctx),
		retry.Delay(r.policy.BaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
		retry.OnRetry(func(n uint, err error) {
			if r.onRetry != nil {
				r.onRetry(op, int(n)+1, err)
			}
		}),
	}
	if r.policy.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(r.policy.MaxDelay))
	}
	return opts
}

func (r *RetryStore[S]) wrap(op, threadID string, attempts int, err error) error {
	if err == nil || !Retryable(err) {
		return err
	}
	return &StorageWriteError{ThreadID: threadID, Op: op, Attempts: attempts, Err: err}
}

// Get delegates to the inner store.
func (r *RetryStore[S]) Get(ctx context.Context, threadID string) (Checkpoint[S], error) {
	return r.inner.Get(ctx, threadID)
}

// Put retries transient failures of the inner Put.
func (r *RetryStore[S]) Put(ctx context.Context, threadID string, cp Checkpoint[S]) (Checkpoint[S], error) {
	attempts := 0
	out, err := retry.DoWithData(func() (Checkpoint[S], error) {
		attempts++
		return r.inner.Put(ctx, threadID, cp)
	}, r.options(ctx, "put")...)
	if err != nil {
		return Checkpoint[S]{}, r.wrap("put", threadID, attempts, err)
	}
	return out, nil
}

// List delegates to the inner store.
func (r *RetryStore[S]) List(ctx context.Context) ([]string, error) {
	return r.inner.List(ctx)
}

// Delete retries transient failures of the inner Delete.
func (r *RetryStore[S]) Delete(ctx context.Context, threadID string) error {
	attempts := 0
	err := retry.Do(func() error {
		attempts++
		return r.inner.Delete(ctx, threadID)
	}, r.options(ctx, "delete")...)
	return r.wrap("delete", threadID, attempts, err)
}

// Durable reports the durability of the inner store.
func (r *RetryStore[S]) Durable() bool { return r.inner.Durable() }

// SaveSession retries transient failures when the inner store tracks sessions.
func (r *RetryStore[S]) SaveSession(ctx context.Context, s Session) error {
	ss, ok := r.inner.(SessionStore)
	if !ok {
		return fmt.Errorf("store %T does not track sessions", r.inner)
	}
	attempts := 0
	err := retry.Do(func() error {
		attempts++
		return ss.SaveSession(ctx, s)
	}, r.options(ctx, "save_session")...)
	return r.wrap("save_session", s.ThreadID, attempts, err)
}

// GetSession delegates to the inner store.
func (r *RetryStore[S]) GetSession(ctx context.Context, threadID string) (Session, error) {
	ss, ok := r.inner.(SessionStore)
	if !ok {
		return Session{}, fmt.Errorf("store %T does not track sessions", r.inner)
	}
	return ss.GetSession(ctx, threadID)
}

// ListSessions delegates to the inner store.
func (r *RetryStore[S]) ListSessions(ctx context.Context, status ThreadStatus) ([]Session, error) {
	ss, ok := r.inner.(SessionStore)
	if !ok {
		return nil, fmt.Errorf("store %T does not track sessions", r.inner)
	}
	return ss.ListSessions(ctx, status)
}

// Close closes the inner store when it supports closing.
func (r *RetryStore[S]) Close() error {
	if c, ok := r.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
