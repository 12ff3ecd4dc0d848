// Package interrupt implements the human-in-the-loop pause/resume protocol.
//
// A thread moves Running -> Interrupted when a step pauses with a Payload.
// The coordinator persists the paused state together with the interrupt
// record and returns; nothing waits in memory. A later Resume call, possibly
// from another process, classifies the human input, consumes the interrupt
// exactly once and tells the caller where to continue.
package interrupt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

// Routes maps intents to continuation node names. An empty route falls back
// to Default.
type Routes struct {
	Approve  string `yaml:"approve" mapstructure:"approve"`
	Modify   string `yaml:"modify" mapstructure:"modify"`
	Reject   string `yaml:"reject" mapstructure:"reject"`
	Question string `yaml:"question" mapstructure:"question"`
	Default  string `yaml:"default" mapstructure:"default"`
}

// For returns the node for intent, or Default.
func (r Routes) For(intent Intent) string {
	var next string
	switch intent {
	case IntentApprove:
		next = r.Approve
	case IntentModify:
		next = r.Modify
	case IntentReject:
		next = r.Reject
	case IntentQuestion:
		next = r.Question
	}
	if next == "" {
		return r.Default
	}
	return next
}

// Decision is the outcome of a successful Resume.
type Decision[S any] struct {
	ThreadID string
	Intent   Intent
	Input    ResumeInput

	// Next is the node to continue with. Empty means the caller continues
	// from the node that raised the interrupt.
	Next string

	// Node raised the interrupt; Step is its checkpoint step.
	Node string
	Step int

	// State is the state saved at the interrupt.
	State S

	// Interrupt is the resolved record, or the new one when Reinterrupted.
	Interrupt store.Interrupt

	// Terminated is set for a reject with nowhere to route; the thread has
	// been marked completed.
	Terminated bool

	// Reinterrupted is set when the input was a question that has to be
	// answered before the original decision; the thread is interrupted again.
	Reinterrupted bool

	Version int64
}

// Coordinator drives the protocol for threads stored in one Store.
// It keeps no per-thread state of its own and is safe for concurrent use.
type Coordinator[S any] struct {
	store      store.Store[S]
	classifier Classifier
	routes     Routes
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// Option configures a Coordinator.
type Option func(*config)

type config struct {
	classifier Classifier
	routes     Routes
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// WithClassifier replaces the default ActionClassifier.
func WithClassifier(c Classifier) Option {
	return func(cfg *config) { cfg.classifier = c }
}

// WithRoutes sets the intent routing table.
func WithRoutes(r Routes) Option {
	return func(cfg *config) { cfg.routes = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) { cfg.now = now }
}

// WithIDGenerator overrides the interrupt id generator (uuid v4).
func WithIDGenerator(fn func() string) Option {
	return func(cfg *config) { cfg.newID = fn }
}

// NewCoordinator creates a Coordinator over s.
func NewCoordinator[S any](s store.Store[S], opts ...Option) *Coordinator[S] {
	cfg := config{
		classifier: ActionClassifier{},
		logger:     zap.NewNop(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Coordinator[S]{
		store:      s,
		classifier: cfg.classifier,
		routes:     cfg.routes,
		logger:     cfg.logger.With(zap.String("component", "interrupt_coordinator")),
		now:        cfg.now,
		newID:      cfg.newID,
	}
}

// Routes returns the routing table.
func (c *Coordinator[S]) Routes() Routes { return c.routes }

// Interrupt pauses threadID at state. meta carries the step position (node,
// step number, resources); its status and interrupt fields are overwritten.
//
// It fails with ErrInterruptPending when the thread is already waiting.
func (c *Coordinator[S]) Interrupt(ctx context.Context, threadID string, state S, p Payload, meta store.Metadata) (store.Checkpoint[S], error) {
	if threadID == "" {
		return store.Checkpoint[S]{}, protocolError(threadID, ErrMissingThreadID)
	}

	var current int64
	cur, err := c.store.Get(ctx, threadID)
	switch {
	case err == nil:
		if cur.Metadata.Status == store.StatusInterrupted && cur.Metadata.Interrupt.Outstanding() {
			return store.Checkpoint[S]{}, protocolError(threadID, ErrInterruptPending)
		}
		current = cur.Version
	case errors.Is(err, store.ErrNotFound):
	default:
		return store.Checkpoint[S]{}, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	rec := c.record(p)
	meta.Status = store.StatusInterrupted
	meta.Interrupt = &rec
	meta.Timestamp = c.now()
	if meta.Source == "" {
		meta.Source = "interrupt"
	}

	saved, err := c.store.Put(ctx, threadID, store.Checkpoint[S]{
		State:    state,
		Metadata: meta,
		Version:  current + 1,
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleVersion) {
			return store.Checkpoint[S]{}, protocolError(threadID, ErrInterruptPending)
		}
		return store.Checkpoint[S]{}, fmt.Errorf("persist interrupt for %s: %w", threadID, err)
	}

	c.logger.Info("workflow interrupted",
		zap.String("thread_id", threadID),
		zap.String("interrupt_id", rec.ID),
		zap.String("type", rec.Type),
		zap.Int64("version", saved.Version),
	)
	return saved, nil
}

// Pending returns the outstanding interrupt of threadID.
func (c *Coordinator[S]) Pending(ctx context.Context, threadID string) (store.Interrupt, error) {
	if threadID == "" {
		return store.Interrupt{}, protocolError(threadID, ErrMissingThreadID)
	}
	cur, err := c.store.Get(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Interrupt{}, protocolError(threadID, ErrNoPendingInterrupt)
	}
	if err != nil {
		return store.Interrupt{}, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if !cur.Metadata.Interrupt.Outstanding() {
		return store.Interrupt{}, protocolError(threadID, ErrNoPendingInterrupt)
	}
	return *cur.Metadata.Interrupt, nil
}

// Resume consumes the outstanding interrupt of threadID with in.
//
// Exactly one Resume succeeds per interrupt: a second call, including a
// concurrent one that lost the version race, fails with ErrAlreadyResolved.
func (c *Coordinator[S]) Resume(ctx context.Context, threadID string, in ResumeInput) (Decision[S], error) {
	if threadID == "" {
		return Decision[S]{}, protocolError(threadID, ErrMissingThreadID)
	}

	cur, err := c.store.Get(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return Decision[S]{}, protocolError(threadID, ErrNoPendingInterrupt)
	}
	if err != nil {
		return Decision[S]{}, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	pending := cur.Metadata.Interrupt
	if pending == nil {
		return Decision[S]{}, protocolError(threadID, ErrNoPendingInterrupt)
	}
	if !pending.Outstanding() {
		return Decision[S]{}, protocolError(threadID, ErrAlreadyResolved)
	}

	cls, err := c.classifier.Classify(ctx, *pending, in)
	if err != nil {
		return Decision[S]{}, fmt.Errorf("resume %s: %w", threadID, err)
	}

	now := c.now()
	resolved := *pending
	resolved.ResolvedAt = &now
	resolved.Resolution = string(cls.Intent)

	dec := Decision[S]{
		ThreadID: threadID,
		Intent:   cls.Intent,
		Input:    in,
		Node:     cur.Metadata.Node,
		Step:     cur.Metadata.Step,
		State:    cur.State,
	}
	meta := cur.Metadata
	meta.Timestamp = now
	meta.Source = "resume"

	next := c.routes.For(cls.Intent)
	switch {
	case cls.Intent == IntentQuestion && c.routes.Question == "":
		question := cls.Question
		if question == "" {
			question = in.Feedback
		}
		follow := store.Interrupt{
			ID:        c.newID(),
			Type:      string(IntentQuestion),
			Question:  question,
			Options:   pending.Options,
			Data:      pending.Data,
			CreatedAt: now,
		}
		meta.Status = store.StatusInterrupted
		meta.Interrupt = &follow
		dec.Interrupt = follow
		dec.Reinterrupted = true
	case cls.Intent == IntentReject && next == "":
		meta.Status = store.StatusCompleted
		meta.Interrupt = &resolved
		dec.Interrupt = resolved
		dec.Terminated = true
	default:
		meta.Status = store.StatusResuming
		meta.Interrupt = &resolved
		dec.Interrupt = resolved
		dec.Next = next
	}

	saved, err := c.store.Put(ctx, threadID, store.Checkpoint[S]{
		State:    cur.State,
		Metadata: meta,
		Version:  cur.Version + 1,
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleVersion) {
			return Decision[S]{}, protocolError(threadID, ErrAlreadyResolved)
		}
		return Decision[S]{}, fmt.Errorf("persist resume for %s: %w", threadID, err)
	}
	dec.Version = saved.Version

	c.logger.Info("workflow resumed",
		zap.String("thread_id", threadID),
		zap.String("interrupt_id", pending.ID),
		zap.String("intent", string(cls.Intent)),
		zap.String("next", dec.Next),
		zap.Bool("terminated", dec.Terminated),
		zap.Bool("reinterrupted", dec.Reinterrupted),
	)
	return dec, nil
}

func (c *Coordinator[S]) record(p Payload) store.Interrupt {
	rec := store.Interrupt{
		ID:        c.newID(),
		Type:      p.Type,
		Question:  p.Question,
		Options:   p.Options,
		Data:      p.Data,
		CreatedAt: p.Timestamp,
	}
	if rec.Type == "" {
		rec.Type = DefaultPayloadType
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = c.now()
	}
	return rec
}

// PayloadOf converts a persisted interrupt back to its wire form.
func PayloadOf(rec store.Interrupt) Payload {
	return Payload{
		Type:      rec.Type,
		Question:  rec.Question,
		Options:   rec.Options,
		Data:      rec.Data,
		Timestamp: rec.CreatedAt,
	}
}
