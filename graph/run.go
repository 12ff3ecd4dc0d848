package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rudihinds/langgraph-agent-sub011/graph/emit"
	"github.com/rudihinds/langgraph-agent-sub011/graph/fingerprint"
	"github.com/rudihinds/langgraph-agent-sub011/graph/governor"
	"github.com/rudihinds/langgraph-agent-sub011/graph/interrupt"
	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

// StepResult is the outcome of one step as committed by Run.Commit.
type StepResult[S any] struct {
	// State is the full state after the step.
	State S

	// Usage holds resource deltas consumed by the step. Elapsed wall-clock
	// time is added automatically.
	Usage map[string]float64

	// Interrupt pauses the thread at State.
	Interrupt *interrupt.Payload
}

// Branch is one member of a fan-out batch.
type Branch[S any] struct {
	ID   string
	Node Node[S]
}

// Run is the active execution of one thread in this process. It owns the
// thread's fingerprint history and governor. Methods are serialized; a
// Run must not outlive the call that began it (always defer End).
type Run[S any] struct {
	e        *Engine[S]
	threadID string
	gov      *governor.Governor
	detector *fingerprint.Detector

	mu        sync.Mutex
	state     S
	step      int
	node      string
	version   int64
	lastMark  time.Time
	status    store.ThreadStatus
	interrupt *store.Interrupt
	closed    bool
}

// ThreadID returns the thread of the run.
func (r *Run[S]) ThreadID() string { return r.threadID }

// Governor returns the run's governor.
func (r *Run[S]) Governor() *governor.Governor { return r.gov }

// History returns the fingerprint history.
func (r *Run[S]) History() *fingerprint.History { return r.detector.History() }

// Progressed reports whether field advanced between the last two committed
// states.
func (r *Run[S]) Progressed(field string) bool { return r.detector.Progressed(field) }

// State returns the last committed state.
func (r *Run[S]) State() S {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Version returns the last committed checkpoint version.
func (r *Run[S]) Version() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Status returns the run status.
func (r *Run[S]) Status() store.ThreadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Interrupted reports whether the run ended by pausing for human input.
func (r *Run[S]) Interrupted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == store.StatusInterrupted
}

// PendingInterrupt returns the interrupt raised by this run, if any.
func (r *Run[S]) PendingInterrupt() *store.Interrupt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interrupt
}

// Commit records the outcome of a step produced by node.
//
// In order: the state is fingerprinted and checked for cycles, usage plus
// elapsed time is charged to the governor and checked against limits, then
// the checkpoint is written. A cycle, or a breach in hard-limit mode, writes
// a failed checkpoint and returns *CycleDetectedError or
// *ResourceLimitExceededError together with that checkpoint. A result
// carrying an Interrupt is handed to the interrupt coordinator instead and
// ends the run.
func (r *Run[S]) Commit(ctx context.Context, node string, res StepResult[S]) (store.Checkpoint[S], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.Checkpoint[S]{}, ErrRunClosed
	}
	if err := r.e.enter(); err != nil {
		return store.Checkpoint[S]{}, err
	}
	defer r.e.inflight.Done()

	now := r.e.now()
	r.gov.TrackAll(res.Usage)
	r.gov.TrackElapsed(now.Sub(r.lastMark))
	r.lastMark = now

	meta := store.Metadata{Source: "step", Step: r.step + 1, Node: node, Timestamp: now}
	if res.Interrupt != nil {
		return r.interruptLocked(ctx, res.State, *res.Interrupt, meta)
	}

	entry, cycle, err := r.detector.Observe(node, res.State)
	if err != nil {
		return store.Checkpoint[S]{}, fmt.Errorf("fingerprint state at %s: %w", node, err)
	}
	if cycle.Detected {
		r.e.metrics.RecordCycle(node)
		r.e.emit(emit.Event{ThreadID: r.threadID, Step: meta.Step, Node: node, Msg: emit.MsgCycleDetected, Meta: map[string]interface{}{
			"fingerprint":  entry.Fingerprint,
			"cycle_length": cycle.Length,
			"repetitions":  cycle.Repetitions,
		}})
		return r.failLocked(ctx, res.State, meta, &CycleDetectedError{
			ThreadID:    r.threadID,
			Node:        node,
			Step:        meta.Step,
			Fingerprint: entry.Fingerprint,
			Length:      cycle.Length,
			Repetitions: cycle.Repetitions,
		})
	}

	if r.gov.CheckLimits() {
		breaches := r.gov.Breaches()
		names := make([]string, len(breaches))
		for i, b := range breaches {
			r.e.metrics.RecordBreach(b.Resource)
			names[i] = b.Resource
		}
		r.e.emit(emit.Event{ThreadID: r.threadID, Step: meta.Step, Node: node, Msg: emit.MsgLimitExceeded, Meta: map[string]interface{}{
			"resources": names,
			"soft":      r.e.opts.SoftLimits,
		}})
		if !r.e.opts.SoftLimits {
			return r.failLocked(ctx, res.State, meta, &ResourceLimitExceededError{
				ThreadID: r.threadID,
				Node:     node,
				Step:     meta.Step,
				Breaches: breaches,
				Usage:    r.gov.Usage(),
			})
		}
	}

	meta.Status = store.StatusRunning
	cp, err := r.putLocked(ctx, res.State, meta)
	if err != nil {
		return store.Checkpoint[S]{}, err
	}
	r.e.emit(emit.Event{ThreadID: r.threadID, Step: meta.Step, Node: node, Msg: emit.MsgStepCommitted, Meta: map[string]interface{}{
		"version":     cp.Version,
		"fingerprint": entry.Fingerprint,
	}})
	return cp, nil
}

// Step runs fn as node on state, merges its delta with the reducer and
// commits the result. It returns the node's routing decision.
func (r *Run[S]) Step(ctx context.Context, node string, state S, fn Node[S]) (Next, store.Checkpoint[S], error) {
	if r.isClosed() {
		return Next{}, store.Checkpoint[S]{}, ErrRunClosed
	}
	started := time.Now()
	out, err := runNode(ctx, fn, node, state, r.e.opts.DefaultNodeTimeout)
	r.e.metrics.RecordStepLatency(node, time.Since(started), stepStatus(err))
	if err != nil {
		cp, ferr := r.failStep(ctx, node, state, err)
		return Next{}, cp, ferr
	}

	merged := r.e.reducer(state, out.Delta)
	cp, err := r.Commit(ctx, node, StepResult[S]{State: merged, Usage: out.Usage, Interrupt: out.Interrupt})
	return out.Route, cp, err
}

// FanOut runs branches concurrently, each on its own copy of state, waits
// for all of them, merges their deltas in branch order and commits once
// under node. Usage is summed; the first branch (in order) that asks for an
// interrupt pauses the thread with the merged state. If any branch fails
// no branch output is merged: the thread is marked failed with the state
// the batch started from.
func (r *Run[S]) FanOut(ctx context.Context, node string, state S, branches ...Branch[S]) (store.Checkpoint[S], error) {
	if r.isClosed() {
		return store.Checkpoint[S]{}, ErrRunClosed
	}
	if len(branches) == 0 {
		return store.Checkpoint[S]{}, &EngineError{Message: "fan-out needs at least one branch", Code: "EMPTY_FANOUT"}
	}

	results := make([]NodeResult[S], len(branches))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range branches {
		g.Go(func() error {
			copied, err := deepCopy(state)
			if err != nil {
				return fmt.Errorf("copy state for %s: %w", b.ID, err)
			}
			started := time.Now()
			out, err := runNode(gctx, b.Node, b.ID, copied, r.e.opts.DefaultNodeTimeout)
			r.e.metrics.RecordStepLatency(b.ID, time.Since(started), stepStatus(err))
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return r.failStep(ctx, node, state, err)
	}

	merged := state
	usage := make(map[string]float64)
	var pause *interrupt.Payload
	for _, out := range results {
		merged = r.e.reducer(merged, out.Delta)
		for k, v := range out.Usage {
			usage[k] += v
		}
		if pause == nil && out.Interrupt != nil {
			pause = out.Interrupt
		}
	}
	return r.Commit(ctx, node, StepResult[S]{State: merged, Usage: usage, Interrupt: pause})
}

// Complete marks the thread completed with its last committed state and
// ends the run.
func (r *Run[S]) Complete(ctx context.Context) (store.Checkpoint[S], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.Checkpoint[S]{}, ErrRunClosed
	}
	if err := r.e.enter(); err != nil {
		return store.Checkpoint[S]{}, err
	}
	defer r.e.inflight.Done()

	now := r.e.now()
	r.gov.TrackElapsed(now.Sub(r.lastMark))
	r.lastMark = now

	cp, err := r.putLocked(ctx, r.state, store.Metadata{
		Source:    "complete",
		Step:      r.step,
		Node:      r.node,
		Timestamp: now,
		Status:    store.StatusCompleted,
	})
	if err != nil {
		return store.Checkpoint[S]{}, err
	}
	r.closeLocked()
	r.e.touchSession(ctx, r.threadID, store.StatusCompleted)
	r.e.emit(emit.Event{ThreadID: r.threadID, Step: r.step, Msg: emit.MsgRunCompleted, Meta: map[string]interface{}{
		"version": cp.Version,
	}})
	return cp, nil
}

// End releases the thread. It is safe to call more than once and after
// Complete, a failure or an interrupt.
func (r *Run[S]) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Run[S]) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Run[S]) closeLocked() {
	if r.closed {
		return
	}
	r.closed = true
	r.e.release(r.threadID)
}

func (r *Run[S]) putLocked(ctx context.Context, state S, meta store.Metadata) (store.Checkpoint[S], error) {
	if r.e.opts.PersistResources {
		meta.Resources = r.gov.Usage()
	}
	cp, err := r.e.store.Put(ctx, r.threadID, store.Checkpoint[S]{
		State:    state,
		Metadata: meta,
		Version:  r.version + 1,
	})
	if err != nil {
		r.e.metrics.RecordCheckpointWrite("error")
		return store.Checkpoint[S]{}, fmt.Errorf("checkpoint thread %s step %d: %w", r.threadID, meta.Step, err)
	}
	r.e.metrics.RecordCheckpointWrite("ok")
	r.state = state
	r.step = meta.Step
	r.node = meta.Node
	r.version = cp.Version
	r.status = meta.Status
	return cp, nil
}

// failStep records a node error as a failed checkpoint holding the state the
// node ran on, so the thread does not stay running.
func (r *Run[S]) failStep(ctx context.Context, node string, state S, cause error) (store.Checkpoint[S], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.Checkpoint[S]{}, cause
	}
	if err := r.e.enter(); err != nil {
		return store.Checkpoint[S]{}, errors.Join(cause, err)
	}
	defer r.e.inflight.Done()

	now := r.e.now()
	r.gov.TrackElapsed(now.Sub(r.lastMark))
	r.lastMark = now
	return r.failLocked(ctx, state, store.Metadata{Source: "step", Step: r.step + 1, Node: node, Timestamp: now}, cause)
}

func (r *Run[S]) failLocked(ctx context.Context, state S, meta store.Metadata, cause error) (store.Checkpoint[S], error) {
	meta.Status = store.StatusFailed
	cp, perr := r.putLocked(ctx, state, meta)
	r.status = store.StatusFailed
	r.closeLocked()

	r.e.logger.Warn("run failed",
		zap.String("thread_id", r.threadID),
		zap.String("node", meta.Node),
		zap.Int("step", meta.Step),
		zap.Error(cause),
	)
	r.e.touchSession(ctx, r.threadID, store.StatusFailed)
	r.e.emit(emit.Event{ThreadID: r.threadID, Step: meta.Step, Node: meta.Node, Msg: emit.MsgRunFailed, Meta: map[string]interface{}{
		"error": cause.Error(),
	}})
	if perr != nil {
		return cp, errors.Join(cause, perr)
	}
	return cp, cause
}

func (r *Run[S]) interruptLocked(ctx context.Context, state S, p interrupt.Payload, meta store.Metadata) (store.Checkpoint[S], error) {
	if r.e.opts.PersistResources {
		meta.Resources = r.gov.Usage()
	}
	cp, err := r.e.coordinator.Interrupt(ctx, r.threadID, state, p, meta)
	if err != nil {
		r.e.metrics.RecordCheckpointWrite("error")
		return store.Checkpoint[S]{}, err
	}
	r.e.metrics.RecordCheckpointWrite("ok")
	r.e.metrics.RecordInterrupt("interrupted")

	r.state = state
	r.step = meta.Step
	r.node = meta.Node
	r.version = cp.Version
	r.status = store.StatusInterrupted
	r.interrupt = cp.Metadata.Interrupt
	r.closeLocked()

	r.e.touchSession(ctx, r.threadID, store.StatusInterrupted)
	r.e.emit(emit.Event{ThreadID: r.threadID, Step: meta.Step, Node: meta.Node, Msg: emit.MsgInterrupted, Meta: map[string]interface{}{
		"interrupt_id": cp.Metadata.Interrupt.ID,
		"question":     cp.Metadata.Interrupt.Question,
		"version":      cp.Version,
	}})
	return cp, nil
}

func stepStatus(err error) string {
	var ee *EngineError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ee) && ee.Code == "NODE_TIMEOUT":
		return "timeout"
	default:
		return "error"
	}
}

func fanOutName(ids []string) string {
	return strings.Join(ids, "|")
}
