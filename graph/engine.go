package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rudihinds/langgraph-agent-sub011/graph/emit"
	"github.com/rudihinds/langgraph-agent-sub011/graph/fingerprint"
	"github.com/rudihinds/langgraph-agent-sub011/graph/governor"
	"github.com/rudihinds/langgraph-agent-sub011/graph/interrupt"
	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

// Engine orchestrates workflow threads.
//
// It owns the node graph and the store, and hands out one Run per thread.
// Every committed step goes through fingerprinting and cycle detection,
// resource accounting and checkpointing; a step that pauses goes to the
// interrupt coordinator instead.
//
// Threads run sequentially; different threads may run concurrently on the
// same Engine.
//
//	engine, _ := graph.New(reducer, st, graph.WithLimits(limits))
//	engine.Add("draft", draftNode)
//	engine.Add("review", reviewNode)
//	engine.Connect("draft", "review", nil)
//	engine.StartAt("draft")
//
//	run, _ := engine.Begin(ctx, "thread-1", nil)
//	defer run.End()
//	res, err := engine.Execute(ctx, run, "", initial)
type Engine[S any] struct {
	mu        sync.RWMutex
	reducer   Reducer[S]
	nodes     map[string]Node[S]
	edges     []Edge[S]
	startNode string

	store       store.Store[S]
	coordinator *interrupt.Coordinator[S]
	emitter     emit.Emitter
	metrics     *PrometheusMetrics
	logger      *zap.Logger
	opts        Options
	now         func() time.Time

	runsMu   sync.Mutex
	active   map[string]*Run[S]
	inflight sync.WaitGroup
	closed   bool
}

// New creates an Engine over st. A nil reducer replaces the state with each
// node's delta.
func New[S any](reducer Reducer[S], st store.Store[S], opts ...Option) (*Engine[S], error) {
	if st == nil {
		return nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	cfg := engineConfig{}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	o := cfg.opts
	if reducer == nil {
		reducer = replace[S]
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Emitter == nil {
		o.Emitter = emit.NewNullEmitter()
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.CycleThreshold == 0 {
		o.CycleThreshold = fingerprint.DefaultCycleThreshold
	}
	if err := o.Fingerprint.Validate(); err != nil {
		return nil, &EngineError{Message: err.Error(), Code: "INVALID_FINGERPRINT_OPTIONS"}
	}

	logger := o.Logger.With(zap.String("component", "engine"))
	coordOpts := []interrupt.Option{
		interrupt.WithRoutes(o.Routes),
		interrupt.WithLogger(o.Logger),
		interrupt.WithClock(o.clock),
	}
	if o.Classifier != nil {
		coordOpts = append(coordOpts, interrupt.WithClassifier(o.Classifier))
	}
	if !st.Durable() {
		logger.Warn("checkpoint store is not durable; interrupted threads will not survive a restart")
	}

	return &Engine[S]{
		reducer:     reducer,
		nodes:       make(map[string]Node[S]),
		store:       st,
		coordinator: interrupt.NewCoordinator[S](st, coordOpts...),
		emitter:     o.Emitter,
		metrics:     o.Metrics,
		logger:      logger,
		opts:        o,
		now:         o.clock,
		active:      make(map[string]*Run[S]),
	}, nil
}

// Add registers a node.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty", Code: "INVALID_NODE_ID"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil", Code: "NIL_NODE"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: "DUPLICATE_NODE"}
	}
	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the default entry node of Execute.
func (e *Engine[S]) StartAt(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.nodes[nodeID]; !ok {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}
	e.startNode = nodeID
	return nil
}

// Connect adds an edge. A nil predicate always matches.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.nodes[from]; !ok {
		return &EngineError{Message: "source node does not exist: " + from, Code: "NODE_NOT_FOUND"}
	}
	if _, ok := e.nodes[to]; !ok {
		return &EngineError{Message: "target node does not exist: " + to, Code: "NODE_NOT_FOUND"}
	}
	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

func (e *Engine[S]) node(id string) (Node[S], bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.nodes[id]
	return n, ok
}

// evaluateEdges returns the target of the first matching edge from
// fromNode, or "" when none matches.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

// Store returns the checkpoint store.
func (e *Engine[S]) Store() store.Store[S] { return e.store }

// Coordinator returns the interrupt coordinator.
func (e *Engine[S]) Coordinator() *interrupt.Coordinator[S] { return e.coordinator }

// InitResult describes a thread at the start of a run.
type InitResult[S any] struct {
	IsNew    bool
	ThreadID string

	// Checkpoint is nil for new threads.
	Checkpoint *store.Checkpoint[S]
}

// InitOrResume looks up threadID. An empty threadID starts a new thread
// with a generated id.
func (e *Engine[S]) InitOrResume(ctx context.Context, threadID string) (InitResult[S], error) {
	if threadID == "" {
		return InitResult[S]{IsNew: true, ThreadID: uuid.NewString()}, nil
	}
	cp, err := e.store.Get(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return InitResult[S]{IsNew: true, ThreadID: threadID}, nil
	}
	if err != nil {
		return InitResult[S]{}, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	return InitResult[S]{ThreadID: threadID, Checkpoint: &cp}, nil
}

// Thread is a read-only view of a workflow thread.
type Thread struct {
	ThreadID  string
	Status    store.ThreadStatus
	Version   int64
	Step      int
	Node      string
	Pending   *store.Interrupt
	UpdatedAt time.Time

	// Durable is false when the thread lives in a non-durable store.
	Durable bool
}

// Thread returns the current view of threadID.
func (e *Engine[S]) Thread(ctx context.Context, threadID string) (Thread, error) {
	cp, err := e.store.Get(ctx, threadID)
	if err != nil {
		return Thread{}, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	t := Thread{
		ThreadID:  threadID,
		Status:    cp.Metadata.Status,
		Version:   cp.Version,
		Step:      cp.Metadata.Step,
		Node:      cp.Metadata.Node,
		UpdatedAt: cp.Metadata.Timestamp,
		Durable:   e.store.Durable(),
	}
	if cp.Metadata.Interrupt.Outstanding() {
		rec := *cp.Metadata.Interrupt
		t.Pending = &rec
	}
	return t, nil
}

// Begin starts a run on threadID, loading its latest checkpoint if any.
//
// gov may be nil, in which case a governor with the engine's limits is
// created. With resource persistence enabled the governor is restored from
// the checkpoint. Begin fails with ErrThreadBusy when the thread already
// has an active run in this process, and with interrupt.ErrInterruptPending
// when the thread waits for human input.
func (e *Engine[S]) Begin(ctx context.Context, threadID string, gov *governor.Governor) (*Run[S], error) {
	if threadID == "" {
		return nil, &EngineError{Message: "thread id is required", Code: "MISSING_THREAD_ID"}
	}

	cp, err := e.store.Get(ctx, threadID)
	found := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if found && cp.Metadata.Status == store.StatusInterrupted && cp.Metadata.Interrupt.Outstanding() {
		return nil, &interrupt.ProtocolError{ThreadID: threadID, Err: interrupt.ErrInterruptPending}
	}

	if gov == nil {
		govOpts := append([]governor.Option{governor.WithLogger(e.opts.Logger)}, e.opts.GovernorOptions...)
		gov = governor.New(e.opts.Limits, govOpts...)
	}
	if found && e.opts.PersistResources && len(cp.Metadata.Resources) > 0 {
		gov.Restore(cp.Metadata.Resources)
	}

	fpOpts := e.opts.Fingerprint
	detector, err := fingerprint.NewDetector(fpOpts,
		fingerprint.CycleOptions{Threshold: e.opts.CycleThreshold},
		fingerprint.NewHistory(e.opts.HistorySize, e.opts.StateWindow))
	if err != nil {
		return nil, &EngineError{Message: err.Error(), Code: "INVALID_FINGERPRINT_OPTIONS"}
	}

	r := &Run[S]{
		e:        e,
		threadID: threadID,
		gov:      gov,
		detector: detector,
		lastMark: e.now(),
		status:   store.StatusRunning,
	}
	if found {
		r.state = cp.State
		r.step = cp.Metadata.Step
		r.node = cp.Metadata.Node
		r.version = cp.Version
	}

	e.runsMu.Lock()
	if e.closed {
		e.runsMu.Unlock()
		return nil, ErrEngineClosed
	}
	if _, busy := e.active[threadID]; busy {
		e.runsMu.Unlock()
		return nil, ErrThreadBusy
	}
	e.active[threadID] = r
	e.runsMu.Unlock()

	e.metrics.runStarted()
	e.touchSession(ctx, threadID, store.StatusRunning)
	e.emit(emit.Event{ThreadID: threadID, Step: r.step, Msg: emit.MsgRunStarted, Meta: map[string]interface{}{
		"resumed": found,
		"version": r.version,
	}})
	return r, nil
}

func (e *Engine[S]) release(threadID string) {
	e.runsMu.Lock()
	delete(e.active, threadID)
	e.runsMu.Unlock()
	e.metrics.runEnded()
}

func (e *Engine[S]) busy(threadID string) bool {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	_, ok := e.active[threadID]
	return ok
}

// enter registers an in-flight store write so Shutdown can wait for it.
func (e *Engine[S]) enter() error {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.inflight.Add(1)
	return nil
}

// Result is the outcome of Execute or Continue.
type Result[S any] struct {
	ThreadID string
	State    S
	Status   store.ThreadStatus
	Version  int64

	// Steps is the number of steps committed by this call.
	Steps int

	// Interrupt is set when Status is interrupted.
	Interrupt *store.Interrupt
}

// Execute drives run from start (the StartAt node when empty) until a node
// stops, no edge matches, the thread is interrupted, or an error occurs.
func (e *Engine[S]) Execute(ctx context.Context, run *Run[S], start string, state S) (Result[S], error) {
	if start == "" {
		e.mu.RLock()
		start = e.startNode
		e.mu.RUnlock()
	}
	if start == "" {
		return Result[S]{}, &EngineError{Message: "no start node", Code: "NO_START_NODE"}
	}

	res := Result[S]{ThreadID: run.threadID, State: state, Status: store.StatusRunning}
	cur := start
	for {
		if e.opts.MaxSteps > 0 && res.Steps >= e.opts.MaxSteps {
			return res, ErrMaxStepsExceeded
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		node, ok := e.node(cur)
		if !ok {
			return res, &EngineError{Message: "node does not exist: " + cur, Code: "NODE_NOT_FOUND"}
		}
		next, cp, err := run.Step(ctx, cur, state, node)
		if err != nil {
			return res.with(cp, run), err
		}
		res.Steps++
		state = cp.State
		res = res.with(cp, run)
		if run.Interrupted() {
			return res, nil
		}

		if len(next.Many) > 0 {
			branches := make([]Branch[S], 0, len(next.Many))
			for _, id := range next.Many {
				n, ok := e.node(id)
				if !ok {
					return res, &EngineError{Message: "fan-out node does not exist: " + id, Code: "NODE_NOT_FOUND"}
				}
				branches = append(branches, Branch[S]{ID: id, Node: n})
			}
			cp, err = run.FanOut(ctx, fanOutName(next.Many), state, branches...)
			if err != nil {
				return res.with(cp, run), err
			}
			res.Steps++
			state = cp.State
			res = res.with(cp, run)
			if run.Interrupted() {
				return res, nil
			}
			if next.To == "" {
				return e.finish(ctx, run, res)
			}
			cur = next.To
			continue
		}

		switch {
		case next.Terminal:
			return e.finish(ctx, run, res)
		case next.To != "":
			cur = next.To
		default:
			to := e.evaluateEdges(cur, state)
			if to == "" {
				return e.finish(ctx, run, res)
			}
			cur = to
		}
	}
}

func (e *Engine[S]) finish(ctx context.Context, run *Run[S], res Result[S]) (Result[S], error) {
	cp, err := run.Complete(ctx)
	if err != nil {
		return res, err
	}
	return res.with(cp, run), nil
}

func (r Result[S]) with(cp store.Checkpoint[S], run *Run[S]) Result[S] {
	if cp.Version == 0 {
		return r
	}
	r.State = cp.State
	r.Version = cp.Version
	r.Status = cp.Metadata.Status
	if run.Interrupted() && cp.Metadata.Interrupt != nil {
		rec := *cp.Metadata.Interrupt
		r.Interrupt = &rec
	}
	return r
}

// ResumeWithInput consumes the pending interrupt of threadID. The returned
// decision says where to continue; pass it to Continue to run on.
func (e *Engine[S]) ResumeWithInput(ctx context.Context, threadID string, in interrupt.ResumeInput) (interrupt.Decision[S], error) {
	if e.busy(threadID) {
		return interrupt.Decision[S]{}, ErrThreadBusy
	}
	if err := e.enter(); err != nil {
		return interrupt.Decision[S]{}, err
	}
	defer e.inflight.Done()

	dec, err := e.coordinator.Resume(ctx, threadID, in)
	if err != nil {
		var perr *interrupt.ProtocolError
		if errors.As(err, &perr) {
			e.logger.Debug("resume rejected", zap.String("thread_id", threadID), zap.Error(err))
		}
		return dec, err
	}

	event, status := "resumed", store.StatusResuming
	switch {
	case dec.Reinterrupted:
		event, status = "reinterrupted", store.StatusInterrupted
	case dec.Terminated:
		event, status = "terminated", store.StatusCompleted
	}
	e.metrics.RecordInterrupt(event)
	e.touchSession(ctx, threadID, status)
	e.emit(emit.Event{ThreadID: threadID, Step: dec.Step, Node: dec.Node, Msg: emit.MsgResumed, Meta: map[string]interface{}{
		"intent":  string(dec.Intent),
		"next":    dec.Next,
		"outcome": event,
		"version": dec.Version,
	}})
	return dec, nil
}

// Continue runs the thread on after a successful ResumeWithInput.
//
// It starts at dec.Next, or at the edge target of the node that raised the
// interrupt when no route was configured. Terminated and re-interrupted
// decisions return immediately.
func (e *Engine[S]) Continue(ctx context.Context, dec interrupt.Decision[S], gov *governor.Governor) (Result[S], error) {
	res := Result[S]{ThreadID: dec.ThreadID, State: dec.State, Version: dec.Version}
	switch {
	case dec.Terminated:
		res.Status = store.StatusCompleted
		return res, nil
	case dec.Reinterrupted:
		res.Status = store.StatusInterrupted
		rec := dec.Interrupt
		res.Interrupt = &rec
		return res, nil
	}

	run, err := e.Begin(ctx, dec.ThreadID, gov)
	if err != nil {
		return res, err
	}
	defer run.End()

	start := dec.Next
	if start == "" {
		start = e.evaluateEdges(dec.Node, dec.State)
	}
	if start == "" {
		return e.finish(ctx, run, res)
	}
	return e.Execute(ctx, run, start, dec.State)
}

// Shutdown rejects new runs and writes, waits for in-flight writes (bounded
// by the graceful shutdown timeout and ctx) and closes the store.
func (e *Engine[S]) Shutdown(ctx context.Context) error {
	e.runsMu.Lock()
	e.closed = true
	e.runsMu.Unlock()

	if e.opts.GracefulShutdown > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.GracefulShutdown)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("waiting for in-flight writes: %w", ctx.Err())
		e.logger.Warn("graceful shutdown timed out", zap.Error(ctx.Err()))
	}

	if c, ok := e.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return errors.Join(waitErr, fmt.Errorf("close store: %w", err))
		}
	}
	return waitErr
}

func (e *Engine[S]) emit(ev emit.Event) {
	e.emitter.Emit(ev)
}

// touchSession records thread activity in stores that keep sessions.
// Session bookkeeping never fails a run.
func (e *Engine[S]) touchSession(ctx context.Context, threadID string, status store.ThreadStatus) {
	ss, ok := e.store.(store.SessionStore)
	if !ok {
		return
	}
	now := e.now()
	sess, err := ss.GetSession(ctx, threadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sess = store.Session{
			ThreadID:  threadID,
			UserID:    UserFromContext(ctx),
			Component: "graph",
			StartTime: now,
		}
	case err != nil:
		e.logger.Warn("load session", zap.String("thread_id", threadID), zap.Error(err))
		return
	}
	sess.Status = status
	sess.LastActivity = now
	if err := ss.SaveSession(ctx, sess); err != nil {
		e.logger.Warn("save session", zap.String("thread_id", threadID), zap.Error(err))
	}
}
