package graph

import (
	"context"

	"github.com/rudihinds/langgraph-agent-sub011/graph/interrupt"
)

// Node is one unit of work in a workflow.
//
// Run receives the current state and returns a partial update (Delta) that
// the engine merges with the Reducer, the resources it consumed and where to
// go next. A node pauses the workflow for human review by setting Interrupt.
type Node[S any] interface {
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of a Node.
type NodeResult[S any] struct {
	// Delta is merged into the current state by the Reducer.
	Delta S

	// Route selects the next node. The zero value defers to edges.
	Route Next

	// Usage reports consumed resources, e.g. {"tokens": 812, "api_calls": 1}.
	Usage map[string]float64

	// Interrupt pauses the thread after merging Delta.
	Interrupt *interrupt.Payload

	Err error
}

// Next selects the continuation of a node.
type Next struct {
	// To is the next node. With Many it is the join node run after the batch.
	To string

	// Many runs these nodes concurrently on copies of the state; their
	// deltas are merged in order and committed once.
	Many []string

	// Terminal completes the thread.
	Terminal bool
}

// Stop completes the thread.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto routes to nodeID.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// FanOut runs nodeIDs concurrently and then continues with join (which may
// be empty to complete the thread).
func FanOut(join string, nodeIDs ...string) Next {
	return Next{To: join, Many: nodeIDs}
}

// NodeFunc adapts a function to Node.
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements Node.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError wraps an error returned by a node.
type NodeError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}
