package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// NodePolicy is optional per-node configuration. A node opts in by
// implementing Policied.
type NodePolicy struct {
	// Timeout bounds one execution of the node. Zero uses the engine default.
	Timeout time.Duration
}

// Policied is implemented by nodes that carry their own NodePolicy.
type Policied interface {
	Policy() NodePolicy
}

func nodeTimeout[S any](node Node[S], defaultTimeout time.Duration) time.Duration {
	if p, ok := node.(Policied); ok && p.Policy().Timeout > 0 {
		return p.Policy().Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// runNode executes node under its timeout and converts node failures into
// errors.
func runNode[S any](ctx context.Context, node Node[S], nodeID string, state S, defaultTimeout time.Duration) (NodeResult[S], error) {
	timeout := nodeTimeout(node, defaultTimeout)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := node.Run(ctx, state)
	if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
		}
	}
	if result.Err != nil {
		return result, &NodeError{Message: result.Err.Error(), NodeID: nodeID, Cause: result.Err}
	}
	return result, nil
}
