package graph

import (
	"encoding/json"
	"fmt"
)

// Reducer merges a node's partial update into the previous state. It must
// be deterministic: fan-out batches are merged in branch order.
type Reducer[S any] func(prev, delta S) S

// replace is the default Reducer: the delta becomes the new state.
func replace[S any](_, delta S) S { return delta }

// deepCopy gives each fan-out branch its own copy of the state so branches
// cannot race on shared maps or slices.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
