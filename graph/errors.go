// Package graph composes the checkpoint store, fingerprint-based cycle
// detection, the resource governor and the interrupt coordinator into a
// workflow orchestrator.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rudihinds/langgraph-agent-sub011/graph/governor"
)

// ErrMaxStepsExceeded indicates that Execute reached the configured maximum
// step count without completing.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrThreadBusy is returned when a thread already has an active run in this
// process.
var ErrThreadBusy = errors.New("thread already has an active run")

// ErrRunClosed is returned by Run methods after the run completed, failed,
// was interrupted or ended.
var ErrRunClosed = errors.New("run is closed")

// ErrEngineClosed is returned once Shutdown has been called.
var ErrEngineClosed = errors.New("engine is shut down")

var (
	// ErrCycleDetected matches any *CycleDetectedError via errors.Is.
	ErrCycleDetected = errors.New("execution cycle detected")

	// ErrResourceLimitExceeded matches any *ResourceLimitExceededError.
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
)

// CycleDetectedError reports that a thread kept revisiting the same states.
// The thread has been persisted as failed.
type CycleDetectedError struct {
	ThreadID    string
	Node        string
	Step        int
	Fingerprint string
	Length      int
	Repetitions int
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("thread %q: cycle of length %d repeated %d times at node %q (step %d)",
		e.ThreadID, e.Length, e.Repetitions, e.Node, e.Step)
}

func (e *CycleDetectedError) Is(target error) bool { return target == ErrCycleDetected }

// ResourceLimitExceededError reports resources over their limit in hard
// limit mode. The thread has been persisted as failed.
type ResourceLimitExceededError struct {
	ThreadID string
	Node     string
	Step     int
	Breaches []governor.Breach
	Usage    governor.Usage
}

func (e *ResourceLimitExceededError) Error() string {
	parts := make([]string, len(e.Breaches))
	for i, b := range e.Breaches {
		parts[i] = fmt.Sprintf("%s %.0f > %.0f", b.Resource, b.Used, b.Limit)
	}
	return fmt.Sprintf("thread %q: resource limit exceeded at node %q (step %d): %s",
		e.ThreadID, e.Node, e.Step, strings.Join(parts, ", "))
}

func (e *ResourceLimitExceededError) Is(target error) bool {
	return target == ErrResourceLimitExceeded
}

// EngineError represents a configuration or usage error of the Engine.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
