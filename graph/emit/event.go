package emit

// Event is one observability event of a workflow thread.
type Event struct {
	// ThreadID identifies the workflow thread.
	ThreadID string

	// Step is the checkpoint step the event belongs to. Zero for
	// thread-level events.
	Step int

	// Node is empty for thread-level events.
	Node string

	// Msg is one of the Msg* constants or a caller-defined name.
	Msg string

	// Meta carries event-specific fields such as "duration_ms", "error",
	// "version", "resource" or "cycle_length".
	Meta map[string]interface{}
}

// Event names emitted by the orchestrator.
const (
	MsgRunStarted      = "run_started"
	MsgStepCommitted   = "step_committed"
	MsgCycleDetected   = "cycle_detected"
	MsgLimitExceeded   = "limit_exceeded"
	MsgInterrupted     = "workflow_interrupted"
	MsgResumed         = "workflow_resumed"
	MsgRunFailed       = "run_failed"
	MsgRunCompleted    = "run_completed"
	MsgStorageFallback = "storage_fallback"
	MsgStorageRetry    = "storage_retry"
)

// Err returns the "error" meta field, if any.
func (e Event) Err() (string, bool) {
	s, ok := e.Meta["error"].(string)
	return s, ok
}
