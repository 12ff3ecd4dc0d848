package interrupt

import (
	"errors"
	"fmt"
)

// Protocol violations. They are fatal to the call that triggered them, never
// to the persisted state of the thread.
var (
	ErrMissingThreadID    = errors.New("thread id is required")
	ErrNoPendingInterrupt = errors.New("no pending interrupt")
	ErrAlreadyResolved    = errors.New("interrupt already resolved")
	ErrInterruptPending   = errors.New("an interrupt is already pending")
)

// ErrInvalidResumeInput is returned by DecodeResumeInput for malformed input.
var ErrInvalidResumeInput = errors.New("invalid resume input")

// ErrUnclassified is returned by a Classifier that cannot map the input to an
// intent.
var ErrUnclassified = errors.New("cannot classify resume input")

// ProtocolError reports a violation of the interrupt/resume protocol for one
// thread. Use errors.Is with the Err* sentinels to tell the cases apart.
type ProtocolError struct {
	ThreadID string
	Err      error
}

func (e *ProtocolError) Error() string {
	if e.ThreadID == "" {
		return fmt.Sprintf("interrupt protocol: %v", e.Err)
	}
	return fmt.Sprintf("interrupt protocol: thread %q: %v", e.ThreadID, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolError(threadID string, err error) error {
	return &ProtocolError{ThreadID: threadID, Err: err}
}
