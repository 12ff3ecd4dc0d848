package store

import "fmt"

// StorageUnavailableError reports that the configured backend could not be
// reached when the store was opened. Open recovers from it by switching to a
// MemStore; it is handed to the OnFallback hook rather than returned.
type StorageUnavailableError struct {
	Backend string
	Err     error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage backend %q unavailable: %v", e.Backend, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// StorageWriteError is returned once a write has failed on every attempt.
type StorageWriteError struct {
	ThreadID string
	Op       string
	Attempts int
	Err      error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("%s %q failed after %d attempts: %v", e.Op, e.ThreadID, e.Attempts, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }
