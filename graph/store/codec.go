package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Column encoding shared by the relational and key-value adapters.
// checkpoint_data holds the JSON state, metadata holds the JSON Metadata.

func encodeCheckpoint[S any](cp Checkpoint[S]) (state, meta []byte, err error) {
	state, err = json.Marshal(cp.State)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	meta, err = json.Marshal(cp.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return state, meta, nil
}

func decodeCheckpoint[S any](threadID string, state, meta []byte, version int64) (Checkpoint[S], error) {
	cp := Checkpoint[S]{ThreadID: threadID, Version: version, Persisted: true}
	if err := json.Unmarshal(state, &cp.State); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &cp.Metadata); err != nil {
			return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return cp, nil
}

func encodeSessionMeta(s Session) ([]byte, error) {
	if s.Metadata == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(s.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session metadata: %w", err)
	}
	return b, nil
}

func decodeSessionMeta(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// stamp fills in write timestamps the caller left empty.
func stamp[S any](cp *Checkpoint[S], now time.Time) {
	if cp.Metadata.Timestamp.IsZero() {
		cp.Metadata.Timestamp = now
	}
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
