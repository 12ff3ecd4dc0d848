// Package fingerprint hashes normalized workflow state and detects runs that
// keep revisiting the same states.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrConflictingFilters is returned when both IncludeFields and ExcludeFields are set.
var ErrConflictingFilters = errors.New("fingerprint: IncludeFields and ExcludeFields are mutually exclusive")

// DefaultVolatileFields are bookkeeping fields that change on every step
// without carrying semantic progress. They are dropped before hashing unless
// IncludeFields is used or KeepVolatile is set.
var DefaultVolatileFields = []string{
	"history",
	"stateHistory",
	"loopCount",
	"iteration",
	"iterations",
	"timestamp",
	"lastUpdated",
	"updatedAt",
	"createdAt",
}

// Options controls which parts of the state contribute to the fingerprint.
//
// Field names are dot paths into the JSON form of the state
// ("research.sources"). Filters only apply when the state is a JSON object.
type Options struct {
	// NodeName is copied into the Entry.
	NodeName string

	// IncludeFields keeps only the listed paths.
	IncludeFields []string

	// ExcludeFields drops the listed paths in addition to DefaultVolatileFields.
	ExcludeFields []string

	// KeepVolatile disables the DefaultVolatileFields exclusion.
	KeepVolatile bool

	// Normalize runs on the filtered value before hashing.
	Normalize func(v any) any
}

// Validate reports conflicting filter settings.
func (o Options) Validate() error {
	if len(o.IncludeFields) > 0 && len(o.ExcludeFields) > 0 {
		return ErrConflictingFilters
	}
	return nil
}

// Entry is one observed state in a run's history.
type Entry struct {
	NodeName    string          `json:"node_name"`
	Fingerprint string          `json:"fingerprint"`
	Timestamp   time.Time       `json:"timestamp"`
	State       json.RawMessage `json:"state,omitempty"`
}

// Compute fingerprints state.
//
// The state is serialized to JSON, decoded into generic values, filtered,
// passed through Normalize and encoded as msgpack with sorted map keys. The
// SHA-256 digest of that encoding is returned as "sha256:<hex>". Equal
// normalized states always produce equal fingerprints regardless of map
// iteration order.
func Compute(state any, opts Options) (Entry, error) {
	if err := opts.Validate(); err != nil {
		return Entry{}, err
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return Entry{}, fmt.Errorf("fingerprint: failed to marshal state: %w", err)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return Entry{}, fmt.Errorf("fingerprint: failed to decode state: %w", err)
	}

	if obj, ok := value.(map[string]any); ok {
		value = filter(obj, opts)
	}
	if opts.Normalize != nil {
		value = opts.Normalize(value)
	}

	sum, err := digest(value)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		NodeName:    opts.NodeName,
		Fingerprint: sum,
		Timestamp:   time.Now(),
		State:       raw,
	}, nil
}

func digest(value any) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(value); err != nil {
		return "", fmt.Errorf("fingerprint: failed to encode state: %w", err)
	}
	h := sha256.Sum256(buf.Bytes())
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

func filter(obj map[string]any, opts Options) any {
	if len(opts.IncludeFields) > 0 {
		out := make(map[string]any)
		for _, path := range opts.IncludeFields {
			if v, ok := lookup(obj, splitPath(path)); ok {
				assign(out, splitPath(path), v)
			}
		}
		return out
	}

	excludes := opts.ExcludeFields
	if !opts.KeepVolatile {
		excludes = append(append([]string{}, DefaultVolatileFields...), excludes...)
	}
	for _, path := range excludes {
		remove(obj, splitPath(path))
	}
	return obj
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

func lookup(obj map[string]any, parts []string) (any, bool) {
	v, ok := obj[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return v, true
	}
	child, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(child, parts[1:])
}

func assign(obj map[string]any, parts []string, v any) {
	if len(parts) == 1 {
		obj[parts[0]] = v
		return
	}
	child, ok := obj[parts[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		obj[parts[0]] = child
	}
	assign(child, parts[1:], v)
}

func remove(obj map[string]any, parts []string) {
	if len(parts) == 1 {
		delete(obj, parts[0])
		return
	}
	if child, ok := obj[parts[0]].(map[string]any); ok {
		remove(child, parts[1:])
	}
}
