package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func seq(fps ...string) []Entry {
	out := make([]Entry, len(fps))
	for i, fp := range fps {
		out[i] = Entry{Fingerprint: fp}
	}
	return out
}

func TestDetectCycle(t *testing.T) {
	tests := []struct {
		name      string
		history   []Entry
		threshold int
		want      CycleResult
	}{
		{
			name:    "empty history",
			history: nil,
			want:    CycleResult{LastUniqueIndex: -1},
		},
		{
			name:    "below threshold",
			history: seq("X", "A", "A"),
			want:    CycleResult{LastUniqueIndex: -1},
		},
		{
			name:    "three identical trailing states with default threshold",
			history: seq("X", "Y", "A", "A", "A"),
			want:    CycleResult{Detected: true, Length: 1, Repetitions: 3, LastUniqueIndex: 1},
		},
		{
			name:      "alternating pattern",
			history:   seq("A", "B", "A", "B", "A", "B"),
			threshold: 2,
			want:      CycleResult{Detected: true, Length: 2, Repetitions: 3, LastUniqueIndex: -1},
		},
		{
			name:      "period three after a unique prefix",
			history:   seq("S", "A", "B", "C", "A", "B", "C", "A", "B", "C"),
			threshold: 3,
			want:      CycleResult{Detected: true, Length: 3, Repetitions: 3, LastUniqueIndex: 0},
		},
		{
			name:      "revisited state without a repeating tail",
			history:   seq("A", "B", "A", "C", "D", "A"),
			threshold: 3,
			want:      CycleResult{LastUniqueIndex: -1},
		},
		{
			name:      "state seen often but never back-to-back",
			history:   seq("A", "B", "C", "A", "D", "E", "F", "A"),
			threshold: 3,
			want:      CycleResult{LastUniqueIndex: -1},
		},
		{
			name:      "earlier repeats do not count once the tail changes",
			history:   seq("A", "A", "A", "B", "A"),
			threshold: 3,
			want:      CycleResult{LastUniqueIndex: -1},
		},
		{
			name:      "period below threshold",
			history:   seq("X", "A", "B", "A", "B"),
			threshold: 3,
			want:      CycleResult{LastUniqueIndex: -1},
		},
		{
			name:      "partial leading period is not counted",
			history:   seq("C", "A", "B", "C", "A", "B", "C"),
			threshold: 2,
			want:      CycleResult{Detected: true, Length: 3, Repetitions: 2, LastUniqueIndex: 0},
		},
		{
			name:      "distinct states",
			history:   seq("A", "B", "C", "D"),
			threshold: 2,
			want:      CycleResult{LastUniqueIndex: -1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectCycle(tt.history, CycleOptions{Threshold: tt.threshold})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectCycle_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.SliceOf(rapid.SampledFrom([]string{"A", "B", "C", "D"})).Draw(t, "prefix")
		period := rapid.SliceOfN(rapid.SampledFrom([]string{"A", "B", "C", "D"}), 1, 4).Draw(t, "period")
		reps := rapid.IntRange(1, 5).Draw(t, "reps")
		threshold := rapid.IntRange(1, 5).Draw(t, "threshold")

		fps := append([]string{}, prefix...)
		for i := 0; i < reps; i++ {
			fps = append(fps, period...)
		}
		res := DetectCycle(seq(fps...), CycleOptions{Threshold: threshold})
		if !res.Detected {
			return
		}
		if res.Repetitions < threshold || res.Length < 1 {
			t.Fatalf("detected cycle with length %d and %d repetitions under threshold %d", res.Length, res.Repetitions, threshold)
		}
		// the reported suffix really is Repetitions copies of the last period
		tail := fps[res.LastUniqueIndex+1:]
		if len(tail) != res.Length*res.Repetitions {
			t.Fatalf("suffix of %d entries for %d x %d", len(tail), res.Repetitions, res.Length)
		}
		for i := res.Length; i < len(tail); i++ {
			if tail[i] != tail[i-res.Length] {
				t.Fatalf("suffix %v is not periodic with length %d", tail, res.Length)
			}
		}
	})
}

func TestDetectCycle_PrunedHistoryHasNoCycle(t *testing.T) {
	h := NewHistory(16, 2)
	for _, fp := range []string{"S", "A", "A", "A"} {
		h.Append(Entry{Fingerprint: fp})
	}
	res := DetectCycle(h.Entries(), CycleOptions{})
	assert.True(t, res.Detected)

	h.Truncate(res.LastUniqueIndex)
	assert.False(t, DetectCycle(h.Entries(), CycleOptions{}).Detected)
	assert.Equal(t, 1, h.Len())
}
