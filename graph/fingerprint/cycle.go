package fingerprint

// DefaultCycleThreshold is used when CycleOptions.Threshold is not positive.
const DefaultCycleThreshold = 3

// CycleOptions tunes DetectCycle.
type CycleOptions struct {
	// Threshold is how many back-to-back repetitions of the trailing period
	// make a cycle.
	Threshold int
}

// CycleResult describes a detected cycle. Length, Repetitions and
// LastUniqueIndex are only meaningful when Detected is true.
type CycleResult struct {
	Detected bool `json:"cycle_detected"`

	// Length is the smallest repeating period in entries.
	Length int `json:"cycle_length,omitempty"`

	// Repetitions is how many whole periods repeat back-to-back at the tail.
	Repetitions int `json:"repetitions,omitempty"`

	// LastUniqueIndex is the index of the last entry before the repeating
	// suffix began, or -1 when the whole history repeats.
	LastUniqueIndex int `json:"last_unique_state_index"`
}

// DetectCycle inspects history (oldest first) for a repeating suffix.
//
//  1. Find the smallest period L in 1..len/2 such that the last L
//     fingerprints equal the L before them. No such L means no cycle.
//  2. Walk back while entries keep matching the entry one period later; the
//     periodic suffix holds Repetitions = suffix / L whole periods.
//  3. Fewer repetitions than the threshold means no cycle.
//  4. LastUniqueIndex is the entry just before the periodic suffix.
//
// For L = 1 the repetitions are the consecutive trailing occurrences of the
// latest fingerprint.
func DetectCycle(history []Entry, opts CycleOptions) CycleResult {
	none := CycleResult{LastUniqueIndex: -1}
	n := len(history)
	if n < 2 {
		return none
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultCycleThreshold
	}

	length := 0
	for l := 1; l <= n/2; l++ {
		if periodic(history, n, l) {
			length = l
			break
		}
	}
	if length == 0 {
		return none
	}

	start := suffixStart(history, n, length)
	reps := (n - start) / length
	if reps < threshold {
		return none
	}
	return CycleResult{
		Detected:        true,
		Length:          length,
		Repetitions:     reps,
		LastUniqueIndex: n - reps*length - 1,
	}
}

// periodic reports whether the last l fingerprints equal the l before them.
func periodic(h []Entry, n, l int) bool {
	for k := 0; k < l; k++ {
		if h[n-1-k].Fingerprint != h[n-1-l-k].Fingerprint {
			return false
		}
	}
	return true
}

// suffixStart walks back while entries keep matching their counterpart one
// period later.
func suffixStart(h []Entry, n, l int) int {
	s := n - l
	for s > 0 && h[s-1].Fingerprint == h[s-1+l].Fingerprint {
		s--
	}
	return s
}
