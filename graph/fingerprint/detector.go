package fingerprint

// Detector fingerprints each observed state, records it in a History and
// checks the history for cycles. One Detector belongs to one run.
type Detector struct {
	opts    Options
	cycle   CycleOptions
	history *History
}

// NewDetector builds a Detector. history may be nil, in which case a default
// sized History is created.
func NewDetector(opts Options, cycle CycleOptions, history *History) (*Detector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if history == nil {
		history = NewHistory(0, 0)
	}
	return &Detector{opts: opts, cycle: cycle, history: history}, nil
}

// Observe fingerprints state as produced by node, appends it and runs cycle
// detection over the updated history.
func (d *Detector) Observe(node string, state any) (Entry, CycleResult, error) {
	opts := d.opts
	opts.NodeName = node
	entry, err := Compute(state, opts)
	if err != nil {
		return Entry{}, CycleResult{}, err
	}
	d.history.Append(entry)
	return entry, DetectCycle(d.history.Entries(), d.cycle), nil
}

// Progressed reports IsProgressDetected over the current history.
func (d *Detector) Progressed(field string) bool {
	return IsProgressDetected(d.history.Entries(), field)
}

// History returns the underlying buffer.
func (d *Detector) History() *History { return d.history }
