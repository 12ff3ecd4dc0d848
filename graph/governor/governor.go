// Package governor tracks consumable resources of a single workflow run
// (tokens, API calls, wall-clock time, derived costs) against limits.
//
// A Governor is created per run and passed explicitly. There is no package
// level instance; process-wide budgets are built by the caller composing a
// separate Governor.
package governor

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Well-known resource names.
const (
	ResourceTokens           = "tokens"
	ResourcePromptTokens     = "prompt_tokens"
	ResourceCompletionTokens = "completion_tokens"
	ResourceAPICalls         = "api_calls"
	ResourceTime             = "time" // milliseconds
	ResourceCost             = "cost_usd"
)

// Usage maps a resource name to its accumulated amount.
type Usage map[string]float64

// Limits maps a resource name to its ceiling. Usage equal to the limit is
// still within budget.
type Limits map[string]float64

// TrackFunc computes the new value of a derived resource after source grew by
// amount. usage already contains the updated source value.
type TrackFunc func(source string, amount float64, usage Usage) float64

// Breach is one resource over its limit.
type Breach struct {
	Resource string  `json:"resource"`
	Used     float64 `json:"used"`
	Limit    float64 `json:"limit"`
}

// Governor accumulates usage and evaluates it against limits.
// It is safe for concurrent use by the steps of one fan-out batch.
type Governor struct {
	mu         sync.Mutex
	usage      Usage
	limits     Limits
	trackers   map[string]TrackFunc
	derived    []string
	onExceeded func(Usage)
	logger     *zap.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithTracker registers fn as the aggregation function of the derived
// resource name.
func WithTracker(name string, fn TrackFunc) Option {
	return func(g *Governor) {
		g.trackers[name] = fn
	}
}

// WithOnLimitExceeded registers a callback invoked with a usage snapshot on
// every CheckLimits call that finds a breach.
func WithOnLimitExceeded(fn func(Usage)) Option {
	return func(g *Governor) { g.onExceeded = fn }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Governor) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Governor with the given limits. Non-positive limits are
// ignored.
func New(limits Limits, opts ...Option) *Governor {
	g := &Governor{
		usage:    make(Usage),
		limits:   make(Limits),
		trackers: make(map[string]TrackFunc),
		logger:   zap.NewNop(),
	}
	for name, v := range limits {
		if v > 0 {
			g.limits[name] = v
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	for name := range g.trackers {
		g.derived = append(g.derived, name)
	}
	sort.Strings(g.derived)
	g.logger = g.logger.With(zap.String("component", "resource_governor"))
	return g
}

// Track adds amount to name and recomputes every derived resource.
//
// Tracking a derived resource directly replaces its value with the result of
// its TrackFunc.
func (g *Governor) Track(name string, amount float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if fn, ok := g.trackers[name]; ok {
		g.usage[name] = fn(name, amount, g.usage.clone())
		return
	}
	g.usage[name] += amount
	for _, d := range g.derived {
		g.usage[d] = g.trackers[d](name, amount, g.usage.clone())
	}
}

// TrackAll applies every delta in deterministic (sorted) order.
func (g *Governor) TrackAll(deltas map[string]float64) {
	names := make([]string, 0, len(deltas))
	for name := range deltas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g.Track(name, deltas[name])
	}
}

// TrackElapsed adds d to the time resource in milliseconds.
func (g *Governor) TrackElapsed(d time.Duration) {
	g.Track(ResourceTime, float64(d)/float64(time.Millisecond))
}

// CheckLimits reports whether any resource strictly exceeds its limit.
//
// The callback fires on every call that finds a breach; callers that need
// once-only behaviour must de-duplicate themselves.
func (g *Governor) CheckLimits() bool {
	g.mu.Lock()
	breaches := g.breachesLocked()
	snapshot := g.usage.clone()
	cb := g.onExceeded
	g.mu.Unlock()

	if len(breaches) == 0 {
		return false
	}
	for _, b := range breaches {
		g.logger.Debug("resource limit exceeded",
			zap.String("resource", b.Resource),
			zap.Float64("used", b.Used),
			zap.Float64("limit", b.Limit),
		)
	}
	if cb != nil {
		cb(snapshot)
	}
	return true
}

// Breaches lists resources over their limit, sorted by name.
func (g *Governor) Breaches() []Breach {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breachesLocked()
}

func (g *Governor) breachesLocked() []Breach {
	var out []Breach
	for name, limit := range g.limits {
		if used := g.usage[name]; used > limit {
			out = append(out, Breach{Resource: name, Used: used, Limit: limit})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// Usage returns a snapshot of current usage.
func (g *Governor) Usage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage.clone()
}

// Limits returns a copy of the configured limits.
func (g *Governor) Limits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(Limits, len(g.limits))
	for k, v := range g.limits {
		out[k] = v
	}
	return out
}

// SetLimit changes one limit. A non-positive value removes it.
func (g *Governor) SetLimit(name string, limit float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit <= 0 {
		delete(g.limits, name)
		return
	}
	g.limits[name] = limit
}

// Reset clears all counters.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage = make(Usage)
}

// Restore replaces usage with a previously persisted snapshot.
func (g *Governor) Restore(u Usage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage = u.clone()
}

func (u Usage) clone() Usage {
	out := make(Usage, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}
