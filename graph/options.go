package graph

import (
	"time"

	"go.uber.org/zap"

	"github.com/rudihinds/langgraph-agent-sub011/graph/emit"
	"github.com/rudihinds/langgraph-agent-sub011/graph/fingerprint"
	"github.com/rudihinds/langgraph-agent-sub011/graph/governor"
	"github.com/rudihinds/langgraph-agent-sub011/graph/interrupt"
)

// Option is a functional option for configuring an Engine.
//
//	engine, err := graph.New(reducer, st,
//	    graph.WithLimits(governor.Limits{governor.ResourceTokens: 50_000}),
//	    graph.WithCycleThreshold(3),
//	    graph.WithRoutes(interrupt.Routes{Approve: "publish", Modify: "revise"}),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts Options
}

// Options is the resolved Engine configuration. Zero values are valid.
type Options struct {
	// MaxSteps bounds the steps of one Execute call. 0 means no limit.
	MaxSteps int

	// DefaultNodeTimeout bounds each node execution unless the node carries
	// its own NodePolicy. 0 means no timeout.
	DefaultNodeTimeout time.Duration

	// Limits are applied to every governor the engine creates.
	Limits governor.Limits

	// SoftLimits turns limit breaches into callbacks and events instead of
	// failing the run.
	SoftLimits bool

	// PersistResources stores governor usage in every checkpoint and
	// restores it when a thread is resumed.
	PersistResources bool

	// GovernorOptions are passed to every governor the engine creates.
	GovernorOptions []governor.Option

	CycleThreshold int
	HistorySize    int
	StateWindow    int

	// Fingerprint selects the state fields that take part in cycle
	// detection. NodeName is set per step.
	Fingerprint fingerprint.Options

	Routes     interrupt.Routes
	Classifier interrupt.Classifier

	// GracefulShutdown bounds how long Shutdown waits for in-flight
	// commits. 0 waits until the Shutdown context is done.
	GracefulShutdown time.Duration

	Metrics *PrometheusMetrics
	Emitter emit.Emitter
	Logger  *zap.Logger

	clock func() time.Time
}

// WithOptions replaces the whole configuration; later options still apply.
func WithOptions(o Options) Option {
	return func(cfg *engineConfig) error {
		cfg.opts = o
		return nil
	}
}

// WithMaxSteps limits the steps of one Execute call.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps must be >= 0", Code: "INVALID_MAX_STEPS"}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the timeout of nodes without their own policy.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithLimits sets the resource limits of every run.
func WithLimits(l governor.Limits) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Limits = l
		return nil
	}
}

// WithSoftLimits selects soft-limit mode.
func WithSoftLimits(soft bool) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.SoftLimits = soft
		return nil
	}
}

// WithResourcePersistence enables carrying governor usage across resumes.
func WithResourcePersistence(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.PersistResources = enabled
		return nil
	}
}

// WithGovernorOptions adds options (derived trackers, callbacks) to every
// governor the engine creates.
func WithGovernorOptions(opts ...governor.Option) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.GovernorOptions = append(cfg.opts.GovernorOptions, opts...)
		return nil
	}
}

// WithCycleThreshold sets how many repetitions make a cycle.
func WithCycleThreshold(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "cycle threshold must be >= 0", Code: "INVALID_CYCLE_THRESHOLD"}
		}
		cfg.opts.CycleThreshold = n
		return nil
	}
}

// WithHistory sizes the per-run fingerprint history.
func WithHistory(size, stateWindow int) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.HistorySize = size
		cfg.opts.StateWindow = stateWindow
		return nil
	}
}

// WithFingerprint selects the fields used for fingerprinting.
func WithFingerprint(o fingerprint.Options) Option {
	return func(cfg *engineConfig) error {
		if err := o.Validate(); err != nil {
			return &EngineError{Message: err.Error(), Code: "INVALID_FINGERPRINT_OPTIONS"}
		}
		cfg.opts.Fingerprint = o
		return nil
	}
}

// WithRoutes sets the interrupt routing table.
func WithRoutes(r interrupt.Routes) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Routes = r
		return nil
	}
}

// WithClassifier sets the resume input classifier.
func WithClassifier(c interrupt.Classifier) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Classifier = c
		return nil
	}
}

// WithGracefulShutdown bounds Shutdown.
func WithGracefulShutdown(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.GracefulShutdown = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithEmitter sets the event emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Emitter = e
		return nil
	}
}

// WithLogger sets the logger used by the engine and everything it creates.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Logger = l
		return nil
	}
}

// withClock is used by tests.
func withClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.clock = now
		return nil
	}
}
