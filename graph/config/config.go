// Package config loads control-plane settings from an optional YAML file and
// the environment.
//
// Precedence is defaults, then the YAML file, then environment variables:
//
//	cfg, err := config.Load("workflow.yaml")
//	logger, _ := cfg.Logger()
//	opened, _ := store.Open[State](ctx, cfg.StoreConfig(metrics), logger)
//	engine, _ := graph.New(reducer, opened.Store, cfg.GraphOptions(logger, metrics)...)
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/rudihinds/langgraph-agent-sub011/graph"
	"github.com/rudihinds/langgraph-agent-sub011/graph/governor"
	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

// Config holds the complete control-plane configuration.
type Config struct {
	// Resource limits. Zero means unlimited.
	MaxTokens    float64 `yaml:"max_tokens"     env:"MAX_TOKENS"`
	MaxAPICalls  float64 `yaml:"max_api_calls"  env:"MAX_API_CALLS"`
	MaxRuntimeMS int64   `yaml:"max_runtime_ms" env:"MAX_RUNTIME_MS"`

	SoftLimits          bool `yaml:"soft_resource_limits"        env:"SOFT_RESOURCE_LIMITS"`
	ResourcePersistence bool `yaml:"enable_resource_persistence" env:"ENABLE_RESOURCE_PERSISTENCE"`

	CycleThreshold int `yaml:"cycle_threshold" env:"CYCLE_THRESHOLD"`
	HistorySize    int `yaml:"history_size"    env:"HISTORY_SIZE"`

	GracefulShutdownMS int64 `yaml:"graceful_shutdown_timeout_ms" env:"GRACEFUL_SHUTDOWN_TIMEOUT_MS"`

	Checkpointer CheckpointerConfig `yaml:"checkpointer" envPrefix:"CHECKPOINTER_"`
	Log          LogConfig          `yaml:"log"          envPrefix:"LOG_"`
}

// CheckpointerConfig selects the checkpoint backend and its retry policy.
type CheckpointerConfig struct {
	Backend       string `yaml:"backend"        env:"BACKEND"`
	DSN           string `yaml:"dsn"            env:"DSN"`
	RedisAddr     string `yaml:"redis_addr"     env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db"       env:"REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix"   env:"REDIS_PREFIX"`

	MaxRetries      int   `yaml:"max_retries"        env:"MAX_RETRIES"`
	RetryDelayMS    int64 `yaml:"retry_delay_ms"     env:"RETRY_DELAY_MS"`
	RetryMaxDelayMS int64 `yaml:"retry_max_delay_ms" env:"RETRY_MAX_DELAY_MS"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`

	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the built-in defaults.
func Default() Config {
	retry := store.DefaultRetryPolicy()
	return Config{
		CycleThreshold:     3,
		HistorySize:        100,
		GracefulShutdownMS: 10_000,
		Checkpointer: CheckpointerConfig{
			Backend:         store.BackendMemory,
			MaxRetries:      retry.MaxRetries,
			RetryDelayMS:    retry.BaseDelay.Milliseconds(),
			RetryMaxDelayMS: retry.MaxDelay.Milliseconds(),
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads defaults, overlays the YAML file at path (skipped when path is
// empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.MaxTokens < 0 || c.MaxAPICalls < 0 || c.MaxRuntimeMS < 0 {
		errs = append(errs, errors.New("resource limits must be >= 0"))
	}
	if c.CycleThreshold < 0 {
		errs = append(errs, errors.New("cycle threshold must be >= 0"))
	}
	if c.HistorySize < 0 {
		errs = append(errs, errors.New("history size must be >= 0"))
	}
	if c.GracefulShutdownMS < 0 {
		errs = append(errs, errors.New("graceful shutdown timeout must be >= 0"))
	}
	switch strings.ToLower(c.Checkpointer.Backend) {
	case "", store.BackendMemory, store.BackendSQLite, store.BackendMySQL, store.BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown checkpointer backend %q", c.Checkpointer.Backend))
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if _, err := zapcore.ParseLevel(c.logLevel()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Limits returns the governor limits. MAX_RUNTIME_MS limits the time
// resource, which is measured in milliseconds.
func (c Config) Limits() governor.Limits {
	limits := governor.Limits{}
	if c.MaxTokens > 0 {
		limits[governor.ResourceTokens] = c.MaxTokens
	}
	if c.MaxAPICalls > 0 {
		limits[governor.ResourceAPICalls] = c.MaxAPICalls
	}
	if c.MaxRuntimeMS > 0 {
		limits[governor.ResourceTime] = float64(c.MaxRuntimeMS)
	}
	return limits
}

// RetryPolicy returns the checkpoint write retry policy.
func (c Config) RetryPolicy() store.RetryPolicy {
	return store.RetryPolicy{
		MaxRetries: c.Checkpointer.MaxRetries,
		BaseDelay:  time.Duration(c.Checkpointer.RetryDelayMS) * time.Millisecond,
		MaxDelay:   time.Duration(c.Checkpointer.RetryMaxDelayMS) * time.Millisecond,
	}
}

// GracefulShutdown returns the shutdown bound.
func (c Config) GracefulShutdown() time.Duration {
	return time.Duration(c.GracefulShutdownMS) * time.Millisecond
}

// StoreConfig returns the store.Open configuration. Retries and fallbacks
// are reported to metrics when it is non-nil.
func (c Config) StoreConfig(metrics *graph.PrometheusMetrics) store.Config {
	sc := store.Config{
		Backend:       c.Checkpointer.Backend,
		DSN:           c.Checkpointer.DSN,
		RedisAddr:     c.Checkpointer.RedisAddr,
		RedisPassword: c.Checkpointer.RedisPassword,
		RedisDB:       c.Checkpointer.RedisDB,
		RedisPrefix:   c.Checkpointer.RedisPrefix,
		Retry:         c.RetryPolicy(),
	}
	if metrics != nil {
		sc.OnRetry, sc.OnFallback = metrics.StoreHooks()
	}
	return sc
}

// GraphOptions returns the engine options for this configuration.
func (c Config) GraphOptions(logger *zap.Logger, metrics *graph.PrometheusMetrics) []graph.Option {
	opts := []graph.Option{
		graph.WithLimits(c.Limits()),
		graph.WithSoftLimits(c.SoftLimits),
		graph.WithResourcePersistence(c.ResourcePersistence),
		graph.WithCycleThreshold(c.CycleThreshold),
		graph.WithHistory(c.HistorySize, 0),
		graph.WithGracefulShutdown(c.GracefulShutdown()),
	}
	if logger != nil {
		opts = append(opts, graph.WithLogger(logger))
	}
	if metrics != nil {
		opts = append(opts, graph.WithMetrics(metrics))
	}
	return opts
}

// Logger builds the process logger from the log settings.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.logLevel())
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if strings.EqualFold(c.Log.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func (c Config) logLevel() string {
	if c.Log.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Log.Level)
}
