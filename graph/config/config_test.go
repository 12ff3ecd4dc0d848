package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudihinds/langgraph-agent-sub011/graph"
	"github.com/rudihinds/langgraph-agent-sub011/graph/governor"
	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
		assert.Empty(t, cfg.Limits())
		assert.Equal(t, store.DefaultRetryPolicy(), cfg.RetryPolicy())
		assert.Equal(t, 10*time.Second, cfg.GracefulShutdown())
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("MAX_TOKENS", "50000")
		t.Setenv("MAX_API_CALLS", "20")
		t.Setenv("MAX_RUNTIME_MS", "60000")
		t.Setenv("CHECKPOINTER_MAX_RETRIES", "5")
		t.Setenv("CHECKPOINTER_RETRY_DELAY_MS", "250")
		t.Setenv("GRACEFUL_SHUTDOWN_TIMEOUT_MS", "2000")
		t.Setenv("ENABLE_RESOURCE_PERSISTENCE", "true")
		t.Setenv("CHECKPOINTER_BACKEND", "redis")
		t.Setenv("CHECKPOINTER_REDIS_ADDR", "localhost:6379")
		t.Setenv("CHECKPOINTER_REDIS_DB", "2")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, governor.Limits{
			governor.ResourceTokens:   50000,
			governor.ResourceAPICalls: 20,
			governor.ResourceTime:     60000,
		}, cfg.Limits())
		assert.Equal(t, store.RetryPolicy{MaxRetries: 5, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}, cfg.RetryPolicy())
		assert.Equal(t, 2*time.Second, cfg.GracefulShutdown())
		assert.True(t, cfg.ResourcePersistence)

		sc := cfg.StoreConfig(nil)
		assert.Equal(t, "redis", sc.Backend)
		assert.Equal(t, "localhost:6379", sc.RedisAddr)
		assert.Equal(t, 2, sc.RedisDB)
		assert.Nil(t, sc.OnRetry)
	})

	t.Run("yaml then environment", func(t *testing.T) {
		path := writeYAML(t, `
max_tokens: 1000
soft_resource_limits: true
cycle_threshold: 4
checkpointer:
  backend: sqlite
  dsn: /var/lib/workflow/threads.db
log:
  level: debug
  format: console
`)
		t.Setenv("MAX_TOKENS", "2000")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 2000.0, cfg.MaxTokens)
		assert.True(t, cfg.SoftLimits)
		assert.Equal(t, 4, cfg.CycleThreshold)
		assert.Equal(t, "sqlite", cfg.Checkpointer.Backend)
		assert.Equal(t, "/var/lib/workflow/threads.db", cfg.Checkpointer.DSN)
		assert.Equal(t, 3, cfg.Checkpointer.MaxRetries)
		assert.Equal(t, "console", cfg.Log.Format)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed environment", func(t *testing.T) {
		t.Setenv("MAX_API_CALLS", "many")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative limit", func(c *Config) { c.MaxTokens = -1 }},
		{"negative cycle threshold", func(c *Config) { c.CycleThreshold = -1 }},
		{"unknown backend", func(c *Config) { c.Checkpointer.Backend = "postgres" }},
		{"max delay below base", func(c *Config) { c.Checkpointer.RetryMaxDelayMS = 10; c.Checkpointer.RetryDelayMS = 100 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestConfig_Wiring(t *testing.T) {
	t.Run("store hooks", func(t *testing.T) {
		metrics := graph.NewPrometheusMetrics(prometheus.NewRegistry())
		sc := Default().StoreConfig(metrics)
		assert.NotNil(t, sc.OnRetry)
		assert.NotNil(t, sc.OnFallback)
	})

	t.Run("graph options build an engine", func(t *testing.T) {
		cfg := Default()
		cfg.MaxTokens = 100
		logger, err := cfg.Logger()
		require.NoError(t, err)

		opts := cfg.GraphOptions(logger, nil)
		_, err = graph.New[map[string]any](nil, store.NewMemStore[map[string]any](), opts...)
		require.NoError(t, err)
	})

	t.Run("console logger", func(t *testing.T) {
		cfg := Default()
		cfg.Log = LogConfig{Level: "warn", Format: "console"}
		logger, err := cfg.Logger()
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(-1))
	})
}
