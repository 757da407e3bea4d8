package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.MaximumAttempts)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 250 * time.Millisecond}, cfg.RetryPauses())
	assert.Equal(t, 1, cfg.Retry.Parallelism)
	assert.Equal(t, 0, cfg.Retry.Capacity)
	assert.Equal(t, 5*time.Second, cfg.RabbitMQ.ConfirmTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Millisecond, cfg.Kafka.BatchTimeout)
	assert.Equal(t, "localhost:4150", cfg.NSQ.NsqdAddr)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "mmate-outbound", cfg.Tracing.ServiceName)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Zero(t, cfg.Retry.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.Retry.BreakerOpenTimeout)
	assert.Empty(t, cfg.Node.DeadLetterURI)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("MMATE_RETRY_MAXIMUM_ATTEMPTS", "5")
	t.Setenv("MMATE_RETRY_PAUSES", "10ms, 1s")
	t.Setenv("MMATE_RETRY_DIRECT_SEND", "true")
	t.Setenv("MMATE_NODE_ID", "node-env")
	t.Setenv("MMATE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("MMATE_KAFKA_BATCH_TIMEOUT", "20ms")
	t.Setenv("MMATE_RABBITMQ_CONFIRM_TIMEOUT", "2s")
	t.Setenv("MMATE_LOG_FORMAT", "json")
	t.Setenv("MMATE_RETRY_BREAKER_THRESHOLD", "4")
	t.Setenv("MMATE_NODE_DEAD_LETTER_URI", "rabbitmq://queue/dead-letters")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retry.MaximumAttempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, time.Second}, cfg.RetryPauses())
	assert.True(t, cfg.Retry.DirectSend)
	assert.Equal(t, "node-env", cfg.Node.ID)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 20*time.Millisecond, cfg.Kafka.BatchTimeout)
	assert.Equal(t, 2*time.Second, cfg.RabbitMQ.ConfirmTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Retry.BreakerThreshold)
	assert.Equal(t, "rabbitmq://queue/dead-letters", cfg.Node.DeadLetterURI)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mmate.yaml")
	content := []byte(`
node:
  id: node-file
  reply_uri: rabbitmq://queue/replies
retry:
  maximum_attempts: 4
  pauses: 1s,2s
  parallelism: 2
rabbitmq:
  delayed_exchange: delayed
`)
	require.NoError(t, os.WriteFile(file, content, 0o600))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "node-file", cfg.Node.ID)
	assert.Equal(t, "rabbitmq://queue/replies", cfg.Node.ReplyURI)
	assert.Equal(t, 4, cfg.Retry.MaximumAttempts)
	assert.Equal(t, 2, cfg.Retry.Parallelism)
	assert.Equal(t, "delayed", cfg.RabbitMQ.DelayedExchange)
	assert.Equal(t, "localhost:4150", cfg.NSQ.NsqdAddr)

	t.Run("environment beats file", func(t *testing.T) {
		t.Setenv("MMATE_RETRY_MAXIMUM_ATTEMPTS", "9")
		cfg, err := Load(file)
		require.NoError(t, err)
		assert.Equal(t, 9, cfg.Retry.MaximumAttempts)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"zero attempts", func(c *Config) { c.Retry.MaximumAttempts = 0 }, "retry.maximum_attempts"},
		{"bad pauses", func(c *Config) { c.Retry.Pauses = "soon" }, "retry.pauses"},
		{"negative pause", func(c *Config) { c.Retry.Pauses = "-1s" }, "retry.pauses"},
		{"zero parallelism", func(c *Config) { c.Retry.Parallelism = 0 }, "retry.parallelism"},
		{"negative capacity", func(c *Config) { c.Retry.Capacity = -1 }, "retry.capacity"},
		{"bad reply uri", func(c *Config) { c.Node.ReplyURI = "://nope" }, "node.reply_uri"},
		{"dead letter without scheme", func(c *Config) { c.Node.DeadLetterURI = "dead-letters" }, "node.dead_letter_uri"},
		{"negative breaker threshold", func(c *Config) { c.Retry.BreakerThreshold = -1 }, "retry.breaker_threshold"},
		{"breaker without timeout", func(c *Config) {
			c.Retry.BreakerThreshold = 3
			c.Retry.BreakerOpenTimeout = 0
		}, "retry.breaker_open_timeout"},
		{"zero kafka batch timeout", func(c *Config) { c.Kafka.BatchTimeout = 0 }, "kafka.batch_timeout"},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		cfg := valid()
		cfg.Retry.MaximumAttempts = 0
		cfg.Retry.Parallelism = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry.maximum_attempts")
		assert.Contains(t, err.Error(), "retry.parallelism")
	})

	t.Run("env override failing validation", func(t *testing.T) {
		t.Setenv("MMATE_RETRY_MAXIMUM_ATTEMPTS", "0")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestLogNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Log{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "shown", record["msg"])
	assert.Equal(t, "v", record["k"])

	level, err := Log{Level: "debug"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	buf.Reset()
	Log{Level: "info", Format: "text"}.NewLogger(&buf).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
