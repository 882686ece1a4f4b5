package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaults()

	var cfg Config
	require.NoError(t, viper.Unmarshal(&cfg))
	return &cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := loadDefaults(t)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Engine.Lifecycle.AutoResolveClearEvaluations)
	assert.Equal(t, 3, cfg.Engine.Dispatcher.MaxAttempts)
	assert.Equal(t, "local", cfg.Engine.Scheduler.LeaseBackend)
	assert.Equal(t, "@every 15s", cfg.Engine.Escalation.SweepSchedule)
	assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Server.Port = 0
	cfg.Engine.Scheduler.LeaseBackend = "redis"
	cfg.Engine.Dispatcher.SendTimeout = "soon"
	cfg.MetricSource.Type = "prometheus"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "\n- server.port must be between 1 and 65535")
	assert.Contains(t, msg, "redis.addr is required")
	assert.Contains(t, msg, "engine.dispatcher.send_timeout must be a duration")
	assert.Contains(t, msg, "metric_source.prometheus.url is required")
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 15*time.Second, Duration("15s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("nope", time.Minute))
}
