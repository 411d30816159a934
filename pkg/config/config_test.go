package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", c.Market.Timezone)
	assert.Equal(t, "09:30", c.Market.OpenTime)
	assert.Equal(t, "16:00", c.Market.CloseTime)
	assert.Equal(t, "20:00", c.Scheduler.TrainTime)
	assert.Equal(t, "04:00", c.Scheduler.RebalanceTime)
	assert.Equal(t, 5*time.Second, c.Scheduler.PollInterval)
	assert.Equal(t, 10*time.Second, c.Scheduler.StopTimeout)
	assert.Equal(t, time.Minute, c.Scheduler.TradeCheckInterval)
	assert.Equal(t, "weight_fraction", c.Ensemble.ThresholdMode)
	assert.InDelta(t, 0.25, c.Ensemble.BuyThreshold, 1e-9)
	assert.Equal(t, 1000, c.Trading.TradeHistory)
	assert.Equal(t, 5000, c.Trading.SignalHistory)
	assert.Len(t, c.Specialists, 4)
	assert.False(t, c.Trading.DryRun)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"open after close", "market:\n  open_time: \"16:00\"\n  close_time: \"09:30\"\n"},
		{"bad clock", "scheduler:\n  train_time: \"25:99\"\n"},
		{"stop loss out of range", "trading:\n  stop_loss_pct: 1.5\n"},
		{"unknown threshold mode", "ensemble:\n  threshold_mode: majority\n"},
		{"ml specialist without features", "specialists:\n  - name: x\n    kind: ml\n"},
		{"duplicate specialist", "specialists:\n  - name: a\n    kind: news\n  - name: a\n    kind: sentiment\n"},
		{"kafka without brokers", "kafka:\n  enabled: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: test\n"), 0o644))

	t.Setenv("ALPACA_API_KEY", "key")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("DRY_RUN", "true")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "key", c.Alpaca.APIKey)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.True(t, c.Redis.Enabled)
	assert.True(t, c.Trading.DryRun)
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseClock("9h30")
	assert.Error(t, err)
}

func TestShippedConfigIsValid(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "development", c.Environment)
}
