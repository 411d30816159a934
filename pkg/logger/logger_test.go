package logger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	trader := l.Component("trader").With(String("run_id", "r-1"))
	trader.Debug("dropped")
	trader.Info("order submitted",
		String("symbol", "AAPL"),
		Int("qty", 5),
		Float64("price", 187.25),
		Bool("dry_run", false),
		Duration("took", 1500*time.Millisecond),
		Strings("reasons", []string{"momentum", "sentiment"}),
		Error(errors.New("partial fill")),
	)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "trader", entry["component"])
	assert.Equal(t, "r-1", entry["run_id"])
	assert.Equal(t, "AAPL", entry["symbol"])
	assert.Equal(t, 5.0, entry["qty"])
	assert.Equal(t, 187.25, entry["price"])
	assert.Equal(t, false, entry["dry_run"])
	assert.Equal(t, 1500.0, entry["took"])
	assert.Equal(t, "momentum, sentiment", entry["reasons"])
	assert.Equal(t, "partial fill", entry["error"])
	assert.Contains(t, entry["caller"], "logger_test.go")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestFieldValues(t *testing.T) {
	now := time.Now()
	assert.Equal(t, int64(3), Int("n", 3).Value())
	assert.Equal(t, true, Bool("b", true).Value())
	assert.Equal(t, now, Time("t", now).Value())
	assert.Equal(t, []int{1}, Any("a", []int{1}).Value())
	assert.Nil(t, Error(nil).Value())
	assert.Equal(t, "error", Error(nil).Key)
}
