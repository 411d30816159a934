package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/repository"
	"AutoTrader/pkg/config"
)

type countingMetrics struct {
	repository.NopMetrics
	mu      sync.Mutex
	skipped map[string]int
	runs    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{skipped: map[string]int{}, runs: map[string]int{}}
}

func (m *countingMetrics) RecordJobSkipped(job string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped[job]++
}

func (m *countingMetrics) RecordJobRun(job, outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[job+":"+outcome]++
}

func (m *countingMetrics) get(bucket map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bucket[key]
}

func fastScheduler(opts ...Option) *Scheduler {
	return New(append([]Option{WithPollInterval(time.Millisecond), WithStopTimeout(time.Second)}, opts...)...)
}

func TestSchedulerFaultIsolation(t *testing.T) {
	metrics := newCountingMetrics()
	s := fastScheduler(WithMetrics(metrics))

	var calls atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:    "flaky",
		Trigger: Every(3 * time.Millisecond),
		Run: func(context.Context) error {
			switch calls.Add(1) {
			case 1:
				panic("boom")
			case 2:
				return errors.New("broker unavailable")
			}
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, time.Millisecond)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "flaky", jobs[0].Name)
	assert.GreaterOrEqual(t, jobs[0].Failures, int64(2))
	assert.Equal(t, 1, metrics.get(metrics.runs, "flaky:panic"))
	assert.Equal(t, 1, metrics.get(metrics.runs, "flaky:error"))
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	metrics := newCountingMetrics()
	s := fastScheduler(WithMetrics(metrics))

	release := make(chan struct{})
	var active, maxActive, calls atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:    "slow",
		Trigger: Every(time.Millisecond),
		Run: func(context.Context) error {
			calls.Add(1)
			n := active.Add(1)
			defer active.Add(-1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			<-release
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return metrics.get(metrics.skipped, "slow") >= 3 }, 2*time.Second, time.Millisecond)
	close(release)

	require.NoError(t, s.Stop(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestSchedulerGateDropsOccurrence(t *testing.T) {
	metrics := newCountingMetrics()
	s := fastScheduler(WithMetrics(metrics))

	var calls atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:    "gated",
		Trigger: Every(time.Millisecond),
		Gate:    func(time.Time) bool { return false },
		Run: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return metrics.get(metrics.skipped, "gated") >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	assert.Zero(t, calls.Load())
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	s := fastScheduler()

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestSchedulerRunNow(t *testing.T) {
	s := fastScheduler()
	failure := errors.New("no data")

	require.NoError(t, s.Add(Job{Name: "train", Trigger: Every(time.Hour), Run: func(context.Context) error { return failure }}))
	require.NoError(t, s.Add(Job{
		Name:    "trade",
		Trigger: Every(time.Hour),
		Gate:    func(time.Time) bool { return false },
		Run:     func(context.Context) error { return nil },
	}))

	assert.ErrorIs(t, s.RunNow(context.Background(), "train"), failure)
	assert.ErrorIs(t, s.RunNow(context.Background(), "trade"), ErrJobGated)
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrUnknownJob)

	assert.True(t, s.Cancel("train"))
	assert.False(t, s.Cancel("train"))
	assert.ErrorIs(t, s.RunNow(context.Background(), "train"), ErrUnknownJob)
}

func TestSchedulerRejectsDuplicateJob(t *testing.T) {
	s := fastScheduler()
	job := Job{Name: "x", Trigger: Every(time.Hour), Run: func(context.Context) error { return nil }}
	require.NoError(t, s.Add(job))
	assert.ErrorIs(t, s.Add(job), ErrDuplicateJob)
}

func TestMarketSchedulerRegistersJobs(t *testing.T) {
	cal := newYorkCalendar(t)
	noop := func(context.Context) error { return nil }

	ms, err := NewMarketScheduler(config.SchedulerConfig{
		PollInterval:       time.Second,
		StopTimeout:        time.Second,
		TrainTime:          "20:00",
		RebalanceTime:      "04:00",
		TradeCheckInterval: time.Minute,
	}, cal, Callbacks{Train: noop, TradeCheck: noop, Rebalance: noop})
	require.NoError(t, err)

	jobs := ms.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, JobRebalance, jobs[0].Name)
	assert.Equal(t, JobTradeCheck, jobs[1].Name)
	assert.Equal(t, JobTraining, jobs[2].Name)

	saturday := time.Date(2024, 1, 6, 12, 0, 0, 0, cal.Location())
	assert.False(t, ms.IsMarketOpen(saturday))
}
