package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/pkg/logger"
)

type order struct {
	Symbol string `json:"symbol"`
	Qty    int    `json:"qty"`
}

type funcJob struct {
	typ string
	fn  func(ctx context.Context, payload interface{}) error
}

func (j funcJob) Name() string { return "test-" + j.typ }
func (j funcJob) Type() string { return j.typ }
func (j funcJob) Handle(ctx context.Context, payload interface{}) error {
	return j.fn(ctx, payload)
}

func startQueue(t *testing.T, cfg QueueConfig, jobs ...Job) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	q := NewRedisQueue(logger.Nop(), &cfg, cli, ModeProducerConsumer,
		WithKeyPrefix("test:q"), WithPollInterval(10*time.Millisecond))
	q.RegisterJobs(jobs)
	require.NoError(t, q.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q, mr
}

func TestEnqueueDeliversTypedPayload(t *testing.T) {
	got := make(chan *order, 1)
	job := funcJob{typ: "order", fn: func(_ context.Context, payload interface{}) error {
		o, err := ParsePayload[order](payload)
		if err != nil {
			return err
		}
		got <- o
		return nil
	}}
	q, _ := startQueue(t, QueueConfig{Workers: 2}, job)

	require.NoError(t, q.Enqueue(context.Background(), "order", order{Symbol: "AAPL", Qty: 3}))
	select {
	case o := <-got:
		assert.Equal(t, &order{Symbol: "AAPL", Qty: 3}, o)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	assert.ErrorContains(t, q.Enqueue(context.Background(), "unknown", nil), "no job registered")
}

func TestFailedMessageRetriesThenDeadLetters(t *testing.T) {
	var calls int32
	job := funcJob{typ: "flaky", fn: func(context.Context, interface{}) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("broker down")
	}}
	q, mr := startQueue(t, QueueConfig{RetryLimit: 2, RetryDelay: 5 * time.Millisecond}, job)

	require.NoError(t, q.Enqueue(context.Background(), "flaky", order{Symbol: "MSFT"}))

	assert.Eventually(t, func() bool {
		d, err := q.Depth(context.Background())
		return err == nil && d.Dead == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	dead, err := mr.List("test:q:dead")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0], "broker down")
	assert.Contains(t, dead[0], `"attempts":3`)
}

func TestPanickingJobIsDeadLettered(t *testing.T) {
	job := funcJob{typ: "boom", fn: func(context.Context, interface{}) error { panic("nil map") }}
	q, _ := startQueue(t, QueueConfig{}, job)

	require.NoError(t, q.Enqueue(context.Background(), "boom", nil))
	assert.Eventually(t, func() bool {
		d, err := q.Depth(context.Background())
		return err == nil && d.Dead == 1 && d.Pending == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDedupeAllowsOnePendingPerType(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	q := NewRedisQueue(logger.Nop(), &QueueConfig{DedupeTTL: time.Minute}, cli, ModeProducerOnly, WithKeyPrefix("test:q"))
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "train", nil))
	assert.ErrorIs(t, q.Enqueue(ctx, "train", nil), ErrAlreadyQueued)
	require.NoError(t, q.Enqueue(ctx, "trade", nil))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, q.Enqueue(ctx, "train", nil))

	d, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.Pending)
}

func TestEnqueueRequiresStart(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	q := NewRedisQueue(nil, nil, cli, ModeProducerOnly)
	assert.EqualError(t, q.Enqueue(context.Background(), "train", nil), "queue not running")
}

func TestParsePayload(t *testing.T) {
	o, err := ParsePayload[order](map[string]interface{}{"symbol": "NVDA", "qty": 2})
	require.NoError(t, err)
	assert.Equal(t, "NVDA", o.Symbol)

	o, err = ParsePayload[order]([]byte(`{"symbol":"TSLA"}`))
	require.NoError(t, err)
	assert.Equal(t, "TSLA", o.Symbol)

	_, err = ParsePayload[order](42)
	assert.ErrorContains(t, err, "invalid payload type")
}
