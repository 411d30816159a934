package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string                            { return h.topic }
func (h funcHandler) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func newTestConsumer(t *testing.T, r *fakeReader, opts ...ConsumerOption) *Consumer {
	t.Helper()
	base := []ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerWorkers(3),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
		WithConsumerRegisterer(prometheus.NewRegistry()),
	}
	c, err := NewConsumer(append(base, opts...)...)
	require.NoError(t, err)
	c.newReader = func(string) messageReader { return r }
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func msg(partition int, offset int64, value string) kafka.Message {
	return kafka.Message{Topic: "posts", Partition: partition, Offset: offset, Value: []byte(value)}
}

func TestConsumerKeepsPartitionOrder(t *testing.T) {
	var in []kafka.Message
	for i := int64(0); i < 5; i++ {
		in = append(in, msg(0, i, "p0-"+string(rune('a'+i))), msg(1, i, "p1-"+string(rune('a'+i))))
	}
	r := newFakeReader(in...)
	c := newTestConsumer(t, r)

	var mu sync.Mutex
	seen := map[byte][]string{}
	c.RegisterHandler(funcHandler{topic: "posts", fn: func(b []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen[b[1]] = append(seen[b[1]], string(b))
		return nil
	}})
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool { return r.commits() == len(in) }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"p0-a", "p0-b", "p0-c", "p0-d", "p0-e"}, seen['0'])
	assert.Equal(t, []string{"p1-a", "p1-b", "p1-c", "p1-d", "p1-e"}, seen['1'])
}

func TestConsumerRetriesThenCommits(t *testing.T) {
	r := newFakeReader(msg(0, 7, "x"))
	c := newTestConsumer(t, r)

	var calls, errHooks int
	var mu sync.Mutex
	c.RegisterHandler(funcHandler{topic: "posts", fn: func([]byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("buffer busy")
		}
		return nil
	}})
	c.WithConsumerHook(HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) {
		mu.Lock()
		errHooks++
		mu.Unlock()
	}})
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool { return r.commits() == 1 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, errHooks)
}

func TestConsumerLeavesFailedMessageUncommitted(t *testing.T) {
	r := newFakeReader(msg(0, 1, "bad"))
	c := newTestConsumer(t, r)

	done := make(chan struct{}, 10)
	c.RegisterHandler(funcHandler{topic: "posts", fn: func([]byte) error {
		done <- struct{}{}
		return errors.New("malformed")
	}})
	require.NoError(t, c.Start())

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler not retried")
		}
	}
	require.NoError(t, c.Stop(context.Background()))
	assert.Zero(t, r.commits())
	assert.True(t, r.closed)
}

func TestConsumerDeadLettersPanics(t *testing.T) {
	r := newFakeReader(msg(2, 40, `{"symbol":"AAPL"}`))
	c := newTestConsumer(t, r, WithConsumerDLQ("posts.dlq"))
	dlq := &fakeWriter{}
	c.dlq = dlq

	calls := 0
	c.RegisterHandler(funcHandler{topic: "posts", fn: func([]byte) error {
		calls++
		panic("nil map")
	}})
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool { return r.commits() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, 1, calls)

	out := dlq.written()
	require.Len(t, out, 1)
	assert.Equal(t, "posts.dlq", out[0].Topic)
	assert.Equal(t, `{"symbol":"AAPL"}`, string(out[0].Value))
	headers := map[string]string{}
	for _, h := range out[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "posts", headers["source_topic"])
	assert.Equal(t, "40", headers["source_offset"])
	assert.Contains(t, headers["error"], "ERR_PANIC")
}

func TestConsumerStartNeedsHandlers(t *testing.T) {
	c := newTestConsumer(t, newFakeReader())
	assert.Error(t, c.Start())
	assert.NoError(t, c.Stop(context.Background()))

	_, err := NewConsumer()
	assert.ErrorIs(t, err, errNoBrokers)
}
