package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	applogger "AutoTrader/pkg/logger"
)

// MessageHandler consumes one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const commitTimeout = 5 * time.Second

// Consumer reads registered topics in one consumer group. Messages of a
// partition always land on the same worker, so they are handled in offset
// order and committed one at a time.
type Consumer struct {
	cfg       *ConsumerConfig
	l         *applogger.Logger
	metrics   *consumerMetrics
	hook      ConsumerHook
	handlers  map[string]MessageHandler
	newReader func(topic string) messageReader
	dlq       messageWriter

	readers []topicReader
	inboxes []chan fetched
	cancel  context.CancelFunc
	fetchWG sync.WaitGroup
	workWG  sync.WaitGroup
	stop    sync.Once
}

type topicReader struct {
	topic string
	r     messageReader
}

type fetched struct {
	topic string
	r     messageReader
	km    kafka.Message
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg, err := newConsumerConfig(opts)
	if err != nil {
		return nil, err
	}
	c := &Consumer{
		cfg:      cfg,
		l:        cfg.Logger.Component("kafka_consumer"),
		metrics:  newConsumerMetrics(cfg.Registerer),
		hook:     HookFuncs{},
		handlers: make(map[string]MessageHandler),
	}
	c.newReader = func(topic string) messageReader {
		rc := kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    topic,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		}
		if cfg.StartOffset == "latest" {
			rc.StartOffset = kafka.LastOffset
		}
		return kafka.NewReader(rc)
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}}
	}
	return c, nil
}

// WithConsumerHook replaces the lifecycle hook. Call it before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler binds h to its topic. The first handler for a topic wins.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, dup := c.handlers[topic]; dup {
		c.l.Warn("duplicate handler ignored", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// Start opens a reader per registered topic and the worker pool.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka: no handlers registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.inboxes = make([]chan fetched, c.cfg.Workers)
	for i := range c.inboxes {
		c.inboxes[i] = make(chan fetched, c.cfg.BufferSize)
		c.workWG.Add(1)
		go c.work(ctx, i)
	}
	for topic := range c.handlers {
		tr := topicReader{topic: topic, r: c.newReader(topic)}
		c.readers = append(c.readers, tr)
		c.fetchWG.Add(1)
		go c.fetch(ctx, tr)
	}
	c.l.Info("consumer started",
		applogger.String("group", c.cfg.GroupID),
		applogger.Int("workers", c.cfg.Workers),
		applogger.Int("topics", len(c.readers)))
	return nil
}

// Stop cancels fetching, lets workers drain what they hold, then closes the
// readers. Messages left uncommitted are redelivered to the group.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stop.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()

		done := make(chan struct{})
		go func() {
			c.fetchWG.Wait()
			for _, in := range c.inboxes {
				close(in)
			}
			c.workWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for _, tr := range c.readers {
			if cerr := tr.r.Close(); cerr != nil {
				c.l.Warn("close reader", applogger.String("topic", tr.topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.l.Warn("close dlq writer", applogger.Error(cerr))
			}
		}
		c.l.Info("consumer stopped")
	})
	return err
}

func (c *Consumer) fetch(ctx context.Context, tr topicReader) {
	defer c.fetchWG.Done()
	for {
		km, err := tr.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.l.Error("fetch failed", applogger.String("topic", tr.topic), applogger.Error(err))
			select {
			case <-time.After(c.cfg.BackoffMax):
				continue
			case <-ctx.Done():
				return
			}
		}

		w := c.workerFor(tr.topic, km.Partition)
		select {
		case c.inboxes[w] <- fetched{topic: tr.topic, r: tr.r, km: km}:
			c.metrics.inbox.WithLabelValues(strconv.Itoa(w)).Set(float64(len(c.inboxes[w])))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) workerFor(topic string, partition int) int {
	h := fnv.New32a()
	h.Write([]byte(topic))
	h.Write([]byte{byte(partition >> 24), byte(partition >> 16), byte(partition >> 8), byte(partition)})
	return int(h.Sum32() % uint32(len(c.inboxes)))
}

func (c *Consumer) work(ctx context.Context, id int) {
	defer c.workWG.Done()
	label := strconv.Itoa(id)
	for f := range c.inboxes[id] {
		c.metrics.inbox.WithLabelValues(label).Set(float64(len(c.inboxes[id])))
		c.process(ctx, f)
	}
}

// process handles one message with retries. The offset is committed on
// success, or after a failure has been parked on the dead-letter topic.
// Without a dead-letter topic a failed message stays uncommitted.
func (c *Consumer) process(ctx context.Context, f fetched) {
	h := c.handlers[f.topic]
	start := time.Now()

	attempts := 0
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempts++
		return c.attempt(ctx, h, f)
	}
	err := backoff.RetryNotify(op, c.retryPolicy(ctx), func(err error, wait time.Duration) {
		c.l.Debug("retrying message",
			applogger.String("topic", f.topic),
			applogger.Int("attempt", attempts),
			applogger.Duration("wait", wait),
			applogger.Error(err))
	})
	c.metrics.latency.WithLabelValues(f.topic).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		c.metrics.handled.WithLabelValues(f.topic, "ok").Inc()
		c.commit(f)
	case ctx.Err() != nil:
		// shutting down; the group redelivers it
	default:
		c.hook.OnError(ctx, f.topic, f.km, f.km.Value, err)
		c.l.Error("message dropped after retries",
			applogger.String("topic", f.topic),
			applogger.Int("partition", f.km.Partition),
			applogger.Int64("offset", f.km.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))
		if c.deadLetter(f, err) {
			c.metrics.handled.WithLabelValues(f.topic, "dead_letter").Inc()
			c.commit(f)
			return
		}
		c.metrics.handled.WithLabelValues(f.topic, "failed").Inc()
	}
}

func (c *Consumer) attempt(ctx context.Context, h MessageHandler, f fetched) (err error) {
	hctx, km, data, err := c.hook.BeforeHandle(ctx, f.topic, f.km, f.km.Value)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(&HookError{Code: "ERR_PANIC", Err: fmt.Errorf("handler panic: %v", r)})
		}
		c.hook.AfterHandle(hctx, f.topic, km, data, err)
		if err != nil {
			c.hook.OnError(hctx, f.topic, km, data, err)
		}
	}()
	return h.Handle(hctx, data)
}

func (c *Consumer) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffMin
	b.MaxInterval = c.cfg.BackoffMax
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.RetryMax)), ctx)
}

func (c *Consumer) deadLetter(f fetched, cause error) bool {
	if c.dlq == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   f.km.Key,
		Value: f.km.Value,
		Headers: append(f.km.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(f.topic)},
			kafka.Header{Key: "source_offset", Value: []byte(strconv.FormatInt(f.km.Offset, 10))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		),
	})
	if err != nil {
		c.l.Error("dead-letter write failed", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(f fetched) {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 2)
	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		defer cancel()
		return f.r.CommitMessages(ctx, f.km)
	}, b)
	if err != nil {
		c.l.Warn("commit failed",
			applogger.String("topic", f.topic),
			applogger.Int64("offset", f.km.Offset),
			applogger.Error(err))
	}
}
