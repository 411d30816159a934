package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"AutoTrader/pkg/logger"
)

// QueueMode selects which halves of the queue an instance runs.
type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m QueueMode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer-only"
	case ModeConsumerOnly:
		return "consumer-only"
	default:
		return "producer-consumer"
	}
}

const popTimeout = time.Second

// RedisQueue is a work queue on a Redis list. Failed messages wait in a
// sorted set scored by their retry time, then land in a dead-letter list.
//
//	<prefix>:pending        list, LPUSH in, BRPOP out
//	<prefix>:retry          zset, score = retry time in unix ms
//	<prefix>:dead           list
//	<prefix>:dedupe:<type>  marker for the pending message of a type
type RedisQueue struct {
	logger *logger.Logger
	cfg    QueueConfig
	client *redis.Client
	mode   QueueMode
	prefix string
	poll   time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithPollInterval sets how often due retries are promoted.
func WithPollInterval(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) {
		if d > 0 {
			r.poll = d
		}
	}
}

func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	cfg := QueueConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}

	r := &RedisQueue{
		logger: lgr,
		cfg:    cfg,
		client: client,
		mode:   mode,
		prefix: "autotrader:queue",
		poll:   time.Second,
		now:    time.Now,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisQueue) RegisterJobs(jobs []Job) {
	for _, job := range jobs {
		r.RegisterJob(job)
	}
}

func (r *RedisQueue) RegisterJob(job Job) {
	if r.mode == ModeProducerOnly {
		r.logger.Warn("job registration ignored in producer-only mode", logger.String("job", job.Name()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Debug("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings Redis and, unless producer-only, starts the workers and the
// retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true

	if r.mode != ModeProducerOnly {
		for i := 0; i < r.cfg.Workers; i++ {
			r.wg.Add(1)
			go r.worker(i)
		}
		r.wg.Add(1)
		go r.retryLoop()
	}
	r.logger.Info("redis queue started",
		logger.String("mode", r.mode.String()),
		logger.Int("workers", r.cfg.Workers),
		logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs until ctx is done.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	}
}

// Enqueue stores a message for msgType. With deduplication on, a second
// message of the same type is refused with ErrAlreadyQueued until the first
// is picked up.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, registered := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return errors.New("queue not running")
	}
	if r.mode != ModeProducerOnly && !registered {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, EnqueuedAt: r.now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if r.cfg.DedupeTTL > 0 {
		ok, err := r.client.SetNX(ctx, r.dedupeKey(msgType), msg.ID, r.cfg.DedupeTTL).Result()
		if err != nil {
			return fmt.Errorf("dedupe marker: %w", err)
		}
		if !ok {
			return ErrAlreadyQueued
		}
	}
	if err := r.client.LPush(ctx, r.pendingKey(), data).Err(); err != nil {
		if r.cfg.DedupeTTL > 0 {
			r.client.Del(context.WithoutCancel(ctx), r.dedupeKey(msgType))
		}
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// PublishMessage implements QueueService.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

// Depth reports the length of every list.
func (r *RedisQueue) Depth(ctx context.Context) (Depth, error) {
	pipe := r.client.Pipeline()
	pending := pipe.LLen(ctx, r.pendingKey())
	retry := pipe.ZCard(ctx, r.retryKey())
	dead := pipe.LLen(ctx, r.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, fmt.Errorf("queue depth: %w", err)
	}
	return Depth{Pending: pending.Val(), Retry: retry.Val(), Dead: dead.Val()}, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	r.logger.Debug("queue worker started", logger.Int("worker_id", id))
	for r.ctx.Err() == nil {
		msg, ok := r.pop()
		if ok {
			r.process(msg)
		}
	}
	r.logger.Debug("queue worker stopped", logger.Int("worker_id", id))
}

func (r *RedisQueue) pop() (Message, bool) {
	res, err := r.client.BRPop(r.ctx, popTimeout, r.pendingKey()).Result()
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Message{}, false
	default:
		r.logger.Error("brpop error", logger.Error(err))
		select {
		case <-time.After(popTimeout):
		case <-r.ctx.Done():
		}
		return Message{}, false
	}
	if len(res) < 2 {
		return Message{}, false
	}

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.logger.Error("unmarshal message", logger.Error(err))
		return Message{}, false
	}
	if r.cfg.DedupeTTL > 0 {
		r.client.Del(context.Background(), r.dedupeKey(msg.Type))
	}
	return msg, true
}

func (r *RedisQueue) process(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.fail(msg, "", fmt.Errorf("no job registered for type: %s", msg.Type), true)
		return
	}

	start := r.now()
	err := r.handleSafely(job, msg.Payload)
	elapsed := r.now().Sub(start)
	switch {
	case err == nil:
		r.logger.Debug("message processed",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", elapsed))
	case errors.Is(err, context.Canceled) && r.ctx.Err() != nil:
		// shutting down: put it back at the head of the list
		data, _ := json.Marshal(msg)
		if perr := r.client.RPush(context.Background(), r.pendingKey(), data).Err(); perr != nil {
			r.logger.Error("requeue on shutdown", logger.String("id", msg.ID), logger.Error(perr))
		}
	default:
		r.fail(msg, job.Name(), err, false)
	}
}

// handleSafely turns a job panic into an ordinary failure.
func (r *RedisQueue) handleSafely(job Job, payload json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), p)
		}
	}()
	return job.Handle(r.ctx, payload)
}

// fail schedules a retry after RetryDelay doubled per attempt, or moves the
// message to the dead-letter list once RetryLimit is spent.
func (r *RedisQueue) fail(msg Message, jobName string, err error, permanent bool) {
	msg.Attempts++
	msg.LastError = err.Error()
	data, merr := json.Marshal(msg)
	if merr != nil {
		r.logger.Error("marshal failed message", logger.String("id", msg.ID), logger.Error(merr))
		return
	}
	ctx := context.Background()

	if !permanent && msg.Attempts <= r.cfg.RetryLimit {
		at := r.now().Add(r.cfg.RetryDelay << (msg.Attempts - 1))
		if zerr := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(at.UnixMilli()), Member: data}).Err(); zerr != nil {
			r.logger.Error("schedule retry", logger.String("id", msg.ID), logger.Error(zerr))
			return
		}
		r.logger.Warn("message failed, retry scheduled",
			logger.String("id", msg.ID),
			logger.String("job", jobName),
			logger.Int("attempt", msg.Attempts),
			logger.Time("retry_at", at),
			logger.Error(err))
		return
	}

	if lerr := r.client.LPush(ctx, r.deadKey(), data).Err(); lerr != nil {
		r.logger.Error("dead-letter push", logger.String("id", msg.ID), logger.Error(lerr))
		return
	}
	r.logger.Error("message dead-lettered",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.String("job", jobName),
		logger.Int("attempts", msg.Attempts),
		logger.Error(err))
}

func (r *RedisQueue) retryLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.promoteDue()
		}
	}
}

// promoteDue moves retries whose time has come back onto the pending list.
// ZREM decides ownership when several instances promote at once.
func (r *RedisQueue) promoteDue() {
	due, err := r.client.ZRangeByScore(r.ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("fetch due retries", logger.Error(err))
		}
		return
	}

	for _, member := range due {
		if r.ctx.Err() != nil {
			return
		}
		removed, err := r.client.ZRem(r.ctx, r.retryKey(), member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := r.client.LPush(r.ctx, r.pendingKey(), member).Err(); err != nil {
			r.logger.Error("promote retry", logger.Error(err))
		}
	}
}

func (r *RedisQueue) pendingKey() string { return r.prefix + ":pending" }

func (r *RedisQueue) retryKey() string { return r.prefix + ":retry" }

func (r *RedisQueue) deadKey() string { return r.prefix + ":dead" }

func (r *RedisQueue) dedupeKey(msgType string) string { return r.prefix + ":dedupe:" + msgType }

var _ QueueService = (*RedisQueue)(nil)
