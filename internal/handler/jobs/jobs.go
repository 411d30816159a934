// Package jobs runs the trader's operations on demand, either inline or
// through the Redis work queue so that any instance can pick them up.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/internal/usecase"
	pkgkafka "AutoTrader/pkg/kafka"
	"AutoTrader/pkg/logger"
	"AutoTrader/pkg/queue"
)

const (
	NameTrain     = "train"
	NameTrade     = "trade"
	NameRebalance = "rebalance"

	messagePrefix = "autotrader.run."
)

var ErrUnknownJob = errors.New("unknown job")

// Func runs one operation and returns its report.
type Func func(ctx context.Context) (interface{}, error)

// Request is the queued payload.
type Request struct {
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// Result describes a triggered run. Report is set for inline runs only.
type Result struct {
	Name     string        `json:"name"`
	RunID    string        `json:"run_id,omitempty"`
	Queued   bool          `json:"queued"`
	Duration time.Duration `json:"duration,omitempty"`
	Report   interface{}   `json:"report,omitempty"`
}

// TraderFuncs exposes the trader's three operations by run name.
func TraderFuncs(t *usecase.LiveTrader) map[string]Func {
	return map[string]Func{
		NameTrain: func(ctx context.Context) (interface{}, error) {
			return t.ScheduledTraining(ctx)
		},
		NameTrade: func(ctx context.Context) (interface{}, error) {
			return t.CheckAndTrade(ctx)
		},
		NameRebalance: func(ctx context.Context) (interface{}, error) {
			return t.RebalancePortfolio(ctx)
		},
	}
}

type Runner struct {
	funcs   map[string]Func
	queue   queue.QueueService
	metrics domrepo.Metrics
	l       *logger.Logger
	now     func() time.Time
}

type Option func(*Runner)

// WithQueue makes Trigger enqueue instead of running inline.
func WithQueue(q queue.QueueService) Option {
	return func(r *Runner) { r.queue = q }
}

func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.l = l.Component("jobs")
		}
	}
}

func WithMetrics(m domrepo.Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

func NewRunner(funcs map[string]Func, opts ...Option) *Runner {
	r := &Runner{
		funcs:   funcs,
		metrics: domrepo.NopMetrics{},
		l:       logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Names returns the runnable job names, sorted.
func (r *Runner) Names() []string {
	out := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) Has(name string) bool {
	_, ok := r.funcs[name]
	return ok
}

// Run executes the named job inline. The run id rides on ctx as the trace id
// of every event the run publishes.
func (r *Runner) Run(ctx context.Context, name string) (Result, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	runID := uuid.NewString()
	ctx = pkgkafka.WithTraceID(ctx, runID)
	l := r.l.With(logger.String("job", name), logger.String("run_id", runID))

	start := time.Now()
	report, err := fn(ctx)
	elapsed := time.Since(start)
	r.metrics.RecordLatency("run_"+name, elapsed.Seconds())
	res := Result{Name: name, RunID: runID, Duration: elapsed}
	if err != nil {
		r.metrics.RecordError("run_" + name)
		l.Error("job run failed", logger.Duration("elapsed", elapsed), logger.Error(err))
		return res, fmt.Errorf("run %s: %w", name, err)
	}
	l.Info("job run finished", logger.Duration("elapsed", elapsed))
	res.Report = report
	return res, nil
}

// Trigger enqueues the job when a queue is configured, else runs it inline.
func (r *Runner) Trigger(ctx context.Context, name, source string) (Result, error) {
	if !r.Has(name) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if r.queue == nil {
		return r.Run(ctx, name)
	}

	req := Request{Name: name, Source: source, RequestedAt: r.now().UTC()}
	err := r.queue.PublishMessage(ctx, MessageType(name), req)
	if errors.Is(err, queue.ErrAlreadyQueued) {
		r.l.Info("job already queued", logger.String("job", name), logger.String("source", source))
		return Result{Name: name, Queued: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("enqueue %s: %w", name, err)
	}
	r.l.Info("job queued", logger.String("job", name), logger.String("source", source))
	return Result{Name: name, Queued: true}, nil
}

// QueueJobs returns one queue consumer per job.
func (r *Runner) QueueJobs() []queue.Job {
	out := make([]queue.Job, 0, len(r.funcs))
	for _, n := range r.Names() {
		out = append(out, &runJob{name: n, r: r})
	}
	return out
}

func MessageType(name string) string { return messagePrefix + name }

type runJob struct {
	name string
	r    *Runner
}

func (j *runJob) Name() string { return "run-" + j.name }

func (j *runJob) Type() string { return MessageType(j.name) }

func (j *runJob) Handle(ctx context.Context, payload interface{}) error {
	req, err := queue.ParsePayload[Request](payload)
	if err != nil {
		return err
	}
	if req.Name != "" && req.Name != j.name {
		return fmt.Errorf("payload for %s delivered to %s", req.Name, j.name)
	}
	j.r.l.Info("queued job picked up",
		logger.String("job", j.name),
		logger.String("source", req.Source),
		logger.Duration("waited", j.r.now().Sub(req.RequestedAt)))
	_, err = j.r.Run(ctx, j.name)
	return err
}

var _ queue.Job = (*runJob)(nil)
