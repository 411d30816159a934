package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"AutoTrader/internal/domain/repository"
	"AutoTrader/pkg/logger"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
	ErrJobRunning   = errors.New("job is already running")
	ErrJobGated     = errors.New("job gate is closed")
	ErrStopTimeout  = errors.New("scheduler loop did not stop in time")
)

// Job is a recurring unit of work. Gate, when set, must return true at fire
// time for Run to be invoked; a closed gate drops the occurrence.
type Job struct {
	Name    string
	Trigger Trigger
	Gate    func(now time.Time) bool
	Run     func(ctx context.Context) error
}

// JobInfo is a read-only view of a registered job.
type JobInfo struct {
	Name      string    `json:"name"`
	Trigger   string    `json:"trigger"`
	Next      time.Time `json:"next"`
	Running   bool      `json:"running"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type entry struct {
	job      Job
	next     time.Time
	running  atomic.Bool
	runs     atomic.Int64
	failures atomic.Int64

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

// Scheduler polls its jobs from a single dispatcher goroutine and runs each
// due job in its own goroutine. A job never overlaps itself; a firing that
// finds the previous run still active is skipped, not queued.
type Scheduler struct {
	logger      *logger.Logger
	metrics     repository.Metrics
	now         func() time.Time
	poll        time.Duration
	stopTimeout time.Duration

	mu      sync.Mutex
	jobs    map[string]*entry
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	inner   sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:      logger.Nop(),
		metrics:     repository.NopMetrics{},
		now:         time.Now,
		poll:        5 * time.Second,
		stopTimeout: 10 * time.Second,
		jobs:        make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job; its first occurrence is computed from the current time.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Trigger == nil || job.Run == nil {
		return fmt.Errorf("invalid job %q: name, trigger and run are required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	e := &entry{job: job, next: job.Trigger.Next(s.now())}
	s.jobs[job.Name] = e

	s.logger.Info("job scheduled",
		logger.String("job", job.Name),
		logger.String("trigger", job.Trigger.String()),
		logger.Time("next", e.next))
	return nil
}

// Cancel removes a job. A run already in flight completes normally.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return false
	}
	delete(s.jobs, name)
	s.logger.Info("job cancelled", logger.String("job", name))
	return true
}

// Start launches the dispatcher loop. Jobs run with ctx. Starting a running
// scheduler only logs a warning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("scheduler already running")
		return nil
	}

	now := s.now()
	for _, e := range s.jobs {
		e.next = e.job.Trigger.Next(now)
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stopCh, s.done)

	s.logger.Info("scheduler started",
		logger.Int("jobs", len(s.jobs)),
		logger.Duration("poll_ms", s.poll))
	return nil
}

// Stop signals the loop and waits for it to exit, bounded by the stop
// timeout and ctx. In-flight job runs are not cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-timer.C:
		s.logger.Warn("scheduler stop timed out", logger.Duration("timeout_ms", s.stopTimeout))
		return ErrStopTimeout
	case <-ctx.Done():
		s.logger.Warn("scheduler stop interrupted", logger.Error(ctx.Err()))
		return ErrStopTimeout
	}
}

// Drain waits until no job is running or ctx is done.
func (s *Scheduler) Drain(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		s.inner.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs a job synchronously through the same recovery wrapper the
// loop uses. The job's gate is honored.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	if e.job.Gate != nil && !e.job.Gate(s.now()) {
		s.logger.Info("manual run skipped, gate closed", logger.String("job", name))
		return fmt.Errorf("%w: %s", ErrJobGated, name)
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	defer e.running.Store(false)

	s.logger.Info("manual run", logger.String("job", name))
	return s.execute(ctx, e)
}

// Jobs returns registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		e.mu.Lock()
		info := JobInfo{
			Name:      e.job.Name,
			Trigger:   e.job.Trigger.String(),
			Next:      e.next,
			Running:   e.running.Load(),
			Runs:      e.runs.Load(),
			Failures:  e.failures.Load(),
			LastRun:   e.lastRun,
			LastError: e.lastErr,
		}
		e.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch fires every due job. The next occurrence is computed from now, so
// occurrences missed while the process was asleep collapse into one.
func (s *Scheduler) dispatch(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.jobs {
		if now.Before(e.next) {
			continue
		}
		e.next = e.job.Trigger.Next(now)
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(ctx, e, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry, now time.Time) {
	name := e.job.Name

	if e.job.Gate != nil && !e.job.Gate(now) {
		s.metrics.RecordJobSkipped(name)
		s.logger.Debug("job gated", logger.String("job", name))
		return
	}
	if !e.running.CompareAndSwap(false, true) {
		s.metrics.RecordJobSkipped(name)
		s.logger.Warn("job still running, skipping occurrence", logger.String("job", name))
		return
	}

	s.inner.Add(1)
	go func() {
		defer s.inner.Done()
		defer e.running.Store(false)
		_ = s.execute(ctx, e)
	}()
}

// execute runs the job, converting a panic into an error. Failures are
// logged and counted; the job stays registered.
func (s *Scheduler) execute(ctx context.Context, e *entry) (err error) {
	name := e.job.Name
	start := time.Now()
	outcome := "ok"

	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			err = fmt.Errorf("job %s panicked: %v", name, r)
			s.logger.Error("job panicked",
				logger.String("job", name),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}

		elapsed := time.Since(start)
		e.runs.Add(1)
		e.mu.Lock()
		e.lastRun = start
		e.lastErr = ""
		if err != nil {
			e.failures.Add(1)
			e.lastErr = err.Error()
		}
		e.mu.Unlock()

		s.metrics.RecordJobRun(name, outcome, elapsed.Seconds())
	}()

	if err = e.job.Run(ctx); err != nil {
		outcome = "error"
		s.logger.Error("job failed", logger.String("job", name), logger.Error(err))
		return err
	}
	s.logger.Debug("job completed", logger.String("job", name), logger.Duration("elapsed_ms", time.Since(start)))
	return nil
}
