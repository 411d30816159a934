package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	jobRuns          *prometheus.CounterVec
	jobSkipped       *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	orders           *prometheus.CounterVec
	admissionReject  *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	specialistVotes  *prometheus.CounterVec
	specialistErrors *prometheus.CounterVec
	openPositions    prometheus.Gauge
	errorsTotal      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
}

// New creates a Prometheus metrics recorder registered on reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		jobRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_job_runs_total",
				Help: "Scheduled job executions by outcome",
			},
			[]string{"job", "outcome"},
		),
		jobSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_job_skipped_total",
				Help: "Job firings skipped because the previous run was still active",
			},
			[]string{"job"},
		),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autotrader_job_duration_seconds",
				Help:    "Duration of scheduled job runs",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"job"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_orders_total",
				Help: "Orders submitted to the broker",
			},
			[]string{"side", "status"},
		),
		admissionReject: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_admission_rejected_total",
				Help: "Entry candidates rejected by risk admission",
			},
			[]string{"reason"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_ensemble_decisions_total",
				Help: "Ensemble decisions by signal",
			},
			[]string{"signal"},
		),
		specialistVotes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_specialist_votes_total",
				Help: "Specialist votes by specialist and signal",
			},
			[]string{"specialist", "signal"},
		),
		specialistErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_specialist_errors_total",
				Help: "Specialist failures treated as abstentions",
			},
			[]string{"specialist"},
		),
		openPositions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "autotrader_open_positions",
				Help: "Open positions reported by the broker",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autotrader_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordJobRun records a finished job run; outcome is ok, error or panic.
func (r *Recorder) RecordJobRun(job, outcome string, seconds float64) {
	r.jobRuns.WithLabelValues(job, outcome).Inc()
	r.jobDuration.WithLabelValues(job).Observe(seconds)
}

func (r *Recorder) RecordJobSkipped(job string) {
	r.jobSkipped.WithLabelValues(job).Inc()
}

func (r *Recorder) RecordOrder(side, status string) {
	r.orders.WithLabelValues(side, status).Inc()
}

func (r *Recorder) RecordAdmissionRejected(reason string) {
	r.admissionReject.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordDecision(signal string) {
	r.decisions.WithLabelValues(signal).Inc()
}

func (r *Recorder) RecordSpecialistVote(specialist, signal string) {
	r.specialistVotes.WithLabelValues(specialist, signal).Inc()
}

func (r *Recorder) RecordSpecialistError(specialist string) {
	r.specialistErrors.WithLabelValues(specialist).Inc()
}

func (r *Recorder) SetOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
