package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	domsvc "AutoTrader/internal/domain/service"
	"AutoTrader/pkg/config"
	"AutoTrader/pkg/logger"
)

const (
	ThresholdWeightFraction = "weight_fraction"
	ThresholdVoteCount      = "vote_count"
)

// Ensemble aggregates a fixed specialist set into one recommendation.
// It is immutable; retraining builds a new Ensemble.
type Ensemble struct {
	specialists []domsvc.Specialist
	cfg         config.EnsembleConfig
	metrics     domrepo.Metrics
	logger      *logger.Logger
	now         func() time.Time
}

type EnsembleOption func(*Ensemble)

func WithEnsembleMetrics(m domrepo.Metrics) EnsembleOption {
	return func(e *Ensemble) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithEnsembleLogger(l *logger.Logger) EnsembleOption {
	return func(e *Ensemble) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEnsemble(specialists []domsvc.Specialist, cfg config.EnsembleConfig, opts ...EnsembleOption) *Ensemble {
	if cfg.ThresholdMode == "" {
		cfg.ThresholdMode = ThresholdWeightFraction
	}
	if cfg.SpecialistTimeout <= 0 {
		cfg.SpecialistTimeout = 10 * time.Second
	}
	e := &Ensemble{
		specialists: append([]domsvc.Specialist(nil), specialists...),
		cfg:         cfg,
		metrics:     domrepo.NopMetrics{},
		logger:      logger.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithSpecialists returns a new Ensemble over sps with the same settings.
func (e *Ensemble) WithSpecialists(sps []domsvc.Specialist) *Ensemble {
	next := *e
	next.specialists = append([]domsvc.Specialist(nil), sps...)
	return &next
}

// Specialists returns a copy of the specialist set.
func (e *Ensemble) Specialists() []domsvc.Specialist {
	return append([]domsvc.Specialist(nil), e.specialists...)
}

// Predict asks every specialist concurrently and aggregates the votes. A
// specialist that errors, panics or exceeds its timeout abstains with no
// weight; the prediction itself never fails.
func (e *Ensemble) Predict(ctx context.Context, frame *models.FeatureFrame, symbol string) models.Recommendation {
	start := time.Now()
	votes := make([]models.Vote, len(e.specialists))

	var wg sync.WaitGroup
	for i, sp := range e.specialists {
		wg.Add(1)
		go func(i int, sp domsvc.Specialist) {
			defer wg.Done()
			votes[i] = e.ask(ctx, sp, frame, symbol)
		}(i, sp)
	}
	wg.Wait()

	rec := Aggregate(votes, e.cfg)
	rec.Symbol = symbol
	rec.Time = e.now()
	if frame != nil && frame.Len() > 0 {
		rec.Price = frame.Last().Close
	}

	e.diagnose(rec, time.Since(start))
	return rec
}

func (e *Ensemble) ask(ctx context.Context, sp domsvc.Specialist, frame *models.FeatureFrame, symbol string) models.Vote {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SpecialistTimeout)
	defer cancel()

	type result struct {
		vote models.Vote
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := sp.Predict(sctx, frame, symbol)
		ch <- result{vote: v, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-sctx.Done():
		res = result{err: fmt.Errorf("timed out: %w", sctx.Err())}
	}

	if res.err == nil && (math.IsNaN(res.vote.Confidence) || res.vote.Confidence < 0 || res.vote.Confidence > 1) {
		res.err = fmt.Errorf("confidence %v out of range", res.vote.Confidence)
	}
	if res.err != nil {
		e.metrics.RecordSpecialistError(sp.Name())
		e.logger.Warn("specialist abstained",
			logger.String("specialist", sp.Name()),
			logger.String("symbol", symbol),
			logger.Error(res.err))
		return models.Vote{Specialist: sp.Name(), Rationale: res.err.Error(), Abstained: true}
	}

	res.vote.Specialist = sp.Name()
	return res.vote
}

// Aggregate applies the threshold rule to a set of votes.
//
// finalConfidence = buyWeight / totalWeight over non-abstaining votes. In
// weight_fraction mode the signal is 1 iff buyWeight > fraction*totalWeight;
// in vote_count mode iff buyVotes > fraction*respondingVotes. A tie is HOLD.
// Votes with zero confidence carry no weight and are not counted as responding.
// Action is BUY iff the signal is 1 and finalConfidence >= MinConfidence.
func Aggregate(votes []models.Vote, cfg config.EnsembleConfig) models.Recommendation {
	rec := models.Recommendation{Votes: votes, Action: models.ActionHold}

	var buyWeight, total float64
	for _, v := range votes {
		if v.Abstained || v.Confidence <= 0 {
			continue
		}
		rec.Responding++
		total += v.Confidence
		if v.Signal == 1 {
			buyWeight += v.Confidence
			rec.BuyVotes++
		}
	}
	if total > 0 {
		rec.Confidence = buyWeight / total
	}

	switch cfg.ThresholdMode {
	case ThresholdVoteCount:
		if rec.Responding > 0 && float64(rec.BuyVotes) > cfg.BuyThreshold*float64(rec.Responding) {
			rec.Signal = 1
		}
	default:
		if total > 0 && buyWeight > cfg.BuyThreshold*total {
			rec.Signal = 1
		}
	}

	if rec.Signal == 1 && rec.Confidence >= cfg.MinConfidence {
		rec.Action = models.ActionBuy
	}
	return rec
}

// diagnose emits per-vote diagnostics; it never affects the result.
func (e *Ensemble) diagnose(rec models.Recommendation, elapsed time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("ensemble diagnostics failed", logger.Any("panic", r))
		}
	}()

	for _, v := range rec.Votes {
		outcome := "hold"
		switch {
		case v.Abstained:
			outcome = "abstain"
		case v.Signal == 1:
			outcome = "buy"
		}
		e.metrics.RecordSpecialistVote(v.Specialist, outcome)
	}
	e.metrics.RecordDecision(string(rec.Action))
	e.metrics.RecordLatency("ensemble_predict", elapsed.Seconds())

	e.logger.Debug("ensemble decision",
		logger.String("symbol", rec.Symbol),
		logger.String("action", string(rec.Action)),
		logger.Float64("confidence", rec.Confidence),
		logger.Int("buy_votes", rec.BuyVotes),
		logger.Int("responding", rec.Responding))
}
