package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	domsvc "AutoTrader/internal/domain/service"
	"AutoTrader/internal/services/classifier"
	"AutoTrader/pkg/logger"
)

// ScheduledTraining retrains every trainable specialist on fresh labeled
// bars and swaps in a new ensemble. Specialists already serving predictions
// are never mutated; a specialist that fails to train keeps its old model.
func (t *LiveTrader) ScheduledTraining(ctx context.Context) (*models.TrainingReport, error) {
	t.trainMu.Lock()
	defer t.trainMu.Unlock()

	start := time.Now()
	report := models.NewTrainingReport(t.now())

	labeled, err := t.trainingFrame(ctx, report)
	if err != nil {
		t.metrics.RecordError("training")
		t.logger.Error("training data unavailable", logger.Error(err))
		return report, err
	}
	report.Samples = labeled.Len()

	current := t.ensemble.Load()
	specialists := current.Specialists()
	for i, sp := range specialists {
		tr, ok := sp.(domsvc.Trainable)
		if !ok {
			continue
		}
		next, err := t.retrain(ctx, tr, labeled, report)
		if err != nil {
			report.Failed[sp.Name()] = err.Error()
			t.metrics.RecordError("training")
			t.logger.Error("specialist training failed, keeping previous model",
				logger.String("specialist", sp.Name()),
				logger.Error(err))
			continue
		}
		specialists[i] = next
	}

	t.ensemble.Store(current.WithSpecialists(specialists))
	t.metrics.RecordLatency("training", time.Since(start).Seconds())

	t.logger.Info("training complete",
		logger.Int("symbols", report.Symbols),
		logger.Int("samples", report.Samples),
		logger.Strings("trained", report.Trained),
		logger.Int("failed", len(report.Failed)),
		logger.Duration("elapsed_ms", time.Since(start)))

	if len(report.Trained) == 0 && len(report.Failed) > 0 {
		return report, errors.New("no specialist was retrained")
	}
	return report, nil
}

// retrain fits tr on labeled data. Inference-only specialists are reloaded
// from their latest stored model instead.
func (t *LiveTrader) retrain(ctx context.Context, tr domsvc.Trainable, labeled *models.FeatureFrame, report *models.TrainingReport) (domsvc.Specialist, error) {
	next, entry, err := tr.Train(ctx, labeled)
	if errors.Is(err, classifier.ErrTrainingUnsupported) {
		next, err = tr.Refresh()
		if err != nil {
			return nil, fmt.Errorf("reload: %w", err)
		}
		report.Trained = append(report.Trained, tr.Name())
		return next, nil
	}
	if err != nil {
		return nil, err
	}
	report.Trained = append(report.Trained, tr.Name())
	report.Accuracy[tr.Name()] = entry.TestAccuracy
	return next, nil
}

// trainingFrame fetches bars for every training symbol and stacks their
// labeled frames. A symbol that fails is skipped.
func (t *LiveTrader) trainingFrame(ctx context.Context, report *models.TrainingReport) (*models.FeatureFrame, error) {
	symbols := t.training.Symbols
	if len(symbols) == 0 {
		var err error
		if symbols, err = t.candidates.Candidates(ctx); err != nil {
			return nil, fmt.Errorf("discover training symbols: %w", err)
		}
	}

	var frames []*models.FeatureFrame
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := t.market.LatestBars(ctx, sym, t.training.Bars, domrepo.TF1m)
		if err != nil {
			t.logger.Warn("training bars unavailable", logger.String("symbol", sym), logger.Error(err))
			continue
		}
		frame, err := t.frames.BuildLabeled(sym, bars)
		if err != nil {
			t.logger.Warn("labeling failed", logger.String("symbol", sym), logger.Error(err))
			continue
		}
		if frame.Len() == 0 {
			continue
		}
		frames = append(frames, frame)
	}
	report.Symbols = len(frames)

	if len(frames) == 0 {
		return nil, fmt.Errorf("no labeled data from %d symbols", len(symbols))
	}
	return models.ConcatFrames(frames...), nil
}
