package specialist

import (
	"context"
	"fmt"
	"math"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	"AutoTrader/pkg/config"
)

// NewsSpecialist votes on the mean headline polarity for the symbol.
type NewsSpecialist struct {
	cfg    config.SpecialistConfig
	source service.HeadlineSource
}

func NewNewsSpecialist(cfg config.SpecialistConfig, source service.HeadlineSource) *NewsSpecialist {
	return &NewsSpecialist{cfg: cfg, source: source}
}

func (s *NewsSpecialist) Name() string { return s.cfg.Name }

func (s *NewsSpecialist) Predict(ctx context.Context, _ *models.FeatureFrame, symbol string) (models.Vote, error) {
	vote := models.Vote{Specialist: s.cfg.Name}

	headlines, err := s.source.Headlines(ctx, symbol, s.cfg.Headlines)
	if err != nil {
		return vote, fmt.Errorf("fetch headlines %s: %w", symbol, err)
	}

	var bias, catalysts float64
	for _, h := range headlines {
		text := h.Headline + " " + h.Summary
		bias += Polarity(h.Headline)
		if HasCatalyst(text) {
			catalysts++
		}
	}
	if n := float64(len(headlines)); n > 0 {
		bias /= n
		catalysts /= n
	}

	if bias > 0.05 {
		vote.Signal = 1
	}
	vote.Confidence = math.Min(0.92, 0.45+math.Abs(bias))
	vote.Rationale = fmt.Sprintf("News bias %.2f | Catalysts %.2f", bias, catalysts)
	return vote, nil
}
