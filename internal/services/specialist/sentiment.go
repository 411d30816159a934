package specialist

import (
	"context"
	"fmt"
	"math"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	"AutoTrader/pkg/config"
)

// SentimentSpecialist votes on the mean polarity of recent social posts.
type SentimentSpecialist struct {
	cfg    config.SpecialistConfig
	source service.PostSource
}

func NewSentimentSpecialist(cfg config.SpecialistConfig, source service.PostSource) *SentimentSpecialist {
	return &SentimentSpecialist{cfg: cfg, source: source}
}

func (s *SentimentSpecialist) Name() string { return s.cfg.Name }

func (s *SentimentSpecialist) Predict(ctx context.Context, _ *models.FeatureFrame, symbol string) (models.Vote, error) {
	vote := models.Vote{Specialist: s.cfg.Name}
	if err := ctx.Err(); err != nil {
		return vote, err
	}

	posts := s.source.Posts(symbol, s.cfg.Posts)
	var bias float64
	for _, p := range posts {
		bias += Polarity(p.Text)
	}
	if len(posts) > 0 {
		bias /= float64(len(posts))
	}

	if bias > 0.1 {
		vote.Signal = 1
	}
	vote.Confidence = 0.5 + math.Abs(bias)*0.5
	vote.Rationale = fmt.Sprintf("Social bias %.2f (%d posts)", bias, len(posts))
	return vote, nil
}
