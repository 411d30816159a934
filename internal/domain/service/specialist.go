package service

import (
	"context"

	"AutoTrader/internal/domain/models"
)

// Specialist contributes one vote to the ensemble. Frame-based specialists read
// the frame; context specialists (news, sentiment) only use the symbol.
// Implementations must not mutate the frame.
type Specialist interface {
	Name() string
	Predict(ctx context.Context, frame *models.FeatureFrame, symbol string) (models.Vote, error)
}

// Trainable specialists return a new instance fitted on a labeled frame.
type Trainable interface {
	Specialist
	Train(ctx context.Context, labeled *models.FeatureFrame) (Specialist, models.KnowledgeEntry, error)
	// Refresh returns a new instance loaded from the latest stored model.
	Refresh() (Specialist, error)
	Loaded() bool
}

// Classifier is a binary model over scaled feature rows.
type Classifier interface {
	Kind() string
	// PredictProba returns P(class = 1) for each row.
	PredictProba(rows [][]float64) ([]float64, error)
}

// HeadlineSource returns recent news headlines for a symbol.
type HeadlineSource interface {
	Headlines(ctx context.Context, symbol string, limit int) ([]models.Headline, error)
}

// PostSource returns recent social posts for a symbol.
type PostSource interface {
	Posts(symbol string, limit int) []models.SocialPost
}
