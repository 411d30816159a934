package specialist

import (
	"errors"
	"fmt"

	"AutoTrader/internal/domain/service"
	"AutoTrader/pkg/config"
	"AutoTrader/pkg/logger"
)

const (
	KindML        = "ml"
	KindNews      = "news"
	KindSentiment = "sentiment"
)

// Deps are the collaborators specialists may need.
type Deps struct {
	Training  config.TrainingConfig
	Store     *ArtifactStore
	Knowledge *KnowledgeBase
	Headlines service.HeadlineSource
	Posts     service.PostSource
	Logger    *logger.Logger
}

// Build constructs the configured specialist set. ML specialists load their
// latest artifacts; one without artifacts stays unloaded and abstains.
func Build(cfgs []config.SpecialistConfig, deps Deps) ([]service.Specialist, error) {
	l := deps.Logger
	if l == nil {
		l = logger.Nop()
	}

	out := make([]service.Specialist, 0, len(cfgs))
	for _, c := range cfgs {
		switch c.Kind {
		case KindML:
			ml := NewMLSpecialist(c, deps.Training, deps.Store, deps.Knowledge, l)
			loaded, err := ml.Reload()
			switch {
			case errors.Is(err, ErrNoArtifacts):
				l.Warn("specialist has no trained model", logger.String("specialist", c.Name))
			case err != nil:
				l.Error("specialist model load failed", logger.String("specialist", c.Name), logger.Error(err))
			}
			out = append(out, loaded)
		case KindNews:
			if deps.Headlines == nil {
				return nil, fmt.Errorf("specialist %s: no headline source", c.Name)
			}
			out = append(out, NewNewsSpecialist(c, deps.Headlines))
		case KindSentiment:
			if deps.Posts == nil {
				return nil, fmt.Errorf("specialist %s: no post source", c.Name)
			}
			out = append(out, NewSentimentSpecialist(c, deps.Posts))
		default:
			return nil, fmt.Errorf("specialist %s: unknown kind %q", c.Name, c.Kind)
		}
	}
	return out, nil
}
