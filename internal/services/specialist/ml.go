package specialist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	"AutoTrader/internal/services/classifier"
	"AutoTrader/internal/services/features"
	"AutoTrader/pkg/config"
	"AutoTrader/pkg/logger"
)

const notLoaded = "model not loaded"

// onnxModel is the model.json payload of an imported ONNX graph.
type onnxModel struct {
	File    string `json:"file"`
	Outputs int    `json:"outputs"`
	Input   string `json:"input,omitempty"`
	Output  string `json:"output,omitempty"`
}

// MLSpecialist votes with a binary classifier over a fixed feature subset.
// An instance is immutable: training and reloading return new instances.
type MLSpecialist struct {
	cfg      config.SpecialistConfig
	training config.TrainingConfig
	store    *ArtifactStore
	kb       *KnowledgeBase
	logger   *logger.Logger

	model    service.Classifier
	scaler   *classifier.StandardScaler
	features []string
	version  string
}

// NewMLSpecialist returns an unloaded specialist; it abstains until loaded.
func NewMLSpecialist(cfg config.SpecialistConfig, training config.TrainingConfig, store *ArtifactStore, kb *KnowledgeBase, l *logger.Logger) *MLSpecialist {
	if l == nil {
		l = logger.Nop()
	}
	return &MLSpecialist{
		cfg:      cfg,
		training: training,
		store:    store,
		kb:       kb,
		logger:   l.With(logger.String("specialist", cfg.Name)),
	}
}

func (s *MLSpecialist) Name() string { return s.cfg.Name }

func (s *MLSpecialist) Loaded() bool { return s.model != nil }

func (s *MLSpecialist) Version() string { return s.version }

func (s *MLSpecialist) Features() []string {
	return append([]string(nil), s.features...)
}

// Reload returns a new instance holding the latest stored artifact set. On
// error the returned instance is unloaded and abstains.
func (s *MLSpecialist) Reload() (*MLSpecialist, error) {
	fresh := s.clone()
	fresh.model, fresh.scaler, fresh.features, fresh.version = nil, nil, nil, ""

	a, err := s.store.Load(s.cfg.Name)
	if err != nil {
		return fresh, err
	}
	model, err := decodeClassifier(a, s.training.ORTLibrary)
	if err != nil {
		return fresh, err
	}

	scaler := a.Scaler
	fresh.model = model
	fresh.scaler = &scaler
	fresh.features = a.Features
	fresh.version = a.Manifest.Version
	fresh.logger.Info("model loaded",
		logger.String("version", fresh.version),
		logger.String("kind", model.Kind()),
		logger.Strings("features", fresh.features))
	return fresh, nil
}

// Refresh is Reload behind the service.Trainable interface.
func (s *MLSpecialist) Refresh() (service.Specialist, error) {
	return s.Reload()
}

// Predict scores the last frame row. Without a model it abstains with
// signal 0 and confidence 0.
func (s *MLSpecialist) Predict(ctx context.Context, frame *models.FeatureFrame, _ string) (models.Vote, error) {
	vote := models.Vote{Specialist: s.cfg.Name}
	if s.model == nil {
		vote.Rationale = notLoaded
		return vote, nil
	}
	if err := ctx.Err(); err != nil {
		return vote, err
	}
	if frame == nil || frame.Len() == 0 {
		return vote, models.ErrEmptyFrame
	}

	row, err := frame.Row(frame.Len()-1, s.features)
	if err != nil {
		return vote, err
	}
	scaled, err := s.scaler.Transform([][]float64{row})
	if err != nil {
		return vote, err
	}
	probs, err := s.model.PredictProba(scaled)
	if err != nil {
		return vote, err
	}

	p := probs[0]
	vote.Confidence = 1 - p
	if p >= 0.5 {
		vote.Signal = 1
		vote.Confidence = p
	}
	vote.Rationale = fmt.Sprintf("%s %.1f%%", s.cfg.DisplayName, vote.Confidence*100)
	return vote, nil
}

// Train fits a new model on a labeled frame, persists it with its scaler and
// feature list, records a knowledge entry and returns the new specialist.
// The receiver keeps serving its old model.
func (s *MLSpecialist) Train(ctx context.Context, labeled *models.FeatureFrame) (service.Specialist, models.KnowledgeEntry, error) {
	var entry models.KnowledgeEntry
	if s.cfg.ModelType == classifier.KindONNX {
		return nil, entry, classifier.ErrTrainingUnsupported
	}

	target, ok := labeled.Column(features.ColTarget)
	if !ok {
		return nil, entry, fmt.Errorf("%w: %s", models.ErrMissingColumn, features.ColTarget)
	}
	var cols []string
	for _, f := range s.cfg.Features {
		if labeled.HasColumn(f) {
			cols = append(cols, f)
		}
	}
	if len(cols) == 0 {
		return nil, entry, fmt.Errorf("%s: none of %v present in frame", s.cfg.Name, s.cfg.Features)
	}

	rows := make([][]float64, labeled.Len())
	for i := range rows {
		r, err := labeled.Row(i, cols)
		if err != nil {
			return nil, entry, err
		}
		rows[i] = r
	}

	trainIdx, testIdx := stratifiedSplit(target, s.training.TestFraction, 42)
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, entry, fmt.Errorf("%s: not enough samples to split (%d)", s.cfg.Name, len(rows))
	}
	xTrain, yTrain := pick(rows, target, trainIdx)
	xTest, yTest := pick(rows, target, testIdx)

	if err := ctx.Err(); err != nil {
		return nil, entry, err
	}

	scaler := &classifier.StandardScaler{}
	if err := scaler.Fit(xTrain); err != nil {
		return nil, entry, err
	}
	xTrainS, err := scaler.Transform(xTrain)
	if err != nil {
		return nil, entry, err
	}
	model := classifier.NewLogisticRegression(
		classifier.WithEpochs(s.training.Epochs),
		classifier.WithLearningRate(s.training.LearningRate),
	)
	if err := model.Fit(xTrainS, yTrain); err != nil {
		return nil, entry, fmt.Errorf("%s: fit: %w", s.cfg.Name, err)
	}

	xTestS, err := scaler.Transform(xTest)
	if err != nil {
		return nil, entry, err
	}
	probs, err := model.PredictProba(xTestS)
	if err != nil {
		return nil, entry, err
	}
	correct := 0
	for i, p := range probs {
		pred := 0.0
		if p >= 0.5 {
			pred = 1
		}
		if pred == yTest[i] {
			correct++
		}
	}
	accuracy := float64(correct) / float64(len(yTest))

	entry = knowledgeEntry(s.cfg.Name, cols, model.Importances(), accuracy)

	manifest, err := s.store.Save(s.cfg.Name, classifier.KindLogistic, model, scaler, cols, nil)
	if err != nil {
		return nil, entry, fmt.Errorf("%s: persist: %w", s.cfg.Name, err)
	}
	if s.kb != nil {
		if err := s.kb.Append(entry); err != nil {
			s.logger.Warn("knowledge base append failed", logger.Error(err))
		}
	}

	next := s.clone()
	next.model = model
	next.scaler = scaler
	next.features = cols
	next.version = manifest.Version

	s.logger.Info("specialist trained",
		logger.String("version", manifest.Version),
		logger.Int("train_rows", len(xTrain)),
		logger.Int("test_rows", len(xTest)),
		logger.Float64("test_accuracy", accuracy),
		logger.String("insight", entry.Insight))
	return next, entry, nil
}

// ImportONNX stores an exported ONNX graph as the specialist's current
// artifact set, together with the scaler fitted for it.
func ImportONNX(store *ArtifactStore, name, onnxPath string, featureCols []string, scaler *classifier.StandardScaler, outputs int) (Manifest, error) {
	graph, err := os.ReadFile(onnxPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("read onnx graph: %w", err)
	}
	if scaler == nil || scaler.Width() != len(featureCols) {
		return Manifest{}, errors.New("scaler width must match feature count")
	}
	model := onnxModel{File: "model.onnx", Outputs: outputs}
	return store.Save(name, classifier.KindONNX, model, scaler, featureCols, map[string][]byte{model.File: graph})
}

func (s *MLSpecialist) clone() *MLSpecialist {
	c := *s
	return &c
}

func decodeClassifier(a *Artifacts, ortLibrary string) (service.Classifier, error) {
	switch a.Manifest.Kind {
	case classifier.KindLogistic:
		var m classifier.LogisticRegression
		if err := json.Unmarshal(a.Model, &m); err != nil {
			return nil, fmt.Errorf("%w: model: %v", ErrArtifactMismatch, err)
		}
		if len(m.Weights) != len(a.Features) {
			return nil, fmt.Errorf("%w: %d weights for %d features", ErrArtifactMismatch, len(m.Weights), len(a.Features))
		}
		return &m, nil
	case classifier.KindONNX:
		var m onnxModel
		if err := json.Unmarshal(a.Model, &m); err != nil {
			return nil, fmt.Errorf("%w: model: %v", ErrArtifactMismatch, err)
		}
		return classifier.NewONNXClassifier(classifier.ONNXConfig{
			Path:        filepath.Join(a.Dir, m.File),
			Width:       len(a.Features),
			Outputs:     m.Outputs,
			InputName:   m.Input,
			OutputName:  m.Output,
			LibraryPath: ortLibrary,
		})
	default:
		return nil, fmt.Errorf("%w: unknown model kind %q", ErrArtifactMismatch, a.Manifest.Kind)
	}
}

// stratifiedSplit shuffles each class with a fixed seed and holds out
// fraction of it for testing.
func stratifiedSplit(labels []float64, fraction float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	byClass := map[float64][]int{}
	for i, y := range labels {
		byClass[y] = append(byClass[y], i)
	}

	classes := make([]float64, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := int(float64(len(idx))*fraction + 0.5)
		if n == 0 && len(idx) > 1 {
			n = 1
		}
		test = append(test, idx[:n]...)
		train = append(train, idx[n:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

func pick(rows [][]float64, labels []float64, idx []int) ([][]float64, []float64) {
	x := make([][]float64, len(idx))
	y := make([]float64, len(idx))
	for i, j := range idx {
		x[i] = rows[j]
		y[i] = labels[j]
	}
	return x, y
}

func knowledgeEntry(name string, cols []string, importances []float64, accuracy float64) models.KnowledgeEntry {
	order := make([]int, len(cols))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return importances[order[a]] > importances[order[b]] })

	top := make(map[string]float64)
	for i, j := range order {
		if i == 5 {
			break
		}
		top[cols[j]] = importances[j]
	}
	return models.KnowledgeEntry{
		Date:         time.Now().UTC(),
		Specialist:   name,
		TopFeatures:  top,
		TestAccuracy: accuracy,
		Insight:      "Strongest signal: " + cols[order[0]],
	}
}
