package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"AutoTrader/internal/domain/models"
	"AutoTrader/pkg/util"
)

type signalFile struct {
	Signals []models.Signal `json:"signals"`
	SavedAt time.Time       `json:"saved_at"`
}

// FileSignalStore keeps the BUY-signal log in <data_dir>/signals.json.
type FileSignalStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewFileSignalStore(dataDir string) *FileSignalStore {
	return &FileSignalStore{path: filepath.Join(dataDir, "signals.json"), now: time.Now}
}

func (s *FileSignalStore) Path() string { return s.path }

// Load returns the stored signals; a missing file is an empty log.
func (s *FileSignalStore) Load(_ context.Context) ([]models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f signalFile
	if _, err := util.ReadJSON(s.path, &f); err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}
	return f.Signals, nil
}

func (s *FileSignalStore) Save(_ context.Context, signals []models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if signals == nil {
		signals = []models.Signal{}
	}
	if err := util.WriteJSONAtomic(s.path, signalFile{Signals: signals, SavedAt: s.now().UTC()}); err != nil {
		return fmt.Errorf("save signals: %w", err)
	}
	return nil
}
