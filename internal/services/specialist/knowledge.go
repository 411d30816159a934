package specialist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"AutoTrader/internal/domain/models"
	"AutoTrader/pkg/util"
)

// KnowledgeBase is an append-only JSON list of training insights, capped to
// the most recent entries, oldest first.
type KnowledgeBase struct {
	path string
	cap  int
	mu   sync.Mutex
}

func NewKnowledgeBase(path string, capacity int) *KnowledgeBase {
	if capacity < 1 {
		capacity = 1000
	}
	return &KnowledgeBase{path: path, cap: capacity}
}

func (k *KnowledgeBase) Append(e models.KnowledgeEntry) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := k.read()
	if err != nil {
		return err
	}
	entries = append(entries, e)
	if len(entries) > k.cap {
		entries = entries[len(entries)-k.cap:]
	}

	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode knowledge base: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o755); err != nil {
		return fmt.Errorf("create knowledge dir: %w", err)
	}
	return util.WriteFileAtomic(k.path, b)
}

// Recent returns up to n of the newest entries, oldest first. n <= 0 returns all.
func (k *KnowledgeBase) Recent(n int) ([]models.KnowledgeEntry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := k.read()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func (k *KnowledgeBase) read() ([]models.KnowledgeEntry, error) {
	b, err := os.ReadFile(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	var entries []models.KnowledgeEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode knowledge base: %w", err)
	}
	return entries, nil
}
