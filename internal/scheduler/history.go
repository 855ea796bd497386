package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mendstack/mend-engine/internal/models"
)

// History is the bounded, chronologically ordered cycle log. It is owned by
// the scheduler; other components receive it by reference and only read.
// When a path is configured every append is mirrored to disk so reporting
// tooling can consume the file between runs.
type History struct {
	mu      sync.RWMutex
	limit   int
	path    string
	records []models.CycleRecord
}

// NewHistory creates a history retaining the last limit records, persisted
// at path. An empty path keeps the history in memory only.
func NewHistory(limit int, path string) *History {
	if limit <= 0 {
		limit = 100
	}
	return &History{limit: limit, path: path}
}

// Load restores previously persisted records. A missing file is a clean
// first start, not an error.
func (h *History) Load() error {
	if h.path == "" {
		return nil
	}
	data, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cycle history %s: %w", h.path, err)
	}

	var records []models.CycleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse cycle history %s: %w", h.path, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(records) > h.limit {
		records = records[len(records)-h.limit:]
	}
	h.records = records
	return nil
}

// Append adds one completed cycle, evicting the oldest past the limit, and
// rewrites the persisted file.
func (h *History) Append(rec models.CycleRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, rec)
	if len(h.records) > h.limit {
		h.records = h.records[len(h.records)-h.limit:]
	}
	return h.persistLocked()
}

// Last returns the most recent record, if any.
func (h *History) Last() (models.CycleRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return models.CycleRecord{}, false
	}
	return h.records[len(h.records)-1], true
}

// Records returns a copy of the retained cycles, oldest first.
func (h *History) Records() []models.CycleRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.CycleRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Len reports how many cycles are retained.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// LastSequence returns the newest record's sequence number, or zero when
// the history is empty.
func (h *History) LastSequence() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return 0
	}
	return h.records[len(h.records)-1].Sequence
}

func (h *History) persistLocked() error {
	if h.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(h.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cycle history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(h.path), ".history-*")
	if err != nil {
		return fmt.Errorf("stage cycle history: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cycle history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("flush cycle history: %w", err)
	}
	if err := os.Rename(tmpName, h.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cycle history: %w", err)
	}
	return nil
}
