package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
)

// entry is one audit line. The file is JSONL so compliance tooling can
// stream it without loading the full history.
type entry struct {
	Time   time.Time           `json:"time"`
	Result models.RepairResult `json:"result"`
}

// Writer appends one line per terminal RepairResult to the audit log.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// NewWriter opens (or creates) the audit log in append mode.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Writer{file: f}, nil
}

// Record appends one repair result. Only terminal statuses should reach
// here: completed, failed, or rolled-back.
func (w *Writer) Record(result models.RepairResult) error {
	line, err := json.Marshal(entry{Time: time.Now().UTC(), Result: result})
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Close flushes and closes the log.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
