package rollback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
)

// ErrSnapshotNotFound signals a restore against a purged or unknown snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore abstracts snapshot persistence so tests run against memory
// while production uses the durable Badger backend.
type SnapshotStore interface {
	Save(ctx context.Context, snap models.Snapshot) error
	Load(ctx context.Context, id string) (models.Snapshot, error)
	Delete(ctx context.Context, id string) error
	// PurgeOlderThan removes snapshots created before the cutoff and reports
	// how many were removed. Retention is time-based, not success-based.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]models.Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]models.Snapshot)}
}

// Save stores a snapshot.
func (s *MemorySnapshotStore) Save(_ context.Context, snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ID] = snap
	return nil
}

// Load fetches a snapshot by ID.
func (s *MemorySnapshotStore) Load(_ context.Context, id string) (models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[id]
	if !ok {
		return models.Snapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

// Delete removes a snapshot.
func (s *MemorySnapshotStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
	return nil
}

// PurgeOlderThan removes snapshots created before the cutoff.
func (s *MemorySnapshotStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, snap := range s.snaps {
		if snap.CreatedAt.Before(cutoff) {
			delete(s.snaps, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op.
func (s *MemorySnapshotStore) Close() error { return nil }
