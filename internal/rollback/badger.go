package rollback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/mendstack/mend-engine/internal/models"
)

var snapshotPrefix = []byte("snapshot/")

// gcInterval paces the value-log GC loop. Tests shorten it.
var gcInterval = 10 * time.Minute

const gcDiscardRatio = 0.5

// BadgerSnapshotStore persists snapshots in an embedded Badger database so a
// post-hoc audit can inspect what a repair changed even across restarts.
type BadgerSnapshotStore struct {
	db     *badger.DB
	stopGC chan struct{}
}

// OpenBadgerSnapshotStore opens (or creates) the store at path and starts
// its value-log GC loop. An empty path with inMemory=true yields a
// throwaway store for tests.
func OpenBadgerSnapshotStore(path string, inMemory bool) (*BadgerSnapshotStore, error) {
	opts := badger.DefaultOptions(path).
		WithInMemory(inMemory).
		WithLogger(nil)
	if inMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	s := &BadgerSnapshotStore{db: db, stopGC: make(chan struct{})}
	go s.gcLoop()
	return s, nil
}

// gcLoop reclaims value-log space until Close. In-memory stores have no
// value log; RunGC is a no-op there.
func (s *BadgerSnapshotStore) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			s.RunGC()
		}
	}
}

// Save stores a snapshot.
func (s *BadgerSnapshotStore) Save(_ context.Context, snap models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(snap.ID), data)
	})
}

// Load fetches a snapshot by ID.
func (s *BadgerSnapshotStore) Load(_ context.Context, id string) (models.Snapshot, error) {
	var snap models.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSnapshotNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	return snap, err
}

// Delete removes a snapshot.
func (s *BadgerSnapshotStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
}

// PurgeOlderThan removes snapshots created before the cutoff.
func (s *BadgerSnapshotStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(snapshotPrefix); it.ValidForPrefix(snapshotPrefix); it.Next() {
			item := it.Item()
			var snap models.Snapshot
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				continue
			}
			if snap.CreatedAt.Before(cutoff) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, k := range stale {
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(k)
		}); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// RunGC runs one round of Badger value-log garbage collection.
func (s *BadgerSnapshotStore) RunGC() {
	_ = s.db.RunValueLogGC(gcDiscardRatio)
}

// Close stops the GC loop and closes the underlying database.
func (s *BadgerSnapshotStore) Close() error {
	close(s.stopGC)
	return s.db.Close()
}

func key(id string) []byte {
	return append(append([]byte(nil), snapshotPrefix...), id...)
}
