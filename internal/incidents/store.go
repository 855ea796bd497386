package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/mendstack/mend-engine/internal/models"
)

// ErrIncidentNotFound signals a lookup for an unknown incident.
var ErrIncidentNotFound = errors.New("incident not found")

// Store abstracts incident persistence. The durable implementation feeds
// ticketing UIs; the in-memory one backs tests.
type Store interface {
	Put(ctx context.Context, inc models.Incident) error
	Get(ctx context.Context, id string) (models.Incident, error)
	List(ctx context.Context) ([]models.Incident, error)
	Close() error
}

// MemoryStore keeps incidents in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]models.Incident
}

// NewMemoryStore creates an empty in-memory incident store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]models.Incident)}
}

// Put stores or replaces an incident.
func (s *MemoryStore) Put(_ context.Context, inc models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc
	return nil
}

// Get fetches an incident by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return models.Incident{}, ErrIncidentNotFound
	}
	return inc, nil
}

// List returns all incidents ordered by creation time.
func (s *MemoryStore) List(_ context.Context) ([]models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var incidentPrefix = []byte("incident/")

// gcInterval paces the value-log GC loop. Tests shorten it.
var gcInterval = 10 * time.Minute

const gcDiscardRatio = 0.5

// BadgerStore persists incidents in an embedded Badger database.
type BadgerStore struct {
	db     *badger.DB
	stopGC chan struct{}
}

// OpenBadgerStore opens (or creates) the incident store at path and starts
// its value-log GC loop.
func OpenBadgerStore(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithInMemory(inMemory).
		WithLogger(nil)
	if inMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open incident store: %w", err)
	}
	s := &BadgerStore{db: db, stopGC: make(chan struct{})}
	go s.gcLoop()
	return s, nil
}

// gcLoop reclaims value-log space until Close. In-memory stores have no
// value log; RunGC is a no-op there.
func (s *BadgerStore) gcLoop() {
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

// Put stores or replaces an incident.
func (s *BadgerStore) Put(_ context.Context, inc models.Incident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("encode incident %s: %w", inc.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(incidentKey(inc.ID), data)
	})
}

// Get fetches an incident by ID.
func (s *BadgerStore) Get(_ context.Context, id string) (models.Incident, error) {
	var inc models.Incident
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(incidentKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrIncidentNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &inc)
		})
	})
	return inc, err
}

// List returns all incidents ordered by creation time.
func (s *BadgerStore) List(_ context.Context) ([]models.Incident, error) {
	var out []models.Incident
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(incidentPrefix); it.ValidForPrefix(incidentPrefix); it.Next() {
			var inc models.Incident
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inc)
			}); err != nil {
				return err
			}
			out = append(out, inc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RunGC runs one round of Badger value-log garbage collection.
func (s *BadgerStore) RunGC() {
	_ = s.db.RunValueLogGC(gcDiscardRatio)
}

// Close stops the GC loop and closes the underlying database.
func (s *BadgerStore) Close() error {
	close(s.stopGC)
	return s.db.Close()
}

func incidentKey(id string) []byte {
	return append(append([]byte(nil), incidentPrefix...), id...)
}
