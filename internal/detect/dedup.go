package detect

import (
	"sort"
	"time"

	"github.com/mendstack/mend-engine/internal/models"
)

// Deduplicator merges equivalent ErrorRecords within a sliding window and
// orders the survivors by severity.
type Deduplicator struct {
	window time.Duration
	seen   map[string]models.ErrorRecord
}

// NewDeduplicator creates a deduplicator with the given sliding window.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &Deduplicator{window: window, seen: make(map[string]models.ErrorRecord)}
}

// Reduce merges the cycle's raw detector output against itself and the
// sliding window, then returns the merged set ordered by severity descending
// (ties broken oldest-first), split at max into active and deferred halves.
// Deferred records are not dropped; the scheduler requeues them.
func (d *Deduplicator) Reduce(records []models.ErrorRecord, max int, now time.Time) (active, deferred []models.ErrorRecord) {
	d.evict(now)

	merged := make(map[string]models.ErrorRecord)
	order := make([]string, 0, len(records))

	for _, rec := range records {
		key := rec.DedupKey()
		if prior, ok := merged[key]; ok {
			merged[key] = mergeRecords(prior, rec)
			continue
		}
		// A requeued deferred record is the window entry itself, not a new
		// detection; merging it with its own entry would inflate the count.
		if prior, ok := d.seen[key]; ok && !prior.Resolved && prior.ID != rec.ID {
			rec = mergeRecords(prior, rec)
		}
		merged[key] = rec
		order = append(order, key)
	}

	out := make([]models.ErrorRecord, 0, len(merged))
	for _, key := range order {
		rec := merged[key]
		d.seen[key] = rec
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})

	if max > 0 && len(out) > max {
		return out[:max], out[max:]
	}
	return out, nil
}

// Occurrences reports how often a signature was seen within the window.
func (d *Deduplicator) Occurrences(key string) int {
	if rec, ok := d.seen[key]; ok {
		return rec.Occurrences
	}
	return 0
}

// Resolve marks a signature's window entry resolved so a later detection of
// the same key starts a fresh record instead of inflating the old one.
func (d *Deduplicator) Resolve(key string) {
	if rec, ok := d.seen[key]; ok {
		rec.Resolved = true
		d.seen[key] = rec
	}
}

func (d *Deduplicator) evict(now time.Time) {
	for key, rec := range d.seen {
		if now.Sub(rec.LastSeen) > d.window {
			delete(d.seen, key)
		}
	}
}

// mergeRecords folds b into a: occurrence counts add, severity is the
// maximum ever seen, first-seen is the earliest.
func mergeRecords(a, b models.ErrorRecord) models.ErrorRecord {
	merged := a
	merged.Resolved = false
	merged.Occurrences = a.Occurrences + b.Occurrences
	merged.Severity = models.MaxSeverity(a.Severity, b.Severity)
	if b.FirstSeen.Before(a.FirstSeen) {
		merged.FirstSeen = b.FirstSeen
	}
	if b.LastSeen.After(a.LastSeen) {
		merged.LastSeen = b.LastSeen
	}
	if b.Evidence != "" {
		merged.Evidence = b.Evidence
	}
	return merged
}
