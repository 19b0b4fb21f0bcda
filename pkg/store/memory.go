package store

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultMemoryCapacity is used when MemoryStore is constructed with a
// non-positive capacity.
const DefaultMemoryCapacity = 1000

// MemoryStore is a keyed, capacity-bounded pool of Records with
// content/tag/time-range querying and access-frequency-aware retention.
//
// Concurrency: one RWMutex guards the map. Retrieve and Search take the
// write lock because they bump access bookkeeping; the scoring read and the
// bookkeeping write happen in one critical section.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	capacity int
	logger   *slog.Logger
}

// NewMemoryStore creates a MemoryStore holding at most capacity Records.
func NewMemoryStore(capacity int, logger *slog.Logger) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		records:  make(map[string]*Record, capacity),
		capacity: capacity,
		logger:   ensureLogger(logger),
	}
}

// Store inserts or replaces a Record by id, stamping CreatedAt and
// LastAccessed to now. When the store is at capacity it prunes first, so
// Store never rejects.
func (s *MemoryStore) Store(rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) >= s.capacity {
		s.pruneLocked(time.Now())
	}

	now := time.Now()
	stored := rec.clone()
	stored.CreatedAt = now
	stored.LastAccessed = now
	s.records[stored.ID] = &stored
	return true
}

// Retrieve returns a copy of the Record with the given id. On a hit the
// record's LastAccessed and AccessCount are updated before copying out.
func (s *MemoryStore) Retrieve(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	rec.LastAccessed = time.Now()
	rec.AccessCount++
	return rec.clone(), true
}

// Search returns Records matching every present predicate of q, ordered by
// descending relevance. When limit > 0 the result is truncated to limit.
// Every returned Record receives the same access bookkeeping as Retrieve.
func (s *MemoryStore) Search(q Query, limit int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var matched []*Record
	for _, rec := range s.records {
		if q.matches(*rec) {
			matched = append(matched, rec)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return recordRelevance.score(matched[i].scoreInputs(), now) >
			recordRelevance.score(matched[j].scoreInputs(), now)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	results := make([]Record, 0, len(matched))
	for _, rec := range matched {
		rec.LastAccessed = now
		rec.AccessCount++
		results = append(results, rec.clone())
	}
	return results
}

// Update applies the non-nil fields of upd to the Record with the given id
// and refreshes LastModified. Returns false when the id is absent.
func (s *MemoryStore) Update(id string, upd RecordUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	if upd.Content != nil {
		rec.Content = *upd.Content
	}
	if upd.Tags != nil {
		rec.Tags = append([]string(nil), (*upd.Tags)...)
	}
	if upd.Metadata != nil {
		rec.Metadata = make(map[string]string, len(*upd.Metadata))
		for k, v := range *upd.Metadata {
			rec.Metadata[k] = v
		}
	}
	rec.LastModified = time.Now()
	return true
}

// Remove deletes the Record with the given id, reporting whether it existed.
func (s *MemoryStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[id]
	delete(s.records, id)
	return ok
}

// Clear removes all Records.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*Record, s.capacity)
}

// Size returns the number of stored Records.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Capacity returns the configured maximum number of Records.
func (s *MemoryStore) Capacity() int {
	return s.capacity
}

// Prune evicts the lowest retention-scoring Records until the store holds at
// most 90% of capacity. It is called automatically by Store at capacity and
// may be triggered externally.
func (s *MemoryStore) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	toRemove := len(s.records) - retainTarget(s.capacity)
	if toRemove <= 0 {
		return
	}

	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, 0, len(s.records))
	for id, rec := range s.records {
		scores = append(scores, scored{id: id, score: recordRetention.score(rec.scoreInputs(), now)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score < scores[j].score })

	for i := 0; i < toRemove && i < len(scores); i++ {
		delete(s.records, scores[i].id)
	}
	s.logger.Info("memory store pruned",
		slog.Int("evicted", toRemove),
		slog.Int("size", len(s.records)),
		slog.Int("capacity", s.capacity))
}

func (r *Record) scoreInputs() scoreInputs {
	return scoreInputs{
		createdAt:    r.CreatedAt,
		lastAccessed: r.LastAccessed,
		accessCount:  r.AccessCount,
		importance:   r.Importance,
	}
}

// ensureLogger substitutes a discard logger so stores never gate logging on
// nil checks.
func ensureLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
