package store

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults used when EpisodicMemory is constructed with non-positive
// capacities.
const (
	DefaultEpisodeCapacity    = 100
	DefaultMemoriesPerEpisode = 50
)

// episodeCounter is scoped to the store type, matching the id scheme of the
// other generated ids: episode ids are unique across instances and never
// reused.
var episodeCounter atomic.Uint64

// episode is a time-scoped, context-tagged group of Records. It owns its
// Records exclusively; they are not visible to any MemoryStore.
type episode struct {
	id           string
	createdAt    time.Time
	context      map[string]string
	memories     []Record
	importance   float64 // mean of per-record importance scores
	accessCount  int
	lastAccessed time.Time
}

// EpisodeQuery selects episodes in EpisodicMemory.Search. All present
// predicates must hold.
type EpisodeQuery struct {
	Start   *time.Time        // Inclusive lower bound on episode creation
	End     *time.Time        // Exclusive upper bound on episode creation
	Context map[string]string // Required key/value pairs, all must match exactly
	Content string            // Substring that must appear in at least one Record
}

// EpisodeResult pairs an episode id with its Records, in insertion order.
type EpisodeResult struct {
	EpisodeID string
	Records   []Record
}

// EpisodicMemory groups Records temporally into episodes with two nested
// capacities: a maximum number of episodes and a maximum number of Records
// per episode.
type EpisodicMemory struct {
	mu                 sync.RWMutex
	episodes           map[string]*episode
	capacity           int
	memoriesPerEpisode int
	logger             *slog.Logger
}

// NewEpisodicMemory creates an EpisodicMemory holding at most maxEpisodes
// episodes of at most memoriesPerEpisode Records each.
func NewEpisodicMemory(maxEpisodes, memoriesPerEpisode int, logger *slog.Logger) *EpisodicMemory {
	if maxEpisodes <= 0 {
		maxEpisodes = DefaultEpisodeCapacity
	}
	if memoriesPerEpisode <= 0 {
		memoriesPerEpisode = DefaultMemoriesPerEpisode
	}
	return &EpisodicMemory{
		episodes:           make(map[string]*episode, maxEpisodes),
		capacity:           maxEpisodes,
		memoriesPerEpisode: memoriesPerEpisode,
		logger:             ensureLogger(logger),
	}
}

// CreateEpisode starts a new episode with the given context and returns its
// id. The context is copied and immutable afterwards. When the store is at
// episode capacity it prunes first, so CreateEpisode never rejects.
func (e *EpisodicMemory) CreateEpisode(context map[string]string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.episodes) >= e.capacity {
		e.pruneEpisodesLocked(time.Now())
	}

	ctx := make(map[string]string, len(context))
	for k, v := range context {
		ctx[k] = v
	}

	now := time.Now()
	ep := &episode{
		id:           fmt.Sprintf("ep_%d", episodeCounter.Add(1)),
		createdAt:    now,
		lastAccessed: now,
		context:      ctx,
	}
	e.episodes[ep.id] = ep
	return ep.id
}

// AddMemory appends a Record to the episode, pruning the episode's
// lowest-importance Records first when it is full, and recomputes the
// episode's aggregate importance. Returns false when the episode id is
// unknown.
func (e *EpisodicMemory) AddMemory(episodeID string, rec Record) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep, ok := e.episodes[episodeID]
	if !ok {
		return false
	}

	if len(ep.memories) >= e.memoriesPerEpisode {
		e.pruneMemoriesLocked(ep)
	}

	ep.memories = append(ep.memories, rec.clone())
	ep.recomputeImportance()
	return true
}

// RecallEpisode returns copies of the episode's Records in insertion order
// and bumps the episode's access bookkeeping. The second return is false
// when the id is unknown.
func (e *EpisodicMemory) RecallEpisode(episodeID string) ([]Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep, ok := e.episodes[episodeID]
	if !ok {
		return nil, false
	}
	ep.lastAccessed = time.Now()
	ep.accessCount++
	return ep.copyMemories(), true
}

// Search returns episodes matching every present predicate of q, ordered by
// descending episode relevance. When limit > 0 the result is truncated.
func (e *EpisodicMemory) Search(q EpisodeQuery, limit int) []EpisodeResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := time.Now()
	var matched []*episode
	for _, ep := range e.episodes {
		if ep.matches(q) {
			matched = append(matched, ep)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return episodeRelevance.score(matched[i].scoreInputs(), now) >
			episodeRelevance.score(matched[j].scoreInputs(), now)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	results := make([]EpisodeResult, 0, len(matched))
	for _, ep := range matched {
		results = append(results, EpisodeResult{EpisodeID: ep.id, Records: ep.copyMemories()})
	}
	return results
}

// EpisodeCount returns the number of episodes currently held.
func (e *EpisodicMemory) EpisodeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.episodes)
}

// Capacity returns the configured maximum number of episodes.
func (e *EpisodicMemory) Capacity() int {
	return e.capacity
}

func (e *EpisodicMemory) pruneEpisodesLocked(now time.Time) {
	toRemove := len(e.episodes) - retainTarget(e.capacity)
	if toRemove <= 0 {
		return
	}

	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, 0, len(e.episodes))
	for id, ep := range e.episodes {
		scores = append(scores, scored{id: id, score: episodeRetention.score(ep.scoreInputs(), now)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score < scores[j].score })

	for i := 0; i < toRemove && i < len(scores); i++ {
		delete(e.episodes, scores[i].id)
	}
	e.logger.Info("episodes pruned",
		slog.Int("evicted", toRemove),
		slog.Int("size", len(e.episodes)),
		slog.Int("capacity", e.capacity))
}

// pruneMemoriesLocked keeps the highest memoryImportance Records of the
// episode, preserving their relative order.
func (e *EpisodicMemory) pruneMemoriesLocked(ep *episode) {
	toRemove := len(ep.memories) - retainTarget(e.memoriesPerEpisode)
	if toRemove <= 0 {
		return
	}

	type scored struct {
		index int
		score float64
	}
	scores := make([]scored, 0, len(ep.memories))
	for i, rec := range ep.memories {
		scores = append(scores, scored{index: i, score: memoryImportance(rec)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score < scores[j].score })

	drop := make(map[int]bool, toRemove)
	for i := 0; i < toRemove && i < len(scores); i++ {
		drop[scores[i].index] = true
	}

	retained := make([]Record, 0, len(ep.memories)-toRemove)
	for i, rec := range ep.memories {
		if !drop[i] {
			retained = append(retained, rec)
		}
	}
	ep.memories = retained
	e.logger.Info("episode memories pruned",
		slog.String("episode", ep.id),
		slog.Int("evicted", toRemove),
		slog.Int("size", len(ep.memories)))
}

func (ep *episode) recomputeImportance() {
	if len(ep.memories) == 0 {
		ep.importance = 0
		return
	}
	total := 0.0
	for _, rec := range ep.memories {
		total += memoryImportance(rec)
	}
	ep.importance = total / float64(len(ep.memories))
}

func (ep *episode) matches(q EpisodeQuery) bool {
	if q.Start != nil && ep.createdAt.Before(*q.Start) {
		return false
	}
	if q.End != nil && !ep.createdAt.Before(*q.End) {
		return false
	}
	for k, want := range q.Context {
		if got, ok := ep.context[k]; !ok || got != want {
			return false
		}
	}
	if q.Content != "" {
		found := false
		for _, rec := range ep.memories {
			if strings.Contains(rec.Content, q.Content) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (ep *episode) copyMemories() []Record {
	out := make([]Record, 0, len(ep.memories))
	for _, rec := range ep.memories {
		out = append(out, rec.clone())
	}
	return out
}

func (ep *episode) scoreInputs() scoreInputs {
	return scoreInputs{
		createdAt:    ep.createdAt,
		lastAccessed: ep.lastAccessed,
		accessCount:  ep.accessCount,
		importance:   ep.importance,
	}
}
