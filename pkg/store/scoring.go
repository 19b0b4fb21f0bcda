package store

import (
	"math"
	"time"
)

// All three stores rank with the same two score shapes, differing only in
// weights: a relevance score for ordering search results and a retention
// score for choosing eviction victims. Ages are log1p-damped so a zero age
// or zero count contributes zero rather than -Inf.

// relevanceWeights parameterize the search-result ranking score.
type relevanceWeights struct {
	recency      float64
	access       float64
	importance   float64
	connectivity float64 // zero for stores without a graph component
}

// retentionWeights parameterize the eviction score. Lower totals are
// evicted first.
type retentionWeights struct {
	age           float64
	accessRecency float64
	accessFreq    float64
	importance    float64
	connectivity  float64
}

var (
	recordRelevance = relevanceWeights{recency: 0.4, access: 0.3, importance: 0.3}
	recordRetention = retentionWeights{age: 0.2, accessRecency: 0.3, accessFreq: 0.2, importance: 0.3}

	episodeRelevance = relevanceWeights{recency: 0.3, access: 0.3, importance: 0.4}
	episodeRetention = retentionWeights{age: 0.2, accessRecency: 0.3, accessFreq: 0.2, importance: 0.3}

	nodeRelevance = relevanceWeights{recency: 0.2, access: 0.2, importance: 0.4, connectivity: 0.2}
	nodeRetention = retentionWeights{age: 0.15, accessRecency: 0.25, accessFreq: 0.2, importance: 0.25, connectivity: 0.15}
)

// scoreInputs are the metadata every scorable entity exposes.
type scoreInputs struct {
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int
	importance   float64
	edgeCount    int
}

// recencyScore maps an age to (0,1]; zero age scores 1.
func recencyScore(age time.Duration) float64 {
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	return 1.0 / (1.0 + math.Log1p(hours))
}

// frequencyScore is the log1p-damped access (or edge) count.
func frequencyScore(count int) float64 {
	return math.Log1p(float64(count))
}

func (w relevanceWeights) score(in scoreInputs, now time.Time) float64 {
	s := w.recency*recencyScore(now.Sub(in.createdAt)) +
		w.access*frequencyScore(in.accessCount) +
		w.importance*in.importance
	if w.connectivity != 0 {
		s += w.connectivity * frequencyScore(in.edgeCount)
	}
	return s
}

func (w retentionWeights) score(in scoreInputs, now time.Time) float64 {
	s := w.age*recencyScore(now.Sub(in.createdAt)) +
		w.accessRecency*recencyScore(now.Sub(in.lastAccessed)) +
		w.accessFreq*frequencyScore(in.accessCount) +
		w.importance*in.importance
	if w.connectivity != 0 {
		s += w.connectivity * frequencyScore(in.edgeCount)
	}
	return s
}

// memoryImportance is the per-record score used inside episodes, both for
// intra-episode eviction and for the episode's aggregate importance.
func memoryImportance(r Record) float64 {
	return r.Importance * (1.0 + frequencyScore(r.AccessCount))
}

// retainTarget is the size a collection is reduced to when pruned: 90% of
// capacity, so a burst of inserts near the boundary does not re-prune on
// every call.
func retainTarget(capacity int) int {
	return int(math.Floor(float64(capacity) * 0.9))
}
