// Package store provides the three memory stores of the engram engine: the
// flat MemoryStore, the temporal EpisodicMemory and the SemanticMemory graph.
// The stores are siblings; none depends on another, but all share the Record
// model and the parameterized retention/relevance scoring in this package.
package store

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is the atomic unit of memory. It carries content plus the scoring
// inputs (timestamps, access count, importance). Importance is intentionally
// not clamped here: callers may feed values outside [0,1] and scoring uses
// them as-is.
type Record struct {
	ID           string            // Unique identifier (UUID for caller-created records)
	Content      string            // Free-form text content
	Embedding    []float32         // Optional vector from an external embedder; never used in scoring
	CreatedAt    time.Time         // Stamped by Store on insert
	LastAccessed time.Time         // Bumped on every read
	LastModified time.Time         // Refreshed by Update
	AccessCount  int               // Monotonic read counter
	Importance   float64           // Caller-assigned scoring weight
	Tags         []string          // Free-form tags, set semantics
	Metadata     map[string]string // Free-form annotations
}

// NewRecord creates a Record with a fresh UUID and the given content.
func NewRecord(content string) Record {
	return Record{
		ID:      uuid.New().String(),
		Content: content,
	}
}

// clone returns a deep copy so callers can never mutate store-owned state.
func (r Record) clone() Record {
	out := r
	if r.Embedding != nil {
		out.Embedding = slices.Clone(r.Embedding)
	}
	if r.Tags != nil {
		out.Tags = slices.Clone(r.Tags)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func (r Record) hasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// RecordUpdate represents partial updates to a stored Record.
// All fields are pointers to distinguish "not provided" from "set to zero value".
type RecordUpdate struct {
	Content  *string
	Tags     *[]string
	Metadata *map[string]string
}

// Query selects Records in MemoryStore.Search. All present predicates must
// hold; the tag predicate is satisfied by any one matching tag.
type Query struct {
	Content string     // Substring that must appear in Record.Content
	Tags    []string   // Match-any tag set
	Start   *time.Time // Inclusive lower bound on CreatedAt
	End     *time.Time // Exclusive upper bound on CreatedAt
}

func (q Query) matches(r Record) bool {
	if q.Content != "" && !strings.Contains(r.Content, q.Content) {
		return false
	}
	if len(q.Tags) > 0 {
		found := false
		for _, tag := range q.Tags {
			if r.hasTag(tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Start != nil && r.CreatedAt.Before(*q.Start) {
		return false
	}
	if q.End != nil && !r.CreatedAt.Before(*q.End) {
		return false
	}
	return true
}
