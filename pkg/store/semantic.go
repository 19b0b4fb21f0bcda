package store

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultNodeCapacity is used when SemanticMemory is constructed with a
// non-positive capacity.
const DefaultNodeCapacity = 10000

// ErrInvalidStrength indicates a relationship strength outside [0,1] or a
// non-finite value. Rejected at the boundary before any state changes.
var ErrInvalidStrength = errors.New("relationship strength must be a finite value in [0,1]")

// ErrInvalidImportance indicates a non-finite importance value.
var ErrInvalidImportance = errors.New("importance must be a finite value")

var nodeCounter atomic.Uint64

// Relationship is a directed, weighted edge to another node. Edges are not
// mirrored; bidirectional semantics require inserting both directions.
type Relationship struct {
	TargetID string
	Strength float64 // in [0,1]
}

// Node is a concept entity in the semantic graph.
type Node struct {
	ID            string
	Concept       string
	Attributes    map[string]string
	Relationships []Relationship // outbound, in insertion order
	Importance    float64        // clamped to [0,1] by UpdateNodeImportance
	CreatedAt     time.Time
	LastAccessed  time.Time
	AccessCount   int
}

func (n Node) clone() Node {
	out := n
	if n.Attributes != nil {
		out.Attributes = make(map[string]string, len(n.Attributes))
		for k, v := range n.Attributes {
			out.Attributes[k] = v
		}
	}
	if n.Relationships != nil {
		out.Relationships = append([]Relationship(nil), n.Relationships...)
	}
	return out
}

// NodeQuery selects nodes in SemanticMemory.Search. All present predicates
// must hold.
type NodeQuery struct {
	Concept    string            // Exact concept label match
	Attributes map[string]string // Required key/value equalities
}

// SemanticMemory is a directed, weighted concept graph with
// importance-ranked nodes and neighbor queries.
//
// Dangling edges (target pruned while referenced) are never cleaned up
// proactively; traversal skips them lazily.
type SemanticMemory struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	capacity int
	logger   *slog.Logger
}

// NewSemanticMemory creates a SemanticMemory holding at most capacity nodes.
func NewSemanticMemory(capacity int, logger *slog.Logger) *SemanticMemory {
	if capacity <= 0 {
		capacity = DefaultNodeCapacity
	}
	return &SemanticMemory{
		nodes:    make(map[string]*Node, capacity),
		capacity: capacity,
		logger:   ensureLogger(logger),
	}
}

// CreateNode adds a concept node with the given attributes and returns its
// id. When the graph is at capacity it prunes first, so CreateNode never
// rejects.
func (s *SemanticMemory) CreateNode(concept string, attributes map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.nodes) >= s.capacity {
		s.pruneNodesLocked(time.Now())
	}

	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}

	now := time.Now()
	node := &Node{
		ID:           fmt.Sprintf("sem_%d", nodeCounter.Add(1)),
		Concept:      concept,
		Attributes:   attrs,
		CreatedAt:    now,
		LastAccessed: now,
	}
	s.nodes[node.ID] = node
	return node.ID
}

// AddRelationship inserts or overwrites the directed edge from -> to with
// the given strength. Returns ErrInvalidStrength for a strength outside
// [0,1] or non-finite, and false when either node id is unknown.
func (s *SemanticMemory) AddRelationship(fromID, toID string, strength float64) (bool, error) {
	if math.IsNaN(strength) || math.IsInf(strength, 0) || strength < 0 || strength > 1 {
		return false, fmt.Errorf("add relationship %s -> %s: %w", fromID, toID, ErrInvalidStrength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.nodes[fromID]
	if !ok {
		return false, nil
	}
	if _, ok := s.nodes[toID]; !ok {
		return false, nil
	}

	for i := range from.Relationships {
		if from.Relationships[i].TargetID == toID {
			from.Relationships[i].Strength = strength
			return true, nil
		}
	}
	from.Relationships = append(from.Relationships, Relationship{TargetID: toID, Strength: strength})
	return true, nil
}

// GetNode returns a copy of the node and bumps its access bookkeeping.
func (s *SemanticMemory) GetNode(id string) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	node.LastAccessed = time.Now()
	node.AccessCount++
	return node.clone(), true
}

// Search returns nodes matching every present predicate of q, ordered by
// descending relevance. When limit > 0 the result is truncated. Every
// returned node receives the same access bookkeeping as GetNode.
func (s *SemanticMemory) Search(q NodeQuery, limit int) []Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var matched []*Node
	for _, node := range s.nodes {
		if q.matches(node) {
			matched = append(matched, node)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return nodeRelevance.score(matched[i].scoreInputs(), now) >
			nodeRelevance.score(matched[j].scoreInputs(), now)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	results := make([]Node, 0, len(matched))
	for _, node := range matched {
		node.LastAccessed = now
		node.AccessCount++
		results = append(results, node.clone())
	}
	return results
}

// GetRelatedNodes returns copies of the neighbors of id whose outbound edge
// strength is at least minStrength, sorted by strength descending. Dangling
// edges are skipped. Returns an empty slice when id is unknown.
func (s *SemanticMemory) GetRelatedNodes(id string, minStrength float64, limit int) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil
	}

	type neighbor struct {
		node     *Node
		strength float64
	}
	var neighbors []neighbor
	for _, rel := range node.Relationships {
		if rel.Strength < minStrength {
			continue
		}
		target, ok := s.nodes[rel.TargetID]
		if !ok {
			continue // dangling edge, target was pruned
		}
		neighbors = append(neighbors, neighbor{node: target, strength: rel.Strength})
	}

	sort.SliceStable(neighbors, func(i, j int) bool { return neighbors[i].strength > neighbors[j].strength })

	if limit > 0 && len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}

	results := make([]Node, 0, len(neighbors))
	for _, n := range neighbors {
		results = append(results, n.node.clone())
	}
	return results
}

// UpdateNodeImportance stores importance clamped to [0,1]. Returns
// ErrInvalidImportance for a non-finite value; an unknown id is a silent
// no-op.
func (s *SemanticMemory) UpdateNodeImportance(id string, importance float64) error {
	if math.IsNaN(importance) || math.IsInf(importance, 0) {
		return fmt.Errorf("update importance of %s: %w", id, ErrInvalidImportance)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil
	}
	node.Importance = math.Min(1.0, math.Max(0.0, importance))
	return nil
}

// NodeCount returns the number of nodes currently in the graph.
func (s *SemanticMemory) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Capacity returns the configured maximum number of nodes.
func (s *SemanticMemory) Capacity() int {
	return s.capacity
}

func (s *SemanticMemory) pruneNodesLocked(now time.Time) {
	toRemove := len(s.nodes) - retainTarget(s.capacity)
	if toRemove <= 0 {
		return
	}

	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, 0, len(s.nodes))
	for id, node := range s.nodes {
		scores = append(scores, scored{id: id, score: nodeRetention.score(node.scoreInputs(), now)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score < scores[j].score })

	for i := 0; i < toRemove && i < len(scores); i++ {
		delete(s.nodes, scores[i].id)
	}
	s.logger.Info("semantic nodes pruned",
		slog.Int("evicted", toRemove),
		slog.Int("size", len(s.nodes)),
		slog.Int("capacity", s.capacity))
}

func (q NodeQuery) matches(n *Node) bool {
	if q.Concept != "" && n.Concept != q.Concept {
		return false
	}
	for k, want := range q.Attributes {
		if got, ok := n.Attributes[k]; !ok || got != want {
			return false
		}
	}
	return true
}

func (n *Node) scoreInputs() scoreInputs {
	return scoreInputs{
		createdAt:    n.CreatedAt,
		lastAccessed: n.LastAccessed,
		accessCount:  n.AccessCount,
		importance:   n.Importance,
		edgeCount:    len(n.Relationships),
	}
}
