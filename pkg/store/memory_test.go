package store

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testRecord(id, content string, importance float64) Record {
	return Record{
		ID:         id,
		Content:    content,
		Importance: importance,
	}
}

func TestMemoryStore_StoreRetrieveRoundTrip(t *testing.T) {
	s := NewMemoryStore(10, nil)

	rec := testRecord("r1", "the lab centrifuge is calibrated", 0.5)
	rec.Tags = []string{"lab", "equipment"}
	rec.Metadata = map[string]string{"source": "operator"}

	if ok := s.Store(rec); !ok {
		t.Fatal("Store returned false")
	}

	got, ok := s.Retrieve("r1")
	if !ok {
		t.Fatal("Retrieve miss for stored record")
	}
	if got.Content != rec.Content {
		t.Errorf("Content: got %q, want %q", got.Content, rec.Content)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "lab" || got.Tags[1] != "equipment" {
		t.Errorf("Tags: got %v, want %v", got.Tags, rec.Tags)
	}
	if got.Metadata["source"] != "operator" {
		t.Errorf("Metadata: got %v, want %v", got.Metadata, rec.Metadata)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt was not stamped on store")
	}
}

func TestMemoryStore_RetrieveBumpsAccess(t *testing.T) {
	s := NewMemoryStore(10, nil)
	s.Store(testRecord("r1", "x", 0))

	first, _ := s.Retrieve("r1")
	second, _ := s.Retrieve("r1")

	if first.AccessCount != 1 {
		t.Errorf("first AccessCount: got %d, want 1", first.AccessCount)
	}
	if second.AccessCount != 2 {
		t.Errorf("second AccessCount: got %d, want 2", second.AccessCount)
	}
	if second.LastAccessed.Before(first.LastAccessed) {
		t.Error("LastAccessed went backwards")
	}
}

func TestMemoryStore_RetrieveMiss(t *testing.T) {
	s := NewMemoryStore(10, nil)
	if _, ok := s.Retrieve("absent"); ok {
		t.Error("Retrieve hit for unknown id")
	}
}

func TestMemoryStore_ReturnedCopiesAreIsolated(t *testing.T) {
	s := NewMemoryStore(10, nil)
	rec := testRecord("r1", "x", 0)
	rec.Tags = []string{"a"}
	rec.Metadata = map[string]string{"k": "v"}
	s.Store(rec)

	got, _ := s.Retrieve("r1")
	got.Tags[0] = "mutated"
	got.Metadata["k"] = "mutated"

	again, _ := s.Retrieve("r1")
	if again.Tags[0] != "a" || again.Metadata["k"] != "v" {
		t.Error("mutating a returned copy changed store-owned state")
	}
}

func TestMemoryStore_UpdatePartial(t *testing.T) {
	s := NewMemoryStore(10, nil)
	rec := testRecord("r1", "original", 0)
	rec.Tags = []string{"keep"}
	s.Store(rec)

	content := "rewritten"
	if ok := s.Update("r1", RecordUpdate{Content: &content}); !ok {
		t.Fatal("Update returned false for existing id")
	}

	got, _ := s.Retrieve("r1")
	if got.Content != "rewritten" {
		t.Errorf("Content: got %q, want %q", got.Content, "rewritten")
	}
	if len(got.Tags) != 1 || got.Tags[0] != "keep" {
		t.Errorf("Tags changed by partial update: %v", got.Tags)
	}
	if got.LastModified.IsZero() {
		t.Error("LastModified was not refreshed")
	}

	if ok := s.Update("absent", RecordUpdate{Content: &content}); ok {
		t.Error("Update returned true for unknown id")
	}
}

func TestMemoryStore_RemoveIdempotent(t *testing.T) {
	s := NewMemoryStore(10, nil)
	s.Store(testRecord("r1", "x", 0))

	if !s.Remove("r1") {
		t.Error("first Remove returned false")
	}
	if s.Remove("r1") {
		t.Error("second Remove returned true")
	}
}

func TestMemoryStore_ClearSize(t *testing.T) {
	s := NewMemoryStore(10, nil)
	s.Store(testRecord("r1", "x", 0))
	s.Store(testRecord("r2", "y", 0))

	if got := s.Size(); got != 2 {
		t.Fatalf("Size: got %d, want 2", got)
	}
	s.Clear()
	if got := s.Size(); got != 0 {
		t.Errorf("Size after Clear: got %d, want 0", got)
	}
}

func TestMemoryStore_SearchPredicates(t *testing.T) {
	s := NewMemoryStore(20, nil)

	alpha := testRecord("alpha", "reactor pressure nominal", 0.5)
	alpha.Tags = []string{"reactor", "status"}
	s.Store(alpha)

	beta := testRecord("beta", "coolant temperature rising", 0.5)
	beta.Tags = []string{"coolant"}
	s.Store(beta)

	cutoff := time.Now().Add(time.Hour)

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"content substring", Query{Content: "pressure"}, []string{"alpha"}},
		{"content miss", Query{Content: "absent phrase"}, nil},
		{"tag match-any", Query{Tags: []string{"coolant", "unused"}}, []string{"beta"}},
		{"all predicates and-combined", Query{Content: "reactor", Tags: []string{"coolant"}}, nil},
		{"time range excludes future start", Query{Start: &cutoff}, nil},
		{"empty query matches all", Query{}, []string{"alpha", "beta"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Search(tt.query, 0)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.want))
			}
			found := make(map[string]bool, len(got))
			for _, r := range got {
				found[r.ID] = true
			}
			for _, id := range tt.want {
				if !found[id] {
					t.Errorf("result missing %q", id)
				}
			}
		})
	}
}

func TestMemoryStore_EndOfTimeRangeIsExclusive(t *testing.T) {
	s := NewMemoryStore(10, nil)
	s.Store(testRecord("r1", "x", 0))

	rec, _ := s.Retrieve("r1")
	end := rec.CreatedAt
	if got := s.Search(Query{End: &end}, 0); len(got) != 0 {
		t.Errorf("record created exactly at End matched [start,end) range")
	}

	start := rec.CreatedAt
	if got := s.Search(Query{Start: &start}, 0); len(got) != 1 {
		t.Errorf("record created exactly at Start did not match inclusive bound")
	}
}

func TestMemoryStore_SearchRanksByAccessCount(t *testing.T) {
	s := NewMemoryStore(10, nil)
	s.Store(testRecord("cold", "shared topic", 0.5))
	s.Store(testRecord("hot", "shared topic", 0.5))

	// Same importance, near-identical recency; access count must decide.
	for i := 0; i < 5; i++ {
		s.Retrieve("hot")
	}

	results := s.Search(Query{Content: "shared"}, 0)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "hot" {
		t.Errorf("higher access count ranked below: order %s, %s", results[0].ID, results[1].ID)
	}
}

func TestMemoryStore_SearchLimitAndBookkeeping(t *testing.T) {
	s := NewMemoryStore(20, nil)
	for i := 0; i < 5; i++ {
		s.Store(testRecord(fmt.Sprintf("r%d", i), "common", float64(i)/10))
	}

	results := s.Search(Query{Content: "common"}, 2)
	if len(results) != 2 {
		t.Fatalf("limit not applied: got %d results", len(results))
	}
	for _, r := range results {
		if r.AccessCount != 1 {
			t.Errorf("returned record %s AccessCount: got %d, want 1", r.ID, r.AccessCount)
		}
	}

	// Records outside the truncated result keep their bookkeeping untouched.
	bumped := 0
	for i := 0; i < 5; i++ {
		rec, _ := s.Retrieve(fmt.Sprintf("r%d", i))
		if rec.AccessCount == 2 {
			bumped++
		}
	}
	if bumped != 2 {
		t.Errorf("%d records were bumped by search, want 2", bumped)
	}
}

func TestMemoryStore_PruneImportanceLadder(t *testing.T) {
	s := NewMemoryStore(10, nil)
	for i := 0; i < 10; i++ {
		s.Store(testRecord(fmt.Sprintf("r%d", i), "x", float64(i)/10))
	}
	if got := s.Size(); got != 10 {
		t.Fatalf("Size before overflow: got %d, want 10", got)
	}

	// The 11th store prunes to 90% of capacity first, evicting the
	// lowest-importance record, then inserts.
	s.Store(testRecord("r10", "x", 1.0))

	if got := s.Size(); got != 10 {
		t.Errorf("Size after overflow store: got %d, want 10", got)
	}
	if _, ok := s.Retrieve("r0"); ok {
		t.Error("lowest-importance record survived pruning")
	}
	if _, ok := s.Retrieve("r9"); !ok {
		t.Error("high-importance record was evicted")
	}
	if _, ok := s.Retrieve("r10"); !ok {
		t.Error("newly stored record missing after prune")
	}
}

func TestMemoryStore_ExternalPruneCreatesHeadroom(t *testing.T) {
	s := NewMemoryStore(10, nil)
	for i := 0; i < 10; i++ {
		s.Store(testRecord(fmt.Sprintf("r%d", i), "x", float64(i)/10))
	}

	s.Prune()
	if got := s.Size(); got != 9 {
		t.Errorf("Size after external Prune: got %d, want 9", got)
	}
}

func TestMemoryStore_CapacityInvariant(t *testing.T) {
	s := NewMemoryStore(10, nil)
	for i := 0; i < 100; i++ {
		s.Store(testRecord(fmt.Sprintf("r%d", i), "x", float64(i%10)/10))
		if got := s.Size(); got > 10 {
			t.Fatalf("Size %d exceeded capacity after store %d", got, i)
		}
	}
}

func TestMemoryStore_ConcurrentStoresLoseNoWrites(t *testing.T) {
	const n = 64
	s := NewMemoryStore(128, nil)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Store(testRecord(fmt.Sprintf("r%d", i), "concurrent", 0.5))
		}(i)
	}
	wg.Wait()

	if got := s.Size(); got != n {
		t.Errorf("Size after %d concurrent stores: got %d", n, got)
	}
}

func TestMemoryStore_ConcurrentReadersAndWriters(t *testing.T) {
	s := NewMemoryStore(64, nil)
	for i := 0; i < 32; i++ {
		s.Store(testRecord(fmt.Sprintf("r%d", i), "seed", 0.5))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Retrieve(fmt.Sprintf("r%d", j%32))
				s.Search(Query{Content: "seed"}, 5)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Store(testRecord(fmt.Sprintf("w%d-%d", i, j), "seed", 0.5))
			}
		}(i)
	}
	wg.Wait()

	if got := s.Size(); got > s.Capacity() {
		t.Errorf("Size %d exceeded capacity %d under concurrency", got, s.Capacity())
	}
}
