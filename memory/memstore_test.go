package memory

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"
)

// stubEmbedder projects text onto a tiny deterministic vector so tests
// can exercise vector search without a model.
type stubEmbedder struct{ fail bool }

func (s *stubEmbedder) Dim() int { return 8 }

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	if s.fail {
		return vec, nil // zero marker vector: degraded mode
	}
	for _, t := range tokenize(text) {
		h := 0
		for _, r := range t {
			h = h*31 + int(r)
		}
		if h < 0 {
			h = -h
		}
		vec[h%8]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func testPolicy() RetentionPolicy {
	return RetentionPolicy{
		Enabled:      true,
		ShortTermTTL: time.Hour,
		LongTermTTL:  24 * time.Hour,
	}
}

func TestInMemoryStore_AppendAndSearch(t *testing.T) {
	s := NewInMemoryStore(testPolicy(), WithEmbedder(&stubEmbedder{}))
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	id, err := s.Append(ctx, &Entry{
		Namespace: "facts",
		NodeID:    "writer",
		TraceID:   "run-1",
		Content:   "capital of France is Paris",
		Category:  CategoryStored,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == "" {
		t.Fatal("append returned empty id")
	}

	start := time.Now()
	results, err := s.Search(ctx, "France capital", SearchParams{
		Namespace:           "facts",
		SimilarityThreshold: 0.1,
		MaxSearchTime:       2 * time.Second,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("search exceeded max search time")
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if !strings.Contains(results[0].Entry.Content, "Paris") {
		t.Errorf("top result %q does not mention Paris", results[0].Entry.Content)
	}
}

func TestInMemoryStore_SelfQueryScoresHigh(t *testing.T) {
	s := NewInMemoryStore(testPolicy(), WithEmbedder(&stubEmbedder{}))
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	content := "the quick brown fox jumps over the lazy dog"
	if _, err := s.Append(ctx, &Entry{Namespace: "ns", Content: content, Category: CategoryStored}); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search(ctx, content, SearchParams{Namespace: "ns", SimilarityThreshold: 0.99})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("identical-content query should score >= 0.99, got %d results", len(results))
	}
}

func TestInMemoryStore_LogEntriesNotRetrievable(t *testing.T) {
	s := NewInMemoryStore(testPolicy(), WithEmbedder(&stubEmbedder{}))
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if _, err := s.Append(ctx, &Entry{Namespace: "obs", Content: "node answer finished", Category: CategoryLog}); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search(ctx, "node answer finished", SearchParams{Namespace: "obs"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("log entries leaked into reader search: %d results", len(results))
	}

	// Observability tooling can still reach them explicitly.
	results, err = s.Search(ctx, "node answer finished", SearchParams{Namespace: "obs", Category: CategoryLog, SimilarityThreshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("explicit log search found %d results", len(results))
	}
}

func TestInMemoryStore_IdempotentAppend(t *testing.T) {
	s := NewInMemoryStore(testPolicy())
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	e := &Entry{ID: "fixed-id", Namespace: "ns", Content: "same", Category: CategoryStored}
	id1, err := s.Append(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Append(ctx, e)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 || id1 != "fixed-id" {
		t.Errorf("idempotent append returned %q then %q", id1, id2)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalEntries != 1 {
		t.Errorf("duplicate append stored %d entries", st.TotalEntries)
	}
}

func TestInMemoryStore_CleanupExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewInMemoryStore(testPolicy(), WithClock(clock))
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if _, err := s.Append(ctx, &Entry{Namespace: "ns", Content: "short lived", Category: CategoryStored, MemoryType: TypeShortTerm}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, &Entry{Namespace: "ns", Content: "long lived", Category: CategoryStored, MemoryType: TypeLongTerm}); err != nil {
		t.Fatal(err)
	}

	// Advance past the short horizon but not the long one.
	now = now.Add(2 * time.Hour)

	report, err := s.CleanupExpired(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if report.Expired != 1 || report.Deleted != 0 {
		t.Errorf("dry run: expired=%d deleted=%d", report.Expired, report.Deleted)
	}

	report, err = s.CleanupExpired(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 1 {
		t.Errorf("real sweep deleted %d", report.Deleted)
	}

	cleanupTime := now
	results, err := s.Search(ctx, "lived", SearchParams{Namespace: "ns", SimilarityThreshold: 0})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if !r.Entry.ExpiresAt.IsZero() && r.Entry.ExpiresAt.Before(cleanupTime) {
			t.Errorf("entry %s survived cleanup with stale deadline", r.Entry.ID)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.LastCleanup.IsZero() {
		t.Error("stats did not record last cleanup time")
	}
}

func TestInMemoryStore_TieBreakByRecency(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewInMemoryStore(RetentionPolicy{}, WithClock(clock))
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	older := now.Add(-time.Hour)
	if _, err := s.Append(ctx, &Entry{ID: "old", Namespace: "ns", Content: "alpha beta", Category: CategoryStored, CreatedAt: older}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, &Entry{ID: "new", Namespace: "ns", Content: "alpha beta", Category: CategoryStored, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "alpha beta", SearchParams{Namespace: "ns", SimilarityThreshold: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Entry.ID != "new" {
		t.Errorf("tie not broken by created_at descending: first is %s", results[0].Entry.ID)
	}
}

func TestInMemoryStore_HybridWeighting(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewInMemoryStore(RetentionPolicy{}, WithEmbedder(&stubEmbedder{}), WithClock(clock))
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if _, err := s.Append(ctx, &Entry{ID: "recent", Namespace: "ns", Content: "unrelated words entirely", Category: CategoryStored, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, &Entry{ID: "stale", Namespace: "ns", Content: "matching query words here", Category: CategoryStored, CreatedAt: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatal(err)
	}

	// Pure temporal weighting must rank the recent entry first even
	// though the stale one matches the query text.
	results, err := s.Search(ctx, "matching query words", SearchParams{
		Namespace:      "ns",
		EnableHybrid:   true,
		TemporalWeight: 1,
		DecayHalfLife:  time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Entry.ID != "recent" {
		t.Fatalf("temporal-only ranking got %+v", ids(results))
	}

	// Keyword-dominant weighting flips the order.
	results, err = s.Search(ctx, "matching query words", SearchParams{
		Namespace:     "ns",
		EnableHybrid:  true,
		KeywordWeight: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Entry.ID != "stale" {
		t.Fatalf("keyword-only ranking got %+v", ids(results))
	}
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Entry.ID
	}
	return out
}

func TestInMemoryStore_AccessBoost(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	policy := RetentionPolicy{
		Enabled:      true,
		ShortTermTTL: time.Hour,
		LongTermTTL:  2 * time.Hour,
		AccessBoost:  0.5,
	}
	s := NewInMemoryStore(policy, WithClock(clock))
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if _, err := s.Append(ctx, &Entry{ID: "boosted", Namespace: "ns", Content: "often read fact", Category: CategoryStored, MemoryType: TypeShortTerm}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Search(ctx, "often read fact", SearchParams{Namespace: "ns", SimilarityThreshold: 0}); err != nil {
		t.Fatal(err)
	}

	// The base deadline was created+1h; one read extends it by 30m.
	now = now.Add(80 * time.Minute)
	results, err := s.Search(ctx, "often read fact", SearchParams{Namespace: "ns", SimilarityThreshold: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("boosted entry expired despite read access, results=%d", len(results))
	}
}

func TestInMemoryStore_MetadataFilters(t *testing.T) {
	s := NewInMemoryStore(RetentionPolicy{})
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if _, err := s.Append(ctx, &Entry{ID: "a", Namespace: "ns", Content: "shared words", Category: CategoryStored, Metadata: map[string]string{"team": "red"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, &Entry{ID: "b", Namespace: "ns", Content: "shared words", Category: CategoryStored, Metadata: map[string]string{"team": "blue"}}); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "shared words", SearchParams{
		Namespace:       "ns",
		MetadataFilters: map[string]string{"team": "red"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Entry.ID != "a" {
		t.Errorf("metadata filter returned %v", ids(results))
	}
}

func TestInMemoryStore_DegradedEmbedderFallsBackToText(t *testing.T) {
	s := NewInMemoryStore(RetentionPolicy{}, WithEmbedder(&stubEmbedder{fail: true}))
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if _, err := s.Append(ctx, &Entry{Namespace: "ns", Content: "fallback text search works", Category: CategoryStored}); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search(ctx, "fallback text search", SearchParams{Namespace: "ns", SimilarityThreshold: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("degraded mode found %d results", len(results))
	}
}
