package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orkacore/orka-go/core"
)

// InMemoryStore is the process-local Store implementation.
//
// Designed for tests, development and single-process runs. It keeps every
// entry in a map guarded by a RWMutex; searches copy the candidate set
// under the read lock and score outside it, so a slow scoring pass never
// blocks writers.
type InMemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	policy    RetentionPolicy
	embedder  Embedder
	sweeper   *Sweeper
	lastSweep time.Time

	// now is injectable for deterministic decay tests.
	now func() time.Time
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithEmbedder attaches the embedder used for write-time vectors and
// query vectors. Without one the store runs text-only.
func WithEmbedder(e Embedder) InMemoryOption {
	return func(s *InMemoryStore) { s.embedder = e }
}

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemoryStore) { s.now = now }
}

// NewInMemoryStore creates a store with the given retention policy and
// starts its decay sweeper when the policy asks for one.
func NewInMemoryStore(policy RetentionPolicy, opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		entries: make(map[string]*Entry),
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if policy.Enabled && policy.CheckInterval > 0 {
		s.sweeper = NewSweeper(s, policy.CheckInterval, policy.SweepBudget)
		s.sweeper.Start()
	}
	return s
}

// Append implements Store.
func (s *InMemoryStore) Append(ctx context.Context, e *Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", core.Wrap(core.KindCancelled, "memory append", err)
	}
	now := s.now()
	entry := e.clone()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.ID == "" {
		entry.ID = ContentAddress(entry.Namespace, entry.Content)
	}
	if entry.MemoryType == "" {
		entry.MemoryType = ClassifyType(&entry)
	}
	if err := entry.Validate(); err != nil {
		return "", err
	}
	if s.policy.Enabled && entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.CreatedAt.Add(s.policy.TTL(entry.MemoryType, entry.Metadata))
	}
	if entry.Embedding == nil && s.embedder != nil && entry.Category == CategoryStored {
		if vec, err := s.embedder.Embed(ctx, entry.Content); err == nil && !zeroVector(vec) {
			entry.Embedding = vec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		// Idempotent: an entry with a known id is already durable.
		return entry.ID, nil
	}
	s.entries[entry.ID] = &entry
	return entry.ID, nil
}

// Search implements Store.
func (s *InMemoryStore) Search(ctx context.Context, query string, params SearchParams) ([]Result, error) {
	if params.MaxSearchTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.MaxSearchTime)
		defer cancel()
	}
	if params.Category == "" {
		params.Category = CategoryStored
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	now := s.now()

	// Query vector. Embedding failures degrade to text-only scoring.
	var queryVec []float32
	var windowVecs [][]float32
	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, query); err == nil && !zeroVector(vec) {
			queryVec = vec
		}
		if params.EnableHybrid && params.ContextWeight > 0 {
			for _, w := range params.ContextWindow {
				if vec, err := s.embedder.Embed(ctx, w); err == nil && !zeroVector(vec) {
					windowVecs = append(windowVecs, vec)
				}
			}
		}
	}

	candidates := s.snapshot(params, now)
	results := scoreCandidates(candidates, query, queryVec, windowVecs, params, now)

	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	if err := ctx.Err(); err != nil {
		return nil, core.Wrap(core.KindTimeout, "memory search", err)
	}

	s.boostAccess(results, now)
	return results, nil
}

// snapshot copies the matching entries under the read lock.
func (s *InMemoryStore) snapshot(params SearchParams, now time.Time) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, 32)
	for _, e := range s.entries {
		if !matchesFilters(e, params, now) {
			continue
		}
		out = append(out, e.clone())
	}
	return out
}

// boostAccess extends the deadline of read entries per the access policy.
func (s *InMemoryStore) boostAccess(results []Result, now time.Time) {
	if !s.policy.Enabled || s.policy.AccessBoost <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		e, ok := s.entries[r.Entry.ID]
		if !ok || e.ExpiresAt.IsZero() {
			continue
		}
		base := s.policy.TTL(e.MemoryType, e.Metadata)
		boost := time.Duration(float64(base) * s.policy.AccessBoost)
		boosted := e.ExpiresAt.Add(boost)
		if cap := s.policy.AccessBoostCap; cap > 0 {
			if max := e.CreatedAt.Add(base + cap); boosted.After(max) {
				boosted = max
			}
		}
		if boosted.After(e.ExpiresAt) {
			e.ExpiresAt = boosted
		}
	}
}

// CleanupExpired implements Store.
func (s *InMemoryStore) CleanupExpired(ctx context.Context, dryRun bool) (CleanupReport, error) {
	start := s.now()
	budget := s.policy.SweepBudget
	if budget <= 0 {
		budget = 2 * time.Second
	}

	report := CleanupReport{DryRun: dryRun}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		report.Scanned++
		if !e.Expired(start) {
			continue
		}
		report.Expired++
		if dryRun {
			continue
		}
		delete(s.entries, id)
		report.Deleted++
		if report.Scanned%256 == 0 {
			if ctx.Err() != nil || s.now().Sub(start) > budget {
				break
			}
		}
	}
	s.lastSweep = s.now()
	report.Duration = s.lastSweep.Sub(start)
	return report, nil
}

// Stats implements Store.
func (s *InMemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		ByNamespace:  make(map[string]int),
		ByType:       make(map[Type]int),
		ByCategory:   make(map[Category]int),
		LastCleanup:  s.lastSweep,
		VectorSearch: s.embedder != nil,
	}
	for _, e := range s.entries {
		st.TotalEntries++
		st.ByNamespace[e.Namespace]++
		st.ByType[e.MemoryType]++
		st.ByCategory[e.Category]++
	}
	return st, nil
}

// Close stops the sweeper.
func (s *InMemoryStore) Close() error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	return nil
}

// matchesFilters applies the non-scoring search filters.
func matchesFilters(e *Entry, params SearchParams, now time.Time) bool {
	if e.Category != params.Category {
		return false
	}
	if params.Namespace != "" && e.Namespace != params.Namespace {
		return false
	}
	if params.MemoryType != "" && e.MemoryType != params.MemoryType {
		return false
	}
	if e.Expired(now) {
		return false
	}
	for k, v := range params.MetadataFilters {
		if e.Metadata[k] != v {
			return false
		}
	}
	return true
}

// scoreCandidates ranks a candidate set. Shared by the backends that
// score client-side.
func scoreCandidates(candidates []Entry, query string, queryVec []float32, windowVecs [][]float32, params SearchParams, now time.Time) []Result {
	queryTerms := tokenize(query)
	docTerms := make([][]string, len(candidates))
	for i := range candidates {
		docTerms[i] = tokenize(candidates[i].Content)
	}

	var results []Result
	if params.EnableHybrid {
		w := normalizeWeights(params)
		var corpus bm25Corpus
		if w.keyword > 0 {
			corpus = buildBM25Corpus(docTerms)
		}
		for i := range candidates {
			e := &candidates[i]
			var score float64
			if w.vector > 0 {
				score += w.vector * cosine(queryVec, e.Embedding)
			}
			if w.temporal > 0 {
				score += w.temporal * temporalScore(e.CreatedAt, now, params.DecayHalfLife)
			}
			if w.contextual > 0 {
				score += w.contextual * contextScore(e.Embedding, windowVecs)
			}
			if w.keyword > 0 {
				score += w.keyword * corpus.score(queryTerms, docTerms[i])
			}
			if score >= params.SimilarityThreshold {
				results = append(results, Result{Entry: *e, Score: score})
			}
		}
		return results
	}

	// Non-hybrid: cosine when vectors exist, text overlap otherwise.
	for i := range candidates {
		e := &candidates[i]
		var score float64
		if len(queryVec) > 0 && len(e.Embedding) > 0 {
			score = cosine(queryVec, e.Embedding)
		} else {
			score = textOverlap(queryTerms, docTerms[i])
		}
		if score >= params.SimilarityThreshold {
			results = append(results, Result{Entry: *e, Score: score})
		}
	}
	return results
}

// sortResults orders by score descending, ties by created_at descending.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
	})
}

func zeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
