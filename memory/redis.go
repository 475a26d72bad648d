package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orkacore/orka-go/core"
)

// RedisStore is the shared-backend Store implementation over a Redis
// compatible service addressed by URL.
//
// Persistence layout, per entry: a hash under `<namespace>:<id>` with
// fields for content, metadata, vector, timestamps and category, plus a
// set `orka:ns:<namespace>` of entry ids and a set `orka:namespaces` of
// known namespaces. Expiry uses EXPIREAT on the hash; the sweeper prunes
// stale index members.
//
// When the backend advertises the search module the store creates a
// text+numeric+vector index on first run. Queries do not use that index:
// Search always fetches the namespace candidate set and scores it
// client-side, with or without the module. Stats reports vector search
// whenever an embedder is attached.
type RedisStore struct {
	client   *redis.Client
	policy   RetentionPolicy
	embedder Embedder
	sweeper  *Sweeper

	mu          sync.Mutex
	retryQueue  []pendingWrite
	lastSweep   time.Time
	vectorIndex bool

	now func() time.Time
}

// maxWriteRetries caps redelivery of a queued write before it surfaces
// as StoreWriteFailed.
const maxWriteRetries = 3

type pendingWrite struct {
	entry    Entry
	attempts int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisEmbedder attaches the embedder for write-time and query
// vectors.
func WithRedisEmbedder(e Embedder) RedisOption {
	return func(s *RedisStore) { s.embedder = e }
}

// WithRedisClock overrides the time source.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

// NewRedisStore connects to the backend at url (redis://host:port/db)
// and prepares the secondary index. Connection failure surfaces as
// StoreUnavailable.
func NewRedisStore(ctx context.Context, url string, policy RetentionPolicy, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, core.Wrap(core.KindStoreUnavailable, "parse memory backend url", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.Wrap(core.KindStoreUnavailable, "memory backend unreachable", err)
	}

	s := &RedisStore{
		client: client,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.vectorIndex = s.ensureIndex(ctx)
	if policy.Enabled && policy.CheckInterval > 0 {
		s.sweeper = NewSweeper(s, policy.CheckInterval, policy.SweepBudget)
		s.sweeper.Start()
	}
	return s, nil
}

// ensureIndex attempts to create the text+numeric+vector index on first
// run. A backend without the search module fails here; ranking is
// client-side either way.
func (s *RedisStore) ensureIndex(ctx context.Context) bool {
	if s.embedder == nil {
		return false
	}
	err := s.client.Do(ctx,
		"FT.CREATE", "orka:memidx", "ON", "HASH", "PREFIX", "1", "",
		"SCHEMA",
		"content", "TEXT",
		"created_at", "NUMERIC", "SORTABLE",
		"vector", "VECTOR", "FLAT", "6",
		"TYPE", "FLOAT32", "DIM", strconv.Itoa(s.embedder.Dim()), "DISTANCE_METRIC", "COSINE",
	).Err()
	if err == nil {
		return true
	}
	// "Index already exists" still means the capability is present.
	return err.Error() == "Index already exists"
}

func entryKey(namespace, id string) string { return namespace + ":" + id }

func nsKey(namespace string) string { return "orka:ns:" + namespace }

const namespacesKey = "orka:namespaces"

// Append implements Store. Transient backend failures queue the entry
// for retry and surface StoreDegraded; exhausting the retry cap surfaces
// StoreWriteFailed.
func (s *RedisStore) Append(ctx context.Context, e *Entry) (string, error) {
	entry := e.clone()
	now := s.now()
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

	// Retry previously queued writes before the new one so ordering is
	// preserved per namespace.
	if err := s.flushRetryQueue(ctx); err != nil {
		return "", err
	}

	if err := s.write(ctx, &entry); err != nil {
		s.mu.Lock()
		s.retryQueue = append(s.retryQueue, pendingWrite{entry: entry, attempts: 1})
		s.mu.Unlock()
		return entry.ID, core.Wrap(core.KindStoreDegraded, "memory append queued for retry", err)
	}
	return entry.ID, nil
}

func (s *RedisStore) flushRetryQueue(ctx context.Context) error {
	s.mu.Lock()
	queue := s.retryQueue
	s.retryQueue = nil
	s.mu.Unlock()

	var requeue []pendingWrite
	var failed error
	for _, p := range queue {
		if err := s.write(ctx, &p.entry); err != nil {
			p.attempts++
			if p.attempts > maxWriteRetries {
				failed = core.Wrap(core.KindStoreWriteFailed,
					fmt.Sprintf("memory entry %s dropped after %d attempts", p.entry.ID, p.attempts), err)
				continue
			}
			requeue = append(requeue, p)
		}
	}
	if len(requeue) > 0 {
		s.mu.Lock()
		s.retryQueue = append(requeue, s.retryQueue...)
		s.mu.Unlock()
	}
	return failed
}

func (s *RedisStore) write(ctx context.Context, e *Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	vec, err := json.Marshal(e.Embedding)
	if err != nil {
		return err
	}
	key := entryKey(e.Namespace, e.ID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":          e.ID,
		"namespace":   e.Namespace,
		"node_id":     e.NodeID,
		"trace_id":    e.TraceID,
		"content":     e.Content,
		"metadata":    string(meta),
		"vector":      string(vec),
		"category":    string(e.Category),
		"memory_type": string(e.MemoryType),
		"created_at":  e.CreatedAt.Unix(),
		"expires_at":  expiryUnix(e.ExpiresAt),
	})
	if !e.ExpiresAt.IsZero() {
		pipe.ExpireAt(ctx, key, e.ExpiresAt)
	}
	pipe.SAdd(ctx, nsKey(e.Namespace), e.ID)
	pipe.SAdd(ctx, namespacesKey, e.Namespace)
	_, err = pipe.Exec(ctx)
	return err
}

func expiryUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Search implements Store. Ranking happens client-side over the
// namespace candidate set; vector search errors fall back to text-only.
func (s *RedisStore) Search(ctx context.Context, query string, params SearchParams) ([]Result, error) {
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

	var queryVec []float32
	var windowVecs [][]float32
	if s.embedder != nil {
		// A degraded embedder returns a zero marker vector; scoring then
		// rests on the text components alone.
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

	candidates, err := s.loadCandidates(ctx, params, now)
	if err != nil {
		return nil, err
	}
	results := scoreCandidates(candidates, query, queryVec, windowVecs, params, now)
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	if err := ctx.Err(); err != nil {
		return nil, core.Wrap(core.KindTimeout, "memory search", err)
	}
	s.boostAccess(ctx, results)
	return results, nil
}

func (s *RedisStore) namespaces(ctx context.Context, params SearchParams) ([]string, error) {
	if params.Namespace != "" {
		return []string{params.Namespace}, nil
	}
	all, err := s.client.SMembers(ctx, namespacesKey).Result()
	if err != nil {
		return nil, core.Wrap(core.KindStoreUnavailable, "list namespaces", err)
	}
	return all, nil
}

func (s *RedisStore) loadCandidates(ctx context.Context, params SearchParams, now time.Time) ([]Entry, error) {
	spaces, err := s.namespaces(ctx, params)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, ns := range spaces {
		ids, err := s.client.SMembers(ctx, nsKey(ns)).Result()
		if err != nil {
			return nil, core.Wrap(core.KindStoreUnavailable, "load namespace index", err)
		}
		pipe := s.client.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(ids))
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, entryKey(ns, id))
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, core.Wrap(core.KindStoreUnavailable, "load entries", err)
		}
		var stale []interface{}
		for i, cmd := range cmds {
			fields, err := cmd.Result()
			if err != nil || len(fields) == 0 {
				// Hash expired under us; prune the index member.
				stale = append(stale, ids[i])
				continue
			}
			e := entryFromFields(fields)
			if matchesFilters(&e, params, now) {
				out = append(out, e)
			}
		}
		if len(stale) > 0 {
			_ = s.client.SRem(ctx, nsKey(ns), stale...).Err()
		}
	}
	return out, nil
}

func entryFromFields(fields map[string]string) Entry {
	e := Entry{
		ID:         fields["id"],
		Namespace:  fields["namespace"],
		NodeID:     fields["node_id"],
		TraceID:    fields["trace_id"],
		Content:    fields["content"],
		Category:   Category(fields["category"]),
		MemoryType: Type(fields["memory_type"]),
	}
	if v := fields["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &e.Metadata)
	}
	if v := fields["vector"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &e.Embedding)
	}
	if ts, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		e.CreatedAt = time.Unix(ts, 0)
	}
	if ts, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil && ts > 0 {
		e.ExpiresAt = time.Unix(ts, 0)
	}
	return e
}

func (s *RedisStore) boostAccess(ctx context.Context, results []Result) {
	if !s.policy.Enabled || s.policy.AccessBoost <= 0 {
		return
	}
	for _, r := range results {
		e := r.Entry
		if e.ExpiresAt.IsZero() {
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
		if !boosted.After(e.ExpiresAt) {
			continue
		}
		key := entryKey(e.Namespace, e.ID)
		pipe := s.client.Pipeline()
		pipe.HSet(ctx, key, "expires_at", boosted.Unix())
		pipe.ExpireAt(ctx, key, boosted)
		// Boost failures only shorten retention; ignore.
		_, _ = pipe.Exec(ctx)
	}
}

// CleanupExpired implements Store. Redis expires hashes on its own; the
// sweep prunes index members whose hash is gone and force-deletes
// entries whose recorded deadline passed but whose key TTL drifted.
func (s *RedisStore) CleanupExpired(ctx context.Context, dryRun bool) (CleanupReport, error) {
	start := s.now()
	report := CleanupReport{DryRun: dryRun}

	spaces, err := s.client.SMembers(ctx, namespacesKey).Result()
	if err != nil {
		return report, core.Wrap(core.KindStoreUnavailable, "cleanup: list namespaces", err)
	}
	for _, ns := range spaces {
		ids, err := s.client.SMembers(ctx, nsKey(ns)).Result()
		if err != nil {
			return report, core.Wrap(core.KindStoreUnavailable, "cleanup: load index", err)
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return report, core.Wrap(core.KindCancelled, "cleanup interrupted", ctx.Err())
			}
			report.Scanned++
			key := entryKey(ns, id)
			fields, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				continue
			}
			gone := len(fields) == 0
			if !gone {
				e := entryFromFields(fields)
				gone = e.Expired(start)
			}
			if !gone {
				continue
			}
			report.Expired++
			if dryRun {
				continue
			}
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, nsKey(ns), id)
			if _, err := pipe.Exec(ctx); err == nil {
				report.Deleted++
			}
		}
	}
	s.mu.Lock()
	s.lastSweep = s.now()
	s.mu.Unlock()
	report.Duration = s.now().Sub(start)
	return report, nil
}

// Stats implements Store.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByNamespace:  make(map[string]int),
		ByType:       make(map[Type]int),
		ByCategory:   make(map[Category]int),
		VectorSearch: s.vectorIndex || s.embedder != nil,
	}
	s.mu.Lock()
	st.LastCleanup = s.lastSweep
	st.PendingWrites = len(s.retryQueue)
	s.mu.Unlock()

	spaces, err := s.client.SMembers(ctx, namespacesKey).Result()
	if err != nil {
		return st, core.Wrap(core.KindStoreUnavailable, "stats: list namespaces", err)
	}
	now := s.now()
	for _, ns := range spaces {
		ids, err := s.client.SMembers(ctx, nsKey(ns)).Result()
		if err != nil {
			continue
		}
		for _, id := range ids {
			fields, err := s.client.HGetAll(ctx, entryKey(ns, id)).Result()
			if err != nil || len(fields) == 0 {
				continue
			}
			e := entryFromFields(fields)
			if e.Expired(now) {
				continue
			}
			st.TotalEntries++
			st.ByNamespace[ns]++
			st.ByType[e.MemoryType]++
			st.ByCategory[e.Category]++
		}
	}
	return st, nil
}

// Close stops the sweeper and releases the client.
func (s *RedisStore) Close() error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	return s.client.Close()
}
