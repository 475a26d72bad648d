package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/orkacore/orka-go/core"
)

// sqlStore is the shared implementation behind the SQLite and MySQL
// backends. Dialect differences are confined to the DDL and the upsert
// statement supplied by the concrete constructors.
type sqlStore struct {
	db       *sql.DB
	policy   RetentionPolicy
	embedder Embedder
	sweeper  *Sweeper
	upsert   string

	mu        sync.Mutex
	lastSweep time.Time

	now func() time.Time
}

const sqlSelectColumns = `id, namespace, node_id, trace_id, content, metadata, vector, category, memory_type, created_at, expires_at`

func (s *sqlStore) start() {
	if s.policy.Enabled && s.policy.CheckInterval > 0 {
		s.sweeper = NewSweeper(s, s.policy.CheckInterval, s.policy.SweepBudget)
		s.sweeper.Start()
	}
}

// Append implements Store. A failed write surfaces as StoreWriteFailed
// at once: the SQL backends keep no retry queue and never return
// StoreDegraded.
func (s *sqlStore) Append(ctx context.Context, e *Entry) (string, error) {
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

	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return "", err
	}
	vec, err := json.Marshal(entry.Embedding)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, s.upsert,
		entry.ID, entry.Namespace, entry.NodeID, entry.TraceID, entry.Content,
		string(meta), string(vec), string(entry.Category), string(entry.MemoryType),
		entry.CreatedAt.Unix(), expiryUnix(entry.ExpiresAt),
	)
	if err != nil {
		return "", core.Wrap(core.KindStoreWriteFailed, "memory append", err)
	}
	return entry.ID, nil
}

// Search implements Store. Candidates load by namespace and category;
// ranking happens in Go over the shared scoring helpers.
func (s *sqlStore) Search(ctx context.Context, query string, params SearchParams) ([]Result, error) {
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

	q := `SELECT ` + sqlSelectColumns + ` FROM orka_memory_entries WHERE category = ?`
	args := []interface{}{string(params.Category)}
	if params.Namespace != "" {
		q += ` AND namespace = ?`
		args = append(args, params.Namespace)
	}
	if params.MemoryType != "" {
		q += ` AND memory_type = ?`
		args = append(args, string(params.MemoryType))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.Wrap(core.KindStoreUnavailable, "memory search", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, core.Wrap(core.KindStoreUnavailable, "memory search scan", err)
		}
		if matchesFilters(&e, params, now) {
			candidates = append(candidates, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.KindStoreUnavailable, "memory search rows", err)
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

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var meta, vec, category, memType string
	var created, expires int64
	if err := rows.Scan(&e.ID, &e.Namespace, &e.NodeID, &e.TraceID, &e.Content,
		&meta, &vec, &category, &memType, &created, &expires); err != nil {
		return Entry{}, err
	}
	e.Category = Category(category)
	e.MemoryType = Type(memType)
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
	}
	if vec != "" && vec != "null" {
		_ = json.Unmarshal([]byte(vec), &e.Embedding)
	}
	e.CreatedAt = time.Unix(created, 0)
	if expires > 0 {
		e.ExpiresAt = time.Unix(expires, 0)
	}
	return e, nil
}

func (s *sqlStore) boostAccess(ctx context.Context, results []Result) {
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
		_, _ = s.db.ExecContext(ctx,
			`UPDATE orka_memory_entries SET expires_at = ? WHERE id = ? AND expires_at < ?`,
			boosted.Unix(), e.ID, boosted.Unix())
	}
}

// CleanupExpired implements Store.
func (s *sqlStore) CleanupExpired(ctx context.Context, dryRun bool) (CleanupReport, error) {
	start := s.now()
	report := CleanupReport{DryRun: dryRun}

	var expired int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orka_memory_entries WHERE expires_at > 0 AND expires_at < ?`,
		start.Unix()).Scan(&expired)
	if err != nil {
		return report, core.Wrap(core.KindStoreUnavailable, "cleanup count", err)
	}
	report.Expired = expired
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orka_memory_entries`).Scan(&total); err == nil {
		report.Scanned = total
	}

	if !dryRun && expired > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM orka_memory_entries WHERE expires_at > 0 AND expires_at < ?`, start.Unix())
		if err != nil {
			return report, core.Wrap(core.KindStoreUnavailable, "cleanup delete", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			report.Deleted = int(n)
		}
	}

	s.mu.Lock()
	s.lastSweep = s.now()
	s.mu.Unlock()
	report.Duration = s.now().Sub(start)
	return report, nil
}

// Stats implements Store.
func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByNamespace:  make(map[string]int),
		ByType:       make(map[Type]int),
		ByCategory:   make(map[Category]int),
		VectorSearch: s.embedder != nil,
	}
	s.mu.Lock()
	st.LastCleanup = s.lastSweep
	s.mu.Unlock()

	now := s.now().Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, memory_type, category, COUNT(*)
		 FROM orka_memory_entries
		 WHERE expires_at = 0 OR expires_at >= ?
		 GROUP BY namespace, memory_type, category`, now)
	if err != nil {
		return st, core.Wrap(core.KindStoreUnavailable, "stats", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var ns, mt, cat string
		var n int
		if err := rows.Scan(&ns, &mt, &cat, &n); err != nil {
			return st, core.Wrap(core.KindStoreUnavailable, "stats scan", err)
		}
		st.TotalEntries += n
		st.ByNamespace[ns] += n
		st.ByType[Type(mt)] += n
		st.ByCategory[Category(cat)] += n
	}
	return st, rows.Err()
}

// Close stops the sweeper and closes the database.
func (s *sqlStore) Close() error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	return s.db.Close()
}
