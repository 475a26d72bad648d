package memory

import (
	"context"
	"time"
)

// Embedder produces fixed-dimension unit vectors for text. The embed
// package provides implementations; the store only needs this surface.
type Embedder interface {
	// Embed returns the vector for one input. A zero-magnitude vector
	// signals degraded mode and callers fall back to text search.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dim is the fixed vector dimension.
	Dim() int
}

// SearchParams tunes one Search call. Zero values select the documented
// defaults: category "stored", limit 10, hybrid scoring disabled (pure
// cosine), no metadata filters.
type SearchParams struct {
	// Namespace scopes the search. Empty searches all namespaces.
	Namespace string

	// Limit caps the result count. Zero means 10.
	Limit int

	// SimilarityThreshold drops results scoring below it, in [0,1].
	SimilarityThreshold float64

	// MemoryType restricts to short_term or long_term when set.
	MemoryType Type

	// Category defaults to CategoryStored. Log entries are only
	// reachable by explicitly asking for CategoryLog (observability
	// tooling); reader nodes never do.
	Category Category

	// MetadataFilters requires exact matches on entry metadata.
	MetadataFilters map[string]string

	// EnableHybrid activates the four-component score. When false the
	// score is pure cosine (or pure text match when vectors are absent).
	EnableHybrid bool

	// VectorWeight, TemporalWeight, ContextWeight and KeywordWeight are
	// the hybrid component weights. Components with weight 0 are never
	// computed. Active weights are renormalized to sum to 1.
	VectorWeight   float64
	TemporalWeight float64
	ContextWeight  float64
	KeywordWeight  float64

	// DecayHalfLife parameterizes the temporal component. Zero means
	// one hour.
	DecayHalfLife time.Duration

	// ContextWindow holds recent agent outputs used to augment the
	// query vector for the context component.
	ContextWindow []string

	// MaxSearchTime bounds the call. Zero means no explicit bound beyond
	// ctx.
	MaxSearchTime time.Duration
}

// Result pairs an entry with its combined score.
type Result struct {
	Entry Entry
	Score float64
}

// CleanupReport summarizes one decay sweep.
type CleanupReport struct {
	// Scanned is the number of entries examined.
	Scanned int `json:"scanned"`

	// Expired is the number of entries past their deadline.
	Expired int `json:"expired"`

	// Deleted is the number actually removed; equals Expired unless the
	// sweep was a dry run or hit its time budget.
	Deleted int `json:"deleted"`

	// DryRun echoes the request flag.
	DryRun bool `json:"dry_run"`

	// Duration is the sweep's wall time.
	Duration time.Duration `json:"duration"`
}

// Stats reports store contents and health.
type Stats struct {
	// TotalEntries counts everything currently stored.
	TotalEntries int `json:"total_entries"`

	// ByNamespace, ByType and ByCategory break the total down.
	ByNamespace map[string]int `json:"by_namespace"`
	ByType      map[Type]int   `json:"by_type"`
	ByCategory  map[Category]int `json:"by_category"`

	// LastCleanup is the completion time of the most recent sweep.
	LastCleanup time.Time `json:"last_cleanup"`

	// VectorSearch reports whether the backend currently serves
	// similarity search. False means text-only degraded mode.
	VectorSearch bool `json:"vector_search"`

	// PendingWrites counts entries queued for retry after transient
	// write failures.
	PendingWrites int `json:"pending_writes"`
}

// Store is the memory subsystem contract.
//
// Concurrency: multiple readers and writers may call concurrently.
// Writes on distinct ids are independent; each Search observes a
// monotonically consistent snapshot. The decay sweeper never blocks
// Append or Search beyond a bounded contention window.
type Store interface {
	// Append writes one entry and returns its id. Supplying an id makes
	// the write idempotent; otherwise the store content-addresses it.
	// Backend loss surfaces as StoreUnavailable; transient failures as
	// StoreDegraded with the entry queued for retry, then
	// StoreWriteFailed once the retry cap is exhausted.
	Append(ctx context.Context, e *Entry) (string, error)

	// Search returns entries matching params whose combined score is at
	// least the similarity threshold, best first, ties broken by
	// created_at descending.
	Search(ctx context.Context, query string, params SearchParams) ([]Result, error)

	// CleanupExpired removes entries past their deadline. With dryRun it
	// only counts.
	CleanupExpired(ctx context.Context, dryRun bool) (CleanupReport, error)

	// Stats reports contents, health and capability.
	Stats(ctx context.Context) (Stats, error)

	// Close releases backend resources and stops background work.
	Close() error
}
