package embed

import (
	"container/list"
	"context"
	"crypto/sha256"
	"sync"
)

// Cached wraps an Embedder with a bounded LRU keyed by content hash.
// Safe for concurrent use. Degraded (zero) vectors are not cached so a
// recovered backend serves real vectors on the next request.
type Cached struct {
	inner Embedder
	cap   int

	mu    sync.Mutex
	ll    *list.List
	items map[[32]byte]*list.Element
}

type cacheItem struct {
	key [32]byte
	vec []float32
}

// NewCached wraps inner with an LRU of the given capacity. Non-positive
// capacities default to 4096 entries.
func NewCached(inner Embedder, capacity int) *Cached {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Cached{
		inner: inner,
		cap:   capacity,
		ll:    list.New(),
		items: make(map[[32]byte]*list.Element),
	}
}

// Dim implements Embedder.
func (c *Cached) Dim() int { return c.inner.Dim() }

// Embed implements Embedder.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := sha256.Sum256([]byte(text))

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		vec := el.Value.(*cacheItem).vec
		c.mu.Unlock()
		return cloneVec(vec), nil
	}
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if !isZero(vec) {
		c.put(key, vec)
	}
	return vec, nil
}

// EmbedBatch implements Embedder, serving hits from the cache and
// batching only the misses through the inner embedder.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	c.mu.Lock()
	for i, t := range texts {
		key := sha256.Sum256([]byte(t))
		if el, ok := c.items[key]; ok {
			c.ll.MoveToFront(el)
			out[i] = cloneVec(el.Value.(*cacheItem).vec)
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
		}
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if !isZero(vecs[j]) {
			c.put(sha256.Sum256([]byte(missTexts[j])), vecs[j])
		}
	}
	return out, nil
}

func (c *Cached) put(key [32]byte, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheItem).vec = cloneVec(vec)
		return
	}
	el := c.ll.PushFront(&cacheItem{key: key, vec: cloneVec(vec)})
	c.items[key] = el
	if c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheItem).key)
		}
	}
}

// Len reports the current cache population.
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
