package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestLocal_Deterministic(t *testing.T) {
	e := NewLocal(0)
	ctx := context.Background()

	a, err := e.Embed(ctx, "the capital of France is Paris")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Embed(ctx, "the capital of France is Paris")
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLocal_UnitNorm(t *testing.T) {
	e := NewLocal(64)
	vec, err := e.Embed(context.Background(), "some text to embed")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 64 {
		t.Fatalf("dim = %d", len(vec))
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm^2 = %v, want 1", norm)
	}
}

func TestLocal_EmptyTextIsZeroMarker(t *testing.T) {
	e := NewLocal(16)
	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if !isZero(vec) {
		t.Error("empty text should produce the zero marker vector")
	}
}

func TestLocal_RelatedTextsOverlap(t *testing.T) {
	e := NewLocal(0)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "France capital city Paris")
	b, _ := e.Embed(ctx, "what is the capital of France")
	c, _ := e.Embed(ctx, "superconducting qubit coherence times")

	simAB := dot(a, b)
	simAC := dot(a, c)
	if simAB <= simAC {
		t.Errorf("related similarity %v not above unrelated %v", simAB, simAC)
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// countingEmbedder counts inner calls so cache tests can observe hits.
type countingEmbedder struct {
	Local
	calls int
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail {
		return Zero(c.Dim()), nil
	}
	return c.Local.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestCached_Hit(t *testing.T) {
	inner := &countingEmbedder{Local: *NewLocal(32)}
	c := NewCached(inner, 10)
	ctx := context.Background()

	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}
}

func TestCached_LRUEviction(t *testing.T) {
	inner := &countingEmbedder{Local: *NewLocal(32)}
	c := NewCached(inner, 2)
	ctx := context.Background()

	_, _ = c.Embed(ctx, "a")
	_, _ = c.Embed(ctx, "b")
	_, _ = c.Embed(ctx, "a") // refresh "a"
	_, _ = c.Embed(ctx, "c") // evicts "b"

	if c.Len() != 2 {
		t.Fatalf("cache len = %d", c.Len())
	}
	calls := inner.calls
	_, _ = c.Embed(ctx, "a")
	if inner.calls != calls {
		t.Error("recently used entry was evicted")
	}
	_, _ = c.Embed(ctx, "b")
	if inner.calls != calls+1 {
		t.Error("least recently used entry was not evicted")
	}
}

func TestCached_DegradedVectorsNotCached(t *testing.T) {
	inner := &countingEmbedder{Local: *NewLocal(32), fail: true}
	c := NewCached(inner, 10)
	ctx := context.Background()

	vec, err := c.Embed(ctx, "text")
	if err != nil {
		t.Fatal(err)
	}
	if !isZero(vec) {
		t.Fatal("expected degraded marker vector")
	}

	// Backend recovers; the next call must reach it.
	inner.fail = false
	vec, err = c.Embed(ctx, "text")
	if err != nil {
		t.Fatal(err)
	}
	if isZero(vec) {
		t.Error("recovered backend still served the cached zero vector")
	}
}

func TestCached_Batch(t *testing.T) {
	inner := &countingEmbedder{Local: *NewLocal(32)}
	c := NewCached(inner, 10)
	ctx := context.Background()

	_, _ = c.Embed(ctx, "warm")
	vecs, err := c.EmbedBatch(ctx, []string{"warm", "cold"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("batch returned %d vectors", len(vecs))
	}
	if inner.calls != 2 { // one warm-up + one miss
		t.Errorf("inner called %d times, want 2", inner.calls)
	}
}

// fakeAPI implements embeddingClient for the OpenAI adapter tests.
type fakeAPI struct {
	err  error
	dims int
}

func (f *fakeAPI) create(_ context.Context, _ string, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dims)
		v[i%f.dims] = 1
		out[i] = v
	}
	return out, nil
}

func TestOpenAI_DegradesOnProviderError(t *testing.T) {
	o := NewOpenAI("key", "")
	o.client = &fakeAPI{err: errors.New("rate limited")}

	vecs, err := o.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("degradation must not error: %v", err)
	}
	for i, v := range vecs {
		if !isZero(v) {
			t.Errorf("vector %d not a zero marker", i)
		}
		if len(v) != o.Dim() {
			t.Errorf("marker dim = %d", len(v))
		}
	}
}

func TestOpenAI_NormalizesVectors(t *testing.T) {
	o := NewOpenAI("key", "text-embedding-3-small")
	o.client = &fakeAPI{dims: 4}

	vec, err := o.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("norm^2 = %v", norm)
	}
}

func TestOpenAI_ModelDims(t *testing.T) {
	for model, want := range openAIEmbeddingDims {
		t.Run(model, func(t *testing.T) {
			if got := NewOpenAI("k", model).Dim(); got != want {
				t.Errorf("dim = %d, want %d", got, want)
			}
		})
	}
	if got := NewOpenAI("k", "future-model").Dim(); got != 1536 {
		t.Errorf("unknown model dim = %d", got)
	}
}

func ExampleLocal() {
	e := NewLocal(8)
	vec, _ := e.Embed(context.Background(), "hello world")
	fmt.Println(len(vec))
	// Output: 8
}
