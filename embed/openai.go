package embed

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI adapts the OpenAI embeddings API to the Embedder contract.
//
// Backend failures do not error: the adapter returns the zero marker
// vector so the memory store falls back to text search, per the graceful
// degradation contract. Wrap in NewCached to avoid re-embedding
// identical content.
type OpenAI struct {
	modelName string
	dim       int
	client    embeddingClient
}

// embeddingClient narrows the SDK surface for test doubles.
type embeddingClient interface {
	create(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// openAIEmbeddingDims maps known embedding models to their output size.
var openAIEmbeddingDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// NewOpenAI creates the adapter. An empty model selects
// text-embedding-3-small.
func NewOpenAI(apiKey, modelName string) *OpenAI {
	if modelName == "" {
		modelName = "text-embedding-3-small"
	}
	dim, ok := openAIEmbeddingDims[modelName]
	if !ok {
		dim = 1536
	}
	return &OpenAI{
		modelName: modelName,
		dim:       dim,
		client:    &sdkEmbeddingClient{apiKey: apiKey},
	}
}

// Dim implements Embedder.
func (o *OpenAI) Dim() int { return o.dim }

// Embed implements Embedder.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder. Provider errors yield zero marker
// vectors, not failures.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vecs, err := o.client.create(ctx, o.modelName, texts)
	if err != nil || len(vecs) != len(texts) {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = Zero(o.dim)
		}
		return out, nil
	}
	for _, v := range vecs {
		normalize(v)
	}
	return vecs, nil
}

// sdkEmbeddingClient wraps the official SDK.
type sdkEmbeddingClient struct {
	apiKey string
}

func (c *sdkEmbeddingClient) create(ctx context.Context, model string, texts []string) ([][]float32, error) {
	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))
	resp, err := client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out, nil
}
