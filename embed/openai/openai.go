// Package openai adapts the OpenAI embeddings API to the embed.Embedder
// interface.
package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/snipvec/snipvec/embed"
)

// Options configures the embedder.
type Options struct {
	// Model selects the embedding model.
	Model openai.EmbeddingModel

	// Dimensions requests reduced-width vectors from models that support
	// shortening (the v3 embedding models). Zero keeps the model's native
	// width.
	Dimensions int
}

// DefaultOptions holds the default embedder options.
var DefaultOptions = Options{
	Model: openai.SmallEmbedding3,
}

// nativeDimensions maps embedding models to the vector width they produce
// when no dimensions parameter is sent.
var nativeDimensions = map[openai.EmbeddingModel]int{
	openai.SmallEmbedding3: 1536,
	openai.LargeEmbedding3: 3072,
	openai.AdaEmbeddingV2:  1536,
}

// Embedder produces vectors through the OpenAI embeddings endpoint.
type Embedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

var _ embed.Embedder = (*Embedder)(nil)

// New wraps an OpenAI API client as an Embedder. For models outside the
// built-in list the vector width cannot be inferred, so Options.Dimensions
// must be set explicitly.
func New(client *openai.Client, optFns ...func(o *Options)) (*Embedder, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	dim := opts.Dimensions
	if dim == 0 {
		dim = nativeDimensions[opts.Model]
	}

	if dim <= 0 {
		return nil, fmt.Errorf("openai: unknown native width for model %q, set Options.Dimensions", opts.Model)
	}

	return &Embedder{client: client, model: opts.Model, dim: dim}, nil
}

// Embed implements embed.Embedder. Backend failures are wrapped so they match
// embed.ErrUnavailable.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	}

	// The dimensions parameter goes out only when the requested width is not
	// the model's known native width; ada-002 rejects the parameter outright.
	if native, ok := nativeDimensions[e.model]; !ok || native != e.dim {
		req.Dimensions = e.dim
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, embed.Unavailable(fmt.Errorf("openai: create embeddings: %w", err))
	}

	if len(resp.Data) == 0 {
		return nil, embed.Unavailable(fmt.Errorf("openai: empty embedding response from model %q", e.model))
	}

	vec := resp.Data[0].Embedding
	if len(vec) != e.dim {
		return nil, fmt.Errorf("openai: model %q returned %d dimensions, want %d", e.model, len(vec), e.dim)
	}

	return vec, nil
}

// Dimension implements embed.Embedder.
func (e *Embedder) Dimension() int {
	return e.dim
}
