package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// EmbeddingClient generates embedding vectors. Implementations must tolerate
// one-element batches; some providers reject multi-input requests.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedModel() string
}

// Embedder wraps an EmbeddingClient and enforces fixed dimensionality. The
// same Embedder instance is used at ingestion and query time so both sides of
// every similarity comparison come from the same model.
type Embedder struct {
	client EmbeddingClient
	dim    int
}

// NewEmbedder creates an Embedder expecting vectors of the given dimensionality.
func NewEmbedder(client EmbeddingClient, dim int) *Embedder {
	return &Embedder{client: client, dim: dim}
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string {
	return e.client.EmbedModel()
}

// Dim returns the expected vector dimensionality.
func (e *Embedder) Dim() int {
	return e.dim
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding text: got %d vectors, expected 1", len(vecs))
	}
	if err := e.checkDim(vecs[0]); err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently, one
// request per text. Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the provider.

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Embedder) checkDim(vec []float32) error {
	if e.dim > 0 && len(vec) != e.dim {
		return fmt.Errorf("embedding dimensionality mismatch: got %d, expected %d", len(vec), e.dim)
	}
	return nil
}
