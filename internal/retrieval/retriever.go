package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// NoContextMarker is injected into prompts when retrieval finds nothing, so
// the completion model never silently fabricates grounding.
const NoContextMarker = "No relevant workspace documents were found for this question."

// Searcher is the similarity-search capability of the datastore.
type Searcher interface {
	Search(ctx context.Context, workspaceID string, vector []float32, topK int, minScore float32) ([]Match, error)
}

// StaleCounter reports documents whose embeddings were produced by an older
// model and are excluded from search until re-ingested.
type StaleCounter interface {
	CountStaleEmbeddings(workspaceID, model string) (int, error)
}

// Retriever embeds a query with the same model used at ingestion time and
// returns the most similar workspace documents. It never mutates state and is
// safe to retry.
type Retriever struct {
	embedder *Embedder
	index    Searcher
	stale    StaleCounter
	topK     int
	minScore float32
	logger   *slog.Logger
}

// NewRetriever creates a Retriever. stale may be nil to skip drift reporting.
func NewRetriever(embedder *Embedder, index Searcher, stale StaleCounter, topK int, minScore float32) *Retriever {
	if topK <= 0 {
		topK = 4
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		stale:    stale,
		topK:     topK,
		minScore: minScore,
		logger:   slog.Default(),
	}
}

// Retrieve embeds the query and returns the top-K matches for the workspace.
func (r *Retriever) Retrieve(ctx context.Context, workspaceID, query string) ([]Match, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := r.index.Search(ctx, workspaceID, vec, r.topK, r.minScore)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	if r.stale != nil {
		if n, err := r.stale.CountStaleEmbeddings(workspaceID, r.embedder.Model()); err == nil && n > 0 {
			r.logger.Warn("documents with stale embeddings excluded from search",
				"workspace_id", workspaceID, "count", n, "model", r.embedder.Model())
		}
	}

	return matches, nil
}

// BuildContext concatenates matched texts into a single grounding block. An
// empty match set yields the explicit no-context marker.
func BuildContext(matches []Match) string {
	if len(matches) == 0 {
		return NoContextMarker
	}
	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Document: %s]\n%s", m.Name, m.Text)
	}
	return sb.String()
}
