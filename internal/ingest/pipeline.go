// Package ingest orchestrates document processing: object fetch, text
// extraction, truncation, embedding, and persistence.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uswahq/uswa/internal/objstore"
	"github.com/uswahq/uswa/internal/storage"
)

// defaultTruncateAt bounds the text sent to the embedding service. The
// leading prefix is kept: for uploaded documents the salient summary-bearing
// content is assumed to be near the top.
const defaultTruncateAt = 4000

// DocumentStore is the slice of the datastore the pipeline needs.
type DocumentStore interface {
	GetDocument(id string) (storage.Document, error)
	UpdateDocumentContent(id, contentText string) error
	UpdateDocumentEmbedding(id, model string, embedding []float32) error
}

// TextExtractor produces best-effort plain text for a file blob.
type TextExtractor interface {
	Extract(ctx context.Context, name, mimeType string, data []byte) string
}

// ContentEmbedder generates an embedding for extracted text.
type ContentEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Result reports the outcome of one ingestion run.
type Result struct {
	Embedded bool
	Message  string
}

// Pipeline runs the ingestion steps for one document per invocation. It is
// stateless; failures before the text is persisted are fatal, failures after
// degrade to a text-only document.
type Pipeline struct {
	objects    objstore.ObjectStore
	store      DocumentStore
	extractor  TextExtractor
	embedder   ContentEmbedder
	truncateAt int
	logger     *slog.Logger
}

// New creates a Pipeline. If truncateAt <= 0, the default (4000) is used.
func New(objects objstore.ObjectStore, store DocumentStore, extractor TextExtractor, embedder ContentEmbedder, truncateAt int) *Pipeline {
	if truncateAt <= 0 {
		truncateAt = defaultTruncateAt
	}
	return &Pipeline{
		objects:    objects,
		store:      store,
		extractor:  extractor,
		embedder:   embedder,
		truncateAt: truncateAt,
		logger:     slog.Default(),
	}
}

// Ingest processes one document. The returned error covers fatal failures
// only (missing row, unfetchable file, text persist failure); an embedding
// failure leaves the document text-searchable and reports a degraded Result.
func (p *Pipeline) Ingest(ctx context.Context, documentID, filePath string) (Result, error) {
	doc, err := p.store.GetDocument(documentID)
	if err != nil {
		return Result{}, fmt.Errorf("loading document %s: %w", documentID, err)
	}

	data, err := p.objects.Download(ctx, filePath)
	if err != nil {
		return Result{}, fmt.Errorf("fetching file %s: %w", filePath, err)
	}

	// Extraction is total: every path yields some non-empty text.
	text := p.extractor.Extract(ctx, doc.Name, "", data)

	// Persist text immediately so the document is readable even if the
	// embedding step fails below.
	if err := p.store.UpdateDocumentContent(documentID, text); err != nil {
		return Result{}, fmt.Errorf("persisting content for %s: %w", documentID, err)
	}

	vec, err := p.embedder.Embed(ctx, truncate(text, p.truncateAt))
	if err != nil {
		p.logger.Warn("embedding failed, document remains text-only",
			"document_id", documentID, "error", err)
		return Result{
			Embedded: false,
			Message:  "Document processed; embedding unavailable, so it is excluded from similarity search until re-ingested.",
		}, nil
	}

	if err := p.store.UpdateDocumentEmbedding(documentID, p.embedder.Model(), vec); err != nil {
		p.logger.Warn("persisting embedding failed, document remains text-only",
			"document_id", documentID, "error", err)
		return Result{
			Embedded: false,
			Message:  "Document processed; embedding could not be saved, so it is excluded from similarity search until re-ingested.",
		}, nil
	}

	return Result{Embedded: true, Message: "Document processed successfully."}, nil
}

// truncate returns a rune-safe prefix of at most n characters.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
