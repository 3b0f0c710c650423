package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/uswahq/uswa/internal/storage"
)

// mockObjects implements objstore.ObjectStore.
type mockObjects struct {
	downloadFn func(ctx context.Context, path string) ([]byte, error)
}

func (m *mockObjects) Download(ctx context.Context, path string) ([]byte, error) {
	return m.downloadFn(ctx, path)
}
func (m *mockObjects) Upload(context.Context, string, []byte) error { return nil }
func (m *mockObjects) Delete(context.Context, string) error         { return nil }

// mockDocStore implements DocumentStore.
type mockDocStore struct {
	doc           storage.Document
	getErr        error
	contentErr    error
	embeddingErr  error
	savedContent  string
	savedModel    string
	savedVector   []float32
	contentCalled bool
}

func (m *mockDocStore) GetDocument(id string) (storage.Document, error) {
	if m.getErr != nil {
		return storage.Document{}, m.getErr
	}
	return m.doc, nil
}

func (m *mockDocStore) UpdateDocumentContent(id, contentText string) error {
	m.contentCalled = true
	if m.contentErr != nil {
		return m.contentErr
	}
	m.savedContent = contentText
	return nil
}

func (m *mockDocStore) UpdateDocumentEmbedding(id, model string, embedding []float32) error {
	if m.embeddingErr != nil {
		return m.embeddingErr
	}
	m.savedModel = model
	m.savedVector = embedding
	return nil
}

// passthroughExtractor returns file bytes as text, like a plain-text extract.
type passthroughExtractor struct{}

func (passthroughExtractor) Extract(_ context.Context, _, _ string, data []byte) string {
	if len(data) == 0 {
		return "[Binary file or empty content]"
	}
	return string(data)
}

// mockEmbedder implements ContentEmbedder.
type mockEmbedder struct {
	embedFn  func(ctx context.Context, text string) ([]float32, error)
	lastText string
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.lastText = text
	return m.embedFn(ctx, text)
}
func (m *mockEmbedder) Model() string { return "mock-embed" }

func okObjects(data []byte) *mockObjects {
	return &mockObjects{downloadFn: func(context.Context, string) ([]byte, error) { return data, nil }}
}

func TestIngestHappyPath(t *testing.T) {
	store := &mockDocStore{doc: storage.Document{ID: "d1", Name: "policy.txt"}}
	embedder := &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{1, 2, 3}, nil
	}}
	p := New(okObjects([]byte("Refund policy: 30 days")), store, passthroughExtractor{}, embedder, 0)

	res, err := p.Ingest(context.Background(), "d1", "ws1/policy.txt")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Embedded {
		t.Error("res.Embedded = false, want true")
	}
	if store.savedContent != "Refund policy: 30 days" {
		t.Errorf("savedContent = %q", store.savedContent)
	}
	if store.savedModel != "mock-embed" {
		t.Errorf("savedModel = %q, want mock-embed", store.savedModel)
	}
	if len(store.savedVector) != 3 {
		t.Errorf("savedVector = %v", store.savedVector)
	}
}

func TestIngestDownloadFailureIsFatal(t *testing.T) {
	store := &mockDocStore{doc: storage.Document{ID: "d1", Name: "policy.txt"}}
	objects := &mockObjects{downloadFn: func(context.Context, string) ([]byte, error) {
		return nil, errors.New("object not found")
	}}
	p := New(objects, store, passthroughExtractor{}, &mockEmbedder{}, 0)

	if _, err := p.Ingest(context.Background(), "d1", "missing"); err == nil {
		t.Fatal("expected error for unfetchable file")
	}
	if store.contentCalled {
		t.Error("content was written despite fatal download failure")
	}
}

func TestIngestEmbeddingFailureIsNonFatal(t *testing.T) {
	store := &mockDocStore{doc: storage.Document{ID: "d1", Name: "policy.txt"}}
	embedder := &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	}}
	p := New(okObjects([]byte("some text here")), store, passthroughExtractor{}, embedder, 0)

	res, err := p.Ingest(context.Background(), "d1", "ws1/policy.txt")
	if err != nil {
		t.Fatalf("Ingest returned error for non-fatal embedding failure: %v", err)
	}
	if res.Embedded {
		t.Error("res.Embedded = true, want false")
	}
	// Text must already be persisted before the embedding attempt.
	if store.savedContent != "some text here" {
		t.Errorf("savedContent = %q", store.savedContent)
	}
}

func TestIngestContentNonEmptyForUnreadableFile(t *testing.T) {
	store := &mockDocStore{doc: storage.Document{ID: "d1", Name: "blob.bin"}}
	embedder := &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{0.5}, nil
	}}
	p := New(okObjects(nil), store, passthroughExtractor{}, embedder, 0)

	if _, err := p.Ingest(context.Background(), "d1", "ws1/blob.bin"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if store.savedContent == "" {
		t.Error("content_text empty after ingesting unreadable file; placeholder expected")
	}
}

func TestIngestTruncatesBeforeEmbedding(t *testing.T) {
	store := &mockDocStore{doc: storage.Document{ID: "d1", Name: "long.txt"}}
	embedder := &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{1}, nil
	}}
	long := strings.Repeat("a", 5000)
	p := New(okObjects([]byte(long)), store, passthroughExtractor{}, embedder, 4000)

	if _, err := p.Ingest(context.Background(), "d1", "ws1/long.txt"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(embedder.lastText) != 4000 {
		t.Errorf("embedded text length = %d, want 4000", len(embedder.lastText))
	}
	// Full text is persisted untruncated.
	if len(store.savedContent) != 5000 {
		t.Errorf("savedContent length = %d, want 5000", len(store.savedContent))
	}
}
