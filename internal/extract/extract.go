// Package extract turns stored file blobs into best-effort plain text.
//
// Extraction is total: every path returns some non-empty text, degrading to a
// descriptive placeholder instead of failing, so ingestion always leaves the
// document row in a consistent, readable state.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	// maxImageBytes is the ceiling for images sent to the vision service.
	maxImageBytes = 1_500_000

	// minTextLen is the minimum extracted length before falling back to the
	// binary-content placeholder.
	minTextLen = 5

	visionPrompt = "Describe this image and extract any visible text."
)

// VisionDescriber turns image bytes into a textual description.
type VisionDescriber interface {
	DescribeImage(ctx context.Context, prompt string, data []byte, mimeType string) (string, error)
}

// Extractor dispatches extraction by file kind.
type Extractor struct {
	vision VisionDescriber // optional; images degrade to a placeholder when nil
	logger *slog.Logger
}

// New creates an Extractor. vision may be nil.
func New(vision VisionDescriber) *Extractor {
	return &Extractor{vision: vision, logger: slog.Default()}
}

// Extract returns plain text for the file. It never returns an error or an
// empty string.
func (e *Extractor) Extract(ctx context.Context, name, mimeType string, data []byte) string {
	switch kindOf(name, mimeType) {
	case kindText:
		return e.extractText(name, data)
	case kindPDF:
		return e.extractPDF(name, data)
	case kindImage:
		return e.extractImage(ctx, name, mimeType, data)
	default:
		return fmt.Sprintf("[Unsupported file type: %s]", displayName(name))
	}
}

type fileKind int

const (
	kindUnknown fileKind = iota
	kindText
	kindPDF
	kindImage
)

func kindOf(name, mimeType string) fileKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".csv", ".json", ".log", ".html":
		return kindText
	case ".pdf":
		return kindPDF
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return kindImage
	}
	switch {
	case strings.HasPrefix(mimeType, "text/"):
		return kindText
	case mimeType == "application/pdf":
		return kindPDF
	case strings.HasPrefix(mimeType, "image/"):
		return kindImage
	}
	return kindUnknown
}

func (e *Extractor) extractText(name string, data []byte) string {
	text := stripNUL(string(data))
	if !utf8.ValidString(text) || len(strings.TrimSpace(text)) < minTextLen {
		// Binary files read as text, or effectively empty ones, keep the flow
		// alive with a placeholder.
		return "[Binary file or empty content]"
	}
	return text
}

func (e *Extractor) extractImage(ctx context.Context, name, mimeType string, data []byte) string {
	if len(data) > maxImageBytes {
		return fmt.Sprintf("[Image %s too large to describe: %d bytes]", displayName(name), len(data))
	}
	if e.vision == nil {
		return fmt.Sprintf("[Image %s: no vision service configured]", displayName(name))
	}
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = guessImageMIME(name)
	}
	desc, err := e.vision.DescribeImage(ctx, visionPrompt, data, mimeType)
	if err != nil {
		e.logger.Warn("vision description failed", "file", name, "error", err)
		return fmt.Sprintf("[Image %s could not be described: %v]", displayName(name), err)
	}
	desc = stripNUL(strings.TrimSpace(desc))
	if desc == "" {
		return fmt.Sprintf("[Image %s yielded no description]", displayName(name))
	}
	return desc
}

func guessImageMIME(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return "image/png"
}

// stripNUL removes NUL bytes, which the datastore rejects.
func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func displayName(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return filepath.Base(name)
}
