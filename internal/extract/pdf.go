package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF parses the PDF page by page and concatenates page texts.
// Unparseable or image-only PDFs degrade to a placeholder.
func (e *Extractor) extractPDF(name string, data []byte) string {
	text, err := pdfText(data)
	if err != nil {
		e.logger.Warn("pdf extraction failed", "file", name, "error", err)
		return fmt.Sprintf("[PDF %s could not be parsed: %v]", displayName(name), err)
	}
	if len(strings.TrimSpace(text)) < minTextLen {
		// Scanned/image-only PDFs have pages but no extractable text.
		return fmt.Sprintf("[PDF %s contains no extractable text]", displayName(name))
	}
	return text
}

func pdfText(data []byte) (text string, err error) {
	// The pdf library panics on some malformed files; recover so extraction
	// stays total.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// A single bad page does not abort the document.
			continue
		}
		pageText = stripNUL(strings.TrimSpace(pageText))
		if pageText != "" {
			pages = append(pages, pageText)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
