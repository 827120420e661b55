package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// extractPDF pulls the text layer out of a PDF, one string per page. The
// bool result reports whether a usable text layer was found; a false return
// with a nil error means the document is a flat scan needing OCR.
func extractPDF(body []byte) (pages []string, hasTextLayer bool, err error) {
	defer func() {
		// The parser panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			pages, hasTextLayer = nil, false
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, false, fmt.Errorf("open pdf: %w", err)
	}

	total := reader.NumPage()
	pages = make([]string, 0, total)
	nonEmpty := 0
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not doom the document.
			pages = append(pages, "")
			continue
		}
		text = NormalizePage(text)
		if text != "" {
			nonEmpty++
		}
		pages = append(pages, text)
	}

	if nonEmpty == 0 {
		return nil, false, nil
	}
	return pages, true, nil
}

// ocrPages routes a scanned PDF through the OCR capability, converging on
// the same output shape as the direct text-layer path.
func (e *Engine) ocrPages(ctx context.Context, body []byte) ([]string, error) {
	if e.ocr == nil {
		return nil, fmt.Errorf("scanned pdf has no text layer and no ocr engine is configured")
	}
	raw, err := e.ocr.Recognize(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	pages := make([]string, len(raw))
	for i, p := range raw {
		pages[i] = NormalizePage(p)
	}
	if len(pages) == 0 || allBlank(pages) {
		return nil, fmt.Errorf("ocr produced no text")
	}
	return pages, nil
}

func allBlank(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}
