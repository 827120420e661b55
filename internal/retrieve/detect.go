package retrieve

import (
	"archive/zip"
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

// DetectFormat classifies a payload from its MIME type and byte signature.
// The signature wins over the header: archived servers routinely lie about
// content types.
func DetectFormat(mimeType string, body []byte) pipeline.Format {
	if f := detectBySignature(body); f != pipeline.FormatUnsupported {
		return f
	}
	if f := detectByMime(mimeType); f != pipeline.FormatUnsupported {
		return f
	}
	if looksLikeHTML(body) {
		return pipeline.FormatHTML
	}
	if utf8.Valid(body) && len(bytes.TrimSpace(body)) > 0 {
		return pipeline.FormatText
	}
	return pipeline.FormatUnsupported
}

func detectBySignature(body []byte) pipeline.Format {
	switch {
	case bytes.HasPrefix(body, []byte("%PDF-")):
		return pipeline.FormatPDF
	case bytes.HasPrefix(body, []byte("PK\x03\x04")):
		return classifyZip(body)
	default:
		return pipeline.FormatUnsupported
	}
}

// classifyZip distinguishes the zip-container office formats by their
// well-known member files.
func classifyZip(body []byte) pipeline.Format {
	r, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return pipeline.FormatUnsupported
	}
	for _, f := range r.File {
		switch f.Name {
		case "word/document.xml":
			return pipeline.FormatDocx
		case "content.xml":
			return pipeline.FormatODT
		}
	}
	return pipeline.FormatUnsupported
}

func detectByMime(mimeType string) pipeline.Format {
	if mimeType == "" {
		return pipeline.FormatUnsupported
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch mt {
	case "text/html", "application/xhtml+xml":
		return pipeline.FormatHTML
	case "application/pdf":
		return pipeline.FormatPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return pipeline.FormatDocx
	case "application/vnd.oasis.opendocument.text":
		return pipeline.FormatODT
	case "text/plain":
		return pipeline.FormatText
	default:
		return pipeline.FormatUnsupported
	}
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(body)
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("<!doctype html")) ||
		bytes.Contains(head, []byte("<html"))
}
