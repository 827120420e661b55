// Package extract turns retrieved payloads into normalized page plaintext.
//
// Dispatch is by detected format. Extraction never hard-fails the pipeline:
// a payload that cannot be cleaned comes back with Cleaned=false and a
// CleaningError describing why, digested over its raw bytes so update
// detection still works for it.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

// pageSeparator joins pages for digesting so that moving text across a page
// boundary changes the digest.
const pageSeparator = "\x1f"

var (
	errEmptyText         = errors.New("payload contained no extractable text")
	errUnsupportedFormat = errors.New("unsupported document format")
)

// Engine extracts and normalizes document text per format.
type Engine struct {
	hasher pipeline.Hasher
	ocr    pipeline.OCR
	blobs  pipeline.BlobStore
	logger *zap.Logger
}

// New builds an Engine. ocr may be nil; scanned PDFs are then flagged for
// manual review instead of recognized. blobs receives the raw bytes of
// payloads that fail extraction so they stay reprocessable.
func New(hasher pipeline.Hasher, ocr pipeline.OCR, blobs pipeline.BlobStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{hasher: hasher, ocr: ocr, blobs: blobs, logger: logger}
}

// Extract produces the normalized document for a payload. The returned
// document always carries a digest; Cleaned reports whether the pages hold
// usable extracted text.
func (e *Engine) Extract(ctx context.Context, p pipeline.Payload) pipeline.Document {
	doc := pipeline.Document{
		URLHash:      p.URLHash,
		SourceFormat: p.Format,
		SnapshotID:   p.SnapshotID,
		Source:       p.Source,
		LocalPath:    p.BlobPath,
		UpdatedAt:    p.RetrievedAt,
	}

	title, pages, err := e.dispatch(ctx, p)
	if err != nil {
		e.logger.Warn("extraction failed",
			zap.String("url_hash", p.URLHash),
			zap.String("format", string(p.Format)),
			zap.Error(err))
		doc.Cleaned = false
		doc.CleaningError = err.Error()
		doc.Digest = e.hasher.Sum(p.Body)
		doc.LocalPath = e.retainRaw(ctx, p)
		return doc
	}

	doc.Title = title
	doc.Pages = pages
	doc.Cleaned = true
	doc.Digest = e.hasher.Sum([]byte(strings.Join(pages, pageSeparator)))
	return doc
}

// retainRaw keeps the raw bytes of a payload that failed extraction so it
// can be reprocessed by hand. Payloads the retriever already spilled keep
// their existing blob path; everything else is written out here, below the
// inline threshold or not.
func (e *Engine) retainRaw(ctx context.Context, p pipeline.Payload) string {
	if p.BlobPath != "" {
		return p.BlobPath
	}
	if e.blobs == nil || len(p.Body) == 0 {
		return ""
	}
	path := fmt.Sprintf("unprocessed/%s/%s", p.URLHash, p.RetrievedAt.UTC().Format("20060102150405"))
	uri, err := e.blobs.Put(ctx, path, p.MimeType, p.Body)
	if err != nil {
		e.logger.Error("failed to retain raw payload",
			zap.String("url_hash", p.URLHash),
			zap.Error(err))
		return ""
	}
	return uri
}

func (e *Engine) dispatch(ctx context.Context, p pipeline.Payload) (title string, pages []string, err error) {
	switch p.Format {
	case pipeline.FormatHTML:
		return extractHTML(p.Body)
	case pipeline.FormatPDF:
		pages, hasText, err := extractPDF(p.Body)
		if err != nil {
			return "", nil, err
		}
		if !hasText {
			pages, err = e.ocrPages(ctx, p.Body)
			if err != nil {
				return "", nil, err
			}
		}
		return "", pages, nil
	case pipeline.FormatDocx:
		pages, err := extractDocx(p.Body)
		if err != nil {
			return "", nil, err
		}
		return "", pages, nil
	case pipeline.FormatODT:
		pages, err := extractODT(p.Body)
		if err != nil {
			return "", nil, err
		}
		return "", pages, nil
	case pipeline.FormatText:
		page := NormalizePage(string(p.Body))
		if page == "" {
			return "", nil, errEmptyText
		}
		return "", []string{page}, nil
	default:
		return "", nil, errUnsupportedFormat
	}
}
