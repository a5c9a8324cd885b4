// Package extract turns PDF files into per-page raw text plus optional
// document metadata.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrExtraction marks corrupt, encrypted or otherwise unreadable input.
var ErrExtraction = errors.New("extraction failed")

// Document is the raw extraction output. Pages[i] holds page i+1.
type Document struct {
	Pages  []string
	Title  string
	Author string
}

// Extractor reads a PDF at path.
type Extractor interface {
	Extract(ctx context.Context, path string) (Document, error)
}

// Backend names accepted by New.
const (
	BackendPDF       = "pdf"
	BackendPdftotext = "pdftotext"
)

// New returns the extractor for the named backend.
func New(backend string) (Extractor, error) {
	switch strings.ToLower(backend) {
	case "", BackendPDF:
		return NewPDFExtractor(), nil
	case BackendPdftotext:
		return NewPdftotextExtractor(), nil
	default:
		return nil, fmt.Errorf("unknown extract backend %q", backend)
	}
}

func extractionError(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrExtraction, path, err)
}
