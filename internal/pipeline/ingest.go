// Package pipeline takes one PDF from extraction through sanitising and
// chunking to an indexed, audit-ready result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/paperdex/internal/chunking"
	"github.com/kalambet/paperdex/internal/extract"
	"github.com/kalambet/paperdex/internal/sanitize"
)

// ErrIndex marks a failure handing chunks to the index.
var ErrIndex = errors.New("indexing failed")

// Indexer receives the chunks of one document in a single batch.
type Indexer interface {
	IndexChunks(ctx context.Context, chunks []chunking.Chunk) error
}

// Result is the immutable outcome of ingesting one document.
type Result struct {
	DocumentID  string
	FileName    string
	TotalPages  int
	TotalTokens int
	Title       string
	Author      string
	Chunks      []chunking.Chunk
}

// Pipeline runs extract, clean, chunk and index for a single document.
type Pipeline struct {
	extractor extract.Extractor
	chunker   *chunking.Chunker
	indexer   Indexer
	clean     func(string) string
	logger    *slog.Logger
}

// New creates a Pipeline. Page text is cleaned with sanitize.FullClean.
func New(extractor extract.Extractor, chunker *chunking.Chunker, indexer Indexer) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		chunker:   chunker,
		indexer:   indexer,
		clean:     sanitize.FullClean,
		logger:    slog.Default(),
	}
}

// Ingest processes the PDF at source. displayName defaults to the base name
// of source and a blank documentID is replaced by a fresh UUID.
//
//  1. Extract per-page text and metadata
//  2. Clean each page
//  3. Chunk the cleaned pages
//  4. Index all chunks with one commit
//
// Extraction failures wrap extract.ErrExtraction; index failures wrap ErrIndex.
func (p *Pipeline) Ingest(ctx context.Context, source, displayName, documentID string) (*Result, error) {
	start := time.Now()
	if strings.TrimSpace(documentID) == "" {
		documentID = uuid.NewString()
	}
	if displayName == "" {
		displayName = filepath.Base(source)
	}

	// 1. Extract.
	doc, err := p.extractor.Extract(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", displayName, err)
	}

	// 2. Clean.
	pages := make([]string, len(doc.Pages))
	for i, raw := range doc.Pages {
		pages[i] = p.clean(raw)
	}

	// 3. Chunk.
	chunks := p.chunker.ChunkDocument(pages, documentID)

	// 4. Index.
	if err := p.indexer.IndexChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIndex, displayName, err)
	}

	total := 0
	for _, c := range chunks {
		total += c.TokenCount
	}

	p.logger.Debug("document ingested",
		"file", displayName,
		"document_id", documentID,
		"pages", len(pages),
		"chunks", len(chunks),
		"tokens", total,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		DocumentID:  documentID,
		FileName:    displayName,
		TotalPages:  len(pages),
		TotalTokens: total,
		Title:       p.clean(doc.Title),
		Author:      p.clean(doc.Author),
		Chunks:      chunks,
	}, nil
}
