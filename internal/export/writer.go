// Package export streams chunk records of a job into one JSON array file.
package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kalambet/paperdex/internal/pipeline"
)

// Chunk positions within a document.
const (
	PositionStart  = "start"
	PositionMiddle = "middle"
	PositionEnd    = "end"
)

// Record is one exported chunk.
type Record struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	Content    string   `json:"content"`
	Metadata   Metadata `json:"metadata"`
}

// Metadata describes where a chunk came from. Title and Author are omitted
// when unknown.
type Metadata struct {
	Source        string `json:"source"`
	Title         string `json:"title,omitempty"`
	Author        string `json:"author,omitempty"`
	PageNumber    int    `json:"page_number"`
	TotalPages    int    `json:"total_pages"`
	ChunkIndex    int    `json:"chunk_index"`
	ChunkPosition string `json:"chunk_position"`
	TokenCount    int    `json:"token_count"`
	CreatedAt     string `json:"created_at"`
}

// Writer appends records to a JSON array file as they arrive. It is not safe
// for concurrent use; one goroutine owns it for the life of a job.
type Writer struct {
	path  string
	file  *os.File
	buf   *bufio.Writer
	count int
	done  bool
}

// Create opens a new export file in dir named after now, e.g.
// "2026-02-12T18-45-30-123.json". An existing file is never overwritten.
func Create(dir string, now time.Time) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}

	base := FileName(now)
	name := base + ".json"
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			w := &Writer{path: f.Name(), file: f, buf: bufio.NewWriterSize(f, 64<<10)}
			if _, err := w.buf.WriteString("["); err != nil {
				w.Abort()
				return nil, err
			}
			return w, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 100 {
			return nil, fmt.Errorf("creating export file: %w", err)
		}
		name = fmt.Sprintf("%s-%d.json", base, i)
	}
}

// FileName formats the timestamp part of an export file name.
func FileName(t time.Time) string {
	return fmt.Sprintf("%s-%03d", t.Format("2006-01-02T15-04-05"), t.Nanosecond()/int(time.Millisecond))
}

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

// Name returns the file's base name.
func (w *Writer) Name() string { return filepath.Base(w.path) }

// Count returns the number of records written so far.
func (w *Writer) Count() int { return w.count }

// Write appends one record.
func (w *Writer) Write(rec Record) error {
	if w.done {
		return errors.New("export writer is closed")
	}
	data, err := json.MarshalIndent(rec, "  ", "  ")
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ID, err)
	}
	sep := ",\n  "
	if w.count == 0 {
		sep = "\n  "
	}
	if _, err := w.buf.WriteString(sep); err != nil {
		return err
	}
	if _, err := w.buf.Write(data); err != nil {
		return err
	}
	w.count++
	return nil
}

// WriteResult appends every chunk of a document in chunk order.
func (w *Writer) WriteResult(res *pipeline.Result) error {
	for _, rec := range Records(res) {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates the array and closes the file.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	tail := "\n]\n"
	if w.count == 0 {
		tail = "]\n"
	}
	if _, err := w.buf.WriteString(tail); err != nil {
		w.file.Close()
		return err
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Abort closes and deletes a partially written file.
func (w *Writer) Abort() {
	if !w.done {
		w.done = true
		w.file.Close()
	}
	os.Remove(w.path)
}

// Records converts a result into export records.
func Records(res *pipeline.Result) []Record {
	total := len(res.Chunks)
	out := make([]Record, 0, total)
	for _, c := range res.Chunks {
		out = append(out, Record{
			ID:         c.ChunkID,
			DocumentID: c.DocumentID,
			Content:    c.Text,
			Metadata: Metadata{
				Source:        res.FileName,
				Title:         res.Title,
				Author:        res.Author,
				PageNumber:    c.PageNumber,
				TotalPages:    res.TotalPages,
				ChunkIndex:    c.ChunkIndex,
				ChunkPosition: position(c.ChunkIndex, total),
				TokenCount:    c.TokenCount,
				CreatedAt:     c.CreatedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	return out
}

func position(index, total int) string {
	switch {
	case index == 0:
		return PositionStart
	case index == total-1:
		return PositionEnd
	default:
		return PositionMiddle
	}
}
