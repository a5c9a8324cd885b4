// Package chunking splits page-structured document text into overlapping,
// token-bounded chunks that prefer to end on sentence boundaries.
package chunking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Chunk is a contiguous window of tokens taken from one document.
type Chunk struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	PageNumber int       `json:"page_number"`
	ChunkIndex int       `json:"chunk_index"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Config holds chunk sizing in whitespace-delimited tokens.
type Config struct {
	ChunkSize        int
	Overlap          int
	MinChunkSize     int
	SentenceLookback int
}

// DefaultConfig returns 400-token chunks with a 50-token overlap.
func DefaultConfig() Config {
	return Config{
		ChunkSize:        400,
		Overlap:          50,
		MinChunkSize:     100,
		SentenceLookback: 50,
	}
}

// Chunker is stateless apart from its configuration and safe for concurrent use.
type Chunker struct {
	cfg Config
	now func() time.Time
}

// New creates a Chunker. Non-positive sizes fall back to the defaults and a
// negative overlap or lookback is treated as zero.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.SentenceLookback < 0 {
		cfg.SentenceLookback = 0
	}
	return &Chunker{cfg: cfg, now: time.Now}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// span is a half-open token range [start, end).
type span struct {
	start, end int
}

// ChunkDocument splits pageTexts (index i is page i+1) into chunks. Chunks
// cover the concatenated token stream in order; consecutive chunks share at
// most Overlap tokens. Returns nil when the document has no tokens.
func (c *Chunker) ChunkDocument(pageTexts []string, documentID string) []Chunk {
	var tokens []string
	pageEnd := make([]int, 0, len(pageTexts))
	for _, page := range pageTexts {
		tokens = append(tokens, strings.Fields(page)...)
		pageEnd = append(pageEnd, len(tokens))
	}
	if len(tokens) == 0 {
		return nil
	}

	spans := c.windows(tokens)
	createdAt := c.now().UTC()
	chunks := make([]Chunk, 0, len(spans))
	for i, sp := range spans {
		page := pageForSpan(sp, pageEnd)
		chunks = append(chunks, Chunk{
			ChunkID:    chunkID(documentID, page, i),
			DocumentID: documentID,
			Text:       strings.Join(tokens[sp.start:sp.end], " "),
			PageNumber: page,
			ChunkIndex: i,
			TokenCount: sp.end - sp.start,
			CreatedAt:  createdAt,
		})
	}
	return chunks
}

// windows computes the chunk boundaries over the token stream.
func (c *Chunker) windows(tokens []string) []span {
	n := len(tokens)
	if n < c.cfg.MinChunkSize {
		return []span{{0, n}}
	}

	var spans []span
	start := 0
	for start < n {
		end := min(start+c.cfg.ChunkSize, n)
		if end < n {
			end = c.sentenceEnd(tokens, start, end)
		}
		if end-start < c.cfg.MinChunkSize && end < n {
			end = min(start+c.cfg.MinChunkSize, n)
		}

		spans = append(spans, span{start, end})
		if end >= n {
			break
		}

		next := end - c.cfg.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// sentenceEnd searches backwards from target for a token ending a sentence,
// never looking further back than SentenceLookback tokens nor producing a
// chunk shorter than MinChunkSize. It returns the exclusive end index.
func (c *Chunker) sentenceEnd(tokens []string, start, target int) int {
	floor := max(start+c.cfg.MinChunkSize, target-c.cfg.SentenceLookback)
	for i := target - 1; i >= floor; i-- {
		if endsSentence(tokens[i]) {
			return i + 1
		}
	}
	return target
}

func endsSentence(token string) bool {
	switch token[len(token)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// pageForSpan attributes a chunk to the page containing its midpoint token.
func pageForSpan(sp span, pageEnd []int) int {
	mid := (sp.start + sp.end) / 2
	for i, end := range pageEnd {
		if mid < end {
			return i + 1
		}
	}
	return len(pageEnd)
}

func chunkID(documentID string, page, index int) string {
	return fmt.Sprintf("%s_p%d_c%d_%s", documentID, page, index, uuid.NewString()[:8])
}

// CountTokens returns the number of whitespace-delimited tokens in text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}
