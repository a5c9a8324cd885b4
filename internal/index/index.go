// Package index stores chunks in SQLite and answers full-text queries with
// FTS5 and bm25 ranking.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/kalambet/paperdex/internal/chunking"
)

// Hit is one ranked search result. Higher Score is better.
type Hit struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	Content    string  `json:"content"`
	PageNumber int     `json:"pageNumber"`
	ChunkIndex int     `json:"chunkIndex"`
	TokenCount int     `json:"tokenCount"`
	Score      float64 `json:"score"`
}

// Stats summarises chunk sizes across the index.
type Stats struct {
	TotalChunks    int            `json:"totalChunks"`
	TotalDocuments int            `json:"totalDocuments"`
	MinTokens      int            `json:"minTokens"`
	MaxTokens      int            `json:"maxTokens"`
	AvgTokens      float64        `json:"avgTokens"`
	SizeBuckets    map[string]int `json:"sizeDistribution"`
}

// SQLiteIndex keeps chunk rows in "chunks" and their text in the "chunks_fts"
// virtual table, linked by rowid. Both tables are created by storage migrations.
type SQLiteIndex struct {
	db *sql.DB
}

// New wraps a database handle opened by storage.Open.
func New(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// IndexChunks adds chunks in one transaction, committed once.
func (x *SQLiteIndex) IndexChunks(ctx context.Context, chunks []chunking.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	rowStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, document_id, content, page_number, chunk_index, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer rowStmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks_fts (rowid, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing fts insert: %w", err)
	}
	defer ftsStmt.Close()

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		res, err := rowStmt.ExecContext(ctx, c.ChunkID, c.DocumentID, c.Text, c.PageNumber, c.ChunkIndex, c.TokenCount,
			createdAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ChunkID, err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := ftsStmt.ExecContext(ctx, rowID, c.Text); err != nil {
			return fmt.Errorf("indexing chunk %s: %w", c.ChunkID, err)
		}
	}

	return tx.Commit()
}

// DeleteByDocumentID removes every chunk of a document and returns how many
// were removed.
func (x *SQLiteIndex) DeleteByDocumentID(ctx context.Context, documentID string) (int64, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE rowid IN (SELECT rowid FROM chunks WHERE document_id = ?)`, documentID); err != nil {
		return 0, fmt.Errorf("deleting fts rows: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// Count returns the number of indexed chunks.
func (x *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Search returns up to topK chunks matching any term of query, best first,
// optionally restricted to one document.
func (x *SQLiteIndex) Search(ctx context.Context, query string, topK int, documentID string) ([]Hit, error) {
	match := matchExpression(query)
	if match == "" || topK <= 0 {
		return nil, nil
	}

	q := `
		SELECT c.chunk_id, c.document_id, c.content, c.page_number, c.chunk_index, c.token_count, bm25(chunks_fts)
		FROM chunks_fts JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?`
	args := []any{match}
	if documentID != "" {
		q += ` AND c.document_id = ?`
		args = append(args, documentID)
	}
	q += ` ORDER BY bm25(chunks_fts) LIMIT ?`
	args = append(args, topK)

	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var rank float64
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Content, &h.PageNumber, &h.ChunkIndex, &h.TokenCount, &rank); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		// bm25() is lower-is-better.
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// matchExpression quotes each whitespace-separated term so user input never
// reaches the FTS5 query grammar, and ORs the terms together. Terms without
// any letter or digit would tokenize to nothing and are dropped.
func matchExpression(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if strings.IndexFunc(t, isWordRune) < 0 {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// Stats reports chunk size statistics. Buckets are <50, 50-99, 100-199,
// 200-399 and 400+ tokens.
func (x *SQLiteIndex) Stats(ctx context.Context) (Stats, error) {
	st := Stats{SizeBuckets: map[string]int{
		"<50": 0, "50-99": 0, "100-199": 0, "200-399": 0, "400+": 0,
	}}

	var minTok, maxTok sql.NullInt64
	var avgTok sql.NullFloat64
	err := x.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT document_id), MIN(token_count), MAX(token_count), AVG(token_count)
		FROM chunks`).Scan(&st.TotalChunks, &st.TotalDocuments, &minTok, &maxTok, &avgTok)
	if err != nil {
		return Stats{}, fmt.Errorf("querying chunk stats: %w", err)
	}
	st.MinTokens = int(minTok.Int64)
	st.MaxTokens = int(maxTok.Int64)
	st.AvgTokens = avgTok.Float64

	rows, err := x.db.QueryContext(ctx, `
		SELECT CASE
			WHEN token_count < 50 THEN '<50'
			WHEN token_count < 100 THEN '50-99'
			WHEN token_count < 200 THEN '100-199'
			WHEN token_count < 400 THEN '200-399'
			ELSE '400+'
		END AS bucket, COUNT(*)
		FROM chunks GROUP BY bucket`)
	if err != nil {
		return Stats{}, fmt.Errorf("querying size buckets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bucket string
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return Stats{}, err
		}
		st.SizeBuckets[bucket] = n
	}
	return st, rows.Err()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
