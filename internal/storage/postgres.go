package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS processed_documents (
    id            BIGSERIAL PRIMARY KEY,
    file_name     TEXT NOT NULL UNIQUE,
    document_id   TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'PROCESSING',
    total_pages   INTEGER NOT NULL DEFAULT 0,
    total_chunks  INTEGER NOT NULL DEFAULT 0,
    total_tokens  INTEGER NOT NULL DEFAULT 0,
    title         TEXT NOT NULL DEFAULT '',
    author        TEXT NOT NULL DEFAULT '',
    file_size     BIGINT NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    processed_at  TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_processed_documents_status ON processed_documents(status);
`

// PostgresStore keeps the document audit table in PostgreSQL. The chunk
// index stays in SQLite; only the audit records move.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects through the pgx stdlib driver and creates the audit
// table when missing.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres url is empty")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) CreateDocument(ctx context.Context, d ProcessedDocument) (ProcessedDocument, error) {
	if d.Status == "" {
		d.Status = StatusProcessing
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO processed_documents (file_name, document_id, status, total_pages, total_chunks, total_tokens,
			title, author, file_size, error_message, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		d.FileName, d.DocumentID, string(d.Status), d.TotalPages, d.TotalChunks, d.TotalTokens,
		d.Title, d.Author, d.FileSize, Truncate(d.ErrorMessage, MaxErrorLength), nullTime(d.ProcessedAt), d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		return ProcessedDocument{}, fmt.Errorf("inserting document %s: %w", d.FileName, err)
	}
	return d, nil
}

func (p *PostgresStore) FindDocumentByFileName(ctx context.Context, fileName string) (ProcessedDocument, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM processed_documents WHERE file_name = $1`, fileName)
	d, err := scanPostgresDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ProcessedDocument{}, ErrNotFound
	}
	return d, err
}

func (p *PostgresStore) UpdateDocument(ctx context.Context, d ProcessedDocument) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE processed_documents SET status = $1, total_pages = $2, total_chunks = $3, total_tokens = $4,
			title = $5, author = $6, file_size = $7, error_message = $8, processed_at = $9
		WHERE id = $10`,
		string(d.Status), d.TotalPages, d.TotalChunks, d.TotalTokens,
		d.Title, d.Author, d.FileSize, Truncate(d.ErrorMessage, MaxErrorLength), nullTime(d.ProcessedAt),
		d.ID,
	)
	return affectedOne(res, err)
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM processed_documents WHERE id = $1`, id)
	return affectedOne(res, err)
}

func (p *PostgresStore) DeleteDocumentByDocumentID(ctx context.Context, documentID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM processed_documents WHERE document_id = $1`, documentID)
	return affectedOne(res, err)
}

func (p *PostgresStore) ListDocuments(ctx context.Context, limit int) ([]ProcessedDocument, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM processed_documents ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ProcessedDocument
	for rows.Next() {
		d, err := scanPostgresDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (p *PostgresStore) CountDocumentsByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM processed_documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(StatusCounts)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[DocumentStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanPostgresDocument(row rowScanner) (ProcessedDocument, error) {
	var d ProcessedDocument
	var status string
	var processedAt sql.NullTime
	err := row.Scan(&d.ID, &d.FileName, &d.DocumentID, &status, &d.TotalPages, &d.TotalChunks, &d.TotalTokens,
		&d.Title, &d.Author, &d.FileSize, &d.ErrorMessage, &processedAt, &d.CreatedAt)
	if err != nil {
		return ProcessedDocument{}, err
	}
	d.Status = DocumentStatus(status)
	if processedAt.Valid {
		d.ProcessedAt = processedAt.Time
	}
	return d, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
