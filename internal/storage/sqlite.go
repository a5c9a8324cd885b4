package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connection settings applied before migrating. The database has a single
// writer so a busy writer makes others wait instead of failing.
var sqlitePragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = WAL",
}

// Store is the SQLite database behind the document audit table and the
// chunk index.
type Store struct {
	db *sql.DB
}

// Open opens paperdex.db inside dataDir, creating the directory if needed,
// and brings its schema up to date. dataDir ":memory:" gives a private
// in-memory database.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "paperdex.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: ":memory:" is per-connection and index commits must serialize.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, pragma := range sqlitePragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := s.migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// DB is shared with the chunk index.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

type migration struct {
	version int
	name    string
}

// loadMigrations lists the embedded scripts ordered by version.
func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		v, err := parseMigrationVersion(e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, migration{version: v, name: e.Name()})
	}
	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	return out, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	applied, err := s.AppliedMigrations()
	if err != nil {
		return err
	}
	all, err := loadMigrations()
	if err != nil {
		return err
	}
	for _, m := range all {
		if slices.Contains(applied, m.version) {
			continue
		}
		if err := s.apply(m); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one script and records it in the same transaction.
func (s *Store) apply(m migration) (err error) {
	script, err := migrationsFS.ReadFile("migrations/" + m.name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", m.name, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.Exec(string(script)); err != nil {
		return fmt.Errorf("applying %s: %w", m.name, err)
	}
	if _, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("recording %s: %w", m.name, err)
	}
	return tx.Commit()
}

// parseMigrationVersion reads the numeric prefix of "NNN_name.sql".
func parseMigrationVersion(filename string) (int, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	v, err := strconv.Atoi(prefix)
	if !ok || err != nil {
		return 0, fmt.Errorf("migration %q has no numeric version prefix", filename)
	}
	return v, nil
}

// AppliedMigrations returns the recorded schema versions, lowest first.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Processed documents ---

const documentColumns = `id, file_name, document_id, status, total_pages, total_chunks, total_tokens,
	title, author, file_size, error_message, processed_at, created_at`

// CreateDocument inserts a new audit record and returns it with its ID set.
// A second record for the same file name violates the unique constraint.
func (s *Store) CreateDocument(ctx context.Context, d ProcessedDocument) (ProcessedDocument, error) {
	if d.Status == "" {
		d.Status = StatusProcessing
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_documents (file_name, document_id, status, total_pages, total_chunks, total_tokens,
			title, author, file_size, error_message, processed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.FileName, d.DocumentID, string(d.Status), d.TotalPages, d.TotalChunks, d.TotalTokens,
		d.Title, d.Author, d.FileSize, Truncate(d.ErrorMessage, MaxErrorLength),
		formatTime(d.ProcessedAt), formatTime(d.CreatedAt),
	)
	if err != nil {
		return ProcessedDocument{}, fmt.Errorf("inserting document %s: %w", d.FileName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ProcessedDocument{}, err
	}
	d.ID = id
	return d, nil
}

// FindDocumentByFileName returns the audit record for fileName or ErrNotFound.
func (s *Store) FindDocumentByFileName(ctx context.Context, fileName string) (ProcessedDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM processed_documents WHERE file_name = ?`, fileName)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ProcessedDocument{}, ErrNotFound
	}
	return d, err
}

// UpdateDocument overwrites the mutable fields of an existing record.
func (s *Store) UpdateDocument(ctx context.Context, d ProcessedDocument) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processed_documents SET status = ?, total_pages = ?, total_chunks = ?, total_tokens = ?,
			title = ?, author = ?, file_size = ?, error_message = ?, processed_at = ?
		WHERE id = ?`,
		string(d.Status), d.TotalPages, d.TotalChunks, d.TotalTokens,
		d.Title, d.Author, d.FileSize, Truncate(d.ErrorMessage, MaxErrorLength), formatTime(d.ProcessedAt),
		d.ID,
	)
	return affectedOne(res, err)
}

// DeleteDocument removes the audit record with the given ID.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_documents WHERE id = ?`, id)
	return affectedOne(res, err)
}

// DeleteDocumentByDocumentID removes the audit record of an ingested
// document so the same file can be ingested again.
func (s *Store) DeleteDocumentByDocumentID(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_documents WHERE document_id = ?`, documentID)
	return affectedOne(res, err)
}

// ListDocuments returns the most recently created records first.
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]ProcessedDocument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM processed_documents ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ProcessedDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// CountDocumentsByStatus groups audit records by status.
func (s *Store) CountDocumentsByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM processed_documents GROUP BY status`)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (ProcessedDocument, error) {
	var d ProcessedDocument
	var status, processedAt, createdAt string
	err := row.Scan(&d.ID, &d.FileName, &d.DocumentID, &status, &d.TotalPages, &d.TotalChunks, &d.TotalTokens,
		&d.Title, &d.Author, &d.FileSize, &d.ErrorMessage, &processedAt, &createdAt)
	if err != nil {
		return ProcessedDocument{}, err
	}
	d.Status = DocumentStatus(status)
	if d.ProcessedAt, err = parseTime(processedAt); err != nil {
		return ProcessedDocument{}, fmt.Errorf("parsing processed_at: %w", err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return ProcessedDocument{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return d, nil
}

// timeLayout keeps a fixed fraction width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// affectedOne turns a statement that touched no rows into ErrNotFound.
func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
