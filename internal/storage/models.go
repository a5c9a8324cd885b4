package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DocumentStatus is the lifecycle state of an audit record.
type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusCompleted  DocumentStatus = "COMPLETED"
	StatusFailed     DocumentStatus = "FAILED"
)

// MaxErrorLength bounds the error text persisted on a failed record.
const MaxErrorLength = 2000

// ProcessedDocument is the audit record kept per ingested file. FileName is
// unique and is the deduplication key across jobs.
type ProcessedDocument struct {
	ID           int64
	FileName     string
	DocumentID   string
	Status       DocumentStatus
	TotalPages   int
	TotalChunks  int
	TotalTokens  int
	Title        string
	Author       string
	FileSize     int64
	ErrorMessage string
	ProcessedAt  time.Time
	CreatedAt    time.Time
}

// StatusCounts maps each document status to the number of records in it.
type StatusCounts map[DocumentStatus]int

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
