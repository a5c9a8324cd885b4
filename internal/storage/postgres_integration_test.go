//go:build integration

package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testPostgresURL string

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "paperdex",
				"POSTGRES_PASSWORD": "paperdex",
				"POSTGRES_DB":       "paperdex",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("starting postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("container port: %v", err)
	}
	testPostgresURL = fmt.Sprintf("postgres://paperdex:paperdex@%s:%s/paperdex?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestPostgresDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	p, err := OpenPostgres(ctx, testPostgresURL)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer p.Close()

	d, err := p.CreateDocument(ctx, ProcessedDocument{FileName: "2401.00002.pdf", DocumentID: "doc-2"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := p.CreateDocument(ctx, ProcessedDocument{FileName: "2401.00002.pdf", DocumentID: "dup"}); err == nil {
		t.Error("expected unique violation on duplicate file name")
	}

	d.Status = StatusCompleted
	d.TotalChunks = 7
	d.ProcessedAt = time.Now()
	if err := p.UpdateDocument(ctx, d); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	got, err := p.FindDocumentByFileName(ctx, "2401.00002.pdf")
	if err != nil {
		t.Fatalf("FindDocumentByFileName: %v", err)
	}
	if got.Status != StatusCompleted || got.TotalChunks != 7 {
		t.Errorf("got %+v", got)
	}

	counts, err := p.CountDocumentsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountDocumentsByStatus: %v", err)
	}
	if counts[StatusCompleted] != 1 {
		t.Errorf("completed = %d, want 1", counts[StatusCompleted])
	}

	list, err := p.ListDocuments(ctx, 10)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(list) != 1 || list[0].DocumentID != "doc-2" {
		t.Errorf("ListDocuments = %+v", list)
	}

	if err := p.DeleteDocumentByDocumentID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteDocumentByDocumentID(missing) = %v, want ErrNotFound", err)
	}
	if err := p.DeleteDocument(ctx, got.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := p.FindDocumentByFileName(ctx, "2401.00002.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
