package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/paperdex/internal/chunking"
	"github.com/kalambet/paperdex/internal/storage"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s.DB())
}

func makeChunks(docID string, texts ...string) []chunking.Chunk {
	chunks := make([]chunking.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunking.Chunk{
			ChunkID:    fmt.Sprintf("%s_p1_c%d_abcdef%02d", docID, i, i),
			DocumentID: docID,
			Text:       text,
			PageNumber: 1,
			ChunkIndex: i,
			TokenCount: chunking.CountTokens(text),
			CreatedAt:  time.Now(),
		}
	}
	return chunks
}

func TestIndexAndCount(t *testing.T) {
	x := openTestIndex(t)
	ctx := context.Background()

	if err := x.IndexChunks(ctx, makeChunks("doc-a", "transformers use attention", "recurrent networks")); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}
	if err := x.IndexChunks(ctx, nil); err != nil {
		t.Fatalf("IndexChunks(nil): %v", err)
	}

	n, err := x.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestIndexChunksAtomic(t *testing.T) {
	x := openTestIndex(t)
	ctx := context.Background()

	chunks := makeChunks("doc-a", "one", "two")
	chunks[1].ChunkID = chunks[0].ChunkID
	if err := x.IndexChunks(ctx, chunks); err == nil {
		t.Fatal("expected duplicate chunk id error")
	}
	if n, _ := x.Count(ctx); n != 0 {
		t.Errorf("Count = %d after failed batch, want 0", n)
	}
}

func TestSearch(t *testing.T) {
	x := openTestIndex(t)
	ctx := context.Background()

	x.IndexChunks(ctx, makeChunks("doc-a", "attention is all you need", "convolutional networks for images"))
	x.IndexChunks(ctx, makeChunks("doc-b", "self attention attention everywhere", "graph neural networks"))

	hits, err := x.Search(ctx, "attention", 10, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not sorted best first: %v then %v", hits[0].Score, hits[1].Score)
	}

	filtered, err := x.Search(ctx, "attention networks", 10, "doc-b")
	if err != nil {
		t.Fatalf("Search filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("len(filtered) = %d, want 2", len(filtered))
	}
	for _, h := range filtered {
		if h.DocumentID != "doc-b" {
			t.Errorf("hit from %s leaked through document filter", h.DocumentID)
		}
	}

	limited, err := x.Search(ctx, "networks", 1, "")
	if err != nil {
		t.Fatalf("Search limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}

func TestSearchEscapesQuerySyntax(t *testing.T) {
	x := openTestIndex(t)
	ctx := context.Background()
	x.IndexChunks(ctx, makeChunks("doc-a", "quoted \"text\" here"))

	for _, q := range []string{`"unbalanced`, `NEAR(a b)`, `col:value`, `a AND`} {
		if _, err := x.Search(ctx, q, 5, ""); err != nil {
			t.Errorf("Search(%q): %v", q, err)
		}
	}
	for _, q := range []string{"   ", "* ()"} {
		if hits, _ := x.Search(ctx, q, 5, ""); hits != nil {
			t.Errorf("Search(%q) returned %d hits, want none", q, len(hits))
		}
	}
}

func TestDeleteByDocumentID(t *testing.T) {
	x := openTestIndex(t)
	ctx := context.Background()

	x.IndexChunks(ctx, makeChunks("doc-a", "alpha beta", "gamma delta"))
	x.IndexChunks(ctx, makeChunks("doc-b", "alpha omega"))

	n, err := x.DeleteByDocumentID(ctx, "doc-a")
	if err != nil {
		t.Fatalf("DeleteByDocumentID: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	hits, err := x.Search(ctx, "alpha", 10, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocumentID != "doc-b" {
		t.Errorf("hits after delete = %+v, want only doc-b", hits)
	}

	if n, _ := x.DeleteByDocumentID(ctx, "missing"); n != 0 {
		t.Errorf("deleted missing = %d, want 0", n)
	}
}

func TestStats(t *testing.T) {
	x := openTestIndex(t)
	ctx := context.Background()

	st, err := x.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats on empty index: %v", err)
	}
	if st.TotalChunks != 0 {
		t.Errorf("TotalChunks = %d, want 0", st.TotalChunks)
	}

	chunks := makeChunks("doc-a", "a", "b", "c")
	chunks[0].TokenCount = 10
	chunks[1].TokenCount = 150
	chunks[2].TokenCount = 400
	x.IndexChunks(ctx, chunks)

	st, err = x.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalChunks != 3 || st.TotalDocuments != 1 {
		t.Errorf("totals = %d chunks / %d docs, want 3/1", st.TotalChunks, st.TotalDocuments)
	}
	if st.MinTokens != 10 || st.MaxTokens != 400 {
		t.Errorf("min/max = %d/%d, want 10/400", st.MinTokens, st.MaxTokens)
	}
	if st.SizeBuckets["<50"] != 1 || st.SizeBuckets["100-199"] != 1 || st.SizeBuckets["400+"] != 1 {
		t.Errorf("buckets = %v", st.SizeBuckets)
	}
}
