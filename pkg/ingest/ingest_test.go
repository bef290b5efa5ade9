package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/biorel/backend/pkg/ai/aitest"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/loader"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store/memory"
)

const testDim = 16

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func newTestIngestor(t *testing.T, client *aitest.Client, vs *memory.VectorStore, processed string) *Ingestor {
	t.Helper()
	var archiver loader.Archiver
	if processed != "" {
		a, err := loader.NewDirArchiver(processed)
		if err != nil {
			t.Fatalf("archiver: %v", err)
		}
		archiver = a
	}
	ing, err := NewIngestor(NewIngestorParams{
		AIClient: client,
		Store:    vs,
		Archiver: archiver,
		Chunker:  NewChunker(NewChunkerParams{MaxTokens: 8}),
	})
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	return ing
}

func TestIngestIsIdempotent(t *testing.T) {
	pending := t.TempDir()
	processed := t.TempDir()
	writeFile(t, pending, "paper1.txt", "S. fradiae produces tylosin. Tylosin inhibits bacterial growth.")
	writeFile(t, pending, "paper1.json", `{"title": "Tylosin biosynthesis", "authors": ["A", "B"]}`)
	writeFile(t, pending, "paper2.txt", "Geosmin is produced by Streptomyces coelicolor.")

	vs := memory.NewVectorStore(testDim)
	ing := newTestIngestor(t, aitest.New(testDim), vs, processed)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, pending)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %v", res.Documents)
	}
	if res.Chunks == 0 || vs.Len() != res.Chunks {
		t.Fatalf("chunks = %d, store holds %d", res.Chunks, vs.Len())
	}
	if len(res.Archived) != 3 {
		t.Fatalf("expected 3 archived files, got %v", res.Archived)
	}

	left, err := loader.Scan(pending)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("pending directory should be empty, found %v", left)
	}
	if _, err := os.Stat(filepath.Join(processed, "paper1.json")); err != nil {
		t.Fatalf("sidecar not archived: %v", err)
	}

	stored := vs.Len()
	if _, err := ing.Ingest(ctx, pending); !errors.Is(err, common.ErrNoDocuments) {
		t.Fatalf("second run should find no documents, got %v", err)
	}
	if vs.Len() != stored {
		t.Fatalf("second run changed the store: %d -> %d", stored, vs.Len())
	}
}

func TestIngestCarriesSidecarMetadata(t *testing.T) {
	pending := t.TempDir()
	writeFile(t, pending, "p.txt", "Tylosin is a macrolide.")
	writeFile(t, pending, "p.json", `{"title": "Macrolides", "source_id": "PMC42"}`)

	vs := memory.NewVectorStore(testDim)
	ing := newTestIngestor(t, aitest.New(testDim), vs, t.TempDir())
	res, err := ing.Ingest(context.Background(), pending)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Documents) != 1 || res.Documents[0] != "PMC42" {
		t.Fatalf("unexpected documents %v", res.Documents)
	}

	hits, err := vs.Search(context.Background(), store.SearchRequest{Mode: store.SearchSparse, Text: "macrolide", TopK: 1})
	if err != nil || len(hits) != 1 {
		t.Fatalf("search: %v %v", hits, err)
	}
	c := hits[0].Chunk
	if c.ID != "PMC42:0" || c.Metadata[common.MetaTitle] != "Macrolides" || c.Metadata[common.MetaFileName] != "p.txt" {
		t.Fatalf("unexpected chunk %+v", c)
	}
}

func TestIngestIsAllOrNothing(t *testing.T) {
	pending := t.TempDir()
	processed := t.TempDir()
	writeFile(t, pending, "a.txt", "Tylosin is produced by S. fradiae.")
	writeFile(t, pending, "b.txt", "This poison chunk cannot be embedded.")

	client := aitest.New(testDim)
	client.FailEmbedOn = "poison"
	vs := memory.NewVectorStore(testDim)
	ing := newTestIngestor(t, client, vs, processed)

	_, err := ing.Ingest(context.Background(), pending)
	var stageErr *common.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Stage != StageEmbed || stageErr.Unit != "b" {
		t.Fatalf("unexpected stage error %+v", stageErr)
	}
	if !errors.Is(err, common.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if vs.Len() != 0 {
		t.Fatalf("store should be empty after failed batch, holds %d", vs.Len())
	}
	left, _ := loader.Scan(pending)
	if len(left) != 2 {
		t.Fatalf("no file should be archived, pending = %v", left)
	}
}

func TestIngestArchiveFailureKeepsBatchPending(t *testing.T) {
	pending := t.TempDir()
	processed := t.TempDir()
	writeFile(t, pending, "a.txt", "Tylosin is produced by S. fradiae.")
	writeFile(t, pending, "b.txt", "Geosmin is produced by Streptomyces coelicolor.")
	blocker := filepath.Join(processed, "b.txt")
	if err := os.MkdirAll(filepath.Join(blocker, "taken"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	vs := memory.NewVectorStore(testDim)
	ing := newTestIngestor(t, aitest.New(testDim), vs, processed)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, pending)
	var stageErr *common.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageArchive {
		t.Fatalf("expected archive StageError, got %v", err)
	}
	left, _ := loader.Scan(pending)
	if len(left) != 2 {
		t.Fatalf("both files should stay pending, found %v", left)
	}
	if _, err := os.Stat(filepath.Join(processed, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("a.txt must not be archived by a failed batch")
	}
	chunks := vs.Len()

	if err := os.RemoveAll(blocker); err != nil {
		t.Fatalf("remove blocker: %v", err)
	}
	res, err := ing.Ingest(ctx, pending)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if len(res.Archived) != 2 || vs.Len() != chunks {
		t.Fatalf("archived = %v, chunks = %d want %d", res.Archived, vs.Len(), chunks)
	}
}

func TestIngestDimensionMismatch(t *testing.T) {
	pending := t.TempDir()
	writeFile(t, pending, "a.txt", "Tylosin is produced by S. fradiae.")

	ing := newTestIngestor(t, aitest.New(4), memory.NewVectorStore(testDim), t.TempDir())
	_, err := ing.Ingest(context.Background(), pending)
	if !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestIngestEmptyDirectory(t *testing.T) {
	ing := newTestIngestor(t, aitest.New(testDim), memory.NewVectorStore(testDim), "")
	res, err := ing.Ingest(context.Background(), t.TempDir())
	if !errors.Is(err, common.ErrNoDocuments) {
		t.Fatalf("expected ErrNoDocuments, got %v", err)
	}
	if len(res.Documents) != 0 || res.Chunks != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestAddDocumentUpsertsInPlace(t *testing.T) {
	vs := memory.NewVectorStore(testDim)
	ing := newTestIngestor(t, aitest.New(testDim), vs, "")
	doc := common.Document{ID: "manual-1", Text: "Geosmin is produced by Streptomyces. It smells earthy."}

	first, err := ing.AddDocument(context.Background(), doc)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if _, err := ing.AddDocument(context.Background(), doc); err != nil {
		t.Fatalf("AddDocument again: %v", err)
	}
	if vs.Len() != first.Chunks {
		t.Fatalf("resubmission duplicated chunks: %d stored, %d expected", vs.Len(), first.Chunks)
	}

	if _, err := ing.AddDocument(context.Background(), common.Document{Text: "no id"}); err == nil {
		t.Fatal("expected error for document without id")
	}
	if _, err := ing.AddDocument(context.Background(), common.Document{ID: "blank", Text: "  "}); !errors.Is(err, common.ErrNoDocuments) {
		t.Fatalf("expected ErrNoDocuments for empty text, got %v", err)
	}

	res, err := ing.AddDocument(context.Background(), common.Document{
		Text:     "Tylosin is produced by Streptomyces fradiae.",
		Metadata: map[string]string{common.MetaSourceID: "PMC7"},
	})
	if err != nil {
		t.Fatalf("AddDocument with source id: %v", err)
	}
	if len(res.Documents) != 1 || res.Documents[0] != "PMC7" {
		t.Fatalf("documents = %v", res.Documents)
	}
}

func TestNewIngestorRequiresDependencies(t *testing.T) {
	if _, err := NewIngestor(NewIngestorParams{Store: memory.NewVectorStore(testDim)}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error without ai client, got %v", err)
	}
	if _, err := NewIngestor(NewIngestorParams{AIClient: aitest.New(testDim)}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error without store, got %v", err)
	}
}
