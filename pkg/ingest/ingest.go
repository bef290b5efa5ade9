package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/biorel/backend/pkg/ai"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/loader"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"
)

const (
	StageLoad    = "load"
	StageEmbed   = "embed"
	StageUpsert  = "upsert"
	StageArchive = "archive"
)

type NewIngestorParams struct {
	AIClient ai.GraphAIClient
	Store    store.VectorStore
	Archiver loader.Archiver
	Chunker  *Chunker
}

// Ingestor moves pending documents into the vector store.
type Ingestor struct {
	aiClient ai.GraphAIClient
	store    store.VectorStore
	archiver loader.Archiver
	chunker  *Chunker
}

// Result summarizes one ingestion run.
type Result struct {
	Documents []string `json:"documents"`
	Chunks    int      `json:"chunks"`
	Archived  []string `json:"archived"`
}

func NewIngestor(params NewIngestorParams) (*Ingestor, error) {
	if params.AIClient == nil {
		return nil, fmt.Errorf("%w: ingestor needs an ai client", common.ErrConfiguration)
	}
	if params.Store == nil {
		return nil, fmt.Errorf("%w: ingestor needs a vector store", common.ErrConfiguration)
	}
	chunker := params.Chunker
	if chunker == nil {
		chunker = NewChunker(NewChunkerParams{})
	}
	return &Ingestor{
		aiClient: params.AIClient,
		store:    params.Store,
		archiver: params.Archiver,
		chunker:  chunker,
	}, nil
}

// Ingest embeds every pending document of dir and archives the consumed
// files. The batch is all-or-nothing: when any document fails to embed or
// the store rejects the batch, no chunk is written and no file is archived.
func (i *Ingestor) Ingest(ctx context.Context, dir string) (Result, error) {
	files, err := loader.Scan(dir)
	if err != nil {
		return Result{}, &common.StageError{Stage: StageLoad, Unit: dir, Err: err}
	}
	if len(files) == 0 {
		logger.Info("[Ingest] No pending documents", "dir", dir)
		return Result{}, common.ErrNoDocuments
	}

	docs := make([]common.Document, 0, len(files))
	var paths []string
	for _, f := range files {
		doc, err := loader.Load(ctx, f)
		if err != nil {
			return Result{}, &common.StageError{Stage: StageLoad, Unit: f.TextPath, Err: err}
		}
		docs = append(docs, doc)
		paths = append(paths, f.Paths()...)
	}

	logger.Info("[Ingest] Processing pending documents", "dir", dir, "documents", len(docs))
	res, err := i.process(ctx, docs)
	if err != nil {
		return Result{}, err
	}

	if i.archiver == nil {
		return res, nil
	}
	// A failed archive leaves every file pending. The chunks stay upserted
	// and the next run writes them in place again.
	archived, err := i.archiver.Archive(ctx, paths)
	if err != nil {
		return Result{}, &common.StageError{Stage: StageArchive, Unit: dir, Err: err}
	}
	res.Archived = archived
	logger.Info("[Ingest] Archived consumed files", "files", len(archived))
	return res, nil
}

// AddDocument embeds a single document submitted directly. Nothing is
// archived. Without an id the source_id metadata names the document.
func (i *Ingestor) AddDocument(ctx context.Context, doc common.Document) (Result, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return Result{}, common.ErrNoDocuments
	}
	doc.ID = strings.TrimSpace(doc.ID)
	if doc.ID == "" {
		doc.ID = strings.TrimSpace(doc.Metadata[common.MetaSourceID])
	}
	if doc.ID == "" {
		return Result{}, &common.StageError{Stage: StageLoad, Err: errors.New("document id is empty")}
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	return i.process(ctx, []common.Document{doc})
}

func (i *Ingestor) process(ctx context.Context, docs []common.Document) (Result, error) {
	res := Result{Documents: make([]string, 0, len(docs))}
	var all []common.Chunk

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		chunks := i.chunker.Split(doc)
		if len(chunks) == 0 {
			logger.Warn("[Ingest] Document has no text", "document", doc.ID)
			res.Documents = append(res.Documents, doc.ID)
			continue
		}

		err := store.EmbedChunks(ctx, i.aiClient, chunks, i.store.Dimensions())
		if errors.Is(err, common.ErrConfiguration) {
			return Result{}, &common.StageError{Stage: StageEmbed, Store: i.store.Name(), Unit: doc.ID, Err: err}
		}
		if err != nil {
			return Result{}, common.Connectivity(StageEmbed, "ai", doc.ID, err)
		}

		logger.Debug("[Ingest] Embedded document", "document", doc.ID, "chunks", len(chunks))
		all = append(all, chunks...)
		res.Documents = append(res.Documents, doc.ID)
	}

	if len(all) > 0 {
		if err := i.store.UpsertChunks(ctx, all); err != nil {
			return Result{}, common.Connectivity(StageUpsert, i.store.Name(), strings.Join(res.Documents, ","), err)
		}
	}
	res.Chunks = len(all)

	logger.Info("[Ingest] Stored chunks", "documents", len(res.Documents), "chunks", res.Chunks)
	return res, nil
}
