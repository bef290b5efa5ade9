package query

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"
)

// ChunkRetriever returns the context chunks for a question.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, q string, topK int) ([]common.ScoredChunk, error)
}

// Extractor turns a question and its context chunks into typed
// relationships.
type Extractor interface {
	Extract(ctx context.Context, q string, chunks []common.ScoredChunk) (common.Extraction, error)
}

// Pipeline answers a question by retrieving context and extracting
// relationships from it. It only blocks on the store and model calls;
// callers bound latency through ctx.
type Pipeline struct {
	retriever ChunkRetriever
	extractor Extractor
	tracer    Tracer
}

func NewPipeline(retriever ChunkRetriever, extractor Extractor, tracer Tracer) (*Pipeline, error) {
	if retriever == nil || extractor == nil {
		return nil, fmt.Errorf("%w: pipeline needs a retriever and an extractor", common.ErrConfiguration)
	}
	return &Pipeline{retriever: retriever, extractor: extractor, tracer: tracer}, nil
}

// Run retrieves at most topK chunks for q and extracts relationships from
// them. Without any context chunk the model is not called and the
// not-found explanation is returned.
func (p *Pipeline) Run(ctx context.Context, q string, topK int) (common.Extraction, error) {
	start := time.Now()

	chunks, err := p.retriever.Retrieve(ctx, q, topK)
	if err != nil {
		return common.Extraction{}, err
	}
	if len(chunks) == 0 {
		logger.Info("[Query] No context found", "query", q)
		return common.Extraction{
			Query:         q,
			Relationships: []common.Relationship{},
			Explanation:   common.NotFoundExplanation,
			Sources:       []common.ScoredChunk{},
		}, nil
	}

	extraction, err := p.extractor.Extract(ctx, q, chunks)
	if err != nil {
		return common.Extraction{}, err
	}
	if extraction.Sources == nil {
		extraction.Sources = chunks
	}

	RecordUsedSourceIDs(tracerFor(ctx, p.tracer), usedDocumentIDs(extraction)...)
	logger.Info(
		"[Query] Extraction finished",
		"query", q,
		"chunks", len(chunks),
		"relationships", len(extraction.Relationships),
		"duration", time.Since(start),
	)
	return extraction, nil
}

func usedDocumentIDs(e common.Extraction) []string {
	var ids []string
	for _, r := range e.Relationships {
		for _, p := range r.Provenance {
			ids = append(ids, p.DocumentID)
		}
	}
	return ids
}
