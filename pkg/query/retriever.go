package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/pkg/ai"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultTopK    = 5
	StageRetrieve  = "retrieve"
	embeddingStore = "embedding"
)

type NewRetrieverParams struct {
	AIClient     ai.GraphAIClient
	Store        store.VectorStore
	DenseWeight  float64
	SparseWeight float64
	Tracer       Tracer
}

// Retriever runs dense and sparse search concurrently and fuses the two
// rankings.
type Retriever struct {
	aiClient     ai.GraphAIClient
	store        store.VectorStore
	denseWeight  float64
	sparseWeight float64
	tracer       Tracer
}

func NewRetriever(params NewRetrieverParams) (*Retriever, error) {
	if params.AIClient == nil {
		return nil, fmt.Errorf("%w: retriever needs an ai client", common.ErrConfiguration)
	}
	if params.Store == nil {
		return nil, fmt.Errorf("%w: retriever needs a vector store", common.ErrConfiguration)
	}
	if params.DenseWeight < 0 || params.SparseWeight < 0 {
		return nil, fmt.Errorf("%w: retrieval weights must not be negative", common.ErrConfiguration)
	}
	return &Retriever{
		aiClient:     params.AIClient,
		store:        params.Store,
		denseWeight:  params.DenseWeight,
		sparseWeight: params.SparseWeight,
		tracer:       params.Tracer,
	}, nil
}

// Retrieve returns at most topK chunks for q. A failure of either strategy
// fails the whole request.
func (r *Retriever) Retrieve(ctx context.Context, q string, topK int) ([]common.ScoredChunk, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errors.New("query is empty")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	tracer := tracerFor(ctx, r.tracer)
	var dense, sparse []common.ScoredChunk
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		start := time.Now()
		res, err := r.dense(gCtx, q, topK)
		RecordStrategyResult(tracer, string(store.SearchDense), chunkIDs(res), time.Since(start).Milliseconds(), err)
		dense = res
		return err
	})
	g.Go(func() error {
		start := time.Now()
		res, err := r.search(gCtx, store.SearchRequest{Mode: store.SearchSparse, Text: q, TopK: topK})
		RecordStrategyResult(tracer, string(store.SearchSparse), chunkIDs(res), time.Since(start).Milliseconds(), err)
		sparse = res
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("[Query] Retrieval failed", "query", q, "err", err)
		return nil, err
	}

	fused := Fuse([]StrategyResult{
		{Strategy: string(store.SearchDense), Weight: r.denseWeight, Chunks: dense},
		{Strategy: string(store.SearchSparse), Weight: r.sparseWeight, Chunks: sparse},
	}, topK)
	RecordFusedChunkIDs(tracer, chunkIDs(fused)...)

	logger.Debug("[Query] Retrieved chunks", "query", q, "dense", len(dense), "sparse", len(sparse), "fused", len(fused))
	return fused, nil
}

func (r *Retriever) dense(ctx context.Context, q string, topK int) ([]common.ScoredChunk, error) {
	vec, err := r.aiClient.GenerateEmbedding(ctx, []byte(q))
	if err != nil {
		return nil, common.Connectivity(StageRetrieve, embeddingStore, string(store.SearchDense), err)
	}
	if err := store.CheckDimension(vec, r.store.Dimensions()); err != nil {
		return nil, &common.StageError{Stage: StageRetrieve, Store: r.store.Name(), Unit: string(store.SearchDense), Err: err}
	}
	return r.search(ctx, store.SearchRequest{Mode: store.SearchDense, Embedding: vec, TopK: topK})
}

func (r *Retriever) search(ctx context.Context, req store.SearchRequest) ([]common.ScoredChunk, error) {
	res, err := r.store.Search(ctx, req)
	if err != nil {
		return nil, common.Connectivity(StageRetrieve, r.store.Name(), string(req.Mode), err)
	}
	return res, nil
}

func chunkIDs(chunks []common.ScoredChunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.Chunk.ID
	}
	return ids
}
