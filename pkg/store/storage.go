package store

import (
	"context"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

// SearchMode selects the retrieval strategy a VectorStore runs.
type SearchMode string

const (
	// SearchDense ranks chunks by cosine similarity to an embedding.
	SearchDense SearchMode = "dense"
	// SearchSparse ranks chunks by full-text relevance to the query text.
	SearchSparse SearchMode = "sparse"
)

// SearchRequest describes one retrieval call. Dense searches need Embedding,
// sparse searches need Text.
type SearchRequest struct {
	Mode      SearchMode
	Text      string
	Embedding []float32
	TopK      int
}

// VectorStore persists embedded chunks and answers dense and sparse searches.
// UpsertChunks must be all-or-nothing: on error no chunk of the call is
// visible to searches.
type VectorStore interface {
	Name() string
	Dimensions() int
	UpsertChunks(ctx context.Context, chunks []common.Chunk) error
	Search(ctx context.Context, req SearchRequest) ([]common.ScoredChunk, error)
}

// GraphStore persists confirmed relationships. UpsertEdge has MERGE
// semantics: committing the same edge twice leaves one edge whose updated
// timestamp moved forward.
type GraphStore interface {
	Name() string
	EdgeExists(ctx context.Context, edge common.Edge) (bool, error)
	UpsertEdge(ctx context.Context, edge common.Edge) error
	ListEdges(ctx context.Context, filter common.EdgeFilter) ([]common.Edge, error)
}

// DecisionLog keeps the audit trail of review decisions.
type DecisionLog interface {
	AppendDecision(ctx context.Context, decision common.ReviewDecision) error
	ListDecisions(ctx context.Context, sessionID string) ([]common.ReviewDecision, error)
}
