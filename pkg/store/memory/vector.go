package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"
)

// VectorStore is an in-process store.VectorStore for tests and local runs.
// Dense search uses cosine similarity, sparse search a tf-idf score over
// lower-cased word tokens.
type VectorStore struct {
	dim    int
	mu     sync.RWMutex
	chunks map[string]common.Chunk
}

// NewVectorStore creates an empty store for vectors of width dim.
func NewVectorStore(dim int) *VectorStore {
	return &VectorStore{dim: dim, chunks: make(map[string]common.Chunk)}
}

func (s *VectorStore) Name() string    { return "memory" }
func (s *VectorStore) Dimensions() int { return s.dim }

// Len returns the number of stored chunks.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// UpsertChunks validates every chunk before storing any of them.
func (s *VectorStore) UpsertChunks(ctx context.Context, chunks []common.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk without id in document %s", c.DocumentID)
		}
		if err := store.CheckDimension(c.Embedding, s.dim); err != nil {
			return fmt.Errorf("chunk %s: %w", c.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *VectorStore) Search(ctx context.Context, req store.SearchRequest) ([]common.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []common.ScoredChunk
	switch req.Mode {
	case store.SearchDense:
		if err := store.CheckDimension(req.Embedding, s.dim); err != nil {
			return nil, err
		}
		for _, c := range s.chunks {
			scored = append(scored, common.ScoredChunk{
				Chunk:    c,
				Score:    cosine(req.Embedding, c.Embedding),
				Strategy: string(store.SearchDense),
			})
		}
	case store.SearchSparse:
		scored = s.sparse(req.Text)
	default:
		return nil, fmt.Errorf("unknown search mode %q", req.Mode)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})
	if req.TopK > 0 && len(scored) > req.TopK {
		scored = scored[:req.TopK]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored, nil
}

func (s *VectorStore) sparse(text string) []common.ScoredChunk {
	terms := tokenize(text)
	if len(terms) == 0 || len(s.chunks) == 0 {
		return nil
	}

	docTerms := make(map[string]map[string]int, len(s.chunks))
	df := make(map[string]int)
	for id, c := range s.chunks {
		tf := make(map[string]int)
		for _, t := range tokenize(c.Text) {
			tf[t]++
		}
		docTerms[id] = tf
		for t := range tf {
			df[t]++
		}
	}

	n := float64(len(s.chunks))
	var out []common.ScoredChunk
	for id, tf := range docTerms {
		score := 0.0
		for _, t := range terms {
			if f := tf[t]; f > 0 {
				idf := math.Log(1 + n/float64(df[t]))
				score += (1 + math.Log(float64(f))) * idf
			}
		}
		if score > 0 {
			out = append(out, common.ScoredChunk{
				Chunk:    s.chunks[id],
				Score:    score,
				Strategy: string(store.SearchSparse),
			})
		}
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
