package store

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/biorel/backend/pkg/ai"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

// DefaultEdgeLimit caps edge listings without an explicit limit.
const DefaultEdgeLimit = 500

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// EmbedChunks fills the Embedding of every chunk in place. Every vector must
// have exactly dim values; a mismatch is a configuration error.
func EmbedChunks(
	ctx context.Context,
	client ai.GraphAIClient,
	chunks []common.Chunk,
	dim int,
) error {
	if client == nil {
		return fmt.Errorf("ai client is nil")
	}
	if len(chunks) == 0 {
		return nil
	}

	inputs := make([][]byte, len(chunks))
	for i, c := range chunks {
		inputs[i] = []byte(c.Text)
	}
	vectors, err := client.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding result size mismatch: got %d want %d", len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if err := CheckDimension(v, dim); err != nil {
			return fmt.Errorf("chunk %s: %w", chunks[i].ID, err)
		}
		chunks[i].Embedding = v
	}
	return nil
}

// CheckDimension reports a configuration error when vec does not have dim
// values. dim <= 0 disables the check.
func CheckDimension(vec []float32, dim int) error {
	if dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: embedding has %d dimensions, store expects %d", common.ErrConfiguration, len(vec), dim)
	}
	return nil
}

// NormalizeLimit applies DefaultEdgeLimit to non-positive limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultEdgeLimit {
		return DefaultEdgeLimit
	}
	return limit
}
