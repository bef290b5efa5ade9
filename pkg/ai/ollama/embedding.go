package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/pkg/ai"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/errgroup"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama.
func (c *GraphOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// GenerateEmbeddings embeds inputs in batches; output order matches input order.
func (c *GraphOllamaClient) GenerateEmbeddings(
	ctx context.Context,
	inputs [][]byte,
) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(inputs))
	for i, in := range inputs {
		s := strings.TrimSpace(string(in))
		if s == "" {
			return nil, fmt.Errorf("embedding input %d is empty", i)
		}
		texts[i] = s
	}

	out := make([][]float32, len(texts))
	eg, ectx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		eg.Go(func() error {
			res, err := c.embedBatch(ectx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], res)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GraphOllamaClient) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	req := &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: inputs,
	}

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, req)
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(inputs))
	}
	for i, vec := range res.Embeddings {
		if c.dimensions > 0 && len(vec) != c.dimensions {
			return nil, fmt.Errorf(
				"%w: embedding model %s returned %d dimensions for input %d, configured %d",
				common.ErrConfiguration, c.embeddingModel, len(vec), i, c.dimensions,
			)
		}
	}
	return res.Embeddings, nil
}
