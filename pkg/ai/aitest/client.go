// Package aitest provides a deterministic ai.GraphAIClient for tests.
package aitest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/biorel/backend/pkg/ai"
)

// Client embeds text as a normalized bag of hashed words and answers
// completions from a queue of raw responses.
type Client struct {
	Dim int

	// Responses are returned in order by GenerateCompletionWithFormat. The
	// last response repeats once the queue is exhausted.
	Responses []string
	// CompletionErr, when set, is returned by every completion call.
	CompletionErr error
	// EmbedErr, when set, is returned by every embedding call.
	EmbedErr error
	// FailEmbedOn makes embedding fail for inputs containing the string.
	FailEmbedOn string

	mu          sync.Mutex
	prompts     []string
	embedCalls  int
	completions int
	metrics     ai.ModelMetrics
}

var ErrEmbed = errors.New("embedding backend unavailable")

func New(dim int, responses ...string) *Client {
	return &Client{Dim: dim, Responses: responses}
}

func (c *Client) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	idx := c.completions
	c.completions++
	c.mu.Unlock()

	if c.CompletionErr != nil {
		return c.CompletionErr
	}
	if len(c.Responses) == 0 {
		return ai.UnmarshalFlexible("", out)
	}
	idx = min(idx, len(c.Responses)-1)
	return ai.UnmarshalFlexible(c.Responses[idx], out)
}

func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	vecs, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.embedCalls++
	c.mu.Unlock()

	if c.EmbedErr != nil {
		return nil, c.EmbedErr
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if c.FailEmbedOn != "" && strings.Contains(string(in), c.FailEmbedOn) {
			return nil, ErrEmbed
		}
		out[i] = Embed(string(in), c.Dim)
	}
	return out, nil
}

func (c *Client) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = ai.ModelMetrics{}
}

func (c *Client) GetMetrics() ai.ModelMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Prompts returns every prompt sent so far.
func (c *Client) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

func (c *Client) EmbedCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.embedCalls
}

func (c *Client) Completions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completions
}

// Embed hashes the lower-cased words of text into dim buckets and
// normalizes the result. Texts sharing words get a positive cosine.
func Embed(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 8
	}
	vec := make([]float32, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]\"'")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dim)] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
