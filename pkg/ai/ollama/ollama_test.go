package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

func newTestServer(t *testing.T, dim int, content string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization header = %q", got)
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode embed request: %v", err)
		}
		embeddings := make([][]float32, len(req.Input))
		for i, in := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(len(in))
			embeddings[i] = vec
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "bge-m3",
			"embeddings":        embeddings,
			"prompt_eval_count": len(req.Input),
		})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		if req["format"] == nil {
			t.Errorf("chat request has no format")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "deepseek",
			"created_at":        "2025-01-01T00:00:00Z",
			"message":           map[string]any{"role": "assistant", "content": content},
			"done":              true,
			"prompt_eval_count": 7,
			"eval_count":        3,
		})
	})
	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, url string, dim int) *GraphOllamaClient {
	t.Helper()
	c, err := NewGraphOllamaClient(NewGraphOllamaClientParams{
		EmbeddingModel:     "bge-m3",
		ExtractionModel:    "deepseek",
		Dimensions:         dim,
		BaseURL:            url,
		ApiKey:             "secret",
		EmbeddingBatchSize: 2,
	})
	if err != nil {
		t.Fatalf("NewGraphOllamaClient() error = %v", err)
	}
	return c
}

func TestGenerateEmbeddings(t *testing.T) {
	srv := newTestServer(t, 2, "")
	defer srv.Close()
	c := newTestClient(t, srv.URL, 2)

	out, err := c.GenerateEmbeddings(context.Background(), [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")})
	if err != nil {
		t.Fatalf("GenerateEmbeddings() error = %v", err)
	}
	for i, vec := range out {
		if vec[0] != float32(i+1) {
			t.Errorf("embedding %d = %v", i, vec)
		}
	}
}

func TestGenerateEmbeddingsDimensionMismatch(t *testing.T) {
	srv := newTestServer(t, 8, "")
	defer srv.Close()
	c := newTestClient(t, srv.URL, 2)

	_, err := c.GenerateEmbedding(context.Background(), []byte("saponins"))
	if !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestGenerateCompletionWithFormat(t *testing.T) {
	type response struct {
		Explanation string `json:"explanation"`
	}
	srv := newTestServer(t, 1, `{"explanation": "starfish produce saponins"}`)
	defer srv.Close()
	c := newTestClient(t, srv.URL, 1)

	var out response
	if err := c.GenerateCompletionWithFormat(context.Background(), "extract", "test", "prompt", &out); err != nil {
		t.Fatalf("GenerateCompletionWithFormat() error = %v", err)
	}
	if out.Explanation != "starfish produce saponins" {
		t.Errorf("explanation = %q", out.Explanation)
	}
	if m := c.GetMetrics(); m.TotalTokens != 10 {
		t.Errorf("total tokens = %d, want 10", m.TotalTokens)
	}
}

func TestGenerateCompletionWithFormatRequiresPointer(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", 1)
	var out struct{}
	if err := c.GenerateCompletionWithFormat(context.Background(), "n", "d", "p", out); err == nil {
		t.Fatal("expected error for non-pointer output")
	}
}
