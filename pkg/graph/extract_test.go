package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/biorel/backend/pkg/ai/aitest"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

var testChunks = []common.ScoredChunk{
	{
		Chunk: common.Chunk{
			ID:         "p1:0",
			DocumentID: "p1",
			Text:       "Streptomyces fradiae produces the macrolide antibiotic tylosin.",
			Metadata:   map[string]string{common.MetaTitle: "Tylosin biosynthesis"},
		},
		Score: 1,
	},
	{
		Chunk: common.Chunk{
			ID:         "p2:0",
			DocumentID: "p2",
			Text:       "Tylosin inhibits   protein synthesis in Gram-positive bacteria.",
			Metadata:   map[string]string{common.MetaFileName: "p2.txt"},
		},
		Score: 0.5,
	},
}

const validResponse = `{
  "relationships": [
    {"entity1": "Streptomyces fradiae", "entity1_type": "ORGANISM", "relation": "PRODUCES", "entity2": "tylosin", "entity2_type": "CHEMICAL"},
    {"entity1": "tylosin", "entity1_type": "CHEMICAL", "relation": "inhibits", "entity2": "protein synthesis", "entity2_type": "ENTITY"}
  ],
  "explanation": "S. fradiae produces tylosin, which inhibits protein synthesis."
}`

func newTestClient(t *testing.T, responses ...string) (*GraphClient, *aitest.Client) {
	t.Helper()
	fake := aitest.New(8, responses...)
	g, err := NewGraphClient(NewGraphClientParams{AIClient: fake})
	if err != nil {
		t.Fatalf("NewGraphClient: %v", err)
	}
	return g, fake
}

func TestExtract(t *testing.T) {
	g, fake := newTestClient(t, validResponse)

	got, err := g.Extract(context.Background(), "What does S. fradiae produce?", testChunks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fake.Completions() != 1 {
		t.Fatalf("expected one completion, got %d", fake.Completions())
	}
	if len(got.Relationships) != 2 {
		t.Fatalf("expected 2 relationships, got %+v", got.Relationships)
	}

	r := got.Relationships[0]
	if r.Entity1 != "Streptomyces fradiae" || r.Relation != common.RelationProduces || r.Entity2 != "tylosin" {
		t.Fatalf("unexpected relationship %+v", r)
	}
	if len(r.Provenance) != 1 || r.Provenance[0].ChunkID != "p1:0" || r.Provenance[0].Title != "Tylosin biosynthesis" {
		t.Fatalf("unexpected provenance %+v", r.Provenance)
	}
	if got.Relationships[1].Relation != common.RelationInhibits {
		t.Fatalf("relation should be normalized, got %q", got.Relationships[1].Relation)
	}
	if got.Relationships[1].Provenance[0].Title != "p2.txt" {
		t.Fatalf("title should fall back to the file name, got %+v", got.Relationships[1].Provenance)
	}
	if len(got.Sources) != len(testChunks) {
		t.Fatalf("sources = %d", len(got.Sources))
	}
}

func TestExtractDropsInvalidRelationships(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{
			name: "entity not in context",
			response: `{"relationships": [
				{"entity1": "Penicillium notatum", "entity1_type": "ORGANISM", "relation": "PRODUCES", "entity2": "tylosin", "entity2_type": "CHEMICAL"}
			], "explanation": "x"}`,
		},
		{
			name: "direction contradicts types",
			response: `{"relationships": [
				{"entity1": "tylosin", "entity1_type": "CHEMICAL", "relation": "PRODUCES", "entity2": "Streptomyces fradiae", "entity2_type": "ORGANISM"}
			], "explanation": "x"}`,
		},
		{
			name: "empty entity",
			response: `{"relationships": [
				{"entity1": " ", "entity1_type": "ORGANISM", "relation": "PRODUCES", "entity2": "tylosin", "entity2_type": "CHEMICAL"}
			], "explanation": "x"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, fake := newTestClient(t, tt.response)
			got, err := g.Extract(context.Background(), "q", testChunks)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if len(got.Relationships) != 0 {
				t.Fatalf("expected relationship to be dropped, got %+v", got.Relationships)
			}
			if got.Explanation != common.NotFoundExplanation {
				t.Fatalf("explanation = %q", got.Explanation)
			}
			if fake.Completions() != 1 {
				t.Fatalf("dropping must not trigger a retry")
			}
		})
	}
}

func TestExtractNeverSwapsDirection(t *testing.T) {
	g, _ := newTestClient(t, `{"relationships": [
		{"entity1": "tylosin", "entity1_type": "CHEMICAL", "relation": "PRODUCES", "entity2": "Streptomyces fradiae", "entity2_type": "ORGANISM"},
		{"entity1": "tylosin", "entity1_type": "CHEMICAL", "relation": "BIOSYNTHESIZED_BY", "entity2": "Streptomyces fradiae", "entity2_type": "ORGANISM"}
	], "explanation": "x"}`)

	got, err := g.Extract(context.Background(), "q", testChunks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Relationships) != 1 {
		t.Fatalf("expected one relationship, got %+v", got.Relationships)
	}
	r := got.Relationships[0]
	if r.Entity1 != "tylosin" || r.Relation != common.RelationBiosynthesizedBy || r.Entity2 != "Streptomyces fradiae" {
		t.Fatalf("unexpected relationship %+v", r)
	}
}

func TestExtractEmptyResult(t *testing.T) {
	g, _ := newTestClient(t, `{"relationships": [], "explanation": ""}`)
	got, err := g.Extract(context.Background(), "q", testChunks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Relationships == nil || len(got.Relationships) != 0 {
		t.Fatalf("expected empty list, got %#v", got.Relationships)
	}
	if got.Explanation != common.NotFoundExplanation {
		t.Fatalf("explanation = %q", got.Explanation)
	}
}

func TestExtractWithoutChunksSkipsModel(t *testing.T) {
	g, fake := newTestClient(t, validResponse)
	got, err := g.Extract(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fake.Completions() != 0 || got.Explanation != common.NotFoundExplanation {
		t.Fatalf("unexpected result %+v after %d completions", got, fake.Completions())
	}
}

func TestExtractRetriesSchemaViolationOnce(t *testing.T) {
	unknownRelation := `{"relationships": [
		{"entity1": "Streptomyces fradiae", "entity1_type": "ORGANISM", "relation": "CURES", "entity2": "tylosin", "entity2_type": "CHEMICAL"}
	], "explanation": "x"}`

	t.Run("recovers on retry", func(t *testing.T) {
		g, fake := newTestClient(t, unknownRelation, validResponse)
		got, err := g.Extract(context.Background(), "q", testChunks)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if fake.Completions() != 2 || len(got.Relationships) != 2 {
			t.Fatalf("completions = %d, relationships = %d", fake.Completions(), len(got.Relationships))
		}
	})

	for name, bad := range map[string]string{
		"unknown relation": unknownRelation,
		"unparseable":      `[1, 2, 3]`,
	} {
		t.Run("gives up on "+name, func(t *testing.T) {
			g, fake := newTestClient(t, bad)
			_, err := g.Extract(context.Background(), "q", testChunks)

			var exErr *common.ExtractionError
			if !errors.As(err, &exErr) {
				t.Fatalf("expected ExtractionError, got %v", err)
			}
			if exErr.Attempts != 2 || fake.Completions() != 2 {
				t.Fatalf("attempts = %d, completions = %d", exErr.Attempts, fake.Completions())
			}
			if !errors.Is(err, common.ErrSchemaViolation) {
				t.Fatalf("expected schema violation, got %v", err)
			}
		})
	}
}

func TestExtractDoesNotRetryTransportErrors(t *testing.T) {
	fake := aitest.New(8)
	fake.CompletionErr = errors.New("connection reset")
	g, err := NewGraphClient(NewGraphClientParams{AIClient: fake})
	if err != nil {
		t.Fatalf("NewGraphClient: %v", err)
	}

	_, err = g.Extract(context.Background(), "q", testChunks)
	if !errors.Is(err, common.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if fake.Completions() != 1 {
		t.Fatalf("transport errors must not be retried, got %d calls", fake.Completions())
	}
}

func TestRenderPrompt(t *testing.T) {
	g, _ := newTestClient(t)
	prompt, err := g.RenderPrompt("Which organism produces tylosin?", testChunks)
	if err != nil {
		t.Fatalf("RenderPrompt: %v", err)
	}
	for _, want := range []string{
		"version " + common.RelationKindsVersion,
		"- PRODUCES: the organism or enzyme (subject) produces the compound (object)",
		"ORGANISM, CHEMICAL",
		"## Excerpt 1 (Tylosin biosynthesis)",
		"## Excerpt 2 (p2.txt)",
		"Which organism produces tylosin?",
		common.NotFoundExplanation,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestCustomPromptTemplate(t *testing.T) {
	fake := aitest.New(8)
	g, err := NewGraphClient(NewGraphClientParams{
		AIClient:       fake,
		PromptTemplate: "{{ .Query }} | {{ join .EntityTypes \"/\" }} | {{ range $i, $c := .Chunks }}{{ inc $i }}{{ end }}",
	})
	if err != nil {
		t.Fatalf("NewGraphClient: %v", err)
	}
	prompt, err := g.RenderPrompt("q", testChunks)
	if err != nil {
		t.Fatalf("RenderPrompt: %v", err)
	}
	if !strings.HasPrefix(prompt, "q | ORGANISM/CHEMICAL") || !strings.HasSuffix(prompt, "| 12") {
		t.Fatalf("unexpected prompt %q", prompt)
	}

	_, err = NewGraphClient(NewGraphClientParams{AIClient: fake, PromptTemplate: "{{ .Query "})
	if !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestExtractKeepsRelationshipExplanations(t *testing.T) {
	g, _ := newTestClient(t, `{
  "relationships": [
    {"entity1": "Streptomyces fradiae", "entity1_type": "ORGANISM", "relation": "PRODUCES", "entity2": "tylosin", "entity2_type": "CHEMICAL",
     "explanation": "  The excerpt states that S. fradiae produces tylosin. "},
    {"entity1": "tylosin", "entity1_type": "CHEMICAL", "relation": "INHIBITS", "entity2": "protein synthesis", "entity2_type": "ENTITY"}
  ],
  "explanation": "Tylosin is made by S. fradiae and blocks protein synthesis."
}`)

	got, err := g.Extract(context.Background(), "What is known about tylosin?", testChunks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Relationships) != 2 {
		t.Fatalf("expected 2 relationships, got %+v", got.Relationships)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"own explanation", got.Relationships[0].Explanation, "The excerpt states that S. fradiae produces tylosin."},
		{"response fallback", got.Relationships[1].Explanation, got.Explanation},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: explanation = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if got.Explanation != "Tylosin is made by S. fradiae and blocks protein synthesis." {
		t.Fatalf("response explanation = %q", got.Explanation)
	}
}
