package ingest

import (
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

func TestSplitLineIntoSentences(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "genus initial",
			line: "S. fradiae produces tylosin. It is a macrolide.",
			want: []string{"S. fradiae produces tylosin.", "It is a macrolide."},
		},
		{
			name: "abbreviations and decimals",
			line: "Smith et al. showed that pH 7.5 is optimal (Fig. 2). Yields rose.",
			want: []string{"Smith et al. showed that pH 7.5 is optimal (Fig. 2).", "Yields rose."},
		},
		{
			name: "e.g. inside parentheses",
			line: "Several macrolides (e.g. tylosin) were isolated. None were toxic!",
			want: []string{"Several macrolides (e.g. tylosin) were isolated.", "None were toxic!"},
		},
		{
			name: "number at sentence end",
			line: "The yield was 5. Then it fell.",
			want: []string{"The yield was 5.", "Then it fell."},
		},
		{
			name: "leading list number",
			line: "1. Streptomyces sp. strains were cultured.",
			want: []string{"1. Streptomyces sp. strains were cultured."},
		},
		{
			name: "no terminal punctuation",
			line: "Table of contents",
			want: []string{"Table of contents"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitLineIntoSentences(tt.line)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitLineIntoSentences(%q)\n got  %q\n want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestSplitIntoSentencesKeepsTables(t *testing.T) {
	text := "Results are shown below.\n\n| strain | yield |\n| --- | --- |\n| A | 1 |\n\nDone."
	got := splitIntoSentences(text)
	want := []string{
		"Results are shown below.",
		"| strain | yield |\n| --- | --- |\n| A | 1 |",
		"Done.",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestSplitIntoSentencesJoinsWrappedLines(t *testing.T) {
	text := "Tylosin is produced by\nStreptomyces fradiae. It inhibits growth."
	got := splitIntoSentences(text)
	want := []string{"Tylosin is produced by Streptomyces fradiae.", "It inhibits growth."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestChunkerSplit(t *testing.T) {
	doc := common.Document{
		ID:       "doc",
		Text:     "One two three. Four five six. Seven eight.",
		Metadata: map[string]string{common.MetaTitle: "Numbers"},
	}

	tests := []struct {
		name    string
		params  NewChunkerParams
		want    []string
		wantIDs []string
	}{
		{
			name:    "budget",
			params:  NewChunkerParams{MaxTokens: 6},
			want:    []string{"One two three. Four five six.", "Seven eight."},
			wantIDs: []string{"doc:0", "doc:1"},
		},
		{
			name:    "overlap",
			params:  NewChunkerParams{MaxTokens: 6, Overlap: 1},
			want:    []string{"One two three. Four five six.", "Four five six. Seven eight."},
			wantIDs: []string{"doc:0", "doc:1"},
		},
		{
			name:    "everything fits",
			params:  NewChunkerParams{MaxTokens: 100},
			want:    []string{"One two three. Four five six. Seven eight."},
			wantIDs: []string{"doc:0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := NewChunker(tt.params).Split(doc)
			if len(chunks) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d: %+v", len(chunks), len(tt.want), chunks)
			}
			for i, c := range chunks {
				if c.Text != tt.want[i] {
					t.Errorf("chunk %d text = %q, want %q", i, c.Text, tt.want[i])
				}
				if c.ID != tt.wantIDs[i] || c.Index != i || c.DocumentID != "doc" {
					t.Errorf("chunk %d identity = %s/%d/%s", i, c.ID, c.Index, c.DocumentID)
				}
				if c.Metadata[common.MetaTitle] != "Numbers" {
					t.Errorf("chunk %d lost metadata: %v", i, c.Metadata)
				}
			}
		})
	}
}

func TestChunkerSplitsOversizedSentence(t *testing.T) {
	chunks := NewChunker(NewChunkerParams{MaxTokens: 2}).Split(common.Document{ID: "d", Text: "a b c d e."})
	var got []string
	for _, c := range chunks {
		got = append(got, c.Text)
	}
	want := []string{"a b", "c d", "e."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestChunkerEmptyDocument(t *testing.T) {
	if chunks := NewChunker(NewChunkerParams{}).Split(common.Document{ID: "d", Text: "  \n\n "}); len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %+v", chunks)
	}
}

func TestChunkMetadataIsCopied(t *testing.T) {
	doc := common.Document{ID: "d", Text: "One. Two.", Metadata: map[string]string{"k": "v"}}
	chunks := NewChunker(NewChunkerParams{MaxTokens: 1}).Split(doc)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	chunks[0].Metadata["k"] = "changed"
	if chunks[1].Metadata["k"] != "v" || doc.Metadata["k"] != "v" {
		t.Fatal("chunk metadata must not alias the document metadata")
	}
}
