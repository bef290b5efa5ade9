package ingest

import (
	"fmt"
	"maps"
	"regexp"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultMaxTokens = 500
	DefaultEncoding  = "o200k_base"
)

// TokenCounter measures text against the chunk budget.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named BPE encoding.
func NewTiktokenCounter(encoding string) (TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding %s: %w", encoding, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// WordCounter counts whitespace separated words.
type WordCounter struct{}

func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

type NewChunkerParams struct {
	Counter   TokenCounter
	MaxTokens int
	// Overlap is the number of trailing sentences repeated at the start of
	// the next chunk when they fit the budget.
	Overlap int
}

// Chunker splits documents into sentence aligned chunks under a token budget.
type Chunker struct {
	counter   TokenCounter
	maxTokens int
	overlap   int
}

func NewChunker(params NewChunkerParams) *Chunker {
	counter := params.Counter
	if counter == nil {
		counter = WordCounter{}
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{
		counter:   counter,
		maxTokens: maxTokens,
		overlap:   max(params.Overlap, 0),
	}
}

// ChunkID is stable for a document and position so re-ingestion upserts in
// place.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}

// Split chunks doc. Every chunk carries a copy of the document metadata.
func (c *Chunker) Split(doc common.Document) []common.Chunk {
	sentences := c.fitSentences(splitIntoSentences(strings.TrimSpace(doc.Text)))
	if len(sentences) == 0 {
		return nil
	}

	var chunks []common.Chunk
	start := 0
	for start < len(sentences) {
		end := start + 1
		for end < len(sentences) && c.counter.Count(joinSentences(sentences[start:end+1])) <= c.maxTokens {
			end++
		}

		chunks = append(chunks, common.Chunk{
			ID:         ChunkID(doc.ID, len(chunks)),
			DocumentID: doc.ID,
			Index:      len(chunks),
			Text:       joinSentences(sentences[start:end]),
			Metadata:   maps.Clone(doc.Metadata),
		})
		if end >= len(sentences) {
			break
		}

		next := max(end-c.overlap, start+1)
		for next < end && c.counter.Count(joinSentences(sentences[next:end+1])) > c.maxTokens {
			next++
		}
		start = next
	}
	return chunks
}

// fitSentences breaks sentences longer than the budget on word boundaries.
func (c *Chunker) fitSentences(sentences []string) []string {
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if c.counter.Count(s) <= c.maxTokens {
			out = append(out, s)
			continue
		}
		var current []string
		for _, w := range strings.Fields(s) {
			if len(current) > 0 && c.counter.Count(strings.Join(append(current, w), " ")) > c.maxTokens {
				out = append(out, strings.Join(current, " "))
				current = nil
			}
			current = append(current, w)
		}
		if len(current) > 0 {
			out = append(out, strings.Join(current, " "))
		}
	}
	return out
}

func joinSentences(sentences []string) string {
	return strings.TrimSpace(strings.Join(sentences, " "))
}

var tableDelimRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && strings.Contains(trimmed, "|")
}

// splitIntoSentences splits text on sentence ends and blank lines. Markdown
// tables are kept together as one unit.
func splitIntoSentences(text string) []string {
	lines := strings.Split(text, "\n")
	var sentences []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}
	appendLine := func(line string) {
		for _, sentence := range splitLineIntoSentences(line) {
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(sentence)
			if endsSentence(sentence) {
				flush()
			}
		}
	}

	inTable := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if inTable {
			if trimmed != "" && isTableRow(line) {
				current.WriteString("\n")
				current.WriteString(line)
				continue
			}
			inTable = false
			flush()
			if trimmed != "" {
				appendLine(trimmed)
			}
			continue
		}

		if isTableRow(line) {
			flush()
			if i+1 < len(lines) && tableDelimRe.MatchString(strings.TrimSpace(lines[i+1])) {
				inTable = true
				current.WriteString(line)
				continue
			}
			sentences = append(sentences, trimmed)
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}
		appendLine(trimmed)
	}
	flush()

	return sentences
}

func endsSentence(s string) bool {
	s = strings.TrimRight(strings.TrimSpace(s), "\"')]}")
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

// abbreviations never end a sentence. Keys are lower case without the
// trailing period.
var abbreviations = map[string]bool{
	"e.g": true, "i.e": true, "al": true, "sp": true, "spp": true,
	"subsp": true, "var": true, "cf": true, "fig": true, "figs": true,
	"ref": true, "refs": true, "vs": true, "approx": true, "ca": true,
	"vol": true, "eq": true, "dr": true, "prof": true, "nov": true,
	"resp": true,
}

// splitLineIntoSentences cuts one line after ., ! or ? followed by
// whitespace. Decimal numbers, list numbers, genus initials such as
// "S. fradiae" and common abbreviations do not end a sentence.
func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])

		if line[i] != '.' && line[i] != '!' && line[i] != '?' {
			continue
		}

		j := i + 1
		for j < len(line) && (line[j] == '.' || line[j] == '!' || line[j] == '?') {
			current.WriteByte(line[j])
			j++
		}
		for j < len(line) && (line[j] == '"' || line[j] == '\'' || line[j] == ')' ||
			line[j] == ']' || line[j] == '}') {
			current.WriteByte(line[j])
			j++
		}

		if j < len(line) && line[j] != ' ' && line[j] != '\t' {
			i = j - 1
			continue
		}
		if line[i] == '.' && isAbbreviation(line[:i]) {
			i = j - 1
			continue
		}
		if line[i] == '.' && i > 0 && unicode.IsDigit(rune(line[i-1])) && isListNumber(line[:i]) {
			i = j - 1
			continue
		}

		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
		i = j - 1
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// isAbbreviation reports whether the word ending prefix is a known
// abbreviation or a single capital letter.
func isAbbreviation(prefix string) bool {
	idx := strings.LastIndexAny(prefix, " \t(")
	word := prefix[idx+1:]
	if word == "" {
		return false
	}
	if len(word) == 1 && unicode.IsUpper(rune(word[0])) {
		return true
	}
	return abbreviations[strings.ToLower(word)]
}

// isListNumber matches a bare number at the start of the line, as in "1. ".
func isListNumber(prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	for _, r := range prefix {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return prefix != ""
}
