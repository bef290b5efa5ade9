package common

import "time"

// Metadata keys carried by documents and chunks.
const (
	MetaSourceID    = "source_id"
	MetaTitle       = "title"
	MetaAuthors     = "authors"
	MetaJournal     = "journal"
	MetaDOI         = "doi"
	MetaRetrievedAt = "retrieved_at"
	MetaStatus      = "status"
	MetaFileName    = "file_name"
	MetaFilePath    = "file_path"
)

// NotFoundExplanation is the explanation returned when the context holds no
// supported relationship.
const NotFoundExplanation = "Not found in the provided context."

// Document is a unit of source text plus the metadata describing where it
// came from. A document is immutable once its chunks have been embedded.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Title returns the document title or the file name when no title is known.
func (d Document) Title() string {
	if t := d.Metadata[MetaTitle]; t != "" {
		return t
	}
	return d.Metadata[MetaFileName]
}

// Chunk is a token-limited slice of a document. The ID is derived from the
// document ID and the chunk index so that re-embedding the same document
// overwrites instead of duplicating.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Index      int               `json:"index"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Embedding  []float32         `json:"-"`
}

// ScoredChunk is a chunk returned by retrieval together with the score that
// ranked it and the strategy that produced the score.
type ScoredChunk struct {
	Chunk    Chunk   `json:"chunk"`
	Score    float64 `json:"score"`
	Strategy string  `json:"strategy"`
	Rank     int     `json:"rank"`
}

// Provenance links an extracted relationship back to a supporting chunk.
type Provenance struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Excerpt    string `json:"excerpt"`
}

// Relationship is a typed candidate triple produced by extraction.
// Entity1 is the subject and Entity2 the object; direction follows the
// rule attached to Relation.
type Relationship struct {
	Entity1     string       `json:"entity1"`
	Entity1Type EntityType   `json:"entity1_type"`
	Relation    RelationKind `json:"relation"`
	Entity2     string       `json:"entity2"`
	Entity2Type EntityType   `json:"entity2_type"`
	Explanation string       `json:"explanation,omitempty"`
	Provenance  []Provenance `json:"provenance,omitempty"`
}

// Extraction is the outcome of running one query through retrieval and
// structured extraction.
type Extraction struct {
	Query         string         `json:"query"`
	Relationships []Relationship `json:"relationships"`
	Explanation   string         `json:"explanation"`
	Sources       []ScoredChunk  `json:"sources"`
}

// Candidate is a relationship presented to a reviewer. Candidates may come
// from sources other than extraction and are therefore validated before use.
type Candidate struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	SubjectType EntityType   `json:"subject_type"`
	Predicate   RelationKind `json:"predicate"`
	Object      string       `json:"object"`
	ObjectType  EntityType   `json:"object_type"`
	Context     string       `json:"context"`
	PaperTitle  string       `json:"paper_title"`
	Provenance  []Provenance `json:"provenance,omitempty"`
}

// Verdict is the reviewer decision on a candidate.
type Verdict string

const (
	VerdictConfirmed Verdict = "confirmed"
	VerdictRejected  Verdict = "rejected"
	VerdictSkipped   Verdict = "skipped"
)

// ReviewDecision records what happened to one candidate in a review session.
type ReviewDecision struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Index     int       `json:"index"`
	Candidate Candidate `json:"candidate"`
	Verdict   Verdict   `json:"verdict"`
	Reviewer  string    `json:"reviewer,omitempty"`
	Duplicate bool      `json:"duplicate"`
	Error     string    `json:"error,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Edge is a committed relationship in the knowledge graph. Its identity is
// the tuple (subject, subject type, relation, object, object type).
type Edge struct {
	Subject       string       `json:"subject"`
	SubjectType   EntityType   `json:"subject_type"`
	Relation      RelationKind `json:"relation"`
	Object        string       `json:"object"`
	ObjectType    EntityType   `json:"object_type"`
	SourceExcerpt string       `json:"source_excerpt"`
	PaperTitle    string       `json:"paper_title"`
	Created       time.Time    `json:"created"`
	Updated       time.Time    `json:"updated"`
}

// EdgeFromCandidate builds the graph edge for a confirmed candidate.
func EdgeFromCandidate(c Candidate, now time.Time) Edge {
	return Edge{
		Subject:       c.Subject,
		SubjectType:   c.SubjectType,
		Relation:      c.Predicate,
		Object:        c.Object,
		ObjectType:    c.ObjectType,
		SourceExcerpt: c.Context,
		PaperTitle:    c.PaperTitle,
		Created:       now,
		Updated:       now,
	}
}

// EdgeFilter narrows edge listings. Empty fields match everything.
type EdgeFilter struct {
	Relation   RelationKind `json:"relation,omitempty" query:"relation"`
	EntityType EntityType   `json:"entity_type,omitempty" query:"entity_type"`
	Keyword    string       `json:"keyword,omitempty" query:"keyword"`
	Limit      int          `json:"limit,omitempty" query:"limit"`
}
