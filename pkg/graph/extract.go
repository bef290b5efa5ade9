package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/biorel/backend/internal/util"
	"github.com/OFFIS-RIT/biorel/backend/pkg/ai"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"
)

const (
	StageExtract      = "extract"
	excerptLength     = 300
	extractSchemaName = "extract_relationships"
)

type extractRelationship struct {
	Entity1     string              `json:"entity1" jsonschema_description:"Subject entity name exactly as written in the context"`
	Entity1Type common.EntityType   `json:"entity1_type" jsonschema_description:"Type of the subject entity"`
	Relation    common.RelationKind `json:"relation" jsonschema_description:"One of the provided relationship types"`
	Entity2     string              `json:"entity2" jsonschema_description:"Object entity name exactly as written in the context"`
	Entity2Type common.EntityType   `json:"entity2_type" jsonschema_description:"Type of the object entity"`
	Explanation string              `json:"explanation" jsonschema_description:"One sentence from or about the context supporting this relationship"`
}

type extractResponse struct {
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships between entities supported by the context"`
	Explanation   string                `json:"explanation" jsonschema_description:"Concise explanation of the relationships found"`
}

type promptChunk struct {
	Title string
	Text  string
}

type promptData struct {
	Version     string
	Rules       []common.RelationRule
	EntityTypes []common.EntityType
	NotFound    string
	Chunks      []promptChunk
	Query       string
}

// RenderPrompt fills the extraction template for q and chunks.
func (g *GraphClient) RenderPrompt(q string, chunks []common.ScoredChunk) (string, error) {
	data := promptData{
		Version:     common.RelationKindsVersion,
		Rules:       common.RelationRules(),
		EntityTypes: common.EntityTypes(),
		NotFound:    common.NotFoundExplanation,
		Query:       q,
	}
	for _, c := range chunks {
		data.Chunks = append(data.Chunks, promptChunk{Title: chunkTitle(c.Chunk), Text: c.Chunk.Text})
	}

	var buf bytes.Buffer
	if err := g.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: failed to render extraction prompt: %v", common.ErrConfiguration, err)
	}
	return buf.String(), nil
}

// Extract asks the model for relationships answering q that are supported
// by chunks. Output that violates the schema or the relation enumeration
// is retried once; transport failures are returned as they are.
func (g *GraphClient) Extract(ctx context.Context, q string, chunks []common.ScoredChunk) (common.Extraction, error) {
	q = strings.TrimSpace(q)
	if len(chunks) == 0 {
		return notFound(q, chunks), nil
	}

	prompt, err := g.RenderPrompt(q, chunks)
	if err != nil {
		return common.Extraction{}, err
	}

	opts := []ai.GenerateOption{
		ai.WithSystemPrompts(ai.ExtractSystemPrompt),
		ai.WithTemperature(g.temperature),
	}
	if g.model != "" {
		opts = append(opts, ai.WithModel(g.model))
	}

	result, attempts, err := util.RetryIfWithContext(ctx, maxAttempts, isSchemaError,
		func(ctx context.Context) (common.Extraction, error) {
			var res extractResponse
			err := g.aiClient.GenerateCompletionWithFormat(
				ctx,
				extractSchemaName,
				"Extract typed relationships between biomedical entities from the provided context.",
				prompt,
				&res,
				opts...,
			)
			if err != nil {
				return common.Extraction{}, err
			}
			return buildExtraction(q, chunks, res)
		},
	)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return common.Extraction{}, err
	case isSchemaError(err):
		logger.Error("[Extract] Giving up on model output", "query", q, "attempts", attempts, "err", err)
		if !errors.Is(err, common.ErrSchemaViolation) {
			err = fmt.Errorf("%w: %w", common.ErrSchemaViolation, err)
		}
		return common.Extraction{}, &common.ExtractionError{Query: q, Attempts: attempts, Err: err}
	default:
		return common.Extraction{}, common.Connectivity(StageExtract, "llm", q, err)
	}

	if attempts > 1 {
		logger.Warn("[Extract] Needed a retry", "query", q, "attempts", attempts)
	}
	logger.Debug("[Extract] Extracted relationships", "query", q, "relationships", len(result.Relationships))
	return result, nil
}

func isSchemaError(err error) bool {
	return errors.Is(err, ai.ErrInvalidFormat) || errors.Is(err, common.ErrSchemaViolation)
}

func notFound(q string, chunks []common.ScoredChunk) common.Extraction {
	if chunks == nil {
		chunks = []common.ScoredChunk{}
	}
	return common.Extraction{
		Query:         q,
		Relationships: []common.Relationship{},
		Explanation:   common.NotFoundExplanation,
		Sources:       chunks,
	}
}

// buildExtraction validates the model response. A relation outside the
// enumeration fails the whole response. Relationships naming entities that
// do not occur in the context, or whose entity types contradict the
// relation's direction, are dropped. Subject and object are never swapped.
// A relationship without its own explanation carries the response's.
func buildExtraction(q string, chunks []common.ScoredChunk, res extractResponse) (common.Extraction, error) {
	rels := make([]common.Relationship, 0, len(res.Relationships))
	seen := make(map[string]bool)
	overall := strings.TrimSpace(res.Explanation)

	for _, r := range res.Relationships {
		kind, err := common.ParseRelationKind(string(r.Relation))
		if err != nil {
			return common.Extraction{}, err
		}
		rule, _ := kind.Rule()

		subject := strings.TrimSpace(r.Entity1)
		object := strings.TrimSpace(r.Entity2)
		subjectType := common.ParseEntityType(string(r.Entity1Type))
		objectType := common.ParseEntityType(string(r.Entity2Type))

		if subject == "" || object == "" {
			logger.Warn("[Extract] Dropping relationship with empty entity", "query", q, "relation", kind)
			continue
		}
		if !mentioned(chunks, subject) || !mentioned(chunks, object) {
			logger.Warn("[Extract] Dropping relationship not grounded in context",
				"query", q, "subject", subject, "relation", kind, "object", object)
			continue
		}
		if !rule.Allows(subjectType, objectType) {
			logger.Warn("[Extract] Dropping relationship against relation direction",
				"query", q, "subject", subject, "subject_type", subjectType,
				"relation", kind, "object", object, "object_type", objectType,
				"reversed", rule.Reversed(subjectType, objectType))
			continue
		}

		key := strings.ToLower(subject) + "\x00" + string(kind) + "\x00" + strings.ToLower(object)
		if seen[key] {
			continue
		}
		seen[key] = true

		explanation := strings.TrimSpace(r.Explanation)
		if explanation == "" {
			explanation = overall
		}
		rels = append(rels, common.Relationship{
			Entity1:     subject,
			Entity1Type: subjectType,
			Relation:    kind,
			Entity2:     object,
			Entity2Type: objectType,
			Explanation: explanation,
			Provenance:  provenance(chunks, subject, object),
		})
	}

	explanation := overall
	if len(rels) == 0 {
		explanation = common.NotFoundExplanation
	} else if explanation == "" {
		explanation = fmt.Sprintf("Found %d relationship(s) in the provided context.", len(rels))
	}

	return common.Extraction{
		Query:         q,
		Relationships: rels,
		Explanation:   explanation,
		Sources:       chunks,
	}, nil
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func mentioned(chunks []common.ScoredChunk, name string) bool {
	needle := normalizeText(name)
	for _, c := range chunks {
		if strings.Contains(normalizeText(c.Chunk.Text), needle) {
			return true
		}
	}
	return false
}

// provenance prefers chunks naming both entities and falls back to chunks
// naming either. Chunks keep their fused order.
func provenance(chunks []common.ScoredChunk, subject, object string) []common.Provenance {
	s, o := normalizeText(subject), normalizeText(object)
	var both, either []common.Provenance
	for _, c := range chunks {
		text := normalizeText(c.Chunk.Text)
		hasS, hasO := strings.Contains(text, s), strings.Contains(text, o)
		if !hasS && !hasO {
			continue
		}
		p := common.Provenance{
			ChunkID:    c.Chunk.ID,
			DocumentID: c.Chunk.DocumentID,
			Title:      chunkTitle(c.Chunk),
			Excerpt:    util.Excerpt(c.Chunk.Text, excerptLength),
		}
		if hasS && hasO {
			both = append(both, p)
		} else {
			either = append(either, p)
		}
	}
	if len(both) > 0 {
		return both
	}
	return either
}

func chunkTitle(c common.Chunk) string {
	if t := strings.TrimSpace(c.Metadata[common.MetaTitle]); t != "" {
		return t
	}
	return c.Metadata[common.MetaFileName]
}
