package curation

import (
	"strings"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

// CandidatesFromExtraction turns extracted relationships into review
// candidates. Context and paper title come from the first supporting
// chunk; without one the relationship's explanation and the question
// stand in.
func CandidatesFromExtraction(e common.Extraction) []common.Candidate {
	out := make([]common.Candidate, 0, len(e.Relationships))
	for _, r := range e.Relationships {
		c := common.Candidate{
			Subject:     r.Entity1,
			SubjectType: r.Entity1Type,
			Predicate:   r.Relation,
			Object:      r.Entity2,
			ObjectType:  r.Entity2Type,
			Context:     r.Explanation,
			PaperTitle:  "Generated from question: " + strings.TrimSpace(e.Query),
			Provenance:  r.Provenance,
		}
		if c.Context == "" {
			c.Context = e.Explanation
		}
		if len(r.Provenance) > 0 {
			best := r.Provenance[0]
			if best.Excerpt != "" {
				c.Context = best.Excerpt
			}
			if best.Title != "" {
				c.PaperTitle = best.Title
			}
		}
		out = append(out, c)
	}
	return out
}

// normalizeCandidate maps types and predicate spellings onto the
// enumerations. Unparseable predicates are kept so validation reports them.
func normalizeCandidate(c common.Candidate) common.Candidate {
	c.Subject = strings.TrimSpace(c.Subject)
	c.Object = strings.TrimSpace(c.Object)
	if strings.TrimSpace(string(c.SubjectType)) != "" {
		c.SubjectType = common.ParseEntityType(string(c.SubjectType))
	}
	if strings.TrimSpace(string(c.ObjectType)) != "" {
		c.ObjectType = common.ParseEntityType(string(c.ObjectType))
	}
	if k, err := common.ParseRelationKind(string(c.Predicate)); err == nil {
		c.Predicate = k
	}
	return c
}
