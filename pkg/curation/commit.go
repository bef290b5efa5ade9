package curation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"
)

const (
	StageCommit         = "commit"
	StageDuplicateCheck = "duplicate_check"
)

// Commit writes a confirmed candidate to the graph. Committing the same
// triple again only moves the edge's updated timestamp.
func Commit(ctx context.Context, graph store.GraphStore, c common.Candidate, now time.Time) (common.Edge, error) {
	if err := c.Validate(); err != nil {
		return common.Edge{}, err
	}
	edge := common.EdgeFromCandidate(c, now.UTC())
	if err := graph.UpsertEdge(ctx, edge); err != nil {
		return common.Edge{}, storeError(StageCommit, graph, c, err)
	}
	return edge, nil
}

// IsDuplicate reports whether the exact triple of c is already in the graph.
func IsDuplicate(ctx context.Context, graph store.GraphStore, c common.Candidate) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	exists, err := graph.EdgeExists(ctx, common.EdgeFromCandidate(c, time.Time{}))
	if err != nil {
		return false, storeError(StageDuplicateCheck, graph, c, err)
	}
	return exists, nil
}

func storeError(stage string, graph store.GraphStore, c common.Candidate, err error) error {
	unit := fmt.Sprintf("%s %s %s", c.Subject, c.Predicate, c.Object)
	if errors.Is(err, common.ErrSchemaViolation) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &common.StageError{Stage: stage, Store: graph.Name(), Unit: unit, Err: err}
	}
	return common.Connectivity(stage, graph.Name(), unit, err)
}
