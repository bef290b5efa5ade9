package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"
)

type edgeKey struct {
	subject     string
	subjectType common.EntityType
	relation    common.RelationKind
	object      string
	objectType  common.EntityType
}

func keyOf(e common.Edge) edgeKey {
	return edgeKey{e.Subject, e.SubjectType, e.Relation, e.Object, e.ObjectType}
}

// GraphStore is an in-process store.GraphStore with MERGE semantics.
type GraphStore struct {
	mu    sync.RWMutex
	edges map[edgeKey]common.Edge
}

func NewGraphStore() *GraphStore {
	return &GraphStore{edges: make(map[edgeKey]common.Edge)}
}

func (g *GraphStore) Name() string { return "memory" }

func (g *GraphStore) EdgeExists(ctx context.Context, edge common.Edge) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[keyOf(edge)]
	return ok, nil
}

// UpsertEdge keeps creation time and provenance of an existing edge and
// only advances its updated timestamp.
func (g *GraphStore) UpsertEdge(ctx context.Context, edge common.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	k := keyOf(edge)
	if existing, ok := g.edges[k]; ok {
		existing.Updated = edge.Updated
		g.edges[k] = existing
		return nil
	}
	g.edges[k] = edge
	return nil
}

func (g *GraphStore) ListEdges(ctx context.Context, filter common.EdgeFilter) ([]common.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	keyword := strings.ToLower(strings.TrimSpace(filter.Keyword))
	var out []common.Edge
	for _, e := range g.edges {
		if filter.Relation != "" && e.Relation != filter.Relation {
			continue
		}
		if filter.EntityType != "" && e.SubjectType != filter.EntityType && e.ObjectType != filter.EntityType {
			continue
		}
		if keyword != "" &&
			!strings.Contains(strings.ToLower(e.Subject), keyword) &&
			!strings.Contains(strings.ToLower(e.Object), keyword) {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		if out[i].Relation != out[j].Relation {
			return out[i].Relation < out[j].Relation
		}
		return out[i].Object < out[j].Object
	})
	if limit := store.NormalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DecisionLog is an in-process store.DecisionLog.
type DecisionLog struct {
	mu        sync.RWMutex
	decisions []common.ReviewDecision
}

func NewDecisionLog() *DecisionLog {
	return &DecisionLog{}
}

func (d *DecisionLog) AppendDecision(ctx context.Context, decision common.ReviewDecision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decisions = append(d.decisions, decision)
	return nil
}

func (d *DecisionLog) ListDecisions(ctx context.Context, sessionID string) ([]common.ReviewDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []common.ReviewDecision
	for _, dec := range d.decisions {
		if sessionID == "" || dec.SessionID == sessionID {
			out = append(out, dec)
		}
	}
	return out, nil
}
