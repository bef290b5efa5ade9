package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/internal/util"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// NewGraphStoreParams configures the bolt connection.
type NewGraphStoreParams struct {
	URI            string
	User           string
	Password       string
	Database       string
	TimeoutSeconds int
	MaxPoolSize    int
}

// GraphStore writes confirmed relationships as (:Entity)-[:KIND]->(:Entity)
// edges. Relationship types are taken only from the closed relation
// enumeration, everything else is passed as a query parameter.
type GraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// ParamsFromEnv reads NEO4J_* settings.
func ParamsFromEnv() (NewGraphStoreParams, error) {
	vals, err := util.RequireEnv("NEO4J_URI", "NEO4J_PASSWORD")
	if err != nil {
		return NewGraphStoreParams{}, err
	}
	timeout := int(util.GetEnvNumeric("NEO4J_TIMEOUT_SECONDS", 10))
	pool := int(util.GetEnvNumeric("NEO4J_MAX_POOL_SIZE", 50))
	return NewGraphStoreParams{
		URI:            vals["NEO4J_URI"],
		User:           util.GetEnvString("NEO4J_USER", "neo4j"),
		Password:       vals["NEO4J_PASSWORD"],
		Database:       util.GetEnvString("NEO4J_DATABASE", ""),
		TimeoutSeconds: timeout,
		MaxPoolSize:    pool,
	}, nil
}

// NewGraphStore opens a driver and verifies connectivity.
func NewGraphStore(ctx context.Context, params NewGraphStoreParams) (*GraphStore, error) {
	if strings.TrimSpace(params.URI) == "" {
		return nil, fmt.Errorf("%w: neo4j uri is empty", common.ErrConfiguration)
	}
	if params.User == "" {
		params.User = "neo4j"
	}
	if params.TimeoutSeconds <= 0 {
		params.TimeoutSeconds = 10
	}
	if params.MaxPoolSize <= 0 {
		params.MaxPoolSize = 50
	}

	driver, err := neo4j.NewDriverWithContext(
		params.URI,
		neo4j.BasicAuth(params.User, params.Password, ""),
		func(cfg *neo4j.Config) {
			cfg.MaxConnectionPoolSize = params.MaxPoolSize
			cfg.SocketConnectTimeout = time.Duration(params.TimeoutSeconds) * time.Second
		},
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, time.Duration(params.TimeoutSeconds)*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(context.Background())
		return nil, common.Connectivity("connect", "neo4j", params.URI, err)
	}

	logger.Info("[Neo4j] Connected", "uri", params.URI, "database", params.Database)
	return NewGraphStoreWithDriver(driver, params.Database), nil
}

// NewGraphStoreWithDriver wraps an existing driver.
func NewGraphStoreWithDriver(driver neo4j.DriverWithContext, database string) *GraphStore {
	return &GraphStore{driver: driver, database: database}
}

func (g *GraphStore) Name() string { return "neo4j" }

func (g *GraphStore) Close(ctx context.Context) error {
	if g == nil || g.driver == nil {
		return nil
	}
	return g.driver.Close(ctx)
}

// EnsureConstraints creates the entity uniqueness constraint. Failures are
// logged, the store works without it.
func (g *GraphStore) EnsureConstraints(ctx context.Context) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.database,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, entityConstraintCypher, nil)
	if err != nil {
		logger.Warn("[Neo4j] Could not create entity constraint", "err", err)
		return
	}
	if _, err := res.Consume(ctx); err != nil {
		logger.Warn("[Neo4j] Could not create entity constraint", "err", err)
	}
}

func (g *GraphStore) EdgeExists(ctx context.Context, edge common.Edge) (bool, error) {
	cypher, err := edgeExistsCypher(edge.Relation)
	if err != nil {
		return false, err
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: g.database,
	})
	defer session.Close(ctx)

	count, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, edgeKeyParams(edge))
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _, err := neo4j.GetRecordValue[int64](rec, "count")
		return n, err
	})
	if err != nil {
		return false, fmt.Errorf("neo4j edge exists: %w", err)
	}
	return count.(int64) > 0, nil
}

func (g *GraphStore) UpsertEdge(ctx context.Context, edge common.Edge) error {
	cypher, err := upsertEdgeCypher(edge)
	if err != nil {
		return err
	}

	params := edgeKeyParams(edge)
	params["now"] = edgeTime(edge)
	params["source_excerpt"] = edge.SourceExcerpt
	params["paper_title"] = edge.PaperTitle

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.database,
	})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("neo4j upsert edge: %w", err)
	}
	return nil
}

func (g *GraphStore) ListEdges(ctx context.Context, filter common.EdgeFilter) ([]common.Edge, error) {
	cypher, params, err := listEdgesQuery(filter)
	if err != nil {
		return nil, err
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: g.database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		edges := make([]common.Edge, 0, len(records))
		for _, rec := range records {
			edges = append(edges, edgeFromRecord(rec))
		}
		return edges, nil
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j list edges: %w", err)
	}
	return out.([]common.Edge), nil
}

const entityConstraintCypher = `CREATE CONSTRAINT entity_name_type_unique IF NOT EXISTS
FOR (e:Entity) REQUIRE (e.name, e.type) IS UNIQUE`

func checkEdge(edge common.Edge) error {
	if !edge.Relation.Valid() {
		return fmt.Errorf("%w: unknown relation %q", common.ErrSchemaViolation, edge.Relation)
	}
	if !edge.SubjectType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", common.ErrSchemaViolation, edge.SubjectType)
	}
	if !edge.ObjectType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", common.ErrSchemaViolation, edge.ObjectType)
	}
	return nil
}

func edgeExistsCypher(kind common.RelationKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown relation %q", common.ErrSchemaViolation, kind)
	}
	return fmt.Sprintf(`MATCH (s:Entity {name: $subject, type: $subject_type})-[r:%s]->(o:Entity {name: $object, type: $object_type})
RETURN count(r) AS count`, kind), nil
}

// upsertEdgeCypher labels each node with its entity type next to the shared
// Entity label. Both labels and the relationship type come from closed
// enumerations.
func upsertEdgeCypher(edge common.Edge) (string, error) {
	if err := checkEdge(edge); err != nil {
		return "", err
	}
	return fmt.Sprintf(`MERGE (s:Entity {name: $subject, type: $subject_type})
SET s:%s
MERGE (o:Entity {name: $object, type: $object_type})
SET o:%s
MERGE (s)-[r:%s]->(o)
ON CREATE SET r.created = $now, r.source_excerpt = $source_excerpt, r.paper_title = $paper_title
SET r.updated = $now`, nodeLabel(edge.SubjectType), nodeLabel(edge.ObjectType), edge.Relation), nil
}

func listEdgesQuery(filter common.EdgeFilter) (string, map[string]any, error) {
	if filter.Relation != "" && !filter.Relation.Valid() {
		return "", nil, fmt.Errorf("%w: unknown relation %q", common.ErrSchemaViolation, filter.Relation)
	}

	var where []string
	params := map[string]any{"limit": int64(store.NormalizeLimit(filter.Limit))}
	if filter.Relation != "" {
		where = append(where, "type(r) = $relation")
		params["relation"] = string(filter.Relation)
	}
	if filter.EntityType != "" {
		where = append(where, "(s.type = $entity_type OR o.type = $entity_type)")
		params["entity_type"] = string(filter.EntityType)
	}
	if kw := strings.TrimSpace(filter.Keyword); kw != "" {
		where = append(where, "(toLower(s.name) CONTAINS $keyword OR toLower(o.name) CONTAINS $keyword)")
		params["keyword"] = strings.ToLower(kw)
	}

	var b strings.Builder
	b.WriteString("MATCH (s:Entity)-[r]->(o:Entity)\n")
	if len(where) > 0 {
		b.WriteString("WHERE ")
		b.WriteString(strings.Join(where, " AND "))
		b.WriteString("\n")
	}
	b.WriteString(`RETURN s.name AS subject, s.type AS subject_type, type(r) AS relation,
       o.name AS object, o.type AS object_type,
       r.source_excerpt AS source_excerpt, r.paper_title AS paper_title,
       r.created AS created, r.updated AS updated
ORDER BY subject, relation, object
LIMIT $limit`)
	return b.String(), params, nil
}

func edgeKeyParams(edge common.Edge) map[string]any {
	return map[string]any{
		"subject":      edge.Subject,
		"subject_type": string(edge.SubjectType),
		"object":       edge.Object,
		"object_type":  string(edge.ObjectType),
	}
}

func edgeTime(edge common.Edge) time.Time {
	if !edge.Updated.IsZero() {
		return edge.Updated.UTC()
	}
	if !edge.Created.IsZero() {
		return edge.Created.UTC()
	}
	return time.Now().UTC()
}

// nodeLabel turns ORGANISM into Organism.
func nodeLabel(t common.EntityType) string {
	s := strings.ToLower(string(t))
	if s == "" {
		return "Entity"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func edgeFromRecord(rec *neo4j.Record) common.Edge {
	str := func(key string) string {
		v, ok := rec.Get(key)
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}
	ts := func(key string) time.Time {
		v, ok := rec.Get(key)
		if !ok || v == nil {
			return time.Time{}
		}
		switch t := v.(type) {
		case time.Time:
			return t
		case neo4j.LocalDateTime:
			return t.Time()
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err == nil {
				return parsed
			}
		}
		return time.Time{}
	}

	return common.Edge{
		Subject:       str("subject"),
		SubjectType:   common.ParseEntityType(str("subject_type")),
		Relation:      common.RelationKind(str("relation")),
		Object:        str("object"),
		ObjectType:    common.ParseEntityType(str("object_type")),
		SourceExcerpt: str("source_excerpt"),
		PaperTitle:    str("paper_title"),
		Created:       ts("created"),
		Updated:       ts("updated"),
	}
}
