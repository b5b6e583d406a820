package graphstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/54b3r/graphchat-go/internal/graph"
	"github.com/54b3r/graphchat-go/internal/logging"
)

// Neo4jConfig holds connection settings for Neo4jStore.
type Neo4jConfig struct {
	// URI is the bolt endpoint, e.g. "bolt://localhost:7687".
	URI string
	// Username defaults to "neo4j".
	Username string
	Password string
	// Database selects a named database. Empty uses the server default.
	Database string
	// Timeout bounds connection setup and the startup connectivity check.
	Timeout time.Duration
	// MaxPoolSize caps the driver connection pool.
	MaxPoolSize int
}

const (
	defaultNeo4jTimeout  = 10 * time.Second
	defaultNeo4jPoolSize = 50
)

// Cypher used by Neo4jStore. Every entity carries a namespace property so one
// database can hold many sessions.
const (
	cypherDeleteNamespace = `MATCH (n:Entity {namespace: $ns}) DETACH DELETE n`

	cypherUpsertNode = `MERGE (n:Entity {id: $id, namespace: $ns}) SET n.label = $label`

	cypherUpsertEdge = `MATCH (s:Entity {id: $source, namespace: $ns})
MATCH (t:Entity {id: $target, namespace: $ns})
MERGE (s)-[r:RELATION {type: $type}]->(t)
RETURN count(r) AS linked`

	cypherEntityIDs = `MATCH (n:Entity {namespace: $ns}) RETURN n.id AS id ORDER BY id`

	cypherEdges = `MATCH (s:Entity {namespace: $ns})-[r:RELATION]->(t:Entity {namespace: $ns})
RETURN s.id AS source, t.id AS target, coalesce(r.type, '') AS type
ORDER BY source, target, type`

	cypherDescribe = `MATCH (n:Entity {namespace: $ns}) WHERE n.id IN $ids
RETURN n.id AS id, coalesce(n.description, n.label, '') AS description`

	cypherMergeEntity = `MERGE (n:Entity {id: $id, namespace: $ns})
ON CREATE SET n.sources = [$doc]
ON MATCH SET n.sources = CASE WHEN $doc IN coalesce(n.sources, []) THEN n.sources ELSE coalesce(n.sources, []) + $doc END
WITH n
WHERE coalesce(n.description, '') = ''
SET n.description = $description, n.label = $description`

	cypherMergeRelation = `MATCH (s:Entity {id: $source, namespace: $ns})
MATCH (t:Entity {id: $target, namespace: $ns})
MERGE (s)-[r:RELATION {type: $type}]->(t)
ON CREATE SET r.sources = [$doc]
ON MATCH SET r.sources = CASE WHEN $doc IN coalesce(r.sources, []) THEN r.sources ELSE coalesce(r.sources, []) + $doc END
RETURN count(r) AS linked`

	cypherRetractRelations = `MATCH (:Entity {namespace: $ns})-[r:RELATION]->(:Entity {namespace: $ns})
WHERE $doc IN coalesce(r.sources, [])
SET r.sources = [x IN r.sources WHERE x <> $doc]
WITH r WHERE size(r.sources) = 0
DELETE r`

	cypherRetractEntities = `MATCH (n:Entity {namespace: $ns})
WHERE $doc IN coalesce(n.sources, [])
SET n.sources = [x IN n.sources WHERE x <> $doc]
WITH n WHERE size(n.sources) = 0
DETACH DELETE n`
)

var schemaStatements = []string{
	`CREATE INDEX entity_namespace_id IF NOT EXISTS FOR (n:Entity) ON (n.namespace, n.id)`,
	`CREATE INDEX entity_namespace IF NOT EXISTS FOR (n:Entity) ON (n.namespace)`,
}

// Neo4jStore is a DocumentStore backed by Neo4j.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects to Neo4j, verifies connectivity and ensures indexes.
// Index creation failures are logged and do not fail construction.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("graphstore: neo4j URI is required")
	}
	if cfg.Username == "" {
		cfg.Username = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNeo4jTimeout
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = defaultNeo4jPoolSize
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: init neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graphstore: verify neo4j connectivity: %w", err)
	}

	s := &Neo4jStore{driver: driver, database: cfg.Database}
	s.ensureSchema(ctx)
	return s, nil
}

func (s *Neo4jStore) ensureSchema(ctx context.Context) {
	log := logging.FromContext(ctx)
	for _, stmt := range schemaStatements {
		if err := s.write(ctx, stmt, nil); err != nil {
			log.Warn("graphstore: neo4j index creation failed", slog.String("statement", stmt), slog.Any("error", err))
		}
	}
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// write runs a single statement in a write transaction and discards its result.
func (s *Neo4jStore) write(ctx context.Context, query string, params map[string]any) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

// linked runs a MATCH...MERGE statement that returns count(r) AS linked.
func (s *Neo4jStore) linked(ctx context.Context, query string, params map[string]any) (bool, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return false, err
		}
		recs, err := res.Collect(ctx)
		if err != nil {
			return false, err
		}
		for _, rec := range recs {
			if n, ok := rec.Get("linked"); ok {
				if c, ok := n.(int64); ok && c > 0 {
					return true, nil
				}
			}
		}
		return false, nil
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

// read runs query in a read transaction and returns all records.
func (s *Neo4jStore) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

// DeleteNamespace detaches and deletes every entity of ns.
func (s *Neo4jStore) DeleteNamespace(ctx context.Context, ns string) error {
	if err := s.write(ctx, cypherDeleteNamespace, map[string]any{"ns": ns}); err != nil {
		return fmt.Errorf("graphstore: neo4j delete namespace: %w", err)
	}
	return nil
}

// UpsertNode merges the entity and sets its label.
func (s *Neo4jStore) UpsertNode(ctx context.Context, ns string, node graph.Node) error {
	params := map[string]any{"ns": ns, "id": node.ID, "label": node.Label}
	if err := s.write(ctx, cypherUpsertNode, params); err != nil {
		return fmt.Errorf("graphstore: neo4j upsert node: %w", err)
	}
	return nil
}

// UpsertEdge merges a RELATION between two existing entities.
func (s *Neo4jStore) UpsertEdge(ctx context.Context, ns string, edge graph.Edge) (bool, error) {
	params := map[string]any{"ns": ns, "source": edge.Source, "target": edge.Target, "type": edge.Type}
	ok, err := s.linked(ctx, cypherUpsertEdge, params)
	if err != nil {
		return false, fmt.Errorf("graphstore: neo4j upsert edge: %w", err)
	}
	return ok, nil
}

// EntityIDs returns entity ids ordered by id.
func (s *Neo4jStore) EntityIDs(ctx context.Context, ns string) ([]string, error) {
	recs, err := s.read(ctx, cypherEntityIDs, map[string]any{"ns": ns})
	if err != nil {
		return nil, fmt.Errorf("graphstore: neo4j entity ids: %w", err)
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, recordString(rec, "id"))
	}
	return ids, nil
}

// Edges returns every relation of ns.
func (s *Neo4jStore) Edges(ctx context.Context, ns string) ([]graph.Edge, error) {
	recs, err := s.read(ctx, cypherEdges, map[string]any{"ns": ns})
	if err != nil {
		return nil, fmt.Errorf("graphstore: neo4j edges: %w", err)
	}
	edges := make([]graph.Edge, 0, len(recs))
	for _, rec := range recs {
		edges = append(edges, graph.Edge{
			Source: recordString(rec, "source"),
			Target: recordString(rec, "target"),
			Type:   recordString(rec, "type"),
		})
	}
	return edges, nil
}

// Describe returns description (or label) per id.
func (s *Neo4jStore) Describe(ctx context.Context, ns string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	recs, err := s.read(ctx, cypherDescribe, map[string]any{"ns": ns, "ids": ids})
	if err != nil {
		return nil, fmt.Errorf("graphstore: neo4j describe: %w", err)
	}
	for _, rec := range recs {
		if d := recordString(rec, "description"); d != "" {
			out[recordString(rec, "id")] = d
		}
	}
	return out, nil
}

// MergeEntity merges an entity and records docID in its sources.
func (s *Neo4jStore) MergeEntity(ctx context.Context, ns, id, description, docID string) error {
	params := map[string]any{"ns": ns, "id": id, "description": description, "doc": docID}
	if err := s.write(ctx, cypherMergeEntity, params); err != nil {
		return fmt.Errorf("graphstore: neo4j merge entity: %w", err)
	}
	return nil
}

// MergeRelation merges a relation and records docID in its sources.
func (s *Neo4jStore) MergeRelation(ctx context.Context, ns string, edge graph.Edge, docID string) (bool, error) {
	params := map[string]any{"ns": ns, "source": edge.Source, "target": edge.Target, "type": edge.Type, "doc": docID}
	ok, err := s.linked(ctx, cypherMergeRelation, params)
	if err != nil {
		return false, fmt.Errorf("graphstore: neo4j merge relation: %w", err)
	}
	return ok, nil
}

// DeleteDocument retracts docID from relations, then from entities.
func (s *Neo4jStore) DeleteDocument(ctx context.Context, ns, docID string) error {
	params := map[string]any{"ns": ns, "doc": docID}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, q := range []string{cypherRetractRelations, cypherRetractEntities} {
			res, err := tx.Run(ctx, q, params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graphstore: neo4j delete document: %w", err)
	}
	return nil
}

// Ping verifies the driver can reach the server.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close shuts down the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
