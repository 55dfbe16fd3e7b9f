package graph

import (
	"context"
	"fmt"

	"dbvybe-backend/internal/config"
	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/resilience"
	appErrors "dbvybe-backend/pkg/errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	// maxPathHops bounds shortest-path searches; schemas deeper than this
	// produce join chains nobody should be generating anyway.
	maxPathHops = 10
	// maxPaths caps how many paths a single shortest-path query returns.
	maxPaths = 10
	// maxNeighbors caps neighborhood expansion per seed table.
	maxNeighbors = 20
	// maxNeighborDepth clamps the traversal depth spliced into the
	// variable-length pattern, which cannot be parameterized.
	maxNeighborDepth = 5
)

// Neo4jIndex implements Index on a Neo4j deployment.
type Neo4jIndex struct {
	driver   neo4j.DriverWithContext
	database string
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger

	disabled bool
}

// NewNeo4jIndex connects to the configured graph endpoint. An empty URI
// yields a permanently degraded index, matching the vector store behavior.
func NewNeo4jIndex(cfg config.GraphConfig, logger *zap.Logger) (*Neo4jIndex, error) {
	idx := &Neo4jIndex{
		database: cfg.Database,
		breaker:  resilience.NewBreaker(resilience.DefaultBreakerConfig("neo4j"), logger),
		logger:   logger,
	}
	if cfg.URI == "" {
		logger.Warn("no graph endpoint configured, structural queries disabled")
		idx.disabled = true
		return idx, nil
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, appErrors.Wrap(err, "connecting to graph store")
	}
	idx.driver = driver
	return idx, nil
}

func (n *Neo4jIndex) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return n.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: n.database,
		AccessMode:   mode,
	})
}

// UpsertSchema merges the connection's database node, its table nodes, and
// the reference edges. Edges are deleted and recreated so removed foreign
// keys disappear; tables absent from the schema are detached and deleted.
// Unreachable stores log and acknowledge, per the Index contract.
func (n *Neo4jIndex) UpsertSchema(ctx context.Context, connectionID, userID string, schema *domain.Schema) error {
	if n.disabled {
		n.logger.Warn("graph store disabled, dropping schema upsert",
			zap.String("connection_id", connectionID))
		return nil
	}

	tableIDs := schema.SortedTableIDs()
	var refs []map[string]any
	for _, t := range schema.Tables {
		for _, fk := range t.ForeignKeys {
			refs = append(refs, map[string]any{
				"src":       t.ID(),
				"dst":       fk.RefID(),
				"srcColumn": fk.Column,
				"dstColumn": fk.RefColumn,
				"kind":      kindFor(fk.Heuristic),
				"heuristic": fk.Heuristic,
			})
		}
	}

	_, err := n.breaker.Execute(func() (any, error) {
		session := n.session(ctx, neo4j.AccessModeWrite)
		defer session.Close(ctx)

		return session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			params := map[string]any{
				"connectionId": connectionID,
				"userId":       userID,
				"engine":       string(schema.Engine),
				"name":         schema.DatabaseName,
				"tables":       tableIDs,
				"refs":         refs,
			}
			statements := []string{
				`MERGE (d:Database {connectionId: $connectionId})
				 SET d.userId = $userId, d.engine = $engine, d.name = $name`,
				`UNWIND $tables AS tableName
				 MATCH (d:Database {connectionId: $connectionId})
				 MERGE (t:Table {connectionId: $connectionId, name: tableName})
				 MERGE (t)-[:BELONGS_TO]->(d)`,
				`MATCH (t:Table {connectionId: $connectionId})
				 WHERE NOT t.name IN $tables
				 DETACH DELETE t`,
				`MATCH (:Table {connectionId: $connectionId})-[r:REFERENCES]->()
				 DELETE r`,
				`UNWIND $refs AS ref
				 MATCH (src:Table {connectionId: $connectionId, name: ref.src})
				 MATCH (dst:Table {connectionId: $connectionId, name: ref.dst})
				 MERGE (src)-[e:REFERENCES {srcColumn: ref.srcColumn, dstColumn: ref.dstColumn}]->(dst)
				 SET e.kind = ref.kind, e.heuristic = ref.heuristic`,
			}
			for _, stmt := range statements {
				res, err := tx.Run(ctx, stmt, params)
				if err != nil {
					return nil, err
				}
				if _, err := res.Consume(ctx); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
	})
	if err != nil {
		n.logger.Warn("graph upsert failed, acknowledging degraded write",
			zap.String("connection_id", connectionID),
			zap.Error(err))
	}
	return nil
}

// ShortestPath returns up to maxPaths reference paths between two tables,
// shortest first, each as the table names along it with both endpoints
// included. Returns nil when no path exists within maxDepth hops.
func (n *Neo4jIndex) ShortestPath(ctx context.Context, connectionID, fromTable, toTable string, maxDepth int) ([][]string, error) {
	if n.disabled || fromTable == toTable {
		return nil, nil
	}
	if maxDepth < 1 || maxDepth > maxPathHops {
		maxDepth = maxPathHops
	}

	res, err := n.breaker.Execute(func() (any, error) {
		session := n.session(ctx, neo4j.AccessModeRead)
		defer session.Close(ctx)

		return session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			query := fmt.Sprintf(`MATCH (a:Table {connectionId: $connectionId, name: $from}),
				       (b:Table {connectionId: $connectionId, name: $to}),
				       p = (a)-[:REFERENCES*..%d]-(b)
				 RETURN [node IN nodes(p) | node.name] AS names
				 ORDER BY length(p)
				 LIMIT %d`, maxDepth, maxPaths)
			result, err := tx.Run(ctx, query, map[string]any{
				"connectionId": connectionID,
				"from":         fromTable,
				"to":           toTable,
			})
			if err != nil {
				return nil, err
			}
			records, err := result.Collect(ctx)
			if err != nil {
				return nil, err
			}
			paths := make([][]string, 0, len(records))
			for _, record := range records {
				raw, _ := record.Get("names")
				names := stringList(raw)
				if len(names) > 0 {
					paths = append(paths, names)
				}
			}
			return paths, nil
		})
	})
	if err != nil {
		n.logger.Warn("graph path query failed, returning empty",
			zap.String("connection_id", connectionID),
			zap.Error(err))
		return nil, nil
	}
	return res.([][]string), nil
}

// Neighborhood returns tables within depth hops of the seed, deduplicated
// and ordered by distance then name, capped at maxNeighbors.
func (n *Neo4jIndex) Neighborhood(ctx context.Context, connectionID, table string, depth int) ([]Neighbor, error) {
	if n.disabled {
		return nil, nil
	}
	if depth < 1 {
		depth = 1
	}
	if depth > maxNeighborDepth {
		depth = maxNeighborDepth
	}

	res, err := n.breaker.Execute(func() (any, error) {
		session := n.session(ctx, neo4j.AccessModeRead)
		defer session.Close(ctx)

		return session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			query := fmt.Sprintf(`MATCH p = (a:Table {connectionId: $connectionId, name: $table})-[:REFERENCES*1..%d]-(b:Table)
				 WHERE b.name <> $table
				 WITH b.name AS name, p
				 ORDER BY length(p)
				 WITH name, collect(p)[0] AS shortest
				 RETURN name, length(shortest) AS distance, relationships(shortest)[0].kind AS kind
				 ORDER BY distance, name
				 LIMIT %d`, depth, maxNeighbors)
			result, err := tx.Run(ctx, query, map[string]any{
				"connectionId": connectionID,
				"table":        table,
			})
			if err != nil {
				return nil, err
			}
			records, err := result.Collect(ctx)
			if err != nil {
				return nil, err
			}
			neighbors := make([]Neighbor, 0, len(records))
			for _, record := range records {
				name, _ := record.Get("name")
				distance, _ := record.Get("distance")
				kind, _ := record.Get("kind")
				nb := Neighbor{}
				if s, ok := name.(string); ok {
					nb.Table = s
				}
				if d, ok := distance.(int64); ok {
					nb.Distance = int(d)
				}
				if k, ok := kind.(string); ok {
					nb.Kind = k
				}
				neighbors = append(neighbors, nb)
			}
			return neighbors, nil
		})
	})
	if err != nil {
		n.logger.Warn("graph neighborhood query failed, returning empty",
			zap.String("connection_id", connectionID),
			zap.Error(err))
		return nil, nil
	}
	return res.([]Neighbor), nil
}

// TableDependencies maps each given table to the tables its foreign keys
// point at directly. Tables with no outbound references map to an empty
// list; unknown tables are absent from the result.
func (n *Neo4jIndex) TableDependencies(ctx context.Context, connectionID string, tables []string) (map[string][]string, error) {
	if n.disabled || len(tables) == 0 {
		return map[string][]string{}, nil
	}

	res, err := n.breaker.Execute(func() (any, error) {
		session := n.session(ctx, neo4j.AccessModeRead)
		defer session.Close(ctx)

		return session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, `UNWIND $tables AS tableName
				 MATCH (t:Table {connectionId: $connectionId, name: tableName})
				 OPTIONAL MATCH (t)-[:REFERENCES]->(dst:Table)
				 RETURN tableName, collect(DISTINCT dst.name) AS deps`,
				map[string]any{
					"connectionId": connectionID,
					"tables":       tables,
				})
			if err != nil {
				return nil, err
			}
			records, err := result.Collect(ctx)
			if err != nil {
				return nil, err
			}
			deps := make(map[string][]string, len(records))
			for _, record := range records {
				name, _ := record.Get("tableName")
				raw, _ := record.Get("deps")
				if s, ok := name.(string); ok {
					deps[s] = stringList(raw)
				}
			}
			return deps, nil
		})
	})
	if err != nil {
		n.logger.Warn("graph dependency query failed, returning empty",
			zap.String("connection_id", connectionID),
			zap.Error(err))
		return map[string][]string{}, nil
	}
	return res.(map[string][]string), nil
}

// DeleteByConnection removes the connection's subgraph. Failures propagate
// so the caller can retry and record a pending cleanup.
func (n *Neo4jIndex) DeleteByConnection(ctx context.Context, connectionID, userID string) error {
	if n.disabled {
		return nil
	}
	_, err := n.breaker.Execute(func() (any, error) {
		session := n.session(ctx, neo4j.AccessModeWrite)
		defer session.Close(ctx)

		return session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, `MATCH (d:Database {connectionId: $connectionId, userId: $userId})
				 OPTIONAL MATCH (t:Table {connectionId: $connectionId})
				 DETACH DELETE d, t`,
				map[string]any{
					"connectionId": connectionID,
					"userId":       userID,
				})
			if err != nil {
				return nil, err
			}
			_, err = result.Consume(ctx)
			return nil, err
		})
	})
	if err != nil {
		return appErrors.NewGraphUnavailable("deleting subgraph for connection "+connectionID, err)
	}
	return nil
}

// Degraded reports whether the index is currently dropping work.
func (n *Neo4jIndex) Degraded() bool {
	return n.disabled || n.breaker.State() == gobreaker.StateOpen
}

// Close releases the driver connections.
func (n *Neo4jIndex) Close(ctx context.Context) error {
	if n.driver == nil {
		return nil
	}
	return n.driver.Close(ctx)
}

// stringList decodes a collect() of strings. Nulls from an unmatched
// OPTIONAL MATCH are skipped, so a table without edges decodes to an empty
// list rather than [nil].
func stringList(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			names = append(names, s)
		}
	}
	return names
}

func kindFor(heuristic bool) string {
	if heuristic {
		return EdgeKindInferred
	}
	return EdgeKindForeignKey
}
