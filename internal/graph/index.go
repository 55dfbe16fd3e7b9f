// Package graph mirrors the relational structure of every registered
// database into a graph store so join paths can be answered structurally.
package graph

import (
	"context"

	"dbvybe-backend/internal/domain"
)

// Edge kinds stored on REFERENCES relationships.
const (
	// EdgeKindForeignKey marks an edge backed by a declared constraint.
	EdgeKindForeignKey = "foreign_key"
	// EdgeKindInferred marks an edge produced by a naming heuristic.
	EdgeKindInferred = "inferred"
)

// Neighbor is one table reachable from a seed table, with its hop distance
// and the kind of the first edge on a shortest route to it.
type Neighbor struct {
	Table    string
	Distance int
	Kind     string
}

// Index maintains one subgraph per connection: a database node, its table
// nodes, and the reference edges between them. Writes are idempotent, so a
// re-analysis converges to the current schema. When the backing store is
// unreachable the index degrades the same way the vector index does: writes
// are acknowledged after logging, reads return empty, and Degraded reports
// the condition.
type Index interface {
	UpsertSchema(ctx context.Context, connectionID, userID string, schema *domain.Schema) error
	// ShortestPath returns up to ten reference paths between the two
	// tables, shortest first, each path as the table names along it.
	ShortestPath(ctx context.Context, connectionID, fromTable, toTable string, maxDepth int) ([][]string, error)
	Neighborhood(ctx context.Context, connectionID, table string, depth int) ([]Neighbor, error)
	// TableDependencies maps each given table to the tables it directly
	// references.
	TableDependencies(ctx context.Context, connectionID string, tables []string) (map[string][]string, error)
	DeleteByConnection(ctx context.Context, connectionID, userID string) error
	Degraded() bool
}
