package assembler

import (
	"context"
	"testing"

	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/graph"
	"dbvybe-backend/internal/vector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGraph struct {
	paths map[string][][]string
	calls int
}

func (f *fakeGraph) UpsertSchema(context.Context, string, string, *domain.Schema) error {
	return nil
}

func (f *fakeGraph) ShortestPath(_ context.Context, _ string, from, to string, _ int) ([][]string, error) {
	f.calls++
	return f.paths[from+"|"+to], nil
}

func (f *fakeGraph) Neighborhood(context.Context, string, string, int) ([]graph.Neighbor, error) {
	return nil, nil
}

func (f *fakeGraph) TableDependencies(context.Context, string, []string) (map[string][]string, error) {
	return map[string][]string{}, nil
}

func (f *fakeGraph) DeleteByConnection(context.Context, string, string) error { return nil }

func (f *fakeGraph) Degraded() bool { return false }

func shopSchema() *domain.Schema {
	return &domain.Schema{
		Engine:       domain.EnginePostgres,
		DatabaseName: "shop",
		Tables: []domain.Table{
			{Namespace: "public", Name: "customer", Columns: []domain.Column{
				{Name: "id", TypeName: "integer"},
				{Name: "name", TypeName: "text"},
			}},
			{Namespace: "public", Name: "order", Columns: []domain.Column{
				{Name: "id", TypeName: "integer"},
				{Name: "customer_id", TypeName: "integer"},
			}, ForeignKeys: []domain.ForeignKey{
				{Column: "customer_id", RefNamespace: "public", RefTable: "customer", RefColumn: "id"},
			}},
			{Namespace: "public", Name: "payment", Columns: []domain.Column{
				{Name: "id", TypeName: "integer"},
			}},
		},
	}
}

func hit(tableID string, score float32) vector.Hit {
	return vector.Hit{
		Embedding: domain.SchemaEmbedding{TableID: tableID, Text: "stale " + tableID},
		Score:     score,
	}
}

func TestAssembleRanksByScoreAndRerenders(t *testing.T) {
	svc := NewService(&fakeGraph{}, 8, zap.NewNop())
	desc := domain.ConnectionDescriptor{ID: "c1"}

	pc, err := svc.Assemble(context.Background(), desc, shopSchema(), []vector.Hit{
		hit("public.customer", 0.4),
		hit("public.order", 0.9),
	}, "u1")
	require.NoError(t, err)

	require.Len(t, pc.RankedTables, 2)
	assert.Equal(t, "public.order", pc.RankedTables[0].TableID)
	assert.Equal(t, "public.customer", pc.RankedTables[1].TableID)
	// Fragment text comes from the live schema, not the stored payload.
	assert.Contains(t, pc.RankedTables[0].Text, "customer_id (integer)")
	assert.NotContains(t, pc.RankedTables[0].Text, "stale")
	assert.Equal(t, "u1", pc.MemoryKey)
	assert.Equal(t, domain.EnginePostgres, pc.Engine)
	assert.Equal(t, "shop", pc.DatabaseName)
}

func TestAssembleCapsAtTopK(t *testing.T) {
	svc := NewService(&fakeGraph{}, 2, zap.NewNop())
	desc := domain.ConnectionDescriptor{ID: "c1"}

	pc, err := svc.Assemble(context.Background(), desc, shopSchema(), []vector.Hit{
		hit("public.customer", 0.5),
		hit("public.order", 0.9),
		hit("public.payment", 0.1),
	}, "u1")
	require.NoError(t, err)
	assert.Len(t, pc.RankedTables, 2)
}

func TestAssembleDeduplicatesTables(t *testing.T) {
	svc := NewService(&fakeGraph{}, 8, zap.NewNop())
	desc := domain.ConnectionDescriptor{ID: "c1"}

	pc, err := svc.Assemble(context.Background(), desc, shopSchema(), []vector.Hit{
		hit("public.order", 0.9),
		hit("public.order", 0.8),
	}, "u1")
	require.NoError(t, err)
	assert.Len(t, pc.RankedTables, 1)
}

func TestAssembleFallsBackToSchemaWhenNoHits(t *testing.T) {
	svc := NewService(&fakeGraph{}, 2, zap.NewNop())
	desc := domain.ConnectionDescriptor{ID: "c1"}

	pc, err := svc.Assemble(context.Background(), desc, shopSchema(), nil, "u1")
	require.NoError(t, err)
	require.Len(t, pc.RankedTables, 2)
	assert.Equal(t, "public.customer", pc.RankedTables[0].TableID)
	assert.Equal(t, "public.order", pc.RankedTables[1].TableID)
}

func TestAssembleIncludesForeignKeyEdges(t *testing.T) {
	svc := NewService(&fakeGraph{}, 8, zap.NewNop())
	desc := domain.ConnectionDescriptor{ID: "c1"}

	pc, err := svc.Assemble(context.Background(), desc, shopSchema(), []vector.Hit{
		hit("public.order", 0.9),
	}, "u1")
	require.NoError(t, err)

	require.Len(t, pc.Relationships, 1)
	rel := pc.Relationships[0]
	assert.Equal(t, "public.order", rel.SrcTable)
	assert.Equal(t, "customer_id", rel.SrcColumn)
	assert.Equal(t, "public.customer", rel.DstTable)
	assert.Equal(t, "id", rel.DstColumn)
}

func TestAssembleIncludesExitEdgesIntoRankedTables(t *testing.T) {
	svc := NewService(&fakeGraph{}, 8, zap.NewNop())
	desc := domain.ConnectionDescriptor{ID: "c1"}

	// Only customer is ranked, yet the order -> customer edge must appear.
	pc, err := svc.Assemble(context.Background(), desc, shopSchema(), []vector.Hit{
		hit("public.customer", 0.9),
	}, "u1")
	require.NoError(t, err)

	require.Len(t, pc.Relationships, 1)
	assert.Equal(t, "public.order", pc.Relationships[0].SrcTable)
	assert.Equal(t, "public.customer", pc.Relationships[0].DstTable)
}

func TestAssembleJoinHintsFromGraphPaths(t *testing.T) {
	fg := &fakeGraph{paths: map[string][][]string{
		"public.order|public.customer": {{"public.order", "public.customer"}},
	}}
	svc := NewService(fg, 8, zap.NewNop())
	desc := domain.ConnectionDescriptor{ID: "c1"}

	pc, err := svc.Assemble(context.Background(), desc, shopSchema(), []vector.Hit{
		hit("public.order", 0.9),
		hit("public.customer", 0.8),
		hit("public.payment", 0.7),
	}, "u1")
	require.NoError(t, err)

	require.Len(t, pc.JoinHints, 1)
	assert.Equal(t, "public.order joins to public.customer", pc.JoinHints[0])
	// Pairwise lookups among the top three seeds only.
	assert.Equal(t, 3, fg.calls)
}

func TestAssembleJoinHintsKeepAlternateRoutes(t *testing.T) {
	// A cyclic schema can join two tables along distinct routes; every
	// returned path becomes its own hint, shortest first.
	fg := &fakeGraph{paths: map[string][][]string{
		"public.order|public.customer": {
			{"public.order", "public.customer"},
			{"public.order", "public.payment", "public.customer"},
		},
	}}
	svc := NewService(fg, 8, zap.NewNop())
	desc := domain.ConnectionDescriptor{ID: "c1"}

	pc, err := svc.Assemble(context.Background(), desc, shopSchema(), []vector.Hit{
		hit("public.order", 0.9),
		hit("public.customer", 0.8),
	}, "u1")
	require.NoError(t, err)

	require.Len(t, pc.JoinHints, 2)
	assert.Equal(t, "public.order joins to public.customer", pc.JoinHints[0])
	assert.Equal(t, "public.order joins to public.payment joins to public.customer", pc.JoinHints[1])
}
