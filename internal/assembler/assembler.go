// Package assembler turns similarity hits and the cached schema into the
// ranked context handed to the language model.
package assembler

import (
	"context"
	"sort"
	"strings"

	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/graph"
	"dbvybe-backend/internal/vector"

	"go.uber.org/zap"
)

// joinHintSeeds is how many of the top-ranked tables participate in
// pairwise join-path lookups.
const joinHintSeeds = 3

// joinHintDepth bounds how many reference hops a join path may span.
const joinHintDepth = 5

// Service assembles prompt contexts.
type Service interface {
	Assemble(ctx context.Context, desc domain.ConnectionDescriptor, schema *domain.Schema, hits []vector.Hit, userID string) (*domain.PromptContext, error)
}

type service struct {
	graph  graph.Index
	topK   int
	logger *zap.Logger
}

// NewService creates the assembler. topK bounds how many table fragments
// enter the prompt.
func NewService(graphIndex graph.Index, topK int, logger *zap.Logger) Service {
	return &service{graph: graphIndex, topK: topK, logger: logger}
}

// Assemble ranks the hits, renders fragments from the cached schema, adds
// the foreign-key edges among the selected tables, and asks the graph for
// join paths between the strongest candidates. With no hits at all it falls
// back to the schema's leading tables so a degraded vector store still
// yields a usable prompt.
func (s *service) Assemble(ctx context.Context, desc domain.ConnectionDescriptor, schema *domain.Schema, hits []vector.Hit, userID string) (*domain.PromptContext, error) {
	ranked := s.rank(schema, hits)

	pc := &domain.PromptContext{
		Engine:       schema.Engine,
		DatabaseName: schema.DatabaseName,
		RankedTables: ranked,
		MemoryKey:    userID,
	}
	pc.Relationships = relationshipsFor(schema, ranked)
	pc.JoinHints = s.joinHints(ctx, desc.ID, ranked)
	return pc, nil
}

// rank orders hits by score, deduplicates by table, and caps at topK. The
// cached schema's current rendering wins over the stored fragment text,
// which may predate the latest analysis.
func (s *service) rank(schema *domain.Schema, hits []vector.Hit) []domain.RankedTable {
	sorted := make([]vector.Hit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	seen := make(map[string]bool)
	var ranked []domain.RankedTable
	for _, hit := range sorted {
		if len(ranked) >= s.topK {
			break
		}
		id := hit.Embedding.TableID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		text := hit.Embedding.Text
		if table, ok := schema.TableByID(id); ok {
			text = table.Render()
		}
		ranked = append(ranked, domain.RankedTable{TableID: id, Score: hit.Score, Text: text})
	}

	if len(ranked) == 0 {
		for _, id := range schema.SortedTableIDs() {
			if len(ranked) >= s.topK {
				break
			}
			table, ok := schema.TableByID(id)
			if !ok {
				continue
			}
			ranked = append(ranked, domain.RankedTable{TableID: id, Text: table.Render()})
		}
	}
	return ranked
}

// relationshipsFor collects every foreign-key edge touching a ranked table,
// including exit edges whose other endpoint was not selected.
func relationshipsFor(schema *domain.Schema, ranked []domain.RankedTable) []domain.Relationship {
	rankedSet := make(map[string]bool, len(ranked))
	for _, rt := range ranked {
		rankedSet[rt.TableID] = true
	}

	var rels []domain.Relationship
	for i := range schema.Tables {
		table := &schema.Tables[i]
		for _, fk := range table.ForeignKeys {
			if !rankedSet[table.ID()] && !rankedSet[fk.RefID()] {
				continue
			}
			rels = append(rels, domain.Relationship{
				SrcTable:  table.ID(),
				SrcColumn: fk.Column,
				DstTable:  fk.RefID(),
				DstColumn: fk.RefColumn,
				Heuristic: fk.Heuristic,
			})
		}
	}
	return rels
}

// joinHints asks the graph for shortest paths between the strongest ranked
// tables. Graph failures degrade to no hints.
func (s *service) joinHints(ctx context.Context, connectionID string, ranked []domain.RankedTable) []string {
	seeds := ranked
	if len(seeds) > joinHintSeeds {
		seeds = seeds[:joinHintSeeds]
	}

	var hints []string
	for i := 0; i < len(seeds); i++ {
		for j := i + 1; j < len(seeds); j++ {
			paths, err := s.graph.ShortestPath(ctx, connectionID, seeds[i].TableID, seeds[j].TableID, joinHintDepth)
			if err != nil {
				s.logger.Warn("join path lookup failed",
					zap.String("from", seeds[i].TableID),
					zap.String("to", seeds[j].TableID),
					zap.Error(err))
				continue
			}
			for _, path := range paths {
				if len(path) < 2 {
					continue
				}
				hints = append(hints, strings.Join(path, " joins to "))
			}
		}
	}
	return hints
}
