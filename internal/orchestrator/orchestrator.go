// Package orchestrator drives the request pipeline: resolve, classify,
// gather context, generate, sanitize, execute.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dbvybe-backend/internal/assembler"
	"dbvybe-backend/internal/classify"
	"dbvybe-backend/internal/config"
	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/engine"
	"dbvybe-backend/internal/extract"
	"dbvybe-backend/internal/graph"
	"dbvybe-backend/internal/knowledge"
	"dbvybe-backend/internal/llm"
	"dbvybe-backend/internal/observability"
	"dbvybe-backend/internal/registry"
	"dbvybe-backend/internal/resilience"
	"dbvybe-backend/internal/sanitize"
	"dbvybe-backend/internal/vector"
	appErrors "dbvybe-backend/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is the public surface of the assistant.
type Service interface {
	// Handle answers one user message against one connection.
	Handle(ctx context.Context, userID, connectionID, userQuery, sessionID string) *domain.Response
	// RegisterConnection registers a descriptor and runs the full analysis:
	// extraction, embedding, vector upsert, graph upsert.
	RegisterConnection(ctx context.Context, desc domain.ConnectionDescriptor) error
	// RemoveConnection deactivates a connection and purges its index state.
	RemoveConnection(ctx context.Context, userID, connectionID string) error
	// Reanalyze re-runs the analysis pipeline for an existing connection.
	Reanalyze(ctx context.Context, userID, connectionID string) error
	// ReconcileIndexes replays pending index cleanups from failed removals.
	ReconcileIndexes(ctx context.Context)
}

type service struct {
	registry   *registry.Registry
	cache      *knowledge.Cache
	extractor  extract.Extractor
	vectors    vector.Index
	embedder   vector.Embedder
	graphs     graph.Index
	assembler  assembler.Service
	classifier classify.Service
	model      llm.Client
	memory     *llm.Memory
	sanitizer  sanitize.Service
	driver     engine.Driver
	metrics    *observability.Collector
	cfg        config.OrchestratorConfig
	logger     *zap.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Registry   *registry.Registry
	Cache      *knowledge.Cache
	Extractor  extract.Extractor
	Vectors    vector.Index
	Embedder   vector.Embedder
	Graphs     graph.Index
	Assembler  assembler.Service
	Classifier classify.Service
	Model      llm.Client
	Memory     *llm.Memory
	Sanitizer  sanitize.Service
	Driver     engine.Driver
	Metrics    *observability.Collector
}

// NewService wires the pipeline.
func NewService(deps Deps, cfg config.OrchestratorConfig, logger *zap.Logger) Service {
	return &service{
		registry:   deps.Registry,
		cache:      deps.Cache,
		extractor:  deps.Extractor,
		vectors:    deps.Vectors,
		embedder:   deps.Embedder,
		graphs:     deps.Graphs,
		assembler:  deps.Assembler,
		classifier: deps.Classifier,
		model:      deps.Model,
		memory:     deps.Memory,
		sanitizer:  deps.Sanitizer,
		driver:     deps.Driver,
		metrics:    deps.Metrics,
		cfg:        cfg,
		logger:     logger,
	}
}

// Handle runs the per-request state machine under the request budget. Every
// outcome is a single tagged Response; failures surface as typed error
// variants, never as panics or stack traces.
func (s *service) Handle(ctx context.Context, userID, connectionID, userQuery, sessionID string) *domain.Response {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	started := time.Now()

	if strings.TrimSpace(userQuery) == "" {
		s.metrics.Requests.WithLabelValues("invalid_input").Inc()
		return domain.ErrorResponse("InvalidInput", "the question is empty")
	}

	desc, err := s.registry.Resolve(userID, connectionID)
	if err != nil {
		s.metrics.Requests.WithLabelValues("not_found").Inc()
		return domain.ErrorResponse("NotFound", appErrors.MessageOf(err))
	}

	intent := s.classifier.Classify(ctx, userQuery, desc)
	s.logger.Debug("request classified",
		zap.String("connection_id", connectionID),
		zap.String("session_id", sessionID),
		zap.String("intent", string(intent)))

	var resp *domain.Response
	switch intent {
	case classify.IntentKnowledge:
		resp = s.answerFromCache(desc, userQuery)
	case classify.IntentGeneral:
		resp = s.chat(ctx, userID, userQuery)
	default:
		resp = s.answerWithQuery(ctx, userID, desc, userQuery)
	}

	s.metrics.Requests.WithLabelValues(string(resp.Type)).Inc()
	s.metrics.ObserveStage("handle", started)
	return resp
}

// answerFromCache answers structural questions from the schema snapshot. A
// question naming one table gets that table's description; otherwise the
// whole inventory is listed in canonical order.
func (s *service) answerFromCache(desc domain.ConnectionDescriptor, userQuery string) *domain.Response {
	schema, ok := s.cache.Get(desc.ID)
	if !ok {
		// The classifier only returns KNOWLEDGE with a cached schema, so
		// this is a race with a concurrent removal.
		return domain.ErrorResponse("NotFound", "no schema is cached for this connection")
	}
	s.metrics.CacheHits.Inc()

	if table := firstMentionedTable(schema, userQuery); table != nil {
		return domain.KnowledgeResponse(table.Render())
	}

	ids := schema.SortedTableIDs()
	var b strings.Builder
	fmt.Fprintf(&b, "The database %s contains %d tables: ", schema.DatabaseName, len(ids))
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(id)
		if table, ok := schema.TableByID(id); ok {
			fmt.Fprintf(&b, " (%d columns)", len(table.Columns))
		}
	}
	b.WriteString(".")
	return domain.KnowledgeResponse(b.String())
}

// chat answers conversational turns with the per-user memory window.
func (s *service) chat(ctx context.Context, userID, userQuery string) *domain.Response {
	history := s.memory.Window(userID)
	reply, err := s.model.Chat(ctx, userQuery, history)
	if err != nil {
		return domain.ErrorResponse("LLMError", appErrors.MessageOf(err))
	}
	s.memory.Append(userID, "user", userQuery)
	s.memory.Append(userID, "assistant", reply)
	return domain.ChatResponse(reply)
}

// answerWithQuery is the QUERY branch: gather context concurrently, generate,
// sanitize, execute.
func (s *service) answerWithQuery(ctx context.Context, userID string, desc domain.ConnectionDescriptor, userQuery string) *domain.Response {
	schema, hits := s.gatherContext(ctx, desc, userQuery)

	pc, err := s.assembler.Assemble(ctx, desc, schema, hits, userID)
	if err != nil {
		return domain.ErrorResponse("Internal", appErrors.MessageOf(err))
	}

	history := s.memory.Window(userID)
	gq, err := s.model.GenerateQuery(ctx, userQuery, pc, history)
	if err != nil {
		return domain.ErrorResponse("LLMError", appErrors.MessageOf(err))
	}

	sanitized, err := s.sanitizer.Sanitize(gq, schema)
	if err != nil {
		reason := appErrors.MessageOf(err)
		s.metrics.BlockedQueries.WithLabelValues(reason).Inc()
		s.logger.Warn("query blocked",
			zap.String("connection_id", desc.ID),
			zap.String("reason", reason))
		return domain.BlockedResponse(gq.Text, reason)
	}

	result, err := s.driver.Execute(ctx, desc, sanitized, s.cfg.MaxRows)
	if err != nil {
		return domain.ErrorResponse("ExecutionError",
			appErrors.MessageOf(err)+" (query: "+sanitized+")")
	}

	explanation := gq.Explanation
	if len(result.Substitutions) > 0 {
		// Placeholder substitution can change semantics; the caller must
		// see what was filled in.
		explanation = strings.TrimSpace(explanation +
			"\nNote: " + strings.Join(result.Substitutions, "; ") + ".")
	}

	s.memory.Append(userID, "user", userQuery)
	s.memory.Append(userID, "assistant", sanitized)
	return domain.QueryResponse(sanitized, explanation, result)
}

// gatherContext issues the schema lookup, the vector search, and the graph
// neighborhood concurrently. Each leg degrades to empty on failure; the legs
// merge commutatively into one hit list.
func (s *service) gatherContext(ctx context.Context, desc domain.ConnectionDescriptor, userQuery string) (*domain.Schema, []vector.Hit) {
	var (
		schema    *domain.Schema
		hits      []vector.Hit
		neighbors []graph.Neighbor
	)

	cached, ok := s.cache.Get(desc.ID)
	if ok {
		schema = cached
	} else {
		s.metrics.CacheMisses.Inc()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if schema != nil {
			return nil
		}
		refreshed, err := s.cache.Refresh(gctx, desc.ID, func(c context.Context) (*domain.Schema, error) {
			return s.extractor.Extract(c, desc)
		})
		if err != nil {
			s.logger.Warn("schema extraction failed, continuing without snapshot",
				zap.String("connection_id", desc.ID),
				zap.Error(err))
			return nil
		}
		s.metrics.SchemasExtracted.Inc()
		schema = refreshed
		return nil
	})
	g.Go(func() error {
		if s.vectors.Degraded() {
			s.metrics.DegradedEvents.WithLabelValues("vector").Inc()
		}
		found, err := s.vectors.Search(gctx, s.embedder.Embed(userQuery), s.cfg.TopK, desc.ID)
		if err != nil {
			s.logger.Warn("vector search failed, continuing with empty hits",
				zap.String("connection_id", desc.ID),
				zap.Error(err))
			return nil
		}
		hits = found
		return nil
	})
	g.Go(func() error {
		if s.graphs.Degraded() {
			s.metrics.DegradedEvents.WithLabelValues("graph").Inc()
		}
		seed := cached
		if seed == nil {
			return nil
		}
		table := firstMentionedTable(seed, userQuery)
		if table == nil {
			return nil
		}
		found, err := s.graphs.Neighborhood(gctx, desc.ID, table.ID(), 2)
		if err != nil {
			s.logger.Warn("graph neighborhood failed, continuing without it",
				zap.String("connection_id", desc.ID),
				zap.Error(err))
			return nil
		}
		neighbors = found
		return nil
	})
	_ = g.Wait()

	if schema == nil {
		// No snapshot at all; the engine and database name still come from
		// the descriptor so the prompt stays truthful.
		schema = &domain.Schema{Engine: desc.Engine, DatabaseName: desc.Database}
	}

	// Neighborhood tables enter the ranking with zero score; the assembler
	// deduplicates against the vector hits.
	for _, nb := range neighbors {
		hits = append(hits, vector.Hit{
			Embedding: domain.SchemaEmbedding{ConnectionID: desc.ID, TableID: nb.Table},
		})
	}
	return schema, hits
}

// RegisterConnection validates and stores the descriptor, then runs the
// analysis pipeline so the connection is immediately queryable.
func (s *service) RegisterConnection(ctx context.Context, desc domain.ConnectionDescriptor) error {
	if err := s.registry.Register(desc); err != nil {
		return err
	}
	if err := s.analyze(ctx, desc); err != nil {
		return err
	}
	s.logger.Info("connection analyzed",
		zap.String("connection_id", desc.ID),
		zap.String("engine", string(desc.Engine)))
	return nil
}

// Reanalyze refreshes the schema snapshot and both indexes for an existing
// connection.
func (s *service) Reanalyze(ctx context.Context, userID, connectionID string) error {
	desc, err := s.registry.Resolve(userID, connectionID)
	if err != nil {
		return err
	}
	return s.analyze(ctx, desc)
}

// analyze extracts the schema, caches it, embeds every table, and mirrors
// the relationships into the graph. Concurrent calls for one connection are
// coalesced by the cache.
func (s *service) analyze(ctx context.Context, desc domain.ConnectionDescriptor) error {
	started := time.Now()
	schema, err := s.cache.Refresh(ctx, desc.ID, func(c context.Context) (*domain.Schema, error) {
		return s.extractor.Extract(c, desc)
	})
	if err != nil {
		return appErrors.NewExtraction("analyzing connection "+desc.ID, err)
	}
	s.metrics.SchemasExtracted.Inc()
	s.metrics.ObserveStage("extract", started)

	now := time.Now()
	embeddings := make([]domain.SchemaEmbedding, 0, len(schema.Tables))
	for i := range schema.Tables {
		table := &schema.Tables[i]
		text := table.Render()
		embeddings = append(embeddings, domain.SchemaEmbedding{
			ID:           uuid.NewString(),
			ConnectionID: desc.ID,
			UserID:       desc.UserID,
			TableID:      table.ID(),
			Text:         text,
			Vector:       s.embedder.Embed(text),
			CreatedAt:    now,
		})
	}
	if err := s.vectors.Upsert(ctx, embeddings); err != nil {
		return err
	}
	s.metrics.TablesEmbedded.Add(float64(len(embeddings)))

	return s.graphs.UpsertSchema(ctx, desc.ID, desc.UserID, schema)
}

// RemoveConnection deactivates the connection and deletes its vector and
// graph state. Both deletes run before the cache entry is dropped; a failed
// delete leaves a tombstone replayed by ReconcileIndexes, so a stale index
// entry is tolerated but a cached schema never outlives its connection.
func (s *service) RemoveConnection(ctx context.Context, userID, connectionID string) error {
	if err := s.registry.Deactivate(userID, connectionID); err != nil {
		return err
	}

	if !s.purgeIndexes(ctx, connectionID, userID) {
		s.registry.AddTombstone(connectionID, userID)
	}
	s.cache.Drop(connectionID)
	s.logger.Info("connection removed", zap.String("connection_id", connectionID))
	return nil
}

// ReconcileIndexes replays pending index cleanups. Run at startup.
func (s *service) ReconcileIndexes(ctx context.Context) {
	for _, ts := range s.registry.PendingCleanups() {
		if s.purgeIndexes(ctx, ts.ConnectionID, ts.UserID) {
			s.registry.ClearTombstone(ts.ConnectionID)
		}
	}
}

// purgeIndexes deletes the connection's vector and graph state with
// retries; it reports whether both deletes succeeded.
func (s *service) purgeIndexes(ctx context.Context, connectionID, userID string) bool {
	retry := resilience.DefaultRetryConfig()
	ok := true

	if err := resilience.RetryWithBackoff(ctx, retry, func() error {
		return s.vectors.DeleteByConnection(ctx, connectionID, userID)
	}); err != nil {
		s.logger.Warn("vector cleanup failed",
			zap.String("connection_id", connectionID),
			zap.Error(err))
		ok = false
	}
	if err := resilience.RetryWithBackoff(ctx, retry, func() error {
		return s.graphs.DeleteByConnection(ctx, connectionID, userID)
	}); err != nil {
		s.logger.Warn("graph cleanup failed",
			zap.String("connection_id", connectionID),
			zap.Error(err))
		ok = false
	}
	return ok
}

// firstMentionedTable finds the first schema table whose bare name occurs as
// a word in the question.
func firstMentionedTable(schema *domain.Schema, userQuery string) *domain.Table {
	if schema == nil {
		return nil
	}
	words := strings.FieldsFunc(strings.ToLower(userQuery), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	})
	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[w] = true
		// Allow a naive plural to hit the singular table name.
		if strings.HasSuffix(w, "s") {
			wordSet[strings.TrimSuffix(w, "s")] = true
		}
	}
	for _, id := range schema.SortedTableIDs() {
		table, ok := schema.TableByID(id)
		if !ok {
			continue
		}
		if wordSet[strings.ToLower(table.Name)] {
			return table
		}
	}
	return nil
}
