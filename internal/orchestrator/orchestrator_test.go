package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dbvybe-backend/internal/assembler"
	"dbvybe-backend/internal/classify"
	"dbvybe-backend/internal/config"
	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/graph"
	"dbvybe-backend/internal/knowledge"
	"dbvybe-backend/internal/llm"
	"dbvybe-backend/internal/observability"
	"dbvybe-backend/internal/registry"
	"dbvybe-backend/internal/sanitize"
	"dbvybe-backend/internal/vector"
	appErrors "dbvybe-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- fakes ----

type fakeExtractor struct {
	schema *domain.Schema
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(context.Context, domain.ConnectionDescriptor) (*domain.Schema, error) {
	f.calls++
	return f.schema, f.err
}

type fakeVector struct {
	hits      []vector.Hit
	degraded  bool
	deleteErr error
	upserted  []domain.SchemaEmbedding
	searches  int
	deletes   int
}

func (f *fakeVector) Upsert(_ context.Context, embeddings []domain.SchemaEmbedding) error {
	f.upserted = append(f.upserted, embeddings...)
	return nil
}

func (f *fakeVector) Search(context.Context, []float32, int, string) ([]vector.Hit, error) {
	f.searches++
	if f.degraded {
		return nil, nil
	}
	return f.hits, nil
}

func (f *fakeVector) DeleteByConnection(context.Context, string, string) error {
	f.deletes++
	return f.deleteErr
}

func (f *fakeVector) Degraded() bool { return f.degraded }

type fakeGraph struct {
	deleteErr error
	upserts   int
	deletes   int
}

func (f *fakeGraph) UpsertSchema(context.Context, string, string, *domain.Schema) error {
	f.upserts++
	return nil
}

func (f *fakeGraph) ShortestPath(context.Context, string, string, string, int) ([][]string, error) {
	return nil, nil
}

func (f *fakeGraph) Neighborhood(context.Context, string, string, int) ([]graph.Neighbor, error) {
	return nil, nil
}

func (f *fakeGraph) TableDependencies(context.Context, string, []string) (map[string][]string, error) {
	return map[string][]string{}, nil
}

func (f *fakeGraph) DeleteByConnection(context.Context, string, string) error {
	f.deletes++
	return f.deleteErr
}

func (f *fakeGraph) Degraded() bool { return false }

type fakeLLM struct {
	queryText   string
	explanation string
	chatReply   string
	isQuery     bool
	genErr      error
	genCalls    int
	chatCalls   int
}

func (f *fakeLLM) GenerateQuery(_ context.Context, _ string, pc *domain.PromptContext, _ []llm.Turn) (*domain.GeneratedQuery, error) {
	f.genCalls++
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &domain.GeneratedQuery{Engine: pc.Engine, Text: f.queryText, Explanation: f.explanation}, nil
}

func (f *fakeLLM) Chat(context.Context, string, []llm.Turn) (string, error) {
	f.chatCalls++
	return f.chatReply, nil
}

func (f *fakeLLM) IsQueryRequest(context.Context, string) (bool, error) {
	return f.isQuery, nil
}

type fakeDriver struct {
	result  *domain.QueryResult
	err     error
	queries []string
}

func (f *fakeDriver) Execute(_ context.Context, _ domain.ConnectionDescriptor, query string, _ int) (*domain.QueryResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.QueryResult{Status: "success"}, nil
}

// ---- fixtures ----

func pizzaSchema() *domain.Schema {
	cols := func(n int) []domain.Column {
		out := make([]domain.Column, n)
		for i := range out {
			out[i] = domain.Column{Name: string(rune('a' + i)), TypeName: "text", Ordinal: i + 1}
		}
		return out
	}
	return &domain.Schema{
		Engine:       domain.EnginePostgres,
		DatabaseName: "pizza",
		Namespaces:   []string{"pizza_shop"},
		Tables: []domain.Table{
			{Namespace: "pizza_shop", Name: "customer", Columns: cols(6)},
			{Namespace: "pizza_shop", Name: "order", Columns: cols(5)},
			{Namespace: "pizza_shop", Name: "payment", Columns: cols(4)},
		},
	}
}

func pizzaDescriptor() domain.ConnectionDescriptor {
	return domain.ConnectionDescriptor{
		ID:       "c1",
		UserID:   "userA",
		Engine:   domain.EnginePostgres,
		Host:     "localhost",
		Port:     5432,
		Database: "pizza",
	}
}

type harness struct {
	svc       Service
	registry  *registry.Registry
	cache     *knowledge.Cache
	extractor *fakeExtractor
	vectors   *fakeVector
	graphs    *fakeGraph
	model     *fakeLLM
	driver    *fakeDriver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		registry:  registry.New(logger),
		cache:     knowledge.NewCache(),
		extractor: &fakeExtractor{schema: pizzaSchema()},
		vectors:   &fakeVector{},
		graphs:    &fakeGraph{},
		model:     &fakeLLM{},
		driver:    &fakeDriver{},
	}
	memory, err := llm.NewMemory()
	require.NoError(t, err)

	cfg := config.OrchestratorConfig{
		RequestTimeout: 45 * time.Second,
		TopK:           8,
		MaxRows:        100,
	}
	h.svc = NewService(Deps{
		Registry:   h.registry,
		Cache:      h.cache,
		Extractor:  h.extractor,
		Vectors:    h.vectors,
		Embedder:   vector.NewHashingEmbedder(),
		Graphs:     h.graphs,
		Assembler:  assembler.NewService(h.graphs, cfg.TopK, logger),
		Classifier: classify.NewService(h.cache, h.model, logger),
		Model:      h.model,
		Memory:     memory,
		Sanitizer:  sanitize.NewService(logger),
		Driver:     h.driver,
		Metrics:    observability.NewCollector("dbvybe"),
	}, cfg, logger)
	return h
}

func (h *harness) registerCached(t *testing.T) {
	t.Helper()
	require.NoError(t, h.registry.Register(pizzaDescriptor()))
	h.cache.Put("c1", pizzaSchema())
}

// ---- scenarios ----

func TestHandleKnowledgeAnswerListsTablesInOrder(t *testing.T) {
	h := newHarness(t)
	h.registerCached(t)

	resp := h.svc.Handle(context.Background(), "userA", "c1", "which tables does this database have?", "s1")

	require.Equal(t, domain.ResponseKnowledge, resp.Type)
	customer := strings.Index(resp.Text, "pizza_shop.customer")
	order := strings.Index(resp.Text, "pizza_shop.order")
	require.GreaterOrEqual(t, customer, 0)
	require.Greater(t, order, customer)
	assert.Zero(t, h.model.genCalls)
	assert.Empty(t, h.driver.queries)
}

func TestHandleQueryGenerationAndExecution(t *testing.T) {
	h := newHarness(t)
	h.registerCached(t)
	h.model.queryText = `SELECT DISTINCT c.* FROM customer c JOIN "order" o ON c.customer_id=o.customer_id JOIN payment p ON o.order_id=p.order_id WHERE p.amount > 20`
	h.model.explanation = "Customers with payments over $20."
	h.model.isQuery = true

	resp := h.svc.Handle(context.Background(), "userA", "c1", "list all customers who have paid more than $20", "s1")

	require.Equal(t, domain.ResponseQuery, resp.Type)
	want := `SELECT DISTINCT c.* FROM pizza_shop.customer c JOIN pizza_shop."order" o ON c.customer_id=o.customer_id JOIN pizza_shop.payment p ON o.order_id=p.order_id WHERE p.amount > 20`
	assert.Equal(t, want, resp.Query)
	require.Len(t, h.driver.queries, 1)
	assert.Equal(t, want, h.driver.queries[0])
	assert.Equal(t, "Customers with payments over $20.", resp.Explanation)
}

func TestHandleBlockedQueryNeverReachesEngine(t *testing.T) {
	h := newHarness(t)
	h.registerCached(t)
	h.model.queryText = "DROP TABLE pizza_shop.customer;"
	h.model.isQuery = true

	resp := h.svc.Handle(context.Background(), "userA", "c1", "list all customers", "s1")

	require.Equal(t, domain.ResponseBlocked, resp.Type)
	assert.Equal(t, "dangerous operation: DROP", resp.Reason)
	assert.Equal(t, "DROP TABLE pizza_shop.customer;", resp.Text)
	assert.Empty(t, h.driver.queries)
}

func TestHandleDocumentQueryPassesSanitizedJSON(t *testing.T) {
	h := newHarness(t)
	desc := pizzaDescriptor()
	desc.Engine = domain.EngineDocument
	require.NoError(t, h.registry.Register(desc))
	h.cache.Put("c1", &domain.Schema{
		Engine:       domain.EngineDocument,
		DatabaseName: "pizza",
		Tables:       []domain.Table{{Name: "orders"}},
	})
	h.model.queryText = `{"aggregate":"orders","pipeline":[{"$group":{"_id":"$status","n":{"$sum":1}}}]}`

	resp := h.svc.Handle(context.Background(), "userA", "c1", "count orders per status", "s1")

	require.Equal(t, domain.ResponseQuery, resp.Type)
	require.Len(t, h.driver.queries, 1)
	assert.Equal(t, h.model.queryText, h.driver.queries[0])
}

func TestHandleDegradedVectorStoreStillProducesQuery(t *testing.T) {
	h := newHarness(t)
	h.registerCached(t)
	h.vectors.degraded = true
	h.model.queryText = "SELECT * FROM customer"

	resp := h.svc.Handle(context.Background(), "userA", "c1", "show customer data", "s1")

	require.Equal(t, domain.ResponseQuery, resp.Type)
	assert.Equal(t, "SELECT * FROM pizza_shop.customer", resp.Query)
}

func TestHandleCrossUserIsolation(t *testing.T) {
	h := newHarness(t)
	h.registerCached(t)

	resp := h.svc.Handle(context.Background(), "userB", "c1", "show me everything", "s1")

	require.Equal(t, domain.ResponseError, resp.Type)
	assert.Equal(t, "NotFound", resp.ErrorKind)
	assert.Zero(t, h.model.genCalls)
	assert.Zero(t, h.model.chatCalls)
	assert.Empty(t, h.driver.queries)
}

// ---- boundaries and failure semantics ----

func TestHandleEmptyTextIsInvalidInput(t *testing.T) {
	h := newHarness(t)
	h.registerCached(t)

	resp := h.svc.Handle(context.Background(), "userA", "c1", "   ", "s1")

	require.Equal(t, domain.ResponseError, resp.Type)
	assert.Equal(t, "InvalidInput", resp.ErrorKind)
}

func TestHandleExecutionErrorEchoesSanitizedQuery(t *testing.T) {
	h := newHarness(t)
	h.registerCached(t)
	h.model.queryText = "SELECT nope FROM customer"
	h.driver.err = appErrors.NewExecution("column nope does not exist", nil)

	resp := h.svc.Handle(context.Background(), "userA", "c1", "select something broken", "s1")

	require.Equal(t, domain.ResponseError, resp.Type)
	assert.Equal(t, "ExecutionError", resp.ErrorKind)
	assert.Contains(t, resp.Message, "SELECT nope FROM pizza_shop.customer")
}

func TestHandleLLMFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	h.registerCached(t)
	h.model.genErr = appErrors.NewLLM("model unavailable", errors.New("dial timeout"))

	resp := h.svc.Handle(context.Background(), "userA", "c1", "show customer data", "s1")

	require.Equal(t, domain.ResponseError, resp.Type)
	assert.Equal(t, "LLMError", resp.ErrorKind)
	assert.Empty(t, h.driver.queries)
}

func TestHandleSubstitutionNoteAppendedToExplanation(t *testing.T) {
	h := newHarness(t)
	h.registerCached(t)
	h.model.queryText = "SELECT * FROM customer"
	h.model.explanation = "All customers."
	h.driver.result = &domain.QueryResult{
		Status:        "success",
		Substitutions: []string{"placeholder $1 replaced with 0"},
	}

	resp := h.svc.Handle(context.Background(), "userA", "c1", "show customer data", "s1")

	require.Equal(t, domain.ResponseQuery, resp.Type)
	assert.Contains(t, resp.Explanation, "All customers.")
	assert.Contains(t, resp.Explanation, "placeholder $1 replaced with 0")
}

func TestHandleChatBranchKeepsMemory(t *testing.T) {
	h := newHarness(t)
	h.registerCached(t)
	h.model.chatReply = "Hello! Ask me about your data."

	resp := h.svc.Handle(context.Background(), "userA", "c1", "good morning!", "s1")

	require.Equal(t, domain.ResponseChat, resp.Type)
	assert.Equal(t, "Hello! Ask me about your data.", resp.Text)
	assert.Equal(t, 1, h.model.chatCalls)
}

// ---- lifecycle ----

func TestRegisterConnectionRunsFullAnalysis(t *testing.T) {
	h := newHarness(t)

	err := h.svc.RegisterConnection(context.Background(), pizzaDescriptor())
	require.NoError(t, err)

	assert.Equal(t, 1, h.extractor.calls)
	require.Len(t, h.vectors.upserted, 3)
	for _, emb := range h.vectors.upserted {
		assert.Equal(t, "c1", emb.ConnectionID)
		assert.Equal(t, "userA", emb.UserID)
		assert.Len(t, emb.Vector, vector.Dim)
		assert.NotEmpty(t, emb.ID)
		assert.Contains(t, emb.Text, emb.TableID)
	}
	assert.Equal(t, 1, h.graphs.upserts)

	cached, ok := h.cache.Get("c1")
	require.True(t, ok)
	assert.Len(t, cached.Tables, 3)
}

func TestRegisterConnectionExtractionFailure(t *testing.T) {
	h := newHarness(t)
	h.extractor.schema = nil
	h.extractor.err = errors.New("connection refused")

	err := h.svc.RegisterConnection(context.Background(), pizzaDescriptor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeExtraction, appErrors.TypeOf(err))

	_, ok := h.cache.Get("c1")
	assert.False(t, ok)
}

func TestRemoveConnectionPurgesIndexesAndCache(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.RegisterConnection(context.Background(), pizzaDescriptor()))

	require.NoError(t, h.svc.RemoveConnection(context.Background(), "userA", "c1"))

	assert.GreaterOrEqual(t, h.vectors.deletes, 1)
	assert.GreaterOrEqual(t, h.graphs.deletes, 1)
	_, ok := h.cache.Get("c1")
	assert.False(t, ok)
	assert.Empty(t, h.registry.PendingCleanups())

	resp := h.svc.Handle(context.Background(), "userA", "c1", "show customer data", "s1")
	assert.Equal(t, "NotFound", resp.ErrorKind)
}

func TestRemoveConnectionByNonOwnerFails(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.RegisterConnection(context.Background(), pizzaDescriptor()))

	err := h.svc.RemoveConnection(context.Background(), "userB", "c1")
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))
	assert.Zero(t, h.vectors.deletes)
}

func TestRemoveConnectionTombstonesFailedCleanup(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.RegisterConnection(context.Background(), pizzaDescriptor()))
	h.vectors.deleteErr = appErrors.NewVectorUnavailable("store down", nil)

	require.NoError(t, h.svc.RemoveConnection(context.Background(), "userA", "c1"))

	// The schema never outlives the connection even when cleanup failed.
	_, ok := h.cache.Get("c1")
	assert.False(t, ok)
	require.Len(t, h.registry.PendingCleanups(), 1)

	// Replay succeeds once the store is back.
	h.vectors.deleteErr = nil
	h.svc.ReconcileIndexes(context.Background())
	assert.Empty(t, h.registry.PendingCleanups())
}

func TestReanalyzeRefreshesSnapshot(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.RegisterConnection(context.Background(), pizzaDescriptor()))

	refreshed := pizzaSchema()
	refreshed.Tables = append(refreshed.Tables, domain.Table{Namespace: "pizza_shop", Name: "driver"})
	h.extractor.schema = refreshed

	require.NoError(t, h.svc.Reanalyze(context.Background(), "userA", "c1"))

	cached, ok := h.cache.Get("c1")
	require.True(t, ok)
	assert.Len(t, cached.Tables, 4)
	assert.Equal(t, 2, h.graphs.upserts)
}
