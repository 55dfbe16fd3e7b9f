package classify

import (
	"context"
	"errors"
	"testing"

	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/knowledge"
	"dbvybe-backend/internal/llm"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeLLM struct {
	isQuery    bool
	isQueryErr error
	calls      int
}

func (f *fakeLLM) GenerateQuery(context.Context, string, *domain.PromptContext, []llm.Turn) (*domain.GeneratedQuery, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLLM) Chat(context.Context, string, []llm.Turn) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeLLM) IsQueryRequest(context.Context, string) (bool, error) {
	f.calls++
	return f.isQuery, f.isQueryErr
}

func newClassifier(t *testing.T, withSchema bool, model *fakeLLM) (Service, domain.ConnectionDescriptor) {
	t.Helper()
	cache := knowledge.NewCache()
	desc := domain.ConnectionDescriptor{ID: "c1", Database: "shop"}
	if withSchema {
		cache.Put("c1", &domain.Schema{
			Engine:       domain.EnginePostgres,
			DatabaseName: "shop",
			Tables:       []domain.Table{{Namespace: "public", Name: "customer"}},
		})
	}
	return NewService(cache, model, zap.NewNop()), desc
}

func TestClassifyKnowledgeWithCachedSchema(t *testing.T) {
	svc, desc := newClassifier(t, true, &fakeLLM{})

	assert.Equal(t, IntentKnowledge, svc.Classify(context.Background(), "what tables do I have?", desc))
	assert.Equal(t, IntentKnowledge, svc.Classify(context.Background(), "Describe the schema please", desc))
}

func TestClassifyKnowledgeNeedsCachedSchema(t *testing.T) {
	model := &fakeLLM{}
	svc, desc := newClassifier(t, false, model)

	// Without a cached schema the structural question falls through to the
	// keyword pattern, which "tables" satisfies.
	assert.Equal(t, IntentQuery, svc.Classify(context.Background(), "what tables do I have?", desc))
	assert.Zero(t, model.calls)
}

func TestClassifyQueryKeywords(t *testing.T) {
	model := &fakeLLM{}
	svc, desc := newClassifier(t, true, model)

	for _, q := range []string{
		"show me all orders",
		"count customers in Berlin",
		"find records where status is active",
		"SELECT something for me",
	} {
		assert.Equal(t, IntentQuery, svc.Classify(context.Background(), q, desc), q)
	}
	assert.Zero(t, model.calls)
}

func TestClassifyKeywordNeedsWordBoundary(t *testing.T) {
	model := &fakeLLM{isQuery: false}
	svc, desc := newClassifier(t, true, model)

	// "informative" must not fire the "data"/"from" keywords.
	assert.Equal(t, IntentGeneral, svc.Classify(context.Background(), "you are very informative", desc))
	assert.Equal(t, 1, model.calls)
}

func TestClassifyFallbackToModel(t *testing.T) {
	model := &fakeLLM{isQuery: true}
	svc, desc := newClassifier(t, true, model)

	assert.Equal(t, IntentQuery, svc.Classify(context.Background(), "who bought the most last month?", desc))
	assert.Equal(t, 1, model.calls)
}

func TestClassifyFallbackFailureDefaultsToGeneral(t *testing.T) {
	model := &fakeLLM{isQueryErr: errors.New("model down")}
	svc, desc := newClassifier(t, true, model)

	assert.Equal(t, IntentGeneral, svc.Classify(context.Background(), "hello there!", desc))
}
