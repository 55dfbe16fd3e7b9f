// Package classify decides what a user message wants: an answer about the
// schema itself, a generated query, or plain conversation.
package classify

import (
	"context"
	"regexp"
	"strings"

	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/knowledge"
	"dbvybe-backend/internal/llm"

	"go.uber.org/zap"
)

// Intent is the classification outcome.
type Intent string

const (
	// IntentKnowledge means the question is about the schema and can be
	// answered from the cache without touching the database.
	IntentKnowledge Intent = "KNOWLEDGE"
	// IntentQuery means the question asks for data and needs a query.
	IntentQuery Intent = "QUERY"
	// IntentGeneral means plain conversation.
	IntentGeneral Intent = "GENERAL"
)

// knowledgeTerms mark questions about structure rather than content.
var knowledgeTerms = []string{
	"schema", "structure", "tables", "columns", "fields",
	"relationships", "collections", "what table", "what column",
	"which tables", "which columns", "describe the database",
}

// queryKeywords is the literal pattern set for query intent. Each keyword
// matches on word boundaries so "from" does not fire inside "performance".
var queryKeywords = []string{
	"select", "insert", "update", "delete", "create", "drop", "alter",
	"show", "describe", "explain", "find", "aggregate", "count", "sum",
	"avg", "group by", "order by", "where", "from", "join", "database",
	"table", "column", "record", "data", "query", "search", "filter", "sort",
}

var queryPattern = compileKeywordPattern(queryKeywords)

func compileKeywordPattern(keywords []string) *regexp.Regexp {
	escaped := make([]string, len(keywords))
	for i, kw := range keywords {
		escaped[i] = regexp.QuoteMeta(kw)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
}

// Service classifies user messages.
type Service interface {
	Classify(ctx context.Context, userQuery string, desc domain.ConnectionDescriptor) Intent
}

type service struct {
	cache  *knowledge.Cache
	llm    llm.Client
	logger *zap.Logger
}

// NewService creates the classifier.
func NewService(cache *knowledge.Cache, client llm.Client, logger *zap.Logger) Service {
	return &service{cache: cache, llm: client, logger: logger}
}

// Classify applies the decision ladder: the knowledge predicate first, the
// literal keyword pattern second, the model fallback last. Any fallback
// failure degrades to general conversation.
func (s *service) Classify(ctx context.Context, userQuery string, desc domain.ConnectionDescriptor) Intent {
	lower := strings.ToLower(userQuery)

	if s.isKnowledge(lower, desc) {
		return IntentKnowledge
	}
	if queryPattern.MatchString(userQuery) {
		return IntentQuery
	}

	isQuery, err := s.llm.IsQueryRequest(ctx, userQuery)
	if err != nil {
		s.logger.Warn("intent fallback failed, treating as conversation",
			zap.String("connection_id", desc.ID),
			zap.Error(err))
		return IntentGeneral
	}
	if isQuery {
		return IntentQuery
	}
	return IntentGeneral
}

// isKnowledge requires both structural vocabulary and a cached schema; with
// no schema there is nothing to answer from.
func (s *service) isKnowledge(lowerQuery string, desc domain.ConnectionDescriptor) bool {
	if _, ok := s.cache.Get(desc.ID); !ok {
		return false
	}
	for _, term := range knowledgeTerms {
		if strings.Contains(lowerQuery, term) {
			return true
		}
	}
	if desc.Database != "" && strings.Contains(lowerQuery, strings.ToLower(desc.Database)) &&
		strings.Contains(lowerQuery, "about") {
		return true
	}
	return false
}
