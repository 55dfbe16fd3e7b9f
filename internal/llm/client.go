// Package llm talks to the language model: query generation, small talk, and
// the intent fallback, plus the per-user conversation memory.
package llm

import (
	"context"
	"strings"
	"time"

	"dbvybe-backend/internal/config"
	"dbvybe-backend/internal/domain"
	appErrors "dbvybe-backend/pkg/errors"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"
)

// Client is the language-model surface the orchestrator depends on.
type Client interface {
	// GenerateQuery produces a candidate query for the assembled context.
	// The result is untrusted and must pass the sanitizer.
	GenerateQuery(ctx context.Context, question string, pc *domain.PromptContext, history []Turn) (*domain.GeneratedQuery, error)
	// Chat answers casual conversation without any database context.
	Chat(ctx context.Context, question string, history []Turn) (string, error)
	// IsQueryRequest asks the model whether the text asks for data.
	IsQueryRequest(ctx context.Context, question string) (bool, error)
}

// OpenAIClient implements Client over an OpenAI-compatible endpoint.
type OpenAIClient struct {
	llm         openai.Client
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
	logger      *zap.Logger
}

// NewOpenAIClient builds a client for the configured endpoint. An empty
// endpoint falls back to the provider default base URL.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) *OpenAIClient {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	return &OpenAIClient{
		llm:         openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int64(cfg.MaxTokens),
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

const generateInstructions = `You translate questions into database queries.

Rules:
- Generate statements only for the target engine named below. No other dialect.
- Use schema-qualified identifiers exactly as they appear in the schema fragments. Never invent tables or columns.
- Use literal values in the query. Never use parameter placeholders such as ? or $1.
- Read-only queries only. Never write, alter, or administer.
- Reply with the query first, then a blank line, then a one-paragraph explanation of what it does.`

const documentFormatInstructions = `The target engine is a document database. The query must be a single JSON object in command style with exactly one of the operators "find", "aggregate", "count" or "distinct" naming the collection, for example {"find": "orders", "filter": {"status": "paid"}, "limit": 10}.`

// GenerateQuery renders the prompt context, calls the model, and parses the
// response into query and explanation.
func (c *OpenAIClient) GenerateQuery(ctx context.Context, question string, pc *domain.PromptContext, history []Turn) (*domain.GeneratedQuery, error) {
	sys := generateInstructions + "\n\n" + renderContext(pc)
	if pc.Engine == domain.EngineDocument {
		sys += "\n\n" + documentFormatInstructions
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(sys)}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, openai.UserMessage(strings.TrimSpace(question)))

	content, err := c.complete(ctx, messages, c.temperature)
	if err != nil {
		return nil, err
	}

	query, explanation, err := ParseQueryResponse(content)
	if err != nil {
		return nil, err
	}
	return &domain.GeneratedQuery{
		Engine:      pc.Engine,
		Text:        query,
		Explanation: explanation,
	}, nil
}

const chatInstructions = `You are a friendly database assistant. The user is making conversation rather than asking about their data. Answer briefly and naturally. Do not produce queries.`

// Chat answers a conversational turn.
func (c *OpenAIClient) Chat(ctx context.Context, question string, history []Turn) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(chatInstructions)}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, openai.UserMessage(strings.TrimSpace(question)))

	content, err := c.complete(ctx, messages, c.temperature)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

const intentInstructions = `Decide whether the user's message asks to retrieve, count, list, or inspect data stored in a database. Answer with exactly one word: true or false.`

// IsQueryRequest asks the model for a boolean intent verdict. Anything other
// than a clear true/false is an error; the caller decides the default.
func (c *OpenAIClient) IsQueryRequest(ctx context.Context, question string) (bool, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(intentInstructions),
		openai.UserMessage(strings.TrimSpace(question)),
	}

	content, err := c.complete(ctx, messages, 0)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, appErrors.NewLLM("intent verdict was not true/false: "+content, nil)
}

func (c *OpenAIClient) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.llm.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", appErrors.NewTimeout("language model call timed out", err)
		}
		return "", appErrors.NewLLM("language model call failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", appErrors.NewLLM("language model returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

func historyMessages(history []Turn) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, turn := range history {
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Text))
			continue
		}
		messages = append(messages, openai.UserMessage(turn.Text))
	}
	return messages
}

// renderContext flattens the assembled context into prompt text.
func renderContext(pc *domain.PromptContext) string {
	var b strings.Builder
	b.WriteString("Target engine: ")
	b.WriteString(engineLabel(pc.Engine))
	b.WriteString("\nDatabase: ")
	b.WriteString(pc.DatabaseName)
	b.WriteString("\n\nSchema fragments:\n")
	for _, rt := range pc.RankedTables {
		b.WriteString("- ")
		b.WriteString(rt.Text)
		b.WriteString("\n")
	}
	if len(pc.Relationships) > 0 {
		b.WriteString("\nRelationships:\n")
		for _, rel := range pc.Relationships {
			b.WriteString("- ")
			b.WriteString(rel.SrcTable)
			b.WriteString(".")
			b.WriteString(rel.SrcColumn)
			b.WriteString(" references ")
			b.WriteString(rel.DstTable)
			b.WriteString(".")
			b.WriteString(rel.DstColumn)
			if rel.Heuristic {
				b.WriteString(" (inferred)")
			}
			b.WriteString("\n")
		}
	}
	if len(pc.JoinHints) > 0 {
		b.WriteString("\nJoin paths:\n")
		for _, hint := range pc.JoinHints {
			b.WriteString("- ")
			b.WriteString(hint)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func engineLabel(engine domain.EngineKind) string {
	switch engine {
	case domain.EnginePostgres:
		return "PostgreSQL"
	case domain.EngineMySQL:
		return "MySQL"
	case domain.EngineDocument:
		return "MongoDB"
	default:
		return string(engine)
	}
}
