package llm

import (
	"strings"

	appErrors "dbvybe-backend/pkg/errors"
)

// queryLabels are leading labels models sometimes prepend despite the
// instructions; they are stripped before further parsing.
var queryLabels = []string{"query:", "sql:", "answer:"}

// ParseQueryResponse splits a model response into the query text and the
// trailing explanation. A fenced code block wins when present; otherwise the
// first paragraph is the query and the rest is the explanation.
func ParseQueryResponse(raw string) (query, explanation string, err error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", "", appErrors.NewLLM("model returned an empty response", nil)
	}

	if q, rest, ok := extractFence(text); ok {
		query = strings.TrimSpace(q)
		explanation = strings.TrimSpace(rest)
	} else {
		query, explanation = splitFirstParagraph(text)
	}

	query = stripLabel(query)
	if query == "" {
		return "", "", appErrors.NewLLM("model response contained no query", nil)
	}
	return query, explanation, nil
}

// extractFence returns the content of the first ``` fence and everything
// outside it.
func extractFence(text string) (inner, rest string, ok bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", "", false
	}
	after := text[start+3:]
	end := strings.Index(after, "```")
	if end < 0 {
		return "", "", false
	}
	inner = after[:end]
	// Drop a language tag such as "sql" or "json" on the opening line.
	if i := strings.IndexByte(inner, '\n'); i >= 0 {
		firstLine := strings.TrimSpace(inner[:i])
		if firstLine != "" && len(firstLine) <= 10 && !strings.ContainsAny(firstLine, " {") {
			inner = inner[i+1:]
		}
	}
	rest = strings.TrimSpace(text[:start]) + "\n" + strings.TrimSpace(after[end+3:])
	return inner, strings.TrimSpace(rest), true
}

// splitFirstParagraph treats the first blank line as the boundary between
// query and explanation.
func splitFirstParagraph(text string) (first, rest string) {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	if i := strings.Index(normalized, "\n\n"); i >= 0 {
		return strings.TrimSpace(normalized[:i]), strings.TrimSpace(normalized[i+2:])
	}
	return strings.TrimSpace(normalized), ""
}

func stripLabel(query string) string {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)
	for _, label := range queryLabels {
		if strings.HasPrefix(lower, label) {
			return strings.TrimSpace(trimmed[len(label):])
		}
	}
	return trimmed
}
