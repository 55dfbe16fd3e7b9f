// Package sanitize validates and rewrites model-generated queries before
// anything reaches an engine. Raw model output is never executed.
package sanitize

import (
	"regexp"
	"strings"

	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/engine"
	appErrors "dbvybe-backend/pkg/errors"

	"go.uber.org/zap"
)

// relationalStarters are the only verbs a relational query may begin with.
var relationalStarters = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"DESCRIBE": true,
	"EXPLAIN":  true,
	"WITH":     true,
}

// dangerousKeywords block a query on any occurrence, wherever it appears.
var dangerousKeywords = []string{
	"UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "INSERT", "TRUNCATE",
	"REPLACE", "GRANT", "REVOKE", "FLUSH", "RESET", "SHUTDOWN",
	"LOAD DATA", "INTO OUTFILE", "LOAD_FILE", "CALL", "EXECUTE", "EXEC",
}

// dangerousDocumentOperators are server-side execution and write operators.
var dangerousDocumentOperators = []string{
	"$where", "$eval", "$function", "$accumulator", "$out", "$merge",
}

var dangerousPatterns = compileDangerous()

func compileDangerous() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(dangerousKeywords))
	for _, kw := range dangerousKeywords {
		patterns[kw] = regexp.MustCompile(`(?i)\b` + strings.ReplaceAll(regexp.QuoteMeta(kw), ` `, `\s+`) + `\b`)
	}
	return patterns
}

// conversationalPrefixes mark responses that are prose, not queries.
var conversationalPrefixes = []string{
	"i'm", "i am", "i need", "i cannot", "i can't", "could you", "sorry",
}

var leadingLabel = regexp.MustCompile(`(?i)^(query|sql)\s*:\s*`)
var explanationLabel = regexp.MustCompile(`(?im)^explanation\s*:`)

// engineKeyword is used to tell long prose from a genuine query.
var engineKeyword = regexp.MustCompile(`(?i)\b(select|show|describe|explain|with|find|aggregate|count|distinct)\b`)

// Service sanitizes generated queries.
type Service interface {
	// Sanitize returns the rewritten query text or a Blocked error. The
	// rewritten text, never the raw input, goes to the engine driver.
	Sanitize(gq *domain.GeneratedQuery, schema *domain.Schema) (string, error)
}

type service struct {
	logger *zap.Logger
}

// NewService creates the sanitizer.
func NewService(logger *zap.Logger) Service {
	return &service{logger: logger}
}

func (s *service) Sanitize(gq *domain.GeneratedQuery, schema *domain.Schema) (string, error) {
	text := stripDecorations(gq.Text)

	if text == "" {
		return "", appErrors.NewBlocked("the model produced no query")
	}
	lower := strings.ToLower(text)
	for _, prefix := range conversationalPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "", appErrors.NewBlocked("the response is conversational text, not a query")
		}
	}
	if hasMultipleStatements(text) {
		return "", appErrors.NewBlocked("multiple statements are not allowed")
	}
	if len(strings.Fields(text)) > 20 && !engineKeyword.MatchString(text) && !strings.HasPrefix(text, "{") {
		return "", appErrors.NewBlocked("explanatory prose, not a query")
	}

	if gq.Engine == domain.EngineDocument {
		return s.sanitizeDocument(text)
	}
	return s.sanitizeRelational(text, schema)
}

func (s *service) sanitizeRelational(text string, schema *domain.Schema) (string, error) {
	// The dangerous scan runs first so a write statement is reported as
	// dangerous, not merely as an unexpected first token.
	for _, kw := range dangerousKeywords {
		if dangerousPatterns[kw].MatchString(text) {
			s.logger.Warn("blocked dangerous query", zap.String("keyword", kw))
			return "", appErrors.NewBlocked("dangerous operation: " + kw)
		}
	}
	if strings.Contains(text, "--") || strings.Contains(text, "/*") {
		return "", appErrors.NewBlocked("SQL comments are not allowed")
	}

	first := firstWord(text)
	if !relationalStarters[strings.ToUpper(first)] {
		return "", appErrors.NewBlocked("queries must start with SELECT, SHOW, DESCRIBE, EXPLAIN or WITH")
	}

	return qualifyTables(text, schema), nil
}

func (s *service) sanitizeDocument(text string) (string, error) {
	for _, kw := range dangerousKeywords {
		if dangerousPatterns[kw].MatchString(text) {
			s.logger.Warn("blocked dangerous query", zap.String("keyword", kw))
			return "", appErrors.NewBlocked("dangerous operation: " + kw)
		}
	}

	lower := strings.ToLower(text)
	for _, op := range dangerousDocumentOperators {
		if strings.Contains(lower, op) {
			s.logger.Warn("blocked dangerous document query", zap.String("operator", op))
			return "", appErrors.NewBlocked("dangerous operator: " + op)
		}
	}
	if err := engine.ValidateDocumentQuery(text); err != nil {
		return "", appErrors.NewBlocked("invalid document query: " + err.Error())
	}
	return text, nil
}

// stripDecorations removes fences, bold markers, and leading labels, and
// cuts off a trailing labelled explanation section.
func stripDecorations(raw string) string {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		inner := text[3:]
		if end := strings.Index(inner, "```"); end >= 0 {
			inner = inner[:end]
		}
		if i := strings.IndexByte(inner, '\n'); i >= 0 {
			firstLine := strings.TrimSpace(inner[:i])
			if firstLine != "" && len(firstLine) <= 10 && !strings.ContainsAny(firstLine, " {") {
				inner = inner[i+1:]
			}
		}
		text = strings.TrimSpace(inner)
	}

	text = strings.ReplaceAll(text, "**", "")
	text = leadingLabel.ReplaceAllString(text, "")
	if loc := explanationLabel.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	return strings.TrimSpace(text)
}

// hasMultipleStatements reports a ';' followed by anything but whitespace,
// ignoring semicolons inside single-quoted literals. A trailing semicolon is
// not a second statement.
func hasMultipleStatements(text string) bool {
	inString := false
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\'' {
			inString = !inString
			continue
		}
		if inString || r != ';' {
			continue
		}
		if strings.TrimSpace(string(runes[i+1:])) != "" {
			return true
		}
	}
	return false
}

func firstWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// qualifyTables rewrites unqualified table references following FROM, JOIN,
// UPDATE, or INTO to their {namespace}.{name} form. Quoted identifiers keep
// their quoting; ambiguous names and names absent from the schema stay
// untouched. Already-qualified references are left alone, so the rewrite is
// idempotent.
func qualifyTables(text string, schema *domain.Schema) string {
	var out strings.Builder
	runes := []rune(text)
	expectTable := false

	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == '\'':
			j := i + 1
			for j < len(runes) {
				if runes[j] == '\'' {
					if j+1 < len(runes) && runes[j+1] == '\'' {
						j += 2
						continue
					}
					j++
					break
				}
				j++
			}
			out.WriteString(string(runes[i:j]))
			i = j

		case r == '"' || r == '`':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j < len(runes) {
				j++
			}
			token := string(runes[i:j])
			if expectTable {
				name := strings.Trim(token, string(quote))
				out.WriteString(qualifiedForm(schema, name, token))
				expectTable = false
			} else {
				out.WriteString(token)
			}
			i = j

		case isIdentRune(r):
			j := i
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			if expectTable {
				if strings.ContainsRune(word, '.') {
					out.WriteString(word)
				} else {
					out.WriteString(qualifiedForm(schema, word, ""))
				}
				expectTable = false
			} else {
				out.WriteString(word)
				switch strings.ToUpper(word) {
				case "FROM", "JOIN", "UPDATE", "INTO":
					expectTable = true
				}
			}
			i = j

		default:
			// Anything but whitespace between the keyword and the next
			// identifier (a subquery paren, say) cancels the rewrite.
			if expectTable && r != ' ' && r != '\t' && r != '\n' && r != '\r' {
				expectTable = false
			}
			out.WriteRune(r)
			i++
		}
	}
	return out.String()
}

// qualifiedForm resolves a bare table name against the schema. quotedToken
// is non-empty when the original reference was quoted and must stay quoted.
func qualifiedForm(schema *domain.Schema, name, quotedToken string) string {
	original := quotedToken
	if original == "" {
		original = name
	}
	matches := schema.TablesByName(name)
	if len(matches) != 1 || matches[0].Namespace == "" {
		return original
	}
	if quotedToken != "" {
		return matches[0].Namespace + "." + quotedToken
	}
	return matches[0].Namespace + "." + matches[0].Name
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '.' || r == '$' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
