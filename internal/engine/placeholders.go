package engine

import (
	"fmt"
	"strings"
	"unicode"
)

// The model is instructed to emit literal values, but generated queries
// occasionally retain parameter placeholders ($n or ?). Execution must not
// fail on them, so they are replaced with type-heuristic defaults inferred
// from the nearest preceding identifier. Every substitution is reported so
// the caller can surface it in the query explanation.
func substitutePlaceholders(query string) (string, []string) {
	var (
		b     strings.Builder
		notes []string
	)
	runes := []rune(query)
	inString := false
	inQuoted := rune(0) // " or ` identifier quoting

	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if inString {
			b.WriteRune(ch)
			if ch == '\'' {
				// '' escapes a quote inside the literal
				if i+1 < len(runes) && runes[i+1] == '\'' {
					b.WriteRune(runes[i+1])
					i++
				} else {
					inString = false
				}
			}
			continue
		}
		if inQuoted != 0 {
			b.WriteRune(ch)
			if ch == inQuoted {
				inQuoted = 0
			}
			continue
		}

		switch {
		case ch == '\'':
			inString = true
			b.WriteRune(ch)
		case ch == '"' || ch == '`':
			inQuoted = ch
			b.WriteRune(ch)
		case ch == '?':
			lit := defaultLiteral(b.String())
			notes = append(notes, fmt.Sprintf("placeholder ? replaced with %s", lit))
			b.WriteString(lit)
		case ch == '$' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]):
			j := i + 1
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			lit := defaultLiteral(b.String())
			notes = append(notes, fmt.Sprintf("placeholder %s replaced with %s", string(runes[i:j]), lit))
			b.WriteString(lit)
			i = j - 1
		default:
			b.WriteRune(ch)
		}
	}
	return b.String(), notes
}

// defaultLiteral picks a replacement literal from the identifier nearest
// before the placeholder: numeric for amount/price/id columns, an ISO date
// for date/created/updated columns, an empty quoted string otherwise.
func defaultLiteral(prefix string) string {
	ident := strings.ToLower(lastIdentifier(prefix))
	switch {
	case strings.Contains(ident, "amount"), strings.Contains(ident, "price"), strings.Contains(ident, "id"):
		return "0"
	case strings.Contains(ident, "date"), strings.Contains(ident, "created"), strings.Contains(ident, "updated"):
		return "'1970-01-01'"
	default:
		return "''"
	}
}

func lastIdentifier(s string) string {
	end := len(s)
	// Skip trailing operators and whitespace.
	for end > 0 {
		c := s[end-1]
		if c == '_' || c == '.' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			break
		}
		end--
	}
	start := end
	for start > 0 {
		c := s[start-1]
		if c == '_' || c == '.' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			start--
		} else {
			break
		}
	}
	return s[start:end]
}
