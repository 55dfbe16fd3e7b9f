package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstitutePlaceholders(t *testing.T) {
	t.Run("NumericColumnsGetNumericDefault", func(t *testing.T) {
		out, notes := substitutePlaceholders("SELECT * FROM payment WHERE amount > $1")
		assert.Equal(t, "SELECT * FROM payment WHERE amount > 0", out)
		assert.Len(t, notes, 1)
		assert.Contains(t, notes[0], "$1")
	})

	t.Run("IdColumnsGetNumericDefault", func(t *testing.T) {
		out, _ := substitutePlaceholders("SELECT * FROM orders WHERE customer_id = ?")
		assert.Equal(t, "SELECT * FROM orders WHERE customer_id = 0", out)
	})

	t.Run("DateColumnsGetISODate", func(t *testing.T) {
		out, _ := substitutePlaceholders("SELECT * FROM orders WHERE created_at > $2")
		assert.Equal(t, "SELECT * FROM orders WHERE created_at > '1970-01-01'", out)
	})

	t.Run("OtherColumnsGetQuotedString", func(t *testing.T) {
		out, _ := substitutePlaceholders("SELECT * FROM customer WHERE name = ?")
		assert.Equal(t, "SELECT * FROM customer WHERE name = ''", out)
	})

	t.Run("PlaceholdersInsideStringLiteralsAreLeftAlone", func(t *testing.T) {
		out, notes := substitutePlaceholders("SELECT * FROM faq WHERE question = 'why?'")
		assert.Equal(t, "SELECT * FROM faq WHERE question = 'why?'", out)
		assert.Empty(t, notes)
	})

	t.Run("EscapedQuotesDoNotConfuseTheScanner", func(t *testing.T) {
		out, _ := substitutePlaceholders("SELECT * FROM t WHERE a = 'it''s' AND price > ?")
		assert.Equal(t, "SELECT * FROM t WHERE a = 'it''s' AND price > 0", out)
	})

	t.Run("MultiplePlaceholders", func(t *testing.T) {
		out, notes := substitutePlaceholders("SELECT * FROM o WHERE amount > $1 AND status = $2")
		assert.Equal(t, "SELECT * FROM o WHERE amount > 0 AND status = ''", out)
		assert.Len(t, notes, 2)
	})

	t.Run("DollarWithoutDigitsIsNotAPlaceholder", func(t *testing.T) {
		out, notes := substitutePlaceholders("SELECT price_usd AS \"$usd\" FROM items")
		assert.Equal(t, "SELECT price_usd AS \"$usd\" FROM items", out)
		assert.Empty(t, notes)
	})

	t.Run("CleanQueryIsUntouched", func(t *testing.T) {
		q := "SELECT name FROM pizza_shop.customer WHERE city = 'Lisbon'"
		out, notes := substitutePlaceholders(q)
		assert.Equal(t, q, out)
		assert.Empty(t, notes)
	})
}
