package engine

import (
	"testing"

	appErrors "dbvybe-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseDocumentQuery(t *testing.T) {
	t.Run("Find", func(t *testing.T) {
		q, err := parseDocumentQuery(`{"find":"orders","filter":{"status":"paid"},"limit":5}`)
		require.NoError(t, err)
		assert.Equal(t, "find", q.op)
		assert.Equal(t, "orders", q.collection)
		assert.Equal(t, bson.M{"status": "paid"}, q.filter)
		assert.Equal(t, int64(5), q.limit)
	})

	t.Run("Aggregate", func(t *testing.T) {
		q, err := parseDocumentQuery(`{"aggregate":"orders","pipeline":[{"$group":{"_id":"$status","n":{"$sum":1}}}]}`)
		require.NoError(t, err)
		assert.Equal(t, "aggregate", q.op)
		require.Len(t, q.pipeline, 1)
		assert.False(t, q.hasLimitStage())
	})

	t.Run("CountWithQueryFilter", func(t *testing.T) {
		q, err := parseDocumentQuery(`{"count":"orders","query":{"status":"new"}}`)
		require.NoError(t, err)
		assert.Equal(t, "count", q.op)
		assert.Equal(t, bson.M{"status": "new"}, q.filter)
	})

	t.Run("DistinctRequiresKey", func(t *testing.T) {
		_, err := parseDocumentQuery(`{"distinct":"orders"}`)
		require.Error(t, err)

		q, err := parseDocumentQuery(`{"distinct":"orders","key":"status"}`)
		require.NoError(t, err)
		assert.Equal(t, "status", q.key)
	})

	t.Run("RejectsUnknownOperator", func(t *testing.T) {
		_, err := parseDocumentQuery(`{"mapReduce":"orders"}`)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrorTypeInvalidFormat, appErrors.TypeOf(err))
	})

	t.Run("RejectsTwoOperators", func(t *testing.T) {
		_, err := parseDocumentQuery(`{"find":"a","count":"b"}`)
		require.Error(t, err)
	})

	t.Run("RejectsNonJSON", func(t *testing.T) {
		_, err := parseDocumentQuery(`SELECT * FROM orders`)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrorTypeInvalidFormat, appErrors.TypeOf(err))
	})

	t.Run("RejectsMissingOperator", func(t *testing.T) {
		_, err := parseDocumentQuery(`{"filter":{"a":1}}`)
		require.Error(t, err)
	})
}

func TestEffectiveLimit(t *testing.T) {
	t.Run("DeclaredBelowCap", func(t *testing.T) {
		q := &documentQuery{limit: 5}
		assert.Equal(t, int64(5), q.effectiveLimit(100))
	})

	t.Run("DeclaredAboveCap", func(t *testing.T) {
		q := &documentQuery{limit: 500}
		assert.Equal(t, int64(100), q.effectiveLimit(100))
	})

	t.Run("NoDeclaredLimitUsesCap", func(t *testing.T) {
		q := &documentQuery{}
		assert.Equal(t, int64(100), q.effectiveLimit(100))
	})
}

func TestHasLimitStage(t *testing.T) {
	with, err := parseDocumentQuery(`{"aggregate":"orders","pipeline":[{"$limit":10}]}`)
	require.NoError(t, err)
	assert.True(t, with.hasLimitStage())

	without, err := parseDocumentQuery(`{"aggregate":"orders","pipeline":[{"$match":{"a":1}}]}`)
	require.NoError(t, err)
	assert.False(t, without.hasLimitStage())
}
