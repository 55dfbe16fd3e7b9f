package vector

import (
	"context"
	"testing"

	"dbvybe-backend/internal/config"
	"dbvybe-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDisabledIndex(t *testing.T) *QdrantIndex {
	t.Helper()
	idx, err := NewQdrantIndex(config.VectorConfig{Collection: "dbvybe_schemas"}, zap.NewNop())
	require.NoError(t, err)
	return idx
}

func TestDisabledIndexIsDegraded(t *testing.T) {
	idx := newDisabledIndex(t)
	assert.True(t, idx.Degraded())
}

func TestDisabledIndexAcknowledgesWrites(t *testing.T) {
	idx := newDisabledIndex(t)
	err := idx.Upsert(context.Background(), []domain.SchemaEmbedding{
		{ID: "a1", ConnectionID: "c1", TableID: "public.customer"},
	})
	assert.NoError(t, err)
}

func TestDisabledIndexSearchReturnsEmpty(t *testing.T) {
	idx := newDisabledIndex(t)
	hits, err := idx.Search(context.Background(), make([]float32, Dim), 8, "c1")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDisabledIndexDeleteSucceeds(t *testing.T) {
	idx := newDisabledIndex(t)
	assert.NoError(t, idx.DeleteByConnection(context.Background(), "c1", "u1"))
	assert.NoError(t, idx.EnsureCollection(context.Background()))
	assert.NoError(t, idx.Close())
}

func TestSearchWithNonPositiveLimit(t *testing.T) {
	idx := newDisabledIndex(t)
	hits, err := idx.Search(context.Background(), make([]float32, Dim), 0, "c1")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestParseVectorEndpoint(t *testing.T) {
	cases := []struct {
		name     string
		endpoint string
		host     string
		port     int
		useTLS   bool
		wantErr  bool
	}{
		{name: "bare host", endpoint: "qdrant.internal", host: "qdrant.internal", port: 6334},
		{name: "host and port", endpoint: "localhost:7000", host: "localhost", port: 7000},
		{name: "http url", endpoint: "http://qdrant:6334", host: "qdrant", port: 6334},
		{name: "https url", endpoint: "https://cloud.qdrant.io:6334", host: "cloud.qdrant.io", port: 6334, useTLS: true},
		{name: "bad port", endpoint: "qdrant:notaport", wantErr: true},
		{name: "empty host", endpoint: ":6334", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host, port, useTLS, err := parseVectorEndpoint(tc.endpoint)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.host, host)
			assert.Equal(t, tc.port, port)
			assert.Equal(t, tc.useTLS, useTLS)
		})
	}
}
