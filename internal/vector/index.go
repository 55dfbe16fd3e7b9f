// Package vector embeds schema fragments and searches them by similarity in
// a remote vector store.
package vector

import (
	"context"

	"dbvybe-backend/internal/domain"
)

// Dim is the fixed embedding dimension of the collection.
const Dim = 384

// Hit is one similarity-search result.
type Hit struct {
	Embedding domain.SchemaEmbedding
	Score     float32
}

// Index stores and searches schema embeddings. When the backing store is
// unreachable the index degrades: writes are acknowledged after logging and
// searches return empty, observable through Degraded.
type Index interface {
	Upsert(ctx context.Context, embeddings []domain.SchemaEmbedding) error
	Search(ctx context.Context, queryVector []float32, limit int, filterConnectionID string) ([]Hit, error)
	DeleteByConnection(ctx context.Context, connectionID, userID string) error
	Degraded() bool
}
