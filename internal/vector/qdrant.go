package vector

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dbvybe-backend/internal/config"
	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/resilience"
	appErrors "dbvybe-backend/pkg/errors"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// QdrantIndex stores schema embeddings in a Qdrant collection. All remote
// calls go through a circuit breaker; once the breaker opens the index
// reports itself degraded and follows the Index degradation contract.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger

	// disabled is set when no endpoint is configured; the index then runs
	// permanently degraded instead of failing construction.
	disabled bool
}

// NewQdrantIndex connects to the configured Qdrant endpoint. An empty
// endpoint yields a permanently degraded index rather than an error, so the
// assistant still serves relational traffic without a vector store.
func NewQdrantIndex(cfg config.VectorConfig, logger *zap.Logger) (*QdrantIndex, error) {
	idx := &QdrantIndex{
		collection: cfg.Collection,
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerConfig("qdrant"), logger),
		logger:     logger,
	}
	if cfg.Endpoint == "" {
		logger.Warn("no vector endpoint configured, similarity search disabled")
		idx.disabled = true
		return idx, nil
	}

	host, port, useTLS, err := parseVectorEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "connecting to vector store")
	}
	idx.client = client
	return idx, nil
}

// EnsureCollection creates the collection and its payload indexes if they do
// not exist yet. Callers may continue degraded when this fails.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	if q.disabled {
		return nil
	}
	_, err := q.breaker.Execute(func() (any, error) {
		exists, err := q.client.CollectionExists(ctx, q.collection)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, nil
		}
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     Dim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, err
		}
		for _, field := range []string{"connectionId", "userId"} {
			_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: q.collection,
				FieldName:      field,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return appErrors.NewVectorUnavailable("ensuring collection "+q.collection, err)
	}
	return nil
}

// Upsert writes the embeddings. When the store is unreachable the write is
// logged and acknowledged; reconciliation replays it later.
func (q *QdrantIndex) Upsert(ctx context.Context, embeddings []domain.SchemaEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	if q.disabled {
		q.logger.Warn("vector store disabled, dropping embeddings",
			zap.Int("count", len(embeddings)))
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(embeddings))
	for _, emb := range embeddings {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(emb.ID),
			Vectors: qdrant.NewVectors(emb.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"connectionId": emb.ConnectionID,
				"userId":       emb.UserID,
				"tableId":      emb.TableID,
				"text":         emb.Text,
				"createdAt":    emb.CreatedAt.UTC().Format(time.RFC3339),
			}),
		})
	}

	_, err := q.breaker.Execute(func() (any, error) {
		return q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
	})
	if err != nil {
		q.logger.Warn("vector upsert failed, acknowledging degraded write",
			zap.Int("count", len(points)),
			zap.Error(err))
	}
	return nil
}

// Search returns the closest embeddings for the query vector, restricted to
// one connection. A degraded store yields an empty result, never an error.
func (q *QdrantIndex) Search(ctx context.Context, queryVector []float32, limit int, filterConnectionID string) ([]Hit, error) {
	if q.disabled || limit <= 0 {
		return nil, nil
	}

	res, err := q.breaker.Execute(func() (any, error) {
		return q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.collection,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{
					qdrant.NewMatch("connectionId", filterConnectionID),
				},
			},
		})
	})
	if err != nil {
		q.logger.Warn("vector search failed, returning empty context",
			zap.String("connection_id", filterConnectionID),
			zap.Error(err))
		return nil, nil
	}

	points := res.([]*qdrant.ScoredPoint)
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			Embedding: domain.SchemaEmbedding{
				ID:           p.GetId().GetUuid(),
				ConnectionID: payloadString(p.GetPayload(), "connectionId"),
				UserID:       payloadString(p.GetPayload(), "userId"),
				TableID:      payloadString(p.GetPayload(), "tableId"),
				Text:         payloadString(p.GetPayload(), "text"),
			},
			Score: p.GetScore(),
		})
	}
	return hits, nil
}

// DeleteByConnection removes every embedding of the connection. Unlike
// writes this propagates failure, so removal can be retried and recorded as
// a pending cleanup.
func (q *QdrantIndex) DeleteByConnection(ctx context.Context, connectionID, userID string) error {
	if q.disabled {
		return nil
	}
	_, err := q.breaker.Execute(func() (any, error) {
		return q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.collection,
			Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
				Must: []*qdrant.Condition{
					qdrant.NewMatch("connectionId", connectionID),
					qdrant.NewMatch("userId", userID),
				},
			}),
			Wait: qdrant.PtrOf(true),
		})
	})
	if err != nil {
		return appErrors.NewVectorUnavailable("deleting embeddings for connection "+connectionID, err)
	}
	return nil
}

// Degraded reports whether the index is currently dropping work.
func (q *QdrantIndex) Degraded() bool {
	return q.disabled || q.breaker.State() == gobreaker.StateOpen
}

// Close releases the client connection.
func (q *QdrantIndex) Close() error {
	if q.client == nil {
		return nil
	}
	return q.client.Close()
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// parseVectorEndpoint accepts "host", "host:port" or a full URL; the gRPC
// port 6334 is the default.
func parseVectorEndpoint(endpoint string) (host string, port int, useTLS bool, err error) {
	port = 6334
	raw := endpoint
	if strings.Contains(raw, "://") {
		u, parseErr := url.Parse(raw)
		if parseErr != nil {
			return "", 0, false, appErrors.NewValidation("invalid vector endpoint: " + endpoint)
		}
		useTLS = u.Scheme == "https"
		raw = u.Host
	}
	host = raw
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		host = raw[:i]
		port, err = strconv.Atoi(raw[i+1:])
		if err != nil {
			return "", 0, false, appErrors.NewValidation("invalid vector endpoint port: " + endpoint)
		}
	}
	if host == "" {
		return "", 0, false, appErrors.NewValidation("invalid vector endpoint: " + endpoint)
	}
	return host, port, useTLS, nil
}
