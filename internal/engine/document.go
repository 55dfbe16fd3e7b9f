package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"dbvybe-backend/internal/domain"
	appErrors "dbvybe-backend/pkg/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// The only operators a document query may carry. Anything else is rejected
// before a connection is even opened.
var documentOperators = map[string]bool{
	"find":      true,
	"aggregate": true,
	"count":     true,
	"distinct":  true,
}

// Auxiliary keys allowed alongside an operator.
var documentModifiers = map[string]bool{
	"filter":     true,
	"query":      true,
	"pipeline":   true,
	"limit":      true,
	"sort":       true,
	"projection": true,
	"key":        true,
}

// documentQuery is a parsed and validated document-engine request.
type documentQuery struct {
	op         string
	collection string
	filter     bson.M
	pipeline   bson.A
	limit      int64
	sort       bson.M
	projection bson.M
	key        string
}

// parseDocumentQuery validates that the text is a JSON object carrying
// exactly one supported operator.
func parseDocumentQuery(text string) (*documentQuery, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, appErrors.NewInvalidFormat("document query is not a JSON object: " + err.Error())
	}

	q := &documentQuery{}
	for k, v := range raw {
		switch {
		case documentOperators[k]:
			if q.op != "" {
				return nil, appErrors.NewInvalidFormat("document query must carry exactly one operator")
			}
			name, ok := v.(string)
			if !ok || name == "" {
				return nil, appErrors.NewInvalidFormat(fmt.Sprintf("operator %q must name a collection", k))
			}
			q.op = k
			q.collection = name
		case documentModifiers[k]:
			// handled below
		default:
			return nil, appErrors.NewInvalidFormat("unsupported operator: " + k)
		}
	}
	if q.op == "" {
		return nil, appErrors.NewInvalidFormat("document query must carry one of find, aggregate, count, distinct")
	}

	if f, ok := asDocument(raw["filter"]); ok {
		q.filter = f
	}
	if f, ok := asDocument(raw["query"]); ok {
		q.filter = f
	}
	if s, ok := asDocument(raw["sort"]); ok {
		q.sort = s
	}
	if p, ok := asDocument(raw["projection"]); ok {
		q.projection = p
	}
	if n, ok := raw["limit"].(float64); ok && n > 0 {
		q.limit = int64(n)
	}
	if k, ok := raw["key"].(string); ok {
		q.key = k
	}
	if stages, ok := raw["pipeline"].([]any); ok {
		for _, s := range stages {
			stage, ok := asDocument(s)
			if !ok {
				return nil, appErrors.NewInvalidFormat("pipeline stages must be JSON objects")
			}
			q.pipeline = append(q.pipeline, stage)
		}
	}

	if q.op == "distinct" && q.key == "" {
		return nil, appErrors.NewInvalidFormat("distinct requires a key")
	}
	return q, nil
}

// ValidateDocumentQuery checks that the text is a well-formed document
// query without executing it. The sanitizer runs this before any engine
// work happens.
func ValidateDocumentQuery(text string) error {
	_, err := parseDocumentQuery(text)
	return err
}

func asDocument(v any) (bson.M, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return bson.M(m), true
}

// effectiveLimit caps the declared limit by the row cap.
func (q *documentQuery) effectiveLimit(maxRows int) int64 {
	cap := int64(maxRows)
	if q.limit > 0 && q.limit < cap {
		return q.limit
	}
	return cap
}

// hasLimitStage reports whether the aggregate pipeline already bounds its
// output.
func (q *documentQuery) hasLimitStage() bool {
	for _, s := range q.pipeline {
		if stage, ok := s.(bson.M); ok {
			if _, ok := stage["$limit"]; ok {
				return true
			}
		}
	}
	return false
}

// DocumentDriver executes JSON queries against the document engine.
type DocumentDriver struct {
	mu      sync.Mutex
	clients map[string]*mongo.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewDocumentDriver creates a driver with no open clients.
func NewDocumentDriver(logger *zap.Logger) *DocumentDriver {
	return &DocumentDriver{
		clients: make(map[string]*mongo.Client),
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// Client returns the pooled client for a descriptor, connecting on first use.
func (d *DocumentDriver) Client(ctx context.Context, desc domain.ConnectionDescriptor) (*mongo.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[desc.ID]; ok {
		return c, nil
	}
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(documentURI(desc)).
		SetMaxPoolSize(maxOpenConnsPerPool))
	if err != nil {
		return nil, appErrors.NewExecution("failed to connect to document engine", err)
	}
	d.clients[desc.ID] = client
	return client, nil
}

// Execute parses the JSON query, applies the row cap, runs it, and
// normalizes the result.
func (d *DocumentDriver) Execute(ctx context.Context, desc domain.ConnectionDescriptor, query string, maxRows int) (*domain.QueryResult, error) {
	q, err := parseDocumentQuery(query)
	if err != nil {
		return nil, err
	}
	if maxRows == 0 {
		return &domain.QueryResult{Columns: []domain.ColumnMeta{}, Rows: [][]any{}, Status: StatusSuccess}, nil
	}

	client, err := d.Client(ctx, desc)
	if err != nil {
		return nil, err
	}
	coll := client.Database(desc.Database).Collection(q.collection)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	var result *domain.QueryResult
	switch q.op {
	case "find":
		result, err = d.find(ctx, coll, q, maxRows)
	case "aggregate":
		result, err = d.aggregate(ctx, coll, q, maxRows)
	case "count":
		result, err = d.count(ctx, coll, q)
	case "distinct":
		result, err = d.distinct(ctx, coll, q, maxRows)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, appErrors.NewTimeout("document query timed out", err)
		}
		return nil, appErrors.NewExecution("document engine reported an error", err)
	}

	result.RowCount = len(result.Rows)
	result.ElapsedMs = time.Since(start).Milliseconds()
	result.Status = StatusSuccess
	return result, nil
}

func (d *DocumentDriver) find(ctx context.Context, coll *mongo.Collection, q *documentQuery, maxRows int) (*domain.QueryResult, error) {
	opts := options.Find().SetLimit(q.effectiveLimit(maxRows))
	if q.sort != nil {
		opts.SetSort(q.sort)
	}
	if q.projection != nil {
		opts.SetProjection(q.projection)
	}
	filter := q.filter
	if filter == nil {
		filter = bson.M{}
	}
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	return documentsToResult(ctx, cur, maxRows)
}

func (d *DocumentDriver) aggregate(ctx context.Context, coll *mongo.Collection, q *documentQuery, maxRows int) (*domain.QueryResult, error) {
	pipeline := q.pipeline
	if !q.hasLimitStage() {
		pipeline = append(pipeline, bson.M{"$limit": q.effectiveLimit(maxRows)})
	}
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	return documentsToResult(ctx, cur, maxRows)
}

func (d *DocumentDriver) count(ctx context.Context, coll *mongo.Collection, q *documentQuery) (*domain.QueryResult, error) {
	filter := q.filter
	if filter == nil {
		filter = bson.M{}
	}
	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &domain.QueryResult{
		Columns: []domain.ColumnMeta{{Name: "count", Type: "int64"}},
		Rows:    [][]any{{n}},
	}, nil
}

func (d *DocumentDriver) distinct(ctx context.Context, coll *mongo.Collection, q *documentQuery, maxRows int) (*domain.QueryResult, error) {
	filter := q.filter
	if filter == nil {
		filter = bson.M{}
	}
	values, err := coll.Distinct(ctx, q.key, filter)
	if err != nil {
		return nil, err
	}
	if len(values) > maxRows {
		values = values[:maxRows]
	}
	rows := make([][]any, 0, len(values))
	for _, v := range values {
		rows = append(rows, []any{normalizeDocValue(v)})
	}
	colType := "string"
	if len(values) > 0 {
		colType = docTypeName(values[0])
	}
	return &domain.QueryResult{
		Columns: []domain.ColumnMeta{{Name: q.key, Type: colType}},
		Rows:    rows,
	}, nil
}

// documentsToResult flattens cursor documents into a tabular result. Column
// order follows first appearance across the returned documents; documents
// missing a column yield null.
func documentsToResult(ctx context.Context, cur *mongo.Cursor, maxRows int) (*domain.QueryResult, error) {
	var docs []bson.D
	for len(docs) < maxRows && cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	var columns []domain.ColumnMeta
	colIndex := map[string]int{}
	for _, doc := range docs {
		for _, e := range doc {
			if _, ok := colIndex[e.Key]; !ok {
				colIndex[e.Key] = len(columns)
				columns = append(columns, domain.ColumnMeta{Name: e.Key, Type: docTypeName(e.Value)})
			}
		}
	}

	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		row := make([]any, len(columns))
		for _, e := range doc {
			row[colIndex[e.Key]] = normalizeDocValue(e.Value)
		}
		rows = append(rows, row)
	}
	if columns == nil {
		columns = []domain.ColumnMeta{}
	}
	if rows == nil {
		rows = [][]any{}
	}
	return &domain.QueryResult{Columns: columns, Rows: rows}, nil
}

// Close disconnects every client.
func (d *DocumentDriver) Close(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, client := range d.clients {
		if err := client.Disconnect(ctx); err != nil {
			d.logger.Warn("failed to disconnect document client",
				zap.String("connection_id", id), zap.Error(err))
		}
		delete(d.clients, id)
	}
}

// Collections lists the collection names of the descriptor's database,
// sorted for stable extraction output.
func (d *DocumentDriver) Collections(ctx context.Context, desc domain.ConnectionDescriptor) ([]string, error) {
	client, err := d.Client(ctx, desc)
	if err != nil {
		return nil, err
	}
	names, err := client.Database(desc.Database).ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, appErrors.NewExtraction("failed to list collections", err)
	}
	sort.Strings(names)
	return names, nil
}

// SampleDocument fetches at most one document from a collection.
func (d *DocumentDriver) SampleDocument(ctx context.Context, desc domain.ConnectionDescriptor, collection string) (bson.D, error) {
	client, err := d.Client(ctx, desc)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	err = client.Database(desc.Database).Collection(collection).FindOne(ctx, bson.M{}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewExtraction("failed to sample collection "+collection, err)
	}
	return doc, nil
}
