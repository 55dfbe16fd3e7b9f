package extract

import (
	"context"
	"sort"
	"strings"
	"time"

	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/engine"
	appErrors "dbvybe-backend/pkg/errors"

	"github.com/go-openapi/inflect"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// conventionalFields are assumed present on every collection even when the
// sampled document lacks them.
var conventionalFields = []domain.Column{
	{Name: "_id", TypeName: "objectId"},
	{Name: "createdAt", TypeName: "date", Nullable: true},
	{Name: "updatedAt", TypeName: "date", Nullable: true},
	{Name: "deletedAt", TypeName: "date", Nullable: true},
	{Name: "version", TypeName: "int", Nullable: true},
}

// DocumentExtractor infers a schema for a document database by sampling at
// most one document per collection.
type DocumentExtractor struct {
	driver *engine.DocumentDriver
	logger *zap.Logger
}

// NewDocumentExtractor creates an extractor over the shared document pools.
func NewDocumentExtractor(driver *engine.DocumentDriver, logger *zap.Logger) *DocumentExtractor {
	return &DocumentExtractor{driver: driver, logger: logger}
}

// Extract samples every collection of the database. Relationships are
// guessed from reference-style field names and flagged as heuristic; the
// naive pluralization can misname targets with irregular plurals, so
// consumers must treat these edges as hints only.
func (e *DocumentExtractor) Extract(ctx context.Context, desc domain.ConnectionDescriptor) (*domain.Schema, error) {
	names, err := e.driver.Collections(ctx, desc)
	if err != nil {
		return nil, err
	}

	schema := &domain.Schema{Engine: domain.EngineDocument, DatabaseName: desc.Database}
	for _, name := range names {
		doc, err := e.driver.SampleDocument(ctx, desc, name)
		if err != nil {
			return nil, appErrors.Wrap(err, "sampling failed for "+name)
		}

		table := domain.Table{Name: name}
		ordinal := 0
		walkDocument(doc, "", func(path string, value any) {
			ordinal++
			table.Columns = append(table.Columns, domain.Column{
				Name:     path,
				TypeName: bsonTypeName(value),
				Nullable: true,
				Ordinal:  ordinal,
			})
		})
		for _, conv := range conventionalFields {
			if !hasColumn(table.Columns, conv.Name) {
				ordinal++
				c := conv
				c.Ordinal = ordinal
				table.Columns = append(table.Columns, c)
			}
		}
		table.PrimaryKey = []string{"_id"}
		table.ForeignKeys = inferredRelationships(table.Columns)

		schema.Tables = append(schema.Tables, table)
	}
	return schema, nil
}

// walkDocument visits every field recursively, producing dotted paths for
// nested documents.
func walkDocument(doc bson.D, prefix string, visit func(path string, value any)) {
	for _, e := range doc {
		path := e.Key
		if prefix != "" {
			path = prefix + "." + e.Key
		}
		if nested, ok := e.Value.(bson.D); ok {
			visit(path, e.Value)
			walkDocument(nested, path, visit)
			continue
		}
		visit(path, e.Value)
	}
}

func hasColumn(cols []domain.Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

// inferredRelationships maps reference-style suffixes (userId, orderId, ...)
// onto a pluralized collection name. Best-effort; every edge is flagged.
func inferredRelationships(cols []domain.Column) []domain.ForeignKey {
	var fks []domain.ForeignKey
	for _, c := range cols {
		base, ok := referenceBase(c.Name)
		if !ok {
			continue
		}
		fks = append(fks, domain.ForeignKey{
			Column:    c.Name,
			RefTable:  inflect.Pluralize(base),
			RefColumn: "_id",
			Heuristic: true,
		})
	}
	sort.Slice(fks, func(i, j int) bool { return fks[i].Column < fks[j].Column })
	return fks
}

// referenceBase extracts the entity name from a reference-style field:
// "userId" yields "user". The document's own "_id" is not a reference.
func referenceBase(field string) (string, bool) {
	// Only leaf names participate; nested paths keep their last segment.
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	if field == "_id" || len(field) <= 2 {
		return "", false
	}
	if strings.HasSuffix(field, "Id") {
		return field[:len(field)-2], true
	}
	if strings.HasSuffix(field, "_id") {
		return field[:len(field)-3], true
	}
	return "", false
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case primitive.ObjectID:
		return "objectId"
	case string:
		return "string"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bool:
		return "bool"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.Decimal128:
		return "decimal"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	case nil, primitive.Null:
		return "null"
	default:
		return "string"
	}
}
