package engine

import (
	"encoding/json"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// blobPlaceholder is the literal rendering of binary values.
const blobPlaceholder = "[BLOB DATA]"

// normalizeSQLValue maps a database/sql value onto the unified scalar set:
// int64, float64, bool, string, nil. Decimals keep their exact digits as
// strings; timestamps become ISO-8601 UTC; binary data is never echoed.
func normalizeSQLValue(v any, dbType string) any {
	dbType = strings.ToUpper(dbType)
	switch val := v.(type) {
	case nil:
		return nil
	case int64:
		return val
	case int32:
		return int64(val)
	case float64:
		return val
	case float32:
		return float64(val)
	case bool:
		return val
	case time.Time:
		if dbType == "DATE" {
			return val.Format("2006-01-02")
		}
		return val.UTC().Format(time.RFC3339)
	case []byte:
		if isBinaryType(dbType) {
			return blobPlaceholder
		}
		return string(val)
	case string:
		return val
	default:
		return toJSONString(val)
	}
}

func isBinaryType(dbType string) bool {
	switch dbType {
	case "BYTEA", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BIT":
		return true
	}
	return false
}

// normalizedTypeName lowercases a driver-reported type for result metadata.
func normalizedTypeName(dbType string) string {
	if dbType == "" {
		return "text"
	}
	return strings.ToLower(dbType)
}

// normalizeDocValue maps a BSON value onto the unified scalar set. Object
// ids become hex strings, nested documents and arrays become JSON strings.
func normalizeDocValue(v any) any {
	switch val := v.(type) {
	case nil, primitive.Null:
		return nil
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return blobPlaceholder
	case int32:
		return int64(val)
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return val
	case bool:
		return val
	case string:
		return val
	case bson.D:
		return toJSONString(docToMap(val))
	case bson.M:
		return toJSONString(plainValue(val))
	case bson.A:
		return toJSONString(plainValue(val))
	default:
		return toJSONString(val)
	}
}

// docTypeName names a BSON value's type for result metadata.
func docTypeName(v any) string {
	switch v.(type) {
	case nil, primitive.Null:
		return "null"
	case int32, int64, int:
		return "int64"
	case float64:
		return "float64"
	case bool:
		return "bool"
	default:
		return "string"
	}
}

// docToMap converts an ordered document into plain Go values for JSON
// rendering; nested documents and arrays are converted recursively.
func docToMap(d bson.D) map[string]any {
	m := make(map[string]any, len(d))
	for _, e := range d {
		m[e.Key] = plainValue(e.Value)
	}
	return m
}

func plainValue(v any) any {
	switch val := v.(type) {
	case bson.D:
		return docToMap(val)
	case bson.M:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = plainValue(e)
		}
		return m
	case bson.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plainValue(e)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339)
	default:
		return val
	}
}

func toJSONString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
