// Package domain contains the core types shared across the assistant pipeline.
package domain

import "time"

// EngineKind identifies the database engine behind a connection.
type EngineKind string

const (
	// EnginePostgres is a relational engine speaking the Postgres wire
	// protocol; identifiers are quoted with double quotes.
	EnginePostgres EngineKind = "postgres"
	// EngineMySQL is a relational engine speaking the MySQL wire protocol;
	// identifiers are quoted with backticks.
	EngineMySQL EngineKind = "mysql"
	// EngineDocument is a schemaless document engine; queries are JSON
	// objects executed against collections.
	EngineDocument EngineKind = "document"
)

// IsRelational reports whether the engine speaks SQL.
func (e EngineKind) IsRelational() bool {
	return e == EnginePostgres || e == EngineMySQL
}

// Valid reports whether the kind is one of the supported engines.
func (e EngineKind) Valid() bool {
	return e == EnginePostgres || e == EngineMySQL || e == EngineDocument
}

// ConnectionDescriptor identifies how to reach a specific database for a
// specific owner. Descriptors are immutable once registered; removal is a
// soft deactivation in the registry.
type ConnectionDescriptor struct {
	ID       string     `validate:"required"`
	UserID   string     `validate:"required"`
	Engine   EngineKind `validate:"required"`
	Host     string     `validate:"required,hostname|ip"`
	Port     int        `validate:"required,gt=0,lte=65535"`
	Database string     `validate:"required"`
	Username string
	Password string
	// Properties carries driver-specific options such as sslmode.
	Properties map[string]string
}

// SchemaEmbedding is one embedded table rendering stored in the vector index.
type SchemaEmbedding struct {
	ID           string
	ConnectionID string
	UserID       string
	TableID      string
	Text         string
	Vector       []float32
	CreatedAt    time.Time
}
