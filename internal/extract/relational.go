package extract

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/engine"
	appErrors "dbvybe-backend/pkg/errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// RelationalExtractor introspects Postgres and MySQL databases through
// information_schema. All objects of a database are fetched in a handful of
// batched queries rather than per table.
type RelationalExtractor struct {
	driver *engine.RelationalDriver
	logger *zap.Logger
}

// NewRelationalExtractor creates an extractor over the shared driver pools.
func NewRelationalExtractor(driver *engine.RelationalDriver, logger *zap.Logger) *RelationalExtractor {
	return &RelationalExtractor{driver: driver, logger: logger}
}

// Engine-internal namespaces are never part of a snapshot.
const (
	postgresSystemSchemas = "'pg_catalog', 'information_schema', 'pg_toast'"
	mysqlSystemSchemas    = "'information_schema', 'performance_schema', 'mysql', 'sys'"
)

type tableKey struct {
	namespace string
	name      string
}

// Extract builds a snapshot of every non-system namespace.
func (e *RelationalExtractor) Extract(ctx context.Context, desc domain.ConnectionDescriptor) (*domain.Schema, error) {
	db, err := e.driver.DB(desc)
	if err != nil {
		return nil, appErrors.NewExtraction("failed to open introspection connection", err)
	}

	schema := &domain.Schema{Engine: desc.Engine, DatabaseName: desc.Database}

	tables, err := e.listTables(ctx, db, desc.Engine)
	if err != nil {
		return nil, err
	}
	if err := e.attachColumns(ctx, db, desc.Engine, tables); err != nil {
		return nil, err
	}
	if err := e.attachKeys(ctx, db, desc.Engine, tables); err != nil {
		return nil, err
	}
	if err := e.attachIndexes(ctx, db, desc.Engine, tables); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	keys := make([]tableKey, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].namespace != keys[j].namespace {
			return keys[i].namespace < keys[j].namespace
		}
		return keys[i].name < keys[j].name
	})
	for _, k := range keys {
		if !seen[k.namespace] {
			seen[k.namespace] = true
			schema.Namespaces = append(schema.Namespaces, k.namespace)
		}
		schema.Tables = append(schema.Tables, *tables[k])
	}
	return schema, nil
}

func (e *RelationalExtractor) listTables(ctx context.Context, db *sqlx.DB, kind domain.EngineKind) (map[tableKey]*domain.Table, error) {
	var query string
	if kind == domain.EnginePostgres {
		query = `
			SELECT t.table_schema, t.table_name,
			       COALESCE(obj_description(format('%I.%I', t.table_schema, t.table_name)::regclass), '')
			FROM   information_schema.tables t
			WHERE  t.table_type = 'BASE TABLE'
			AND    t.table_schema NOT IN (` + postgresSystemSchemas + `)`
	} else {
		query = `
			SELECT table_schema, table_name, COALESCE(table_comment, '')
			FROM   information_schema.tables
			WHERE  table_type = 'BASE TABLE'
			AND    table_schema NOT IN (` + mysqlSystemSchemas + `)`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, appErrors.NewExtraction("failed to list tables", err)
	}
	defer rows.Close()

	tables := make(map[tableKey]*domain.Table)
	for rows.Next() {
		var ns, name, comment string
		if err := rows.Scan(&ns, &name, &comment); err != nil {
			return nil, appErrors.NewExtraction("failed to scan table row", err)
		}
		tables[tableKey{ns, name}] = &domain.Table{Namespace: ns, Name: name, Comment: comment}
	}
	return tables, rows.Err()
}

func (e *RelationalExtractor) attachColumns(ctx context.Context, db *sqlx.DB, kind domain.EngineKind, tables map[tableKey]*domain.Table) error {
	var query string
	if kind == domain.EnginePostgres {
		query = `
			SELECT c.table_schema, c.table_name, c.column_name, c.data_type,
			       COALESCE(c.character_maximum_length, COALESCE(c.numeric_precision, 0)),
			       c.is_nullable, COALESCE(c.column_default, ''),
			       COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position), ''),
			       c.ordinal_position
			FROM   information_schema.columns c
			WHERE  c.table_schema NOT IN (` + postgresSystemSchemas + `)
			ORDER  BY c.table_schema, c.table_name, c.ordinal_position`
	} else {
		query = `
			SELECT table_schema, table_name, column_name, data_type,
			       COALESCE(character_maximum_length, COALESCE(numeric_precision, 0)),
			       is_nullable, COALESCE(column_default, ''), COALESCE(column_comment, ''),
			       ordinal_position
			FROM   information_schema.columns
			WHERE  table_schema NOT IN (` + mysqlSystemSchemas + `)
			ORDER  BY table_schema, table_name, ordinal_position`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return appErrors.NewExtraction("failed to list columns", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ns, name   string
			col        domain.Column
			size       sql.NullInt64
			isNullable string
		)
		if err := rows.Scan(&ns, &name, &col.Name, &col.TypeName, &size, &isNullable, &col.DefaultValue, &col.Comment, &col.Ordinal); err != nil {
			return appErrors.NewExtraction("failed to scan column row", err)
		}
		col.Size = int(size.Int64)
		col.Nullable = strings.EqualFold(isNullable, "YES")
		if t, ok := tables[tableKey{ns, name}]; ok {
			t.Columns = append(t.Columns, col)
		}
	}
	return rows.Err()
}

func (e *RelationalExtractor) attachKeys(ctx context.Context, db *sqlx.DB, kind domain.EngineKind, tables map[tableKey]*domain.Table) error {
	// Primary keys.
	var pkQuery string
	if kind == domain.EnginePostgres {
		pkQuery = `
			SELECT kcu.table_schema, kcu.table_name, kcu.column_name
			FROM   information_schema.table_constraints tc
			JOIN   information_schema.key_column_usage kcu
			       ON kcu.constraint_name = tc.constraint_name
			       AND kcu.table_schema = tc.table_schema
			WHERE  tc.constraint_type = 'PRIMARY KEY'
			AND    tc.table_schema NOT IN (` + postgresSystemSchemas + `)
			ORDER  BY kcu.ordinal_position`
	} else {
		pkQuery = `
			SELECT table_schema, table_name, column_name
			FROM   information_schema.key_column_usage
			WHERE  constraint_name = 'PRIMARY'
			AND    table_schema NOT IN (` + mysqlSystemSchemas + `)
			ORDER  BY ordinal_position`
	}
	rows, err := db.QueryContext(ctx, pkQuery)
	if err != nil {
		return appErrors.NewExtraction("failed to list primary keys", err)
	}
	for rows.Next() {
		var ns, name, col string
		if err := rows.Scan(&ns, &name, &col); err != nil {
			rows.Close()
			return appErrors.NewExtraction("failed to scan primary key row", err)
		}
		if t, ok := tables[tableKey{ns, name}]; ok {
			t.PrimaryKey = append(t.PrimaryKey, col)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Imported foreign keys.
	var fkQuery string
	if kind == domain.EnginePostgres {
		fkQuery = `
			SELECT kcu.table_schema, kcu.table_name, kcu.column_name,
			       ccu.table_schema, ccu.table_name, ccu.column_name
			FROM   information_schema.table_constraints tc
			JOIN   information_schema.key_column_usage kcu
			       ON kcu.constraint_name = tc.constraint_name
			       AND kcu.table_schema = tc.table_schema
			JOIN   information_schema.constraint_column_usage ccu
			       ON ccu.constraint_name = tc.constraint_name
			       AND ccu.table_schema = tc.table_schema
			WHERE  tc.constraint_type = 'FOREIGN KEY'
			AND    tc.table_schema NOT IN (` + postgresSystemSchemas + `)`
	} else {
		fkQuery = `
			SELECT table_schema, table_name, column_name,
			       referenced_table_schema, referenced_table_name, referenced_column_name
			FROM   information_schema.key_column_usage
			WHERE  referenced_table_name IS NOT NULL
			AND    table_schema NOT IN (` + mysqlSystemSchemas + `)`
	}
	rows, err = db.QueryContext(ctx, fkQuery)
	if err != nil {
		return appErrors.NewExtraction("failed to list foreign keys", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ns, name string
		var fk domain.ForeignKey
		if err := rows.Scan(&ns, &name, &fk.Column, &fk.RefNamespace, &fk.RefTable, &fk.RefColumn); err != nil {
			return appErrors.NewExtraction("failed to scan foreign key row", err)
		}
		if t, ok := tables[tableKey{ns, name}]; ok {
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
	}
	return rows.Err()
}

func (e *RelationalExtractor) attachIndexes(ctx context.Context, db *sqlx.DB, kind domain.EngineKind, tables map[tableKey]*domain.Table) error {
	if kind == domain.EnginePostgres {
		return e.attachPostgresIndexes(ctx, db, tables)
	}
	return e.attachMySQLIndexes(ctx, db, tables)
}

func (e *RelationalExtractor) attachPostgresIndexes(ctx context.Context, db *sqlx.DB, tables map[tableKey]*domain.Table) error {
	query := `
		SELECT schemaname, tablename, indexname, indexdef
		FROM   pg_indexes
		WHERE  schemaname NOT IN (` + postgresSystemSchemas + `)`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return appErrors.NewExtraction("failed to list indexes", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ns, name, idxName, idxDef string
		if err := rows.Scan(&ns, &name, &idxName, &idxDef); err != nil {
			return appErrors.NewExtraction("failed to scan index row", err)
		}
		t, ok := tables[tableKey{ns, name}]
		if !ok {
			continue
		}
		t.Indexes = append(t.Indexes, domain.Index{
			Name:    idxName,
			Columns: indexDefColumns(idxDef),
			Unique:  strings.Contains(idxDef, " UNIQUE "),
		})
	}
	return rows.Err()
}

func (e *RelationalExtractor) attachMySQLIndexes(ctx context.Context, db *sqlx.DB, tables map[tableKey]*domain.Table) error {
	query := `
		SELECT table_schema, table_name, index_name, column_name, non_unique
		FROM   information_schema.statistics
		WHERE  table_schema NOT IN (` + mysqlSystemSchemas + `)
		ORDER  BY table_schema, table_name, index_name, seq_in_index`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return appErrors.NewExtraction("failed to list indexes", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ns, name, idxName, col string
		var nonUnique int
		if err := rows.Scan(&ns, &name, &idxName, &col, &nonUnique); err != nil {
			return appErrors.NewExtraction("failed to scan index row", err)
		}
		t, ok := tables[tableKey{ns, name}]
		if !ok {
			continue
		}
		if n := len(t.Indexes); n > 0 && t.Indexes[n-1].Name == idxName {
			t.Indexes[n-1].Columns = append(t.Indexes[n-1].Columns, col)
			continue
		}
		t.Indexes = append(t.Indexes, domain.Index{
			Name:    idxName,
			Columns: []string{col},
			Unique:  nonUnique == 0,
		})
	}
	return rows.Err()
}

// indexDefColumns pulls the column list out of a CREATE INDEX statement.
func indexDefColumns(indexDef string) []string {
	open := strings.Index(indexDef, "(")
	close := strings.LastIndex(indexDef, ")")
	if open < 0 || close <= open {
		return nil
	}
	parts := strings.Split(indexDef[open+1:close], ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		cols = append(cols, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return cols
}
