package engine

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"dbvybe-backend/internal/domain"
	appErrors "dbvybe-backend/pkg/errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

const (
	maxOpenConnsPerPool = 5
	maxIdleConnsPerPool = 2
	connMaxIdleTime     = 5 * time.Minute
)

// RelationalDriver executes SQL against Postgres and MySQL through a bounded
// per-descriptor connection pool.
type RelationalDriver struct {
	mu      sync.Mutex
	pools   map[string]*sqlx.DB
	timeout time.Duration
	logger  *zap.Logger
}

// NewRelationalDriver creates a driver with empty pools.
func NewRelationalDriver(logger *zap.Logger) *RelationalDriver {
	return &RelationalDriver{
		pools:   make(map[string]*sqlx.DB),
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// DB returns the pooled handle for a descriptor, opening it on first use.
func (d *RelationalDriver) DB(desc domain.ConnectionDescriptor) (*sqlx.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if db, ok := d.pools[desc.ID]; ok {
		return db, nil
	}

	var driverName, dsn string
	switch desc.Engine {
	case domain.EnginePostgres:
		driverName, dsn = "postgres", postgresDSN(desc)
	case domain.EngineMySQL:
		driverName, dsn = "mysql", mysqlDSN(desc)
	default:
		return nil, appErrors.NewUnsupportedEngine("not a relational engine: " + string(desc.Engine))
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, appErrors.NewExecution("failed to open connection pool", err)
	}
	db.SetMaxOpenConns(maxOpenConnsPerPool)
	db.SetMaxIdleConns(maxIdleConnsPerPool)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	d.pools[desc.ID] = db
	return db, nil
}

// Execute runs a read-only statement and normalizes the result. Leftover
// parameter placeholders are replaced with inline defaults before execution.
func (d *RelationalDriver) Execute(ctx context.Context, desc domain.ConnectionDescriptor, query string, maxRows int) (*domain.QueryResult, error) {
	db, err := d.DB(desc)
	if err != nil {
		return nil, err
	}

	query, substitutions := substitutePlaceholders(query)
	for _, note := range substitutions {
		d.logger.Warn("defensive placeholder substitution",
			zap.String("connection_id", desc.ID),
			zap.String("note", note))
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return nil, execError(ctx, err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, appErrors.NewExecution("failed to read result metadata", err)
	}
	columns := make([]domain.ColumnMeta, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = domain.ColumnMeta{Name: ct.Name(), Type: normalizedTypeName(ct.DatabaseTypeName())}
	}

	result := &domain.QueryResult{
		Columns:       columns,
		Rows:          [][]any{},
		Status:        StatusSuccess,
		Substitutions: substitutions,
	}
	for len(result.Rows) < maxRows && rows.Next() {
		raw, err := rows.SliceScan()
		if err != nil {
			return nil, appErrors.NewExecution("failed to scan row", err)
		}
		row := make([]any, len(raw))
		for i, v := range raw {
			row[i] = normalizeSQLValue(v, colTypes[i].DatabaseTypeName())
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, execError(ctx, err)
	}

	result.RowCount = len(result.Rows)
	result.ElapsedMs = time.Since(start).Milliseconds()
	return result, nil
}

// Close shuts down every pool.
func (d *RelationalDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, db := range d.pools {
		if err := db.Close(); err != nil {
			d.logger.Warn("failed to close pool", zap.String("connection_id", id), zap.Error(err))
		}
		delete(d.pools, id)
	}
}

func execError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return appErrors.NewTimeout("query execution timed out", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return appErrors.NewExecution("engine reported an error", err)
}
