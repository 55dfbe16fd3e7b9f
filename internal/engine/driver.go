// Package engine provides unified read-only query execution over relational
// and document engines, with bit-exact result normalization.
package engine

import (
	"context"
	"time"

	"dbvybe-backend/internal/domain"
	appErrors "dbvybe-backend/pkg/errors"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single execution when the caller's context has no
// tighter deadline.
const DefaultTimeout = 30 * time.Second

// StatusSuccess is the status of a completed execution.
const StatusSuccess = "success"

// Driver executes a sanitized query against the engine of the descriptor.
type Driver interface {
	Execute(ctx context.Context, desc domain.ConnectionDescriptor, query string, maxRows int) (*domain.QueryResult, error)
}

// MultiDriver dispatches execution to the engine-specific driver. It never
// attempts writes; queries reach it only after sanitization.
type MultiDriver struct {
	relational *RelationalDriver
	document   *DocumentDriver
	logger     *zap.Logger
}

// NewMultiDriver creates a driver covering all supported engines.
func NewMultiDriver(logger *zap.Logger) *MultiDriver {
	return &MultiDriver{
		relational: NewRelationalDriver(logger),
		document:   NewDocumentDriver(logger),
		logger:     logger,
	}
}

// Execute runs the query with a per-call timeout and row cap.
func (d *MultiDriver) Execute(ctx context.Context, desc domain.ConnectionDescriptor, query string, maxRows int) (*domain.QueryResult, error) {
	switch {
	case desc.Engine.IsRelational():
		return d.relational.Execute(ctx, desc, query, maxRows)
	case desc.Engine == domain.EngineDocument:
		return d.document.Execute(ctx, desc, query, maxRows)
	default:
		return nil, appErrors.NewUnsupportedEngine("cannot execute against engine " + string(desc.Engine))
	}
}

// Relational exposes the relational driver so the schema extractor can
// share its connection pools.
func (d *MultiDriver) Relational() *RelationalDriver {
	return d.relational
}

// Document exposes the document driver so the schema extractor can share
// its connection pools.
func (d *MultiDriver) Document() *DocumentDriver {
	return d.document
}

// Close releases every pooled connection.
func (d *MultiDriver) Close(ctx context.Context) {
	d.relational.Close()
	d.document.Close(ctx)
}
