// Package extract introspects live databases into canonical schema
// snapshots.
package extract

import (
	"context"

	"dbvybe-backend/internal/domain"
	"dbvybe-backend/internal/engine"
	appErrors "dbvybe-backend/pkg/errors"

	"go.uber.org/zap"
)

// Extractor produces an immutable schema snapshot for a connection.
type Extractor interface {
	Extract(ctx context.Context, desc domain.ConnectionDescriptor) (*domain.Schema, error)
}

// Service dispatches extraction to the engine-specific implementation,
// reusing the engine driver's connection pools.
type Service struct {
	relational *RelationalExtractor
	document   *DocumentExtractor
}

// NewService creates an extractor backed by the given engine driver pools.
func NewService(relational *engine.RelationalDriver, document *engine.DocumentDriver, logger *zap.Logger) *Service {
	return &Service{
		relational: NewRelationalExtractor(relational, logger),
		document:   NewDocumentExtractor(document, logger),
	}
}

// Extract introspects the database behind the descriptor.
func (s *Service) Extract(ctx context.Context, desc domain.ConnectionDescriptor) (*domain.Schema, error) {
	switch {
	case desc.Engine.IsRelational():
		return s.relational.Extract(ctx, desc)
	case desc.Engine == domain.EngineDocument:
		return s.document.Extract(ctx, desc)
	default:
		return nil, appErrors.NewUnsupportedEngine("cannot extract schema for engine " + string(desc.Engine))
	}
}
