// Package registry resolves connection descriptors and gates every access by
// ownership.
package registry

import (
	"sync"
	"time"

	"dbvybe-backend/internal/domain"
	appErrors "dbvybe-backend/pkg/errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Tombstone records a removed connection whose vector or graph index entries
// could not be deleted; it is replayed at startup until cleanup succeeds.
type Tombstone struct {
	ConnectionID string
	UserID       string
}

type entry struct {
	desc     domain.ConnectionDescriptor
	active   bool
	lastUsed time.Time
}

// Registry is the in-memory connection registry. It never opens live
// connections; it only resolves descriptors for their owner.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	tombstones map[string]Tombstone

	validate *validator.Validate
	logger   *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		entries:    make(map[string]*entry),
		tombstones: make(map[string]Tombstone),
		validate:   validator.New(),
		logger:     logger,
	}
}

// Register adds a descriptor. The connection id must be unique across all
// users; the descriptor is immutable afterwards.
func (r *Registry) Register(desc domain.ConnectionDescriptor) error {
	if !desc.Engine.Valid() {
		return appErrors.NewValidation("unsupported engine kind: " + string(desc.Engine))
	}
	if err := r.validate.Struct(desc); err != nil {
		return appErrors.NewValidation("invalid connection descriptor: " + err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[desc.ID]; ok && e.active {
		return appErrors.NewUniqueViolation("connection already registered: " + desc.ID)
	}
	r.entries[desc.ID] = &entry{desc: desc, active: true}
	r.logger.Info("connection registered",
		zap.String("connection_id", desc.ID),
		zap.String("engine", string(desc.Engine)))
	return nil
}

// Resolve returns the descriptor for (userID, connectionID) and stamps its
// last-used time. Any miss, including an ownership mismatch or a deactivated
// connection, is reported uniformly as not found.
func (r *Registry) Resolve(userID, connectionID string) (domain.ConnectionDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connectionID]
	if !ok || !e.active || e.desc.UserID != userID {
		return domain.ConnectionDescriptor{}, appErrors.NewNotFound("no active connection " + connectionID + " for user")
	}
	e.lastUsed = time.Now()
	return e.desc, nil
}

// Deactivate soft-removes a connection for its owner.
func (r *Registry) Deactivate(userID, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connectionID]
	if !ok || !e.active || e.desc.UserID != userID {
		return appErrors.NewNotFound("no active connection " + connectionID + " for user")
	}
	e.active = false
	return nil
}

// LastUsedAt reports when the connection was last resolved.
func (r *Registry) LastUsedAt(connectionID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[connectionID]
	if !ok || e.lastUsed.IsZero() {
		return time.Time{}, false
	}
	return e.lastUsed, true
}

// AddTombstone records a failed index cleanup for later replay.
func (r *Registry) AddTombstone(connectionID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tombstones[connectionID] = Tombstone{ConnectionID: connectionID, UserID: userID}
	r.logger.Warn("index cleanup pending for removed connection",
		zap.String("connection_id", connectionID))
}

// ClearTombstone marks a pending cleanup as completed.
func (r *Registry) ClearTombstone(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tombstones, connectionID)
}

// PendingCleanups lists connections whose index deletion must be retried.
func (r *Registry) PendingCleanups() []Tombstone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tombstone, 0, len(r.tombstones))
	for _, ts := range r.tombstones {
		out = append(out, ts)
	}
	return out
}
