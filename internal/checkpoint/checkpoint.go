package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/gwimport/internal/model"
)

// KeyPrefix prefixes the storage key of every tenant checkpoint.
const KeyPrefix = "gwimport-initialization-"

// Key returns the storage key for a tenant.
func Key(tenantID string) string {
	return KeyPrefix + tenantID
}

// Backend stores opaque payloads by key.
type Backend interface {
	Put(ctx context.Context, key string, payload []byte) error
	// Get returns found=false when no payload is stored under key.
	Get(ctx context.Context, key string) (payload []byte, found bool, err error)
	Delete(ctx context.Context, key string) error
}

// Store saves and loads tenant checkpoints.
type Store struct {
	backend Backend
	logger  *slog.Logger
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger}
}

// Save overwrites the tenant's checkpoint and reports whether it was written.
//
// An empty checkpoint is never written, so it cannot mask a genuine earlier
// session. Storage errors are logged and reported as false.
func (s *Store) Save(ctx context.Context, tenantID string, cp model.Checkpoint) bool {
	if cp.Empty() {
		return false
	}
	cp.TenantID = tenantID

	payload, err := json.Marshal(cp)
	if err != nil {
		s.logger.Error("checkpoint encode failed", "tenant", tenantID, "error", err)
		return false
	}
	if err := s.backend.Put(ctx, Key(tenantID), payload); err != nil {
		s.logger.Warn("checkpoint save failed", "tenant", tenantID, "error", err)
		return false
	}
	s.logger.Debug("checkpoint saved",
		"tenant", tenantID,
		"step", cp.StepIndex,
		"apis", len(cp.StagedAPIs),
		"subscriptions", len(cp.StagedSubscriptions),
	)
	return true
}

// Load returns the tenant's checkpoint, or false if there is none usable.
func (s *Store) Load(ctx context.Context, tenantID string) (model.Checkpoint, bool) {
	cp, err := s.load(ctx, tenantID)
	if err != nil {
		if model.IsKind(err, model.ErrCheckpointCorrupt) {
			s.logger.Warn("checkpoint corrupt, ignoring", "tenant", tenantID, "error", err)
		} else {
			s.logger.Warn("checkpoint load failed", "tenant", tenantID, "error", err)
		}
		return model.Checkpoint{}, false
	}
	if cp == nil {
		return model.Checkpoint{}, false
	}
	return *cp, true
}

// load distinguishes absent (nil, nil) from corrupt and storage errors.
func (s *Store) load(ctx context.Context, tenantID string) (*model.Checkpoint, error) {
	payload, found, err := s.backend.Get(ctx, Key(tenantID))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if !found {
		return nil, nil
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, model.WrapError(model.ErrCheckpointCorrupt, "checkpoint payload does not parse", err)
	}
	if cp.TenantID != tenantID {
		return nil, model.NewError(model.ErrCheckpointCorrupt,
			fmt.Sprintf("checkpoint belongs to tenant %q", cp.TenantID))
	}
	return &cp, nil
}

// Clear deletes the tenant's checkpoint. Clearing an absent checkpoint is not an error.
func (s *Store) Clear(ctx context.Context, tenantID string) error {
	if err := s.backend.Delete(ctx, Key(tenantID)); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	s.logger.Debug("checkpoint cleared", "tenant", tenantID)
	return nil
}
