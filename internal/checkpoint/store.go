package checkpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chisel/internal/errors"
	shared "chisel/shared/types"
)

// Store wraps a Backend with an append-only checkpoint history.
// Checkpoint creation is serialized process-wide: no two checkpoints
// can ever be cut from overlapping tree states, even when the rest of
// the engine runs tasks in parallel.
type Store struct {
	backend Backend
	log     *Log
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewStore creates a checkpoint store over backend, recording history
// in log.
func NewStore(backend Backend, log *Log, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("log cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		backend: backend,
		log:     log,
		logger:  logger,
	}, nil
}

// CreateCheckpoint snapshots the current working tree. A concurrent
// create already in flight yields a DirtyStateError rather than a
// second snapshot of an overlapping state. Committing an unchanged
// tree is a no-op success that returns the existing checkpoint.
func (s *Store) CreateCheckpoint(message string) (*shared.Checkpoint, error) {
	if !s.mu.TryLock() {
		return nil, errors.DirtyState("checkpoint creation already in flight")
	}
	defer s.mu.Unlock()

	ref, err := s.backend.Commit(message)
	if err == ErrNoChanges {
		return s.noopCheckpoint(message)
	}
	if err != nil {
		return nil, fmt.Errorf("committing checkpoint: %w", err)
	}

	cp := &shared.Checkpoint{
		ID:        uuid.New().String(),
		Message:   message,
		Timestamp: time.Now(),
		TreeRef:   ref,
	}
	if err := s.log.Append(cp); err != nil {
		return nil, fmt.Errorf("recording checkpoint: %w", err)
	}

	s.logger.Info("checkpoint created",
		zap.String("id", cp.ID),
		zap.String("ref", cp.TreeRef),
		zap.String("message", message))

	return cp, nil
}

// noopCheckpoint resolves a commit-with-no-changes to the checkpoint
// already covering the current tree, creating a log entry only if the
// backend ref has never been recorded.
func (s *Store) noopCheckpoint(message string) (*shared.Checkpoint, error) {
	ref, err := s.backend.CurrentRef()
	if err != nil {
		return nil, fmt.Errorf("resolving current ref: %w", err)
	}

	latest, err := s.log.Latest()
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.TreeRef == ref {
		s.logger.Debug("checkpoint is a no-op", zap.String("ref", ref))
		return latest, nil
	}

	cp := &shared.Checkpoint{
		ID:        uuid.New().String(),
		Message:   message,
		Timestamp: time.Now(),
		TreeRef:   ref,
	}
	if err := s.log.Append(cp); err != nil {
		return nil, fmt.Errorf("recording checkpoint: %w", err)
	}
	return cp, nil
}

// Rollback restores the working tree to an existing checkpoint. The
// ref may be a checkpoint id or an RFC3339 timestamp; a timestamp
// resolves to the nearest checkpoint at or before that time. Rolling
// back twice to the same ref leaves the tree byte-identical.
func (s *Store) Rollback(ref string) (*shared.Checkpoint, error) {
	if !s.mu.TryLock() {
		return nil, errors.DirtyState("checkpoint operation already in flight")
	}
	defer s.mu.Unlock()

	cp, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	if err := s.backend.Checkout(cp.TreeRef); err != nil {
		return nil, fmt.Errorf("restoring checkpoint %s: %w", cp.ID, err)
	}

	s.logger.Info("rolled back",
		zap.String("id", cp.ID),
		zap.String("ref", cp.TreeRef))

	return cp, nil
}

func (s *Store) resolve(ref string) (*shared.Checkpoint, error) {
	if cp, err := s.log.FindByID(ref); err == nil {
		return cp, nil
	}
	if t, err := time.Parse(time.RFC3339, ref); err == nil {
		return s.log.FindAtOrBefore(t)
	}
	return nil, errors.CheckpointNotFound(fmt.Sprintf("no checkpoint matching %q", ref))
}

// List returns the full checkpoint history, oldest first.
func (s *Store) List() ([]shared.Checkpoint, error) {
	return s.log.List()
}

// CurrentBranch names the backend's active line of history.
func (s *Store) CurrentBranch() (string, error) {
	return s.backend.CurrentBranch()
}

// IsClean reports whether the tree has no modifications since the
// last checkpoint.
func (s *Store) IsClean() (bool, error) {
	return s.backend.IsClean()
}
