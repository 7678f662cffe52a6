// Package persist moves the task collection in and out of durable storage.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dochub/internal/domain"
)

// DefaultKey is the well-known slot holding the task collection.
const DefaultKey = "documentTasks"

// Adapter owns serialization of the task collection under a single key. Over a
// VersionedSlot, Save only succeeds if nobody wrote the key since the last Load or Save.
type Adapter struct {
	slot   Slot
	key    string
	logger *slog.Logger

	mu  sync.Mutex
	rev int64
}

func NewAdapter(slot Slot, key string, logger *slog.Logger) *Adapter {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{slot: slot, key: key, logger: logger.With("component", "persist", "key", key)}
}

// Key returns the storage key.
func (a *Adapter) Key() string { return a.key }

// Load returns the stored collection. It reports false when nothing usable is stored:
// missing, unreadable and malformed values are all treated as absent.
func (a *Adapter) Load(ctx context.Context) ([]domain.Task, bool) {
	data, ok, err := a.read(ctx)
	if err != nil {
		a.logger.Error("read task collection failed, treating as absent", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	tasks, err := Decode(data)
	if err != nil {
		a.logger.Warn("stored task collection is malformed, treating as absent", "error", err, "bytes", len(data))
		return nil, false
	}
	return tasks, true
}

// Save writes the full collection. Failures are logged and returned so the caller can
// surface a warning; the caller must not treat them as fatal.
func (a *Adapter) Save(ctx context.Context, tasks []domain.Task) error {
	data, err := Encode(tasks)
	if err != nil {
		a.logger.Error("encode task collection failed", "error", err)
		return fmt.Errorf("encode tasks: %w", err)
	}
	if err := a.write(ctx, data); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			a.logger.Info("task collection changed since it was read", "error", err)
		} else {
			a.logger.Error("write task collection failed", "error", err, "tasks", len(tasks))
		}
		return fmt.Errorf("write tasks: %w", err)
	}
	a.logger.Debug("task collection saved", "tasks", len(tasks))
	return nil
}

// read remembers the revision it saw, even for a malformed value, so the next Save
// may replace it.
func (a *Adapter) read(ctx context.Context) ([]byte, bool, error) {
	vs, ok := a.slot.(VersionedSlot)
	if !ok {
		return a.slot.Get(ctx, a.key)
	}
	data, rev, found, err := vs.GetRevision(ctx, a.key)
	if err != nil {
		return nil, false, err
	}
	a.mu.Lock()
	a.rev = rev
	a.mu.Unlock()
	return data, found, nil
}

func (a *Adapter) write(ctx context.Context, data []byte) error {
	vs, ok := a.slot.(VersionedSlot)
	if !ok {
		return a.slot.Put(ctx, a.key, data)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rev, err := vs.PutIfRevision(ctx, a.key, data, a.rev)
	if err != nil {
		return err
	}
	a.rev = rev
	return nil
}
