package event

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/watcher"
)

// Normalizer turns coalesced filesystem changes into typed NoteEvents using
// the last-known snapshot per path. Checksum-equal changes are suppressed
// entirely; this is what breaks the watch→write→watch feedback loop when the
// pipeline's own commit re-triggers the watcher.
type Normalizer struct {
	store  notestore.Provider
	logger *slog.Logger

	mu   sync.Mutex
	last map[string]*models.Note
}

// NewNormalizer creates a Normalizer over the given store.
func NewNormalizer(store notestore.Provider, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		store:  store,
		logger: logger,
		last:   make(map[string]*models.Note),
	}
}

// Normalize produces at most one event for a coalesced change. A nil event
// with nil error means the change was suppressed (no-op or unknown path).
func (n *Normalizer) Normalize(ch watcher.Change) (*NoteEvent, error) {
	if ch.Kind == watcher.Remove {
		return n.removed(ch.Path), nil
	}

	note, err := n.store.Load(ch.Path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// Raced a delete; treat as removal.
			return n.removed(ch.Path), nil
		}
		return nil, fmt.Errorf("event: normalize %s: %w", ch.Path, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	prev, known := n.last[ch.Path]
	if !known {
		n.last[ch.Path] = note
		return &NoteEvent{Kind: Created, Path: ch.Path, Next: note, Cause: CauseWatch}, nil
	}
	if prev.Checksum == note.Checksum {
		n.logger.Debug("normalizer: suppressed no-op", slog.String("path", ch.Path))
		return nil, nil
	}
	n.last[ch.Path] = note
	return &NoteEvent{Kind: Updated, Path: ch.Path, Prev: prev, Next: note, Cause: CauseWatch}, nil
}

func (n *Normalizer) removed(path string) *NoteEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev, known := n.last[path]
	if !known {
		return nil
	}
	delete(n.last, path)
	return &NoteEvent{Kind: Deleted, Path: path, Prev: prev, Cause: CauseWatch}
}

// SyncEvent issues one Synced event for a note regardless of checksum
// equality (manual store-wide re-run).
func (n *Normalizer) SyncEvent(path string) (*NoteEvent, error) {
	note, err := n.store.Load(path)
	if err != nil {
		return nil, fmt.Errorf("event: sync %s: %w", path, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	ev := &NoteEvent{Kind: Synced, Path: path, Prev: n.last[path], Next: note, Cause: CauseSync}
	n.last[path] = note
	return ev, nil
}

// Record updates the last-known snapshot after a successful commit so the
// pipeline's own write is recognized as a no-op by the next watch event.
func (n *Normalizer) Record(note *models.Note) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last[note.Path] = note
}

// Seed loads every note once so pre-existing files produce Updated rather
// than Created events. Called before the watch loop starts.
func (n *Normalizer) Seed() error {
	metas, err := n.store.List("")
	if err != nil {
		return fmt.Errorf("event: seed: %w", err)
	}
	for _, m := range metas {
		note, err := n.store.Load(m.Path)
		if err != nil {
			n.logger.Warn("normalizer: seed load failed",
				slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		n.Record(note)
	}
	return nil
}
