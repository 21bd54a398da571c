// Package noteservice orchestrates store-wide operations over the pipeline:
// manual syncs and observer introspection, shared by the CLI, the HTTP API,
// and the MCP server.
package noteservice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/pipeline"
)

// Service wires the store, normalizer, pipeline, and registry together.
type Service struct {
	store    notestore.Provider
	norm     *event.Normalizer
	pipe     *pipeline.Pipeline
	registry *observer.Registry
	logger   *slog.Logger
}

// New creates a Service.
func New(store notestore.Provider, norm *event.Normalizer, pipe *pipeline.Pipeline, registry *observer.Registry, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		norm:     norm,
		pipe:     pipe,
		registry: registry,
		logger:   logger,
	}
}

// SyncAll issues one Synced event per note in the vault and returns the
// number of notes enqueued. Synced bypasses no-op suppression: every
// observer runs again, and in-content markers keep the re-run from
// duplicating output.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	metas, err := s.store.List("")
	if err != nil {
		return 0, fmt.Errorf("noteservice: sync all: %w", err)
	}

	enqueued := 0
	for _, m := range metas {
		ev, err := s.norm.SyncEvent(m.Path)
		if err != nil {
			s.logger.Warn("noteservice: sync event failed",
				slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		s.pipe.Enqueue(ctx, ev)
		enqueued++
	}
	return enqueued, nil
}

// SyncNote issues a Synced event for a single note.
func (s *Service) SyncNote(ctx context.Context, path string) error {
	ev, err := s.norm.SyncEvent(path)
	if err != nil {
		return err
	}
	s.pipe.Enqueue(ctx, ev)
	return nil
}

// Wait blocks until every enqueued dispatch has completed.
func (s *Service) Wait() {
	s.pipe.Wait()
}

// GetNote loads a note from the vault.
func (s *Service) GetNote(path string) (*models.Note, error) {
	return s.store.Load(path)
}

// Observers returns every registered binding in dispatch order.
func (s *Service) Observers() []observer.Binding {
	return s.registry.All()
}
