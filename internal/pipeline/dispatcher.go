package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/observer"
	"github.com/starford/ansuz/internal/watcher"
)

// Notification is a pipeline observability event, published to the callback
// after commits, observer failures, and merge conflicts.
type Notification struct {
	Type     string `json:"type"` // note.created, note.updated, note.synced, note.deleted, observer.failed, merge.conflict, persistence.failed
	Path     string `json:"path"`
	Observer string `json:"observer,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Callback receives notifications; nil is allowed.
type Callback func(Notification)

// DefaultWorkers bounds concurrent dispatches across distinct paths.
const DefaultWorkers = 4

const commitRetries = 3

// Pipeline routes events through dispatch → merge → persist with per-path
// serialization: one in-flight dispatch per note path, at most one pending
// coalesced event queued behind it. Across distinct paths dispatches run
// concurrently up to the worker budget.
type Pipeline struct {
	store  notestore.Provider
	reg    *observer.Registry
	norm   *event.Normalizer
	logger *slog.Logger
	cb     Callback

	workers *semaphore.Weighted

	mu    sync.Mutex
	paths map[string]*pathState
	wg    sync.WaitGroup
}

type pathState struct {
	pending *event.NoteEvent
}

// New creates a pipeline. workers <= 0 uses the default budget.
func New(store notestore.Provider, reg *observer.Registry, norm *event.Normalizer, workers int64, logger *slog.Logger, cb Callback) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pipeline{
		store:   store,
		reg:     reg,
		norm:    norm,
		logger:  logger,
		cb:      cb,
		workers: semaphore.NewWeighted(workers),
		paths:   make(map[string]*pathState),
	}
}

// HandleChange normalizes a coalesced watcher change and enqueues the
// resulting event, if any.
func (p *Pipeline) HandleChange(ctx context.Context, ch watcher.Change) {
	ev, err := p.norm.Normalize(ch)
	if err != nil {
		p.logger.Warn("pipeline: normalize failed",
			slog.String("path", ch.Path), slog.String("error", err.Error()))
		return
	}
	if ev == nil {
		return
	}
	p.Enqueue(ctx, ev)
}

// Enqueue schedules ev behind any in-flight dispatch for the same path.
// While a dispatch is running, later events for the path coalesce: only the
// newest pending event survives.
func (p *Pipeline) Enqueue(ctx context.Context, ev *event.NoteEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, running := p.paths[ev.Path]; running {
		st.pending = ev
		return
	}
	p.paths[ev.Path] = &pathState{}
	p.wg.Add(1)
	go p.run(ctx, ev)
}

func (p *Pipeline) run(ctx context.Context, ev *event.NoteEvent) {
	defer p.wg.Done()

	if err := p.workers.Acquire(ctx, 1); err == nil {
		p.dispatch(ctx, ev)
		p.workers.Release(1)
	}

	p.mu.Lock()
	st := p.paths[ev.Path]
	if st != nil && st.pending != nil && ctx.Err() == nil {
		next := st.pending
		st.pending = nil
		p.wg.Add(1)
		go p.run(ctx, next)
	} else {
		delete(p.paths, ev.Path)
	}
	p.mu.Unlock()
}

// dispatch invokes every applicable observer in priority order against the
// working snapshot, folds the results, and persists when anything changed.
// Observer failures are recorded and surfaced but never stop the dispatch.
func (p *Pipeline) dispatch(ctx context.Context, ev *event.NoteEvent) {
	base := ev.Note()
	if base == nil {
		return
	}

	folder := NewFolder(base)
	for _, b := range p.reg.ListFor(ev.Kind) {
		d := b.Descriptor

		// Runtimes get a read-only view carrying the working snapshot,
		// so lower-priority observers see higher-priority mutations.
		view := *ev
		if ev.Kind != event.Deleted {
			view.Next = folder.Note().Clone()
		}

		invokeCtx, cancel := context.WithTimeout(ctx, d.EffectiveTimeout())
		res, err := b.Runtime.Invoke(invokeCtx, d, &view)
		cancel()

		if err != nil {
			res = observer.FailedResult(err.Error())
		}
		if res.Status == observer.Failed {
			p.logger.Warn("pipeline: observer failed",
				slog.String("path", ev.Path),
				slog.String("observer", d.Name),
				slog.String("reason", res.Reason))
			p.notify(Notification{Type: "observer.failed", Path: ev.Path, Observer: d.Name, Reason: res.Reason})
		}
		folder.Apply(d, res)
	}

	if ev.Kind == event.Deleted {
		p.notify(Notification{Type: "note.deleted", Path: ev.Path})
		return
	}

	merged := folder.Merged(base)
	for _, s := range merged.Shadowed {
		p.logger.Debug("pipeline: result shadowed",
			slog.String("path", ev.Path),
			slog.String("observer", s.Observer),
			slog.String("key", s.Key))
	}
	if !merged.Changed {
		p.logger.Debug("pipeline: converged, skipping persistence", slog.String("path", ev.Path))
		return
	}

	p.commit(ctx, ev, merged)
}

// commit persists the merged note. A merge conflict discards the event and
// re-queues the path for fresh Updated detection; transient write errors are
// retried a bounded number of times with backoff.
func (p *Pipeline) commit(ctx context.Context, ev *event.NoteEvent, merged *Merged) {
	expected := ev.Note().Checksum

	var err error
	for attempt := 0; attempt < commitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}

		err = p.store.Commit(merged.Note, expected)
		if err == nil {
			p.norm.Record(merged.Note)
			p.logger.Info("pipeline: committed",
				slog.String("path", ev.Path),
				slog.String("event", string(ev.Kind)))
			p.notify(Notification{Type: "note." + strings.ToLower(string(ev.Kind)), Path: ev.Path})
			return
		}
		if errors.Is(err, apperr.ErrMergeConflict) {
			p.logger.Warn("pipeline: merge conflict, requeueing",
				slog.String("path", ev.Path))
			p.notify(Notification{Type: "merge.conflict", Path: ev.Path})
			p.HandleChange(ctx, watcher.Change{Path: ev.Path, Kind: watcher.Modify})
			return
		}
	}

	p.logger.Error("pipeline: persistence failed",
		slog.String("path", ev.Path), slog.String("error", err.Error()))
	p.notify(Notification{Type: "persistence.failed", Path: ev.Path, Reason: err.Error()})
}

func (p *Pipeline) notify(n Notification) {
	if p.cb != nil {
		p.cb(n)
	}
}

// Wait blocks until every queued dispatch has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Drain waits up to grace for in-flight dispatches, then gives up. Abandoned
// dispatches leave their notes unmodified: commits are atomic and at most
// once.
func (p *Pipeline) Drain(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
